package auth

import "context"

type contextKey string

const (
	contextKeyCustomer contextKey = "auth.customer_id"
	contextKeyRole     contextKey = "auth.role"
	contextKeySubject  contextKey = "auth.subject"
	contextKeyEmail    contextKey = "auth.email"
)

// Identity is the authenticated caller.
type Identity struct {
	Subject    string
	Email      string
	Role       Role
	CustomerID string
}

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, contextKeyCustomer, id.CustomerID)
	ctx = context.WithValue(ctx, contextKeyRole, id.Role)
	ctx = context.WithValue(ctx, contextKeySubject, id.Subject)
	ctx = context.WithValue(ctx, contextKeyEmail, id.Email)
	return ctx
}

// IdentityFromContext rebuilds the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) Identity {
	return Identity{
		Subject:    SubjectFromContext(ctx),
		Email:      stringValue(ctx, contextKeyEmail),
		Role:       RoleFromContext(ctx),
		CustomerID: CustomerIDFromContext(ctx),
	}
}

// CustomerIDFromContext extracts the customer id from context.
func CustomerIDFromContext(ctx context.Context) string {
	return stringValue(ctx, contextKeyCustomer)
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	return stringValue(ctx, contextKeySubject)
}

// IsAdmin reports whether the caller holds the admin role.
func IsAdmin(ctx context.Context) bool {
	return RoleFromContext(ctx) == RoleAdmin
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}
