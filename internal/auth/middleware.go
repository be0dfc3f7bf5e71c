package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// UserChecker confirms that a token subject is still an active user.
type UserChecker interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

// Middleware validates JWTs and enforces RBAC.
type Middleware struct {
	Secret []byte
	Policy Policy
	Users  UserChecker
	Logger *zap.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// WithUsers enables the active-user check on every authenticated request.
func (m *Middleware) WithUsers(users UserChecker) *Middleware {
	if m != nil {
		m.Users = users
	}
	return m
}

// Wrap applies auth and RBAC to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearer(r)
		claims, err := ParseJWT(token, m.Secret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if m.Users != nil {
			active, err := m.Users.IsActive(r.Context(), claims.Subject)
			if err != nil {
				m.logger().Error("active user check failed", zap.String("subject", claims.Subject), zap.Error(err))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !active {
				http.Error(w, ErrInactiveUser.Error(), http.StatusUnauthorized)
				return
			}
		}
		role, _ := NormalizeRole(claims.Role)
		ctx := WithIdentity(r.Context(), Identity{
			Subject:    claims.Subject,
			Email:      claims.Email,
			Role:       role,
			CustomerID: claims.CustomerID,
		})
		if !RoleAtLeast(role, required) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
