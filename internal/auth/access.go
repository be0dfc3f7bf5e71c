package auth

import "context"

// EnsureCustomer verifies the caller may act on resources owned by customerID.
// Admins pass unconditionally; other callers must belong to that customer.
func EnsureCustomer(ctx context.Context, customerID string) error {
	if IsAdmin(ctx) {
		return nil
	}
	own := CustomerIDFromContext(ctx)
	if own == "" || customerID == "" || own != customerID {
		return ErrCustomerMismatch
	}
	return nil
}

// EnsureSameCustomer verifies a non-admin caller targets its own customer.
// Unlike EnsureCustomer it applies to admins as well.
func EnsureSameCustomer(ctx context.Context, customerID string) error {
	own := CustomerIDFromContext(ctx)
	if own == "" || own != customerID {
		return ErrCustomerMismatch
	}
	return nil
}
