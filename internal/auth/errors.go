package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrCustomerMismatch indicates a resource owned by another customer.
	ErrCustomerMismatch = errors.New("auth: access denied to this customer")
	// ErrInactiveUser indicates the token subject is unknown or deactivated.
	ErrInactiveUser = errors.New("auth: user not found or inactive")
)
