package users

import (
	"errors"

	"github.com/Dipeshbist/Yeti-Server/internal/auth"
)

// Status is the registration state of an account.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusRejected Status = "REJECTED"
)

// ErrNotFound is returned when no matching user exists.
var ErrNotFound = errors.New("users: not found")

// User is an application account linked to an upstream customer.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Role       auth.Role `json:"role"`
	Status     Status    `json:"status"`
	IsActive   bool      `json:"isActive"`
	CustomerID string    `json:"customerId,omitempty"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == auth.RoleAdmin
}

// CanReceiveAlerts reports whether alert mail may be sent to the user.
func (u User) CanReceiveAlerts() bool {
	return u.IsActive && u.Status == StatusVerified && u.Email != ""
}
