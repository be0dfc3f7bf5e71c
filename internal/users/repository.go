package users

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Dipeshbist/Yeti-Server/internal/auth"
)

const selectUser = `
SELECT id, email, first_name, last_name, role, status, is_active, customer_id
FROM users`

// Repository reads users from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a user repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Get loads a user by id regardless of status.
func (r *Repository) Get(ctx context.Context, id string) (User, error) {
	if r == nil || r.db == nil {
		return User{}, errors.New("users repo: nil db")
	}
	return scanUser(r.db.QueryRowContext(ctx, selectUser+`
WHERE id = $1
LIMIT 1`, id))
}

// FindByID loads an active user by id.
func (r *Repository) FindByID(ctx context.Context, id string) (User, error) {
	if r == nil || r.db == nil {
		return User{}, errors.New("users repo: nil db")
	}
	return scanUser(r.db.QueryRowContext(ctx, selectUser+`
WHERE id = $1 AND is_active = TRUE
LIMIT 1`, id))
}

// FindByEmail loads a user by email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	if r == nil || r.db == nil {
		return User{}, errors.New("users repo: nil db")
	}
	return scanUser(r.db.QueryRowContext(ctx, selectUser+`
WHERE email = $1
LIMIT 1`, email))
}

// ListActiveVerifiedByCustomer returns users that should receive alerts for
// devices of the customer.
func (r *Repository) ListActiveVerifiedByCustomer(ctx context.Context, customerID string) ([]User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("users repo: nil db")
	}
	if customerID == "" {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, selectUser+`
WHERE customer_id = $1 AND status = $2 AND is_active = TRUE
ORDER BY email`, customerID, string(StatusVerified))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

// IsActive reports whether the user exists and is active.
func (r *Repository) IsActive(ctx context.Context, id string) (bool, error) {
	_, err := r.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (User, error) {
	var (
		user       User
		role       string
		status     string
		lastName   sql.NullString
		customerID sql.NullString
	)
	err := row.Scan(&user.ID, &user.Email, &user.FirstName, &lastName, &role, &status, &user.IsActive, &customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if normalized, ok := auth.NormalizeRole(role); ok {
		user.Role = normalized
	}
	user.Status = Status(status)
	user.LastName = lastName.String
	user.CustomerID = customerID.String
	return user, nil
}
