package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devices "github.com/Dipeshbist/Yeti-Server/internal/devices/domain"
)

// OverlayRepository stores device overlays in Postgres.
type OverlayRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOverlayRepository constructs a repository.
func NewOverlayRepository(db *sql.DB) *OverlayRepository {
	return &OverlayRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Get loads the overlay of a device.
func (r *OverlayRepository) Get(ctx context.Context, deviceID string) (*devices.Overlay, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("overlay repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, tb_original_name, customer_id, location, updated_at
FROM device_overlays
WHERE id = $1
LIMIT 1`, deviceID)
	var (
		overlay      devices.Overlay
		originalName sql.NullString
		customerID   sql.NullString
		location     sql.NullString
	)
	err := row.Scan(&overlay.DeviceID, &overlay.Name, &originalName, &customerID, &location, &overlay.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, devices.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	overlay.TBOriginalName = originalName.String
	overlay.CustomerID = customerID.String
	if location.Valid {
		overlay.Location = &location.String
	}
	return &overlay, nil
}

// UpsertLocation stores a location, creating the overlay with the platform
// name and customer when absent.
func (r *OverlayRepository) UpsertLocation(ctx context.Context, deviceID, name, customerID, location string) (*devices.Overlay, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("overlay repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO device_overlays (id, name, customer_id, location, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	location = EXCLUDED.location,
	updated_at = EXCLUDED.updated_at`, deviceID, name, nullable(customerID), location, r.now())
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, deviceID)
}

// Rename stores a display name and remembers the platform's original name.
func (r *OverlayRepository) Rename(ctx context.Context, deviceID, name, originalName, customerID string) (*devices.Overlay, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("overlay repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO device_overlays (id, name, tb_original_name, customer_id, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	tb_original_name = EXCLUDED.tb_original_name,
	updated_at = EXCLUDED.updated_at`, deviceID, name, originalName, nullable(customerID), r.now())
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, deviceID)
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
