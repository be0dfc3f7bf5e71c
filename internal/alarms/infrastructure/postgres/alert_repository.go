package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alarms "github.com/Dipeshbist/Yeti-Server/internal/alarms/domain"
)

const defaultListLimit = 50

// AlertRepository stores detected breaches in alert_events.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Insert records one alert.
func (r *AlertRepository) Insert(ctx context.Context, alert alarms.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert.ID == "" {
		return errors.New("alert repo: empty id")
	}
	when := alert.When
	if when.IsZero() {
		when = time.UnixMilli(alert.TS)
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_events (
	id, device_id, device_name, customer_id, telemetry_key,
	measured, threshold, ts, created_at
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9
)`,
		alert.ID,
		alert.DeviceID,
		alert.DeviceName,
		alert.CustomerID,
		alert.Key,
		alert.Measured,
		alert.Threshold,
		when.UTC(),
		time.Now().UTC(),
	)
	return err
}

// ListByCustomer returns the newest alerts of one customer. An empty
// customer lists every customer.
func (r *AlertRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]alarms.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if customerID == "" {
		rows, err = r.db.QueryContext(ctx, `
SELECT id, device_id, device_name, customer_id, telemetry_key, measured, threshold, ts
FROM alert_events
ORDER BY ts DESC
LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT id, device_id, device_name, customer_id, telemetry_key, measured, threshold, ts
FROM alert_events
WHERE customer_id = $1
ORDER BY ts DESC
LIMIT $2`, customerID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alarms.Alert
	for rows.Next() {
		var alert alarms.Alert
		if err := rows.Scan(
			&alert.ID,
			&alert.DeviceID,
			&alert.DeviceName,
			&alert.CustomerID,
			&alert.Key,
			&alert.Measured,
			&alert.Threshold,
			&alert.When,
		); err != nil {
			return nil, err
		}
		alert.When = alert.When.UTC()
		alert.TS = alert.When.UnixMilli()
		out = append(out, alert)
	}
	return out, rows.Err()
}
