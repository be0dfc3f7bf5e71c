package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "github.com/Dipeshbist/Yeti-Server/internal/alarms/domain"
)

var alertColumns = []string{"id", "device_id", "device_name", "customer_id", "telemetry_key", "measured", "threshold", "ts"}

func setupRepo(t *testing.T) (sqlmock.Sqlmock, *AlertRepository) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return mock, NewAlertRepository(db)
}

func TestInsertAlert(t *testing.T) {
	mock, repo := setupRepo(t)
	when := time.UnixMilli(1_000).UTC()

	mock.ExpectExec(`INSERT INTO alert_events`).
		WithArgs("al-1", "dev-1", "Boiler", "cust-1", "temp", 90.0, 80.0, when, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), alarms.Alert{
		ID: "al-1", DeviceID: "dev-1", DeviceName: "Boiler", CustomerID: "cust-1",
		Key: "temp", Measured: 90, Threshold: 80, TS: 1_000,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, repo.Insert(context.Background(), alarms.Alert{}))
}

func TestListByCustomer(t *testing.T) {
	mock, repo := setupRepo(t)
	when := time.UnixMilli(2_000).UTC()

	mock.ExpectQuery(`WHERE customer_id = \$1`).
		WithArgs("cust-1", 50).
		WillReturnRows(sqlmock.NewRows(alertColumns).AddRow("al-1", "dev-1", "Boiler", "cust-1", "temp", 90.0, 80.0, when))

	alerts, err := repo.ListByCustomer(context.Background(), "cust-1", 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(2_000), alerts[0].TS)
	assert.Equal(t, "Boiler", alerts[0].DeviceName)

	mock.ExpectQuery(`FROM alert_events\s+ORDER BY ts DESC`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(alertColumns))

	alerts, err = repo.ListByCustomer(context.Background(), "", 5)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNilRepository(t *testing.T) {
	var repo *AlertRepository
	assert.Error(t, repo.Insert(context.Background(), alarms.Alert{ID: "x"}))
	_, err := repo.ListByCustomer(context.Background(), "", 1)
	assert.Error(t, err)
}
