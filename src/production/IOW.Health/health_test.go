package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
)

func TestHealthChecker_AllOK(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	checker := NewHealthChecker()
	checker.now = func() time.Time { return time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC) }
	checker.AddCheck("postgres", true, PostgresCheck(db))
	checker.AddCheck("redis", true, RedisCheck(rdb))

	status := checker.GetHealthStatus(context.Background())

	assert.Equal(t, StatusOK, status.Status)
	assert.True(t, status.Ready())
	assert.Equal(t, "2026-07-01T00:00:00Z", status.Timestamp)
	assert.Equal(t, CheckResult{Status: StatusOK}, status.Checks["postgres"])
	assert.Equal(t, CheckResult{Status: StatusOK}, status.Checks["redis"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_CriticalFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	checker := NewHealthChecker()
	checker.AddCheck("postgres", true, PostgresCheck(db))

	status := checker.GetHealthStatus(context.Background())

	assert.Equal(t, StatusError, status.Status)
	assert.False(t, status.Ready())
	assert.Contains(t, status.Checks["postgres"].Error, "connection refused")
}

func TestHealthChecker_NonCriticalFailureDegrades(t *testing.T) {
	checker := NewHealthChecker()
	checker.AddCheck("storage", true, func(context.Context) error { return nil })
	checker.AddCheck("mqtt", false, TransportCheck(func(context.Context) (iowmodels.ConnectionState, error) {
		return iowmodels.StateConnecting, nil
	}))

	status := checker.GetHealthStatus(context.Background())

	assert.Equal(t, StatusDegraded, status.Status)
	assert.True(t, status.Ready())
	assert.Equal(t, "mqtt connection is connecting", status.Checks["mqtt"].Error)
}

func TestTransportCheck(t *testing.T) {
	connected := TransportCheck(func(context.Context) (iowmodels.ConnectionState, error) {
		return iowmodels.StateConnected, nil
	})
	assert.NoError(t, connected(context.Background()))

	broken := TransportCheck(func(context.Context) (iowmodels.ConnectionState, error) {
		return iowmodels.StateDisconnected, errors.New("cache unreachable")
	})
	assert.EqualError(t, broken(context.Background()), "cache unreachable")
}

func TestCreateTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS thresholds`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS triggered_events`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_thresholds_created_at_desc`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewDatabaseManager(db).CreateTables(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTables_Failure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS thresholds`).WillReturnError(errors.New("permission denied"))

	err = NewDatabaseManager(db).CreateTables(context.Background())
	assert.ErrorContains(t, err, "permission denied")
}
