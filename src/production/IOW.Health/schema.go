package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DatabaseManager handles schema creation for the Postgres backend
type DatabaseManager struct {
	db *sql.DB
}

func NewDatabaseManager(db *sql.DB) *DatabaseManager {
	return &DatabaseManager{db: db}
}

// CreateTables creates the required tables if they don't exist
func (dm *DatabaseManager) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	createThresholdsTable := `
		CREATE TABLE IF NOT EXISTS thresholds (
			id          UUID PRIMARY KEY,
			value       DOUBLE PRECISION NOT NULL,
			note        VARCHAR(180),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`

	createEventsTable := `
		CREATE TABLE IF NOT EXISTS triggered_events (
			id               UUID PRIMARY KEY,
			temperature      DOUBLE PRECISION NOT NULL,
			threshold_value  DOUBLE PRECISION NOT NULL,
			recorded_at      TIMESTAMPTZ NOT NULL
		);
	`

	createIndexes := `
		CREATE INDEX IF NOT EXISTS idx_thresholds_created_at_desc ON thresholds (created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_triggered_events_recorded_at_desc ON triggered_events (recorded_at DESC, id DESC);
	`

	queries := []string{
		createThresholdsTable,
		createEventsTable,
		createIndexes,
	}

	for _, query := range queries {
		if _, err := dm.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}
