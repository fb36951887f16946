package implementation

import (
	"context"
	"database/sql"

	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

type PostgresEventRepository struct {
	db *sql.DB
}

func NewPostgresEventRepository(db *sql.DB) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

func (r *PostgresEventRepository) Append(ctx context.Context, event iowmodels.TriggeredEvent) error {
	query := `
		INSERT INTO triggered_events (id, temperature, threshold_value, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, event.ID, event.Temperature, event.ThresholdValue, event.RecordedAt)
	return interfaces.WrapStorage("append triggered event", err)
}

func (r *PostgresEventRepository) Page(ctx context.Context, offset, limit int) ([]iowmodels.TriggeredEvent, error) {
	query := `
		SELECT id, temperature, threshold_value, recorded_at
		FROM triggered_events
		ORDER BY recorded_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, interfaces.WrapStorage("page triggered events", err)
	}
	defer rows.Close()

	events := []iowmodels.TriggeredEvent{}
	for rows.Next() {
		var e iowmodels.TriggeredEvent
		if err := rows.Scan(&e.ID, &e.Temperature, &e.ThresholdValue, &e.RecordedAt); err != nil {
			return nil, interfaces.WrapStorage("scan triggered event", err)
		}
		e.RecordedAt = e.RecordedAt.UTC()
		events = append(events, e)
	}

	return events, interfaces.WrapStorage("page triggered events", rows.Err())
}

var _ interfaces.EventRepository = (*PostgresEventRepository)(nil)
