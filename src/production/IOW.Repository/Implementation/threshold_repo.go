package implementation

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

// invalid_text_representation, raised when the id is not a valid uuid
const pqInvalidTextRepresentation = "22P02"

type PostgresThresholdRepository struct {
	db *sql.DB
}

func NewPostgresThresholdRepository(db *sql.DB) *PostgresThresholdRepository {
	return &PostgresThresholdRepository{db: db}
}

func (r *PostgresThresholdRepository) GetCurrent(ctx context.Context) (*iowmodels.Threshold, error) {
	query := `
		SELECT id, value, note, created_at
		FROM thresholds
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	t, err := scanThreshold(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, interfaces.WrapStorage("get current threshold", err)
	}
	return t, nil
}

func (r *PostgresThresholdRepository) History(ctx context.Context, limit int) ([]iowmodels.Threshold, error) {
	query := `
		SELECT id, value, note, created_at
		FROM thresholds
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, interfaces.WrapStorage("list thresholds", err)
	}
	defer rows.Close()

	thresholds := []iowmodels.Threshold{}
	for rows.Next() {
		t, err := scanThreshold(rows)
		if err != nil {
			return nil, interfaces.WrapStorage("scan threshold", err)
		}
		thresholds = append(thresholds, *t)
	}

	return thresholds, interfaces.WrapStorage("list thresholds", rows.Err())
}

func (r *PostgresThresholdRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM thresholds WHERE id = $1`, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqInvalidTextRepresentation {
			return interfaces.NotFoundf("threshold %s", id)
		}
		return interfaces.WrapStorage("delete threshold", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return interfaces.WrapStorage("delete threshold", err)
	}
	if affected == 0 {
		return interfaces.NotFoundf("threshold %s", id)
	}
	return nil
}

// WithinTx takes an exclusive table lock before running fn. Readers are not
// blocked by EXCLUSIVE mode, and under READ COMMITTED they see either the rows
// before the commit or the single row after it.
func (r *PostgresThresholdRepository) WithinTx(ctx context.Context, fn func(tx interfaces.ThresholdTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return interfaces.WrapStorage("begin threshold transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `LOCK TABLE thresholds IN EXCLUSIVE MODE`); err != nil {
		return interfaces.WrapStorage("lock thresholds", err)
	}

	if err := fn(&postgresThresholdTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return interfaces.WrapStorage("commit threshold transaction", err)
	}
	return nil
}

type postgresThresholdTx struct {
	tx *sql.Tx
}

func (t *postgresThresholdTx) DeleteAll(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM thresholds`)
	return interfaces.WrapStorage("delete thresholds", err)
}

func (t *postgresThresholdTx) Insert(ctx context.Context, threshold iowmodels.Threshold) error {
	query := `
		INSERT INTO thresholds (id, value, note, created_at)
		VALUES ($1, $2, $3, $4)
	`

	var note sql.NullString
	if threshold.Note != nil {
		note = sql.NullString{String: *threshold.Note, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, query, threshold.ID, threshold.Value, note, threshold.CreatedAt)
	return interfaces.WrapStorage("insert threshold", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThreshold(row rowScanner) (*iowmodels.Threshold, error) {
	var t iowmodels.Threshold
	var note sql.NullString

	if err := row.Scan(&t.ID, &t.Value, &note, &t.CreatedAt); err != nil {
		return nil, err
	}
	if note.Valid {
		t.Note = &note.String
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

var _ interfaces.ThresholdRepository = (*PostgresThresholdRepository)(nil)
