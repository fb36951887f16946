package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

// ThresholdStore owns the single active threshold. Replace is the only write
// that changes which threshold is current.
type ThresholdStore struct {
	repo interfaces.ThresholdRepository
	now  func() time.Time
}

func NewThresholdStore(repo interfaces.ThresholdRepository) *ThresholdStore {
	return &ThresholdStore{repo: repo, now: time.Now}
}

// GetCurrent returns nil when no threshold is configured
func (s *ThresholdStore) GetCurrent(ctx context.Context) (*iowmodels.Threshold, error) {
	return s.repo.GetCurrent(ctx)
}

// Replace deletes every stored threshold and inserts the new one atomically
func (s *ThresholdStore) Replace(ctx context.Context, value float64, note *string) (iowmodels.Threshold, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return iowmodels.Threshold{}, interfaces.NewValidationError("value", "must be a finite number")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return iowmodels.Threshold{}, fmt.Errorf("failed to generate threshold id: %w", err)
	}

	threshold := iowmodels.Threshold{
		ID:        id.String(),
		Value:     value,
		Note:      iowmodels.NormalizeNote(note),
		CreatedAt: iowmodels.StoredTime(s.now()),
	}

	err = s.repo.WithinTx(ctx, func(tx interfaces.ThresholdTx) error {
		if err := tx.DeleteAll(ctx); err != nil {
			return err
		}
		return tx.Insert(ctx, threshold)
	})
	if err != nil {
		return iowmodels.Threshold{}, fmt.Errorf("failed to replace threshold: %w", err)
	}

	return threshold, nil
}

func (s *ThresholdStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return interfaces.NewValidationError("id", "is required")
	}
	return s.repo.Delete(ctx, id)
}

// History returns up to limit thresholds, newest first. limit <= 0 means the maximum.
func (s *ThresholdStore) History(ctx context.Context, limit int) ([]iowmodels.Threshold, error) {
	if limit <= 0 || limit > iowmodels.MaxHistoryLimit {
		limit = iowmodels.MaxHistoryLimit
	}
	return s.repo.History(ctx, limit)
}
