package interfaces

import (
	"context"

	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
)

// ThresholdTx is the set of writes allowed inside a replace transaction
type ThresholdTx interface {
	DeleteAll(ctx context.Context) error
	Insert(ctx context.Context, threshold iowmodels.Threshold) error
}

// ThresholdTransactor runs fn inside one atomic boundary. Implementations
// serialize concurrent callers so that at most one row survives a replace.
type ThresholdTransactor interface {
	WithinTx(ctx context.Context, fn func(tx ThresholdTx) error) error
}

type ThresholdRepository interface {
	ThresholdTransactor

	// GetCurrent returns nil, nil when no threshold is configured
	GetCurrent(ctx context.Context) (*iowmodels.Threshold, error)
	History(ctx context.Context, limit int) ([]iowmodels.Threshold, error)
	Delete(ctx context.Context, id string) error
}
