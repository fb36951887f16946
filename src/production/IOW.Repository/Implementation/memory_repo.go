package implementation

import (
	"context"
	"sort"
	"sync"
	"time"

	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

// MemoryThresholdRepository keeps thresholds in process memory. Only usable
// when the API and the ingestor share one process.
type MemoryThresholdRepository struct {
	mu   sync.RWMutex
	rows []iowmodels.Threshold
}

func NewMemoryThresholdRepository() *MemoryThresholdRepository {
	return &MemoryThresholdRepository{}
}

func (r *MemoryThresholdRepository) GetCurrent(ctx context.Context) (*iowmodels.Threshold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.rows) == 0 {
		return nil, nil
	}
	sorted := sortedThresholds(r.rows)
	current := sorted[0]
	return &current, nil
}

func (r *MemoryThresholdRepository) History(ctx context.Context, limit int) ([]iowmodels.Threshold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := sortedThresholds(r.rows)
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (r *MemoryThresholdRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, row := range r.rows {
		if row.ID == id {
			r.rows = append(r.rows[:i:i], r.rows[i+1:]...)
			return nil
		}
	}
	return interfaces.NotFoundf("threshold %s", id)
}

// WithinTx applies fn to a staged copy and publishes it only when fn succeeds
func (r *MemoryThresholdRepository) WithinTx(ctx context.Context, fn func(tx interfaces.ThresholdTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := &memoryThresholdTx{rows: append([]iowmodels.Threshold(nil), r.rows...)}
	if err := fn(staged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return interfaces.WrapStorage("commit threshold transaction", err)
	}
	r.rows = staged.rows
	return nil
}

type memoryThresholdTx struct {
	rows []iowmodels.Threshold
}

func (t *memoryThresholdTx) DeleteAll(ctx context.Context) error {
	t.rows = nil
	return nil
}

func (t *memoryThresholdTx) Insert(ctx context.Context, threshold iowmodels.Threshold) error {
	t.rows = append(t.rows, threshold)
	return nil
}

func sortedThresholds(rows []iowmodels.Threshold) []iowmodels.Threshold {
	out := append([]iowmodels.Threshold{}, rows...)
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out
}

// MemoryEventRepository is the in-process triggered event log
type MemoryEventRepository struct {
	mu     sync.RWMutex
	events []iowmodels.TriggeredEvent
	ids    map[string]struct{}
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{ids: make(map[string]struct{})}
}

func (r *MemoryEventRepository) Append(ctx context.Context, event iowmodels.TriggeredEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[event.ID]; exists {
		return nil
	}
	r.ids[event.ID] = struct{}{}

	// keep newest first so Page is a slice
	i := sort.Search(len(r.events), func(i int) bool {
		return !newerFirst(r.events[i].RecordedAt, event.RecordedAt, r.events[i].ID, event.ID)
	})
	r.events = append(r.events, iowmodels.TriggeredEvent{})
	copy(r.events[i+1:], r.events[i:])
	r.events[i] = event
	return nil
}

func (r *MemoryEventRepository) Page(ctx context.Context, offset, limit int) ([]iowmodels.TriggeredEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if offset >= len(r.events) {
		return []iowmodels.TriggeredEvent{}, nil
	}
	end := offset + limit
	if end > len(r.events) {
		end = len(r.events)
	}
	return append([]iowmodels.TriggeredEvent{}, r.events[offset:end]...), nil
}

// newerFirst orders by time descending, then id descending. UUIDv7 ids sort
// by creation time, so the tie-break follows insertion order.
func newerFirst(a, b time.Time, aID, bID string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID > bID
}

var (
	_ interfaces.ThresholdRepository = (*MemoryThresholdRepository)(nil)
	_ interfaces.EventRepository     = (*MemoryEventRepository)(nil)
)
