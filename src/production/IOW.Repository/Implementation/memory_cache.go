package implementation

import (
	"context"
	"sync"
	"time"

	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

type MemoryLatestCache struct {
	mu       sync.RWMutex
	snapshot iowmodels.LatestSnapshot
	now      func() time.Time
}

func NewMemoryLatestCache() *MemoryLatestCache {
	return &MemoryLatestCache{
		snapshot: iowmodels.LatestSnapshot{ConnectionState: iowmodels.StateDisconnected},
		now:      time.Now,
	}
}

func (c *MemoryLatestCache) SetReading(ctx context.Context, reading iowmodels.Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	value := reading.Value
	observed := reading.ObservedAt
	c.snapshot.Temperature = &value
	c.snapshot.ObservedAt = &observed
	c.snapshot.UpdatedAt = c.now().UTC()
	return nil
}

func (c *MemoryLatestCache) SetState(ctx context.Context, state iowmodels.ConnectionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot.ConnectionState = state
	c.snapshot.UpdatedAt = c.now().UTC()
	return nil
}

func (c *MemoryLatestCache) Get(ctx context.Context) (iowmodels.LatestSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, nil
}

var _ interfaces.LatestReadingCache = (*MemoryLatestCache)(nil)
