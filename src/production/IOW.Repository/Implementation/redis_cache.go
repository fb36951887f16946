package implementation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

const (
	fieldTemperature = "temperature"
	fieldObservedAt  = "observed_at"
	fieldState       = "connection_state"
	fieldUpdatedAt   = "updated_at"
)

// RedisLatestCache stores the realtime snapshot in one hash so an API process
// can serve what a separate ingestor process last saw.
type RedisLatestCache struct {
	client redis.Cmdable
	key    string
	now    func() time.Time
}

func NewRedisLatestCache(client redis.Cmdable, keyPrefix string) *RedisLatestCache {
	return &RedisLatestCache{
		client: client,
		key:    keyPrefix + "latest",
		now:    time.Now,
	}
}

func (c *RedisLatestCache) SetReading(ctx context.Context, reading iowmodels.Reading) error {
	err := c.client.HSet(ctx, c.key,
		fieldTemperature, strconv.FormatFloat(reading.Value, 'f', -1, 64),
		fieldObservedAt, reading.ObservedAt.UTC().Format(time.RFC3339Nano),
		fieldUpdatedAt, c.now().UTC().Format(time.RFC3339Nano),
	).Err()
	return interfaces.WrapStorage("cache latest reading", err)
}

func (c *RedisLatestCache) SetState(ctx context.Context, state iowmodels.ConnectionState) error {
	err := c.client.HSet(ctx, c.key,
		fieldState, state.String(),
		fieldUpdatedAt, c.now().UTC().Format(time.RFC3339Nano),
	).Err()
	return interfaces.WrapStorage("cache connection state", err)
}

func (c *RedisLatestCache) Get(ctx context.Context) (iowmodels.LatestSnapshot, error) {
	snapshot := iowmodels.LatestSnapshot{ConnectionState: iowmodels.StateDisconnected}

	fields, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return snapshot, interfaces.WrapStorage("read latest snapshot", err)
	}

	if raw, ok := fields[fieldTemperature]; ok {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return snapshot, interfaces.WrapStorage("read latest snapshot", fmt.Errorf("temperature %q: %w", raw, err))
		}
		snapshot.Temperature = &value
	}
	if raw, ok := fields[fieldObservedAt]; ok {
		observed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return snapshot, interfaces.WrapStorage("read latest snapshot", fmt.Errorf("observed_at %q: %w", raw, err))
		}
		snapshot.ObservedAt = &observed
	}
	if raw, ok := fields[fieldState]; ok {
		state, err := iowmodels.ParseConnectionState(raw)
		if err != nil {
			return snapshot, interfaces.WrapStorage("read latest snapshot", err)
		}
		snapshot.ConnectionState = state
	}
	if raw, ok := fields[fieldUpdatedAt]; ok {
		if updated, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			snapshot.UpdatedAt = updated
		}
	}

	return snapshot, nil
}

var _ interfaces.LatestReadingCache = (*RedisLatestCache)(nil)
