package health

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
)

const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusDegraded = "degraded"
)

// CheckFunc returns nil when the dependency is usable
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	fn       CheckFunc
	critical bool
}

// CheckResult is the outcome of one named check
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthStatus is served by the readiness endpoint
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Ready is false when a critical check failed
func (s HealthStatus) Ready() bool {
	return s.Status != StatusError
}

// HealthChecker runs the registered dependency checks
type HealthChecker struct {
	mu     sync.RWMutex
	checks []check
	now    func() time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{now: time.Now}
}

// AddCheck registers a check. A failing critical check makes the service not ready;
// a failing non-critical one only degrades it.
func (h *HealthChecker) AddCheck(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, fn: fn, critical: critical})
}

// GetHealthStatus returns the current health status
func (h *HealthChecker) GetHealthStatus(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]check(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusOK,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })
	for _, c := range checks {
		if err := c.fn(ctx); err != nil {
			status.Checks[c.name] = CheckResult{Status: StatusError, Error: err.Error()}
			if c.critical {
				status.Status = StatusError
			} else if status.Status == StatusOK {
				status.Status = StatusDegraded
			}
			continue
		}
		status.Checks[c.name] = CheckResult{Status: StatusOK}
	}

	return status
}

// PostgresCheck pings and runs a trivial query
func PostgresCheck(db *sql.DB) CheckFunc {
	return func(ctx context.Context) error {
		if db == nil {
			return fmt.Errorf("database connection is nil")
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
		var result int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
			return fmt.Errorf("database query failed: %w", err)
		}
		return nil
	}
}

func MongoCheck(client *mongo.Client) CheckFunc {
	return func(ctx context.Context) error {
		if client == nil {
			return fmt.Errorf("mongo client is nil")
		}
		return client.Ping(ctx, readpref.Primary())
	}
}

func RedisCheck(client redis.Cmdable) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// TransportCheck fails unless the reported connection state is connected
func TransportCheck(state func(ctx context.Context) (iowmodels.ConnectionState, error)) CheckFunc {
	return func(ctx context.Context) error {
		s, err := state(ctx)
		if err != nil {
			return err
		}
		if s != iowmodels.StateConnected {
			return fmt.Errorf("mqtt connection is %s", s)
		}
		return nil
	}
}
