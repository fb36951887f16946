package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	config "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Config"
	evaluator "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Evaluator"
	health "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Health"
	logger "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Logger"
	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	implementation "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
	store "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Store"
	transport "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Transport"
)

// Container manages dependencies and their lifecycle
type Container struct {
	config *config.Config
	logger *logger.Logger

	db          *sql.DB
	mongoClient *mongo.Client
	redisClient *redis.Client

	thresholdRepo interfaces.ThresholdRepository
	eventRepo     interfaces.EventRepository
	snapshot      interfaces.LatestReadingCache

	thresholdStore *store.ThresholdStore
	eventStore     *store.EventStore
	evaluator      *evaluator.Evaluator
	healthChecker  *health.HealthChecker

	mu sync.Mutex

	// Cleanup functions, run in reverse order on Shutdown
	cleanupFuncs []func() error
}

// NewContainer loads configuration from the environment (and the given .env
// files) and builds an empty container around it
func NewContainer(envFiles ...string) (*Container, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return NewContainerWithConfig(cfg, logger.NewLogger(&cfg.Logging)), nil
}

func NewContainerWithConfig(cfg *config.Config, log *logger.Logger) *Container {
	return &Container{
		config: cfg,
		logger: log,
	}
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetDatabase returns the PostgreSQL connection, opening it on first use
func (c *Container) GetDatabase() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.database()
}

func (c *Container) database() (*sql.DB, error) {
	if c.db == nil {
		db, err := health.ConnectPostgresWithTimeout(c.config, c.config.Database.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.db = db
		c.cleanupFuncs = append(c.cleanupFuncs, db.Close)
	}
	return c.db, nil
}

// GetMongoDatabase returns the MongoDB database, connecting on first use
func (c *Container) GetMongoDatabase() (*mongo.Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mongoDatabase()
}

func (c *Container) mongoDatabase() (*mongo.Database, error) {
	if c.mongoClient == nil {
		client, err := health.ConnectMongoWithTimeout(c.config, c.config.Database.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		c.mongoClient = client
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			return client.Disconnect(context.Background())
		})
	}
	return c.mongoClient.Database(c.config.Database.MongoDB), nil
}

// GetRedis returns the Redis client backing the snapshot cache
func (c *Container) GetRedis() (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redis()
}

func (c *Container) redis() (*redis.Client, error) {
	if !c.config.Redis.Enabled {
		return nil, fmt.Errorf("redis is not enabled")
	}
	if c.redisClient == nil {
		client, err := health.ConnectRedisWithTimeout(c.config, c.config.Database.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.redisClient = client
		c.cleanupFuncs = append(c.cleanupFuncs, client.Close)
	}
	return c.redisClient, nil
}

// GetRepositories returns the threshold and event repositories for the
// configured storage backend
func (c *Container) GetRepositories() (interfaces.ThresholdRepository, interfaces.EventRepository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repositories()
}

func (c *Container) repositories() (interfaces.ThresholdRepository, interfaces.EventRepository, error) {
	if c.thresholdRepo != nil {
		return c.thresholdRepo, c.eventRepo, nil
	}

	switch c.config.Database.Backend {
	case config.BackendPostgres:
		db, err := c.database()
		if err != nil {
			return nil, nil, err
		}
		c.thresholdRepo = implementation.NewPostgresThresholdRepository(db)
		c.eventRepo = implementation.NewPostgresEventRepository(db)
	case config.BackendMongo:
		db, err := c.mongoDatabase()
		if err != nil {
			return nil, nil, err
		}
		c.thresholdRepo = implementation.NewMongoThresholdRepository(db)
		c.eventRepo = implementation.NewMongoEventRepository(db)
	case config.BackendMemory:
		c.thresholdRepo = implementation.NewMemoryThresholdRepository()
		c.eventRepo = implementation.NewMemoryEventRepository()
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", c.config.Database.Backend)
	}

	c.logger.Logger.Info().Str("backend", c.config.Database.Backend).Msg("Storage repositories ready")
	return c.thresholdRepo, c.eventRepo, nil
}

// GetSnapshotCache returns the latest-reading cache: Redis when enabled so
// split api/ingestor processes share it, otherwise in-process memory
func (c *Container) GetSnapshotCache() (interfaces.LatestReadingCache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil {
		return c.snapshot, nil
	}

	if c.config.Redis.Enabled {
		client, err := c.redis()
		if err != nil {
			return nil, err
		}
		c.snapshot = implementation.NewRedisLatestCache(client, c.config.Redis.KeyPrefix)
	} else {
		c.snapshot = implementation.NewMemoryLatestCache()
	}
	return c.snapshot, nil
}

// GetThresholdStore returns the threshold store
func (c *Container) GetThresholdStore() (*store.ThresholdStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.thresholdStore == nil {
		thresholds, _, err := c.repositories()
		if err != nil {
			return nil, err
		}
		c.thresholdStore = store.NewThresholdStore(thresholds)
	}
	return c.thresholdStore, nil
}

// GetEventStore returns the triggered event store
func (c *Container) GetEventStore() (*store.EventStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eventStore == nil {
		_, events, err := c.repositories()
		if err != nil {
			return nil, err
		}
		c.eventStore = store.NewEventStore(events)
	}
	return c.eventStore, nil
}

// GetEvaluator returns the trigger evaluator wired to both stores
func (c *Container) GetEvaluator() (*evaluator.Evaluator, error) {
	thresholds, err := c.GetThresholdStore()
	if err != nil {
		return nil, err
	}
	events, err := c.GetEventStore()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evaluator == nil {
		c.evaluator = evaluator.New(thresholds, events, c.logger)
	}
	return c.evaluator, nil
}

// NewTransport builds an MQTT client from the configuration. It is not
// cached: each ingestor owns its transport.
func (c *Container) NewTransport(opts ...transport.Option) *transport.Client {
	return transport.New(c.config.MQTT, c.config.GetMQTTBrokerURL(), c.logger, opts...)
}

// GetHealthChecker returns the health checker with a critical check for
// each storage dependency in use. Callers add the transport check, whose
// criticality depends on the run mode.
func (c *Container) GetHealthChecker() (*health.HealthChecker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthChecker != nil {
		return c.healthChecker, nil
	}

	checker := health.NewHealthChecker()
	switch c.config.Database.Backend {
	case config.BackendPostgres:
		db, err := c.database()
		if err != nil {
			return nil, fmt.Errorf("failed to get database for health checker: %w", err)
		}
		checker.AddCheck("postgres", true, health.PostgresCheck(db))
	case config.BackendMongo:
		if _, err := c.mongoDatabase(); err != nil {
			return nil, fmt.Errorf("failed to get database for health checker: %w", err)
		}
		checker.AddCheck("mongodb", true, health.MongoCheck(c.mongoClient))
	}

	if c.config.Redis.Enabled {
		client, err := c.redis()
		if err != nil {
			return nil, fmt.Errorf("failed to get redis for health checker: %w", err)
		}
		checker.AddCheck("redis", true, health.RedisCheck(client))
	}

	c.healthChecker = checker
	return c.healthChecker, nil
}

// InitializeDatabase creates the schema for the configured backend
func (c *Container) InitializeDatabase(ctx context.Context) error {
	switch c.config.Database.Backend {
	case config.BackendPostgres:
		db, err := c.GetDatabase()
		if err != nil {
			return err
		}
		if err := health.NewDatabaseManager(db).CreateTables(ctx); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	case config.BackendMongo:
		db, err := c.GetMongoDatabase()
		if err != nil {
			return err
		}
		if err := implementation.EnsureMongoIndexes(ctx, db); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	default:
		c.logger.Info("Nothing to initialize for in-memory storage")
		return nil
	}

	c.logger.Info("Database initialized successfully")
	return nil
}

// SnapshotState reads the transport state from the snapshot cache. The
// ingestor keeps it current, so it works from the api process too.
func (c *Container) SnapshotState(ctx context.Context) (iowmodels.ConnectionState, error) {
	cache, err := c.GetSnapshotCache()
	if err != nil {
		return iowmodels.StateError, err
	}
	snapshot, err := cache.Get(ctx)
	if err != nil {
		return iowmodels.StateError, err
	}
	return snapshot.ConnectionState, nil
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}
