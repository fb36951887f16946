package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Database configuration
	Database DatabaseConfig `json:"database"`

	// Redis configuration for the realtime snapshot
	Redis RedisConfig `json:"redis"`

	// MQTT configuration
	MQTT MQTTConfig `json:"mqtt"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`

	// Ingestion pipeline configuration
	Ingest IngestConfig `json:"ingest"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// CORS configuration
	CORS CORSConfig `json:"cors"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Backend  string `json:"backend"` // postgres, mongo or memory
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
	MinConns int    `json:"min_conns"`

	MongoURI string `json:"mongo_uri"`
	MongoDB  string `json:"mongo_db"`

	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// RedisConfig holds the realtime snapshot cache configuration
type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost        string        `json:"broker_host"`
	BrokerPort        int           `json:"broker_port"`
	BrokerUser        string        `json:"broker_user"`
	BrokerPass        string        `json:"broker_pass"`
	UseTLS            bool          `json:"use_tls"`
	CACertPath        string        `json:"ca_cert_path"`
	Topic             string        `json:"topic"`
	ErrorTopic        string        `json:"error_topic"`
	ClientID          string        `json:"client_id"`
	QoS               byte          `json:"qos"`
	KeepAlive         time.Duration `json:"keep_alive"`
	PingTimeout       time.Duration `json:"ping_timeout"`
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	BackoffMin        time.Duration `json:"backoff_min"`
	BackoffMax        time.Duration `json:"backoff_max"`
	DecodeErrorBudget int           `json:"decode_error_budget"` // consecutive failures, 0 disables
}

// AuthConfig holds bearer token validation settings. Tokens are issued by the
// identity provider; this service only verifies them.
type AuthConfig struct {
	JWTSecretKey string `json:"-"`
	JWTIssuer    string `json:"jwt_issuer"`
	JWTAudience  string `json:"jwt_audience"`
}

// IngestConfig holds settings for the reading evaluation path
type IngestConfig struct {
	StoreTimeout time.Duration `json:"store_timeout"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout, stderr, or file path
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// Load loads configuration from environment variables with fallback defaults.
// envFiles are passed to godotenv; a missing .env is not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else {
		// Environment variables can also be set directly
		_ = godotenv.Load()
	}

	env := &envReader{}

	config := &Config{
		Server: ServerConfig{
			Port:            env.getEnv("PORT", "8080"),
			ReadTimeout:     env.getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    env.getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     env.getDuration("IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: env.getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Backend:        strings.ToLower(env.getEnv("STORAGE_BACKEND", BackendPostgres)),
			Host:           env.getEnv("POSTGRES_HOST", "localhost"),
			Port:           env.getInt("POSTGRES_PORT", 5432),
			User:           env.getEnv("POSTGRES_USER", ""),
			Password:       env.getEnv("POSTGRES_PASSWORD", ""),
			DBName:         env.getEnv("POSTGRES_DB", "iot"),
			SSLMode:        env.getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns:       env.getInt("POSTGRES_MAX_CONNS", 25),
			MinConns:       env.getInt("POSTGRES_MIN_CONNS", 5),
			MongoURI:       env.getEnv("MONGODB_URI", ""),
			MongoDB:        env.getEnv("MONGODB_DB", "iot"),
			ConnectTimeout: env.getDuration("DB_CONNECT_TIMEOUT", 20*time.Second),
		},
		Redis: RedisConfig{
			Enabled:   env.getBool("REDIS_ENABLED", false),
			Addr:      env.getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  env.getEnv("REDIS_PASSWORD", ""),
			DB:        env.getInt("REDIS_DB", 0),
			KeyPrefix: env.getEnv("REDIS_KEY_PREFIX", "iotwatch:"),
		},
		MQTT: MQTTConfig{
			BrokerHost:        env.getEnv("BROKER_HOST", "localhost"),
			BrokerPort:        env.getInt("BROKER_PORT", 1883),
			BrokerUser:        env.getEnv("BROKER_USER", ""),
			BrokerPass:        env.getEnv("BROKER_PASS", ""),
			UseTLS:            env.getBool("BROKER_TLS", false),
			CACertPath:        env.getEnv("BROKER_CA_FILE", ""),
			Topic:             env.getEnv("MQTT_TOPIC", "iot/temperature"),
			ErrorTopic:        env.getEnv("MQTT_ERROR_TOPIC", "iot/temperature/errors"),
			ClientID:          env.getEnv("MQTT_CLIENT_ID", "iotwatch-ingestor"),
			QoS:               byte(env.getIntInRange("MQTT_QOS", 1, 0, 2)),
			KeepAlive:         env.getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
			PingTimeout:       env.getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
			ConnectTimeout:    env.getDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second),
			BackoffMin:        env.getDuration("MQTT_BACKOFF_MIN", 1*time.Second),
			BackoffMax:        env.getDuration("MQTT_BACKOFF_MAX", 30*time.Second),
			DecodeErrorBudget: env.getInt("MQTT_DECODE_ERROR_BUDGET", 100),
		},
		Auth: AuthConfig{
			JWTSecretKey: env.getEnv("JWT_SECRET_KEY", ""),
			JWTIssuer:    env.getEnv("JWT_ISSUER", ""),
			JWTAudience:  env.getEnv("JWT_AUDIENCE", "authenticated"),
		},
		Ingest: IngestConfig{
			StoreTimeout: env.getDuration("INGEST_STORE_TIMEOUT", 3*time.Second),
		},
		Logging: LoggingConfig{
			Level:        env.getEnv("LOG_LEVEL", "info"),
			Format:       env.getEnv("LOG_FORMAT", "text"),
			Output:       env.getEnv("LOG_OUTPUT", "stdout"),
			EnableCaller: env.getBool("LOG_ENABLE_CALLER", false),
		},
		CORS: CORSConfig{
			AllowedOrigins:   env.getStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   env.getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:   env.getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization"}),
			ExposedHeaders:   env.getStringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length"}),
			AllowCredentials: env.getBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           env.getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
	}

	if err := env.err(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case BackendPostgres:
		if c.Database.User == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("POSTGRES_PASSWORD is required")
		}
	case BackendMongo:
		if c.Database.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (expected postgres, mongo or memory)", c.Database.Backend)
	}
	if c.Auth.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if c.MQTT.Topic == "" {
		return fmt.Errorf("MQTT_TOPIC is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}
	if c.MQTT.BackoffMin <= 0 || c.MQTT.BackoffMax < c.MQTT.BackoffMin {
		return fmt.Errorf("MQTT backoff must satisfy 0 < MQTT_BACKOFF_MIN <= MQTT_BACKOFF_MAX")
	}
	if c.MQTT.DecodeErrorBudget < 0 {
		return fmt.Errorf("MQTT_DECODE_ERROR_BUDGET must not be negative")
	}
	if c.Ingest.StoreTimeout <= 0 {
		return fmt.Errorf("INGEST_STORE_TIMEOUT must be positive")
	}
	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *Config) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.MQTT.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTT.BrokerHost, c.MQTT.BrokerPort)
}

// envReader reads typed environment variables and remembers every parse failure
// so Load can report all of them at once.
type envReader struct {
	errs []error
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (e *envReader) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return intValue
}

func (e *envReader) getIntInRange(key string, defaultValue, min, max int) int {
	intValue := e.getInt(key, defaultValue)
	if intValue < min || intValue > max {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %d is outside %d..%d", key, intValue, min, max))
		return defaultValue
	}
	return intValue
}

func (e *envReader) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "TRUE":
		return true
	case "0", "false", "FALSE":
		return false
	}
	e.errs = append(e.errs, fmt.Errorf("invalid %s: %q (expected true/false or 1/0)", key, value))
	return defaultValue
}

func (e *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return duration
}

func (e *envReader) getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
