// Package config loads the dispatch server settings from the environment.
// Every variable carries the DISPATCH_ prefix (DISPATCH_DB_DRIVER, DISPATCH_WORKERS,
// ...); a .env file is honored by main.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "DISPATCH"

// Config holds all configuration for the dispatch server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Dispatch DispatchConfig
	Breaker  BreakerConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `envconfig:"DISPATCH_SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"DISPATCH_SERVER_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"DISPATCH_SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration.
// DSN wins over the individual fields when set.
type DatabaseConfig struct {
	Driver   string `envconfig:"DISPATCH_DB_DRIVER" default:"sqlite3"` // mysql, postgres, sqlite3
	DSN      string `envconfig:"DISPATCH_DB_DSN"`
	Host     string `envconfig:"DISPATCH_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DISPATCH_DB_PORT" default:"3306"`
	User     string `envconfig:"DISPATCH_DB_USER" default:"dispatch"`
	Password string `envconfig:"DISPATCH_DB_PASSWORD"`
	Name     string `envconfig:"DISPATCH_DB_NAME" default:"dispatch.db"`

	MaxOpenConns int  `envconfig:"DISPATCH_DB_MAX_OPEN_CONNS" default:"20"`
	AutoMigrate  bool `envconfig:"DISPATCH_DB_AUTO_MIGRATE" default:"true"`
}

// DispatchConfig tunes the coordinator.
type DispatchConfig struct {
	Workers       int           `envconfig:"DISPATCH_WORKERS" default:"32"`
	BatchSize     int           `envconfig:"DISPATCH_BATCH_SIZE" default:"500"`
	SweepInterval time.Duration `envconfig:"DISPATCH_SWEEP_INTERVAL" default:"1m"`
	GracePeriod   time.Duration `envconfig:"DISPATCH_GRACE_PERIOD" default:"72h"`
	SendTimeout   time.Duration `envconfig:"DISPATCH_SEND_TIMEOUT" default:"10s"`
}

// BreakerConfig tunes the circuit breaker in front of the notifier.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `envconfig:"DISPATCH_BREAKER_CONSECUTIVE_FAILURES" default:"5"`
	Timeout             time.Duration `envconfig:"DISPATCH_BREAKER_TIMEOUT" default:"30s"`
}

// LogConfig selects level and output format (json or console).
type LogConfig struct {
	Level  string `envconfig:"DISPATCH_LOG_LEVEL" default:"info"`
	Format string `envconfig:"DISPATCH_LOG_FORMAT" default:"json"`
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	switch c.Database.Driver {
	case "sqlite3":
	case "mysql", "postgres":
		if c.Database.DSN == "" && c.Database.Password == "" {
			return fmt.Errorf("%s_DB_PASSWORD or %s_DB_DSN is required for %s", EnvPrefix, EnvPrefix, c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("%s_WORKERS must be >= 1", EnvPrefix)
	}
	if c.Dispatch.BatchSize < 1 {
		return fmt.Errorf("%s_BATCH_SIZE must be >= 1", EnvPrefix)
	}
	if c.Dispatch.SweepInterval <= 0 {
		return fmt.Errorf("%s_SWEEP_INTERVAL must be positive", EnvPrefix)
	}
	if c.Dispatch.GracePeriod <= 0 {
		return fmt.Errorf("%s_GRACE_PERIOD must be positive", EnvPrefix)
	}
	return nil
}

// GetDSN returns the database connection string based on driver.
func (c *DatabaseConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch c.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Name)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Name)
	case "sqlite3":
		return c.Name + "?_busy_timeout=5000"
	default:
		return ""
	}
}
