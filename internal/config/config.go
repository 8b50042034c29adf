// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	Database  DatabaseConfig
	NATS      NATSConfig
	Directory DirectoryConfig
}

// ServiceConfig identifies the running service instance.
type ServiceConfig struct {
	Name        string `envconfig:"SERVICE_NAME" default:"be-doc-approvals"`
	Version     string `envconfig:"SERVICE_VERSION" default:"dev"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `envconfig:"PORT" default:"8086"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	RequestTimeout  time.Duration `envconfig:"SERVER_REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds the Postgres pool settings.
type DatabaseConfig struct {
	Host        string        `envconfig:"DB_HOST" default:"localhost"`
	Port        int           `envconfig:"DB_PORT" default:"5432"`
	User        string        `envconfig:"DB_USER" default:"postgres"`
	Password    string        `envconfig:"DB_PASSWORD" default:""`
	Database    string        `envconfig:"DB_NAME" default:"doc_approvals"`
	SSLMode     string        `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns    int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns    int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnTime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxIdleTime time.Duration `envconfig:"DB_MAX_CONN_IDLE" default:"30m"`
	HealthCheck time.Duration `envconfig:"DB_HEALTHCHECK_PERIOD" default:"1m"`
}

// NATSConfig holds the notification publisher settings. An empty URL
// disables publishing entirely.
type NATSConfig struct {
	URL string `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
}

// DirectoryConfig points at the principal directory service.
type DirectoryConfig struct {
	BaseURL string        `envconfig:"DIRECTORY_URL" default:"http://localhost:9091"`
	Timeout time.Duration `envconfig:"DIRECTORY_TIMEOUT" default:"5s"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
