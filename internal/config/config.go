// Package config provides application configuration loading and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PUSHGARDEN_"

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Database DatabaseConfig `koanf:"database"`
	Mongo    MongoConfig    `koanf:"mongo"`
	LongPoll LongPollConfig `koanf:"longpoll"`
	Push     PushConfig     `koanf:"push"`
	CORS     CORSConfig     `koanf:"cors"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout" validate:"gt=0"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout       time.Duration `koanf:"idle_timeout" validate:"gt=0"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `koanf:"driver" validate:"oneof=postgres mongo"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gt=0"`
	MinIdleConns    int           `koanf:"min_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gt=0"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gt=0"`
}

// MongoConfig contains MongoDB settings.
type MongoConfig struct {
	URI             string        `koanf:"uri"`
	Database        string        `koanf:"database"`
	MaxPoolSize     uint64        `koanf:"max_pool_size" validate:"gt=0"`
	MinPoolSize     uint64        `koanf:"min_pool_size"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gt=0"`
}

// LongPollConfig bounds suspended waits.
type LongPollConfig struct {
	Timeout time.Duration `koanf:"timeout" validate:"required,gt=0"`
}

// PushConfig contains push trigger settings.
type PushConfig struct {
	JWTSecret string  `koanf:"jwt_secret" validate:"required"`
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gt=0"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Default returns the configuration defaults. Secrets and connection strings
// have no default and must come from the config file or environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "postgres",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MinIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Mongo: MongoConfig{
			Database:        "pushgarden",
			MaxPoolSize:     10,
			MinPoolSize:     2,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		LongPoll: LongPollConfig{
			Timeout: 30 * time.Second,
		},
		Push: PushConfig{
			RateLimit: 10,
			RateBurst: 20,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables use the PUSHGARDEN_ prefix with double underscores as
// section separators, e.g. PUSHGARDEN_SERVER__PORT=8080.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	switch c.Storage.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("validate config: database.url is required for the postgres driver")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("validate config: mongo.uri is required for the mongo driver")
		}
	}

	// A write timeout below the poll timeout would cut off every suspended
	// wait before it can resolve.
	if c.Server.WriteTimeout <= c.LongPoll.Timeout {
		return fmt.Errorf("validate config: server.write_timeout (%s) must exceed longpoll.timeout (%s)",
			c.Server.WriteTimeout, c.LongPoll.Timeout)
	}

	return nil
}
