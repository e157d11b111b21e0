// Package config defines runtime defaults, validation, and loading for the
// relay. Values are layered: built-in defaults, an optional YAML file, a
// .env file, then the process environment.
package config

import (
	"fmt"
	"time"
)

// RateLimitConfig defines per-connection frame rate limiting.
type RateLimitConfig struct {
	Burst          int           `koanf:"burst"`
	RefillInterval time.Duration `koanf:"refill_interval"`
}

// ServerConfig holds HTTP and websocket settings.
type ServerConfig struct {
	Port            string          `koanf:"port"`
	AllowedOrigins  []string        `koanf:"allowed_origins"`
	MaxMessageSize  int64           `koanf:"max_message_size"`
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// DatabaseConfig selects the message store. An empty URL uses the
// in-memory store.
type DatabaseConfig struct {
	URL     string `koanf:"url"`
	Migrate bool   `koanf:"migrate"`

	// SeedFile preloads users and friendships into the store.
	SeedFile string `koanf:"seed_file"`
}

// BreakerConfig tunes the publish circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
	PublishTimeout   time.Duration `koanf:"publish_timeout"`
}

// FanoutConfig selects and configures the cross-instance backbone.
type FanoutConfig struct {
	Driver               string        `koanf:"driver"`
	RedisURL             string        `koanf:"redis_url"`
	NATSURL              string        `koanf:"nats_url"`
	NATSEmbedded         bool          `koanf:"nats_embedded"`
	NATSEmbeddedPort     int           `koanf:"nats_embedded_port"`
	ChatChannel          string        `koanf:"chat_channel"`
	NotificationsChannel string        `koanf:"notifications_channel"`
	Breaker              BreakerConfig `koanf:"breaker"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Config is the complete relay configuration.
type Config struct {
	InstanceID string         `koanf:"instance_id"`
	Server     ServerConfig   `koanf:"server"`
	Auth       AuthConfig     `koanf:"auth"`
	Database   DatabaseConfig `koanf:"database"`
	Fanout     FanoutConfig   `koanf:"fanout"`
	Logging    LoggingConfig  `koanf:"logging"`
}

// Fanout drivers.
const (
	DriverRedis  = "redis"
	DriverNATS   = "nats"
	DriverMemory = "memory"
)

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           ":8080",
			AllowedOrigins: []string{"http://localhost:8080"},
			MaxMessageSize: 64 * 1024,
			RateLimit: RateLimitConfig{
				Burst:          20,
				RefillInterval: time.Second,
			},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Migrate: true,
		},
		Fanout: FanoutConfig{
			Driver:               DriverRedis,
			RedisURL:             "redis://localhost:6379",
			NATSURL:              "nats://127.0.0.1:4222",
			NATSEmbeddedPort:     4222,
			ChatChannel:          "chat",
			NotificationsChannel: "notifications",
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				OpenTimeout:      10 * time.Second,
				PublishTimeout:   2 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Sanitize replaces non-positive limits and empty names with defaults.
func (c *Config) Sanitize() {
	def := Default()

	if c.Server.Port == "" {
		c.Server.Port = def.Server.Port
	}
	if c.Server.MaxMessageSize <= 0 {
		c.Server.MaxMessageSize = def.Server.MaxMessageSize
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = def.Server.RateLimit.Burst
	}
	if c.Server.RateLimit.RefillInterval <= 0 {
		c.Server.RateLimit.RefillInterval = def.Server.RateLimit.RefillInterval
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Fanout.Driver == "" {
		c.Fanout.Driver = def.Fanout.Driver
	}
	if c.Fanout.ChatChannel == "" {
		c.Fanout.ChatChannel = def.Fanout.ChatChannel
	}
	if c.Fanout.NotificationsChannel == "" {
		c.Fanout.NotificationsChannel = def.Fanout.NotificationsChannel
	}
	if c.Fanout.Breaker.FailureThreshold == 0 {
		c.Fanout.Breaker.FailureThreshold = def.Fanout.Breaker.FailureThreshold
	}
	if c.Fanout.Breaker.OpenTimeout <= 0 {
		c.Fanout.Breaker.OpenTimeout = def.Fanout.Breaker.OpenTimeout
	}
	if c.Fanout.Breaker.PublishTimeout <= 0 {
		c.Fanout.Breaker.PublishTimeout = def.Fanout.Breaker.PublishTimeout
	}
}

// Validate rejects configurations the relay cannot start with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret (JWT_SECRET) is required")
	}
	switch c.Fanout.Driver {
	case DriverRedis:
		if c.Fanout.RedisURL == "" {
			return fmt.Errorf("fanout.redis_url is required for the redis driver")
		}
	case DriverNATS:
		if c.Fanout.NATSURL == "" && !c.Fanout.NATSEmbedded {
			return fmt.Errorf("fanout.nats_url is required for the nats driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown fanout driver %q", c.Fanout.Driver)
	}
	if c.Fanout.ChatChannel == c.Fanout.NotificationsChannel {
		return fmt.Errorf("chat and notifications channels must differ")
	}
	return nil
}
