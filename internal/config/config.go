// Package config loads broker configuration from an optional JSON5 file
// overlaid by environment variables. Env vars win over file values; defaults
// fill the rest.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// Config is the root configuration for the broker process.
type Config struct {
	// Listener
	BindAddr string `json:"bind_addr" env:"BIND_ADDR" envDefault:"0.0.0.0"`
	Port     int    `json:"port" env:"PORT" envDefault:"5001"`

	// Auth
	AuthEnabled             bool `json:"auth_enabled" env:"AUTH_ENABLED" envDefault:"false"`
	DefaultTokenExpiryHours int  `json:"default_token_expiry_hours" env:"DEFAULT_TOKEN_EXPIRY_HOURS" envDefault:"720"`

	// Session caps
	MaxConnections          int `json:"max_connections" env:"MAX_CONNECTIONS" envDefault:"1000"`
	MaxConnectionsPerClient int `json:"max_connections_per_client" env:"MAX_CONNECTIONS_PER_CLIENT" envDefault:"10"`

	// CORS. Comma-separated origins; wildcard is rejected unless Development.
	CORSAllowedOrigins []string `json:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost,http://127.0.0.1"`
	Development        bool     `json:"development" env:"DEVELOPMENT" envDefault:"false"`

	// Rate limiting: token bucket per client, capacity and refill per minute.
	RateLimitPerMinute int `json:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	// Code execution handoff
	CodeExecEnabled bool   `json:"code_exec_enabled" env:"CODE_EXEC_ENABLED" envDefault:"false"`
	SandboxEndpoint string `json:"sandbox_endpoint" env:"SANDBOX_ENDPOINT"`

	// Logging
	LogLevel  string `json:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `json:"log_format" env:"LOG_FORMAT" envDefault:"text"`

	// Persistence
	DataDir string `json:"data_dir" env:"DATA_DIR" envDefault:"./data"`

	// Heartbeats
	HeartbeatIntervalSeconds int `json:"heartbeat_interval_seconds" env:"HEARTBEAT_INTERVAL_SECONDS" envDefault:"30"`

	// Message core tuning. Defaults match the documented queue discipline.
	QueueSoftCap     int `json:"queue_soft_cap" env:"QUEUE_MAX" envDefault:"10000"`
	RetryBaseSeconds int `json:"retry_base_seconds" env:"RETRY_BASE_SECONDS" envDefault:"5"`
	RetryMaxAttempts int `json:"retry_max_attempts" env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	SendBufferSize   int `json:"send_buffer_size" env:"SEND_BUFFER_SIZE" envDefault:"256"`
	DefaultTTLHours  int `json:"default_ttl_hours" env:"DEFAULT_TTL_HOURS" envDefault:"24"`

	// Graceful shutdown deadline.
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`

	// Telemetry (optional OTLP/HTTP trace export).
	Telemetry TelemetryConfig `json:"telemetry"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string `json:"endpoint" env:"OTEL_ENDPOINT"`
	Insecure    bool   `json:"insecure" env:"OTEL_INSECURE" envDefault:"false"`
	ServiceName string `json:"service_name" env:"OTEL_SERVICE_NAME" envDefault:"agentbus"`
}

// HeartbeatInterval returns the heartbeat cadence as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// RetryBaseDelay returns the initial redelivery backoff.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown deadline.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// DefaultTTL returns the fallback message TTL.
func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLHours) * time.Hour
}

// Load reads config from an optional JSON5 file, then overlays env vars.
// Precedence is env > file > defaults. A missing file is not an error; a
// malformed one is.
func Load(path string) (*Config, error) {
	// .env is optional; real env vars take precedence over its contents.
	_ = godotenv.Load()

	cfg := &Config{}

	// Defaults first. An explicit empty environment means only the
	// envDefault tags apply here.
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env + defaults
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Env overlay last, with the default tag disabled so unset vars leave
	// file values alone.
	if err := env.ParseWithOptions(cfg, env.Options{DefaultValueTagName: "-"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the broker must not start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxConnections <= 0 || c.MaxConnectionsPerClient <= 0 {
		return fmt.Errorf("connection caps must be positive")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate_limit_per_minute must be positive")
	}
	if c.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if !c.Development {
		for _, o := range c.CORSAllowedOrigins {
			if strings.TrimSpace(o) == "*" {
				return fmt.Errorf("wildcard CORS origin is not allowed in production")
			}
		}
	}
	if c.CodeExecEnabled && c.SandboxEndpoint == "" {
		return fmt.Errorf("CODE_EXEC_ENABLED requires SANDBOX_ENDPOINT")
	}
	return nil
}
