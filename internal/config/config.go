// Package config provides centralized configuration management for the service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Contact identity modes for file and bulk imports.
const (
	// MatchNone appends a new contact for every imported row.
	MatchNone = "none"
	// MatchEmail reuses the tenant's active contact that already owns one of
	// the row's email addresses.
	MatchEmail = "email"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Cache    CacheConfig
	Audit    AuditConfig
	Trash    TrashConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 2m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"2m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies embedded migrations on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// ImportConfig holds contact import settings.
type ImportConfig struct {
	// MaxFileSize is the maximum accepted CSV size in bytes (default: 10MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`

	// MaxConcurrent is the maximum number of file imports running at once (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long a request waits for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Workers is the number of rows processed in parallel within one import.
	// 1 keeps rows strictly sequential (default: 1)
	Workers int `env:"IMPORT_WORKERS" default:"1"`

	// MaxRows caps the rows accepted by one bulk request (default: 10000)
	MaxRows int `env:"IMPORT_MAX_ROWS" default:"10000"`

	// Timeout is the maximum duration for a single import (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// ContactMatch selects contact identity on import: none or email (default: none)
	ContactMatch string `env:"IMPORT_CONTACT_MATCH" default:"none"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for import endpoints (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// JWTSecret is the HMAC key shared with the gateway that issues tokens
	JWTSecret string `env:"JWT_SECRET"`

	// RequireAuth rejects requests without a valid bearer token (default: true)
	RequireAuth bool `env:"REQUIRE_AUTH" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// CacheConfig holds mapping cache settings.
type CacheConfig struct {
	// RedisURL selects the Redis backend when set; otherwise an in-process cache is used
	RedisURL string `env:"CACHE_REDIS_URL" envAlt:"REDIS_URL"`

	// TTL is how long a mapping stays cached (default: 10m)
	TTL time.Duration `env:"CACHE_TTL" default:"10m"`
}

// AuditConfig holds audit recorder settings.
type AuditConfig struct {
	// BufferSize is the number of pending audit events held before new ones are dropped (default: 1024)
	BufferSize int `env:"AUDIT_BUFFER_SIZE" default:"1024"`

	// NATSURL publishes audit events to NATS instead of the audit_log table when set
	NATSURL string `env:"AUDIT_NATS_URL" envAlt:"NATS_URL"`

	// Subject is the NATS subject prefix for audit events (default: contacthub.audit)
	Subject string `env:"AUDIT_NATS_SUBJECT" default:"contacthub.audit"`
}

// TrashConfig holds soft-delete retention settings.
type TrashConfig struct {
	// RetentionDays is how long soft-deleted contacts stay restorable (default: 30)
	RetentionDays int `env:"TRASH_RETENTION_DAYS" default:"30"`

	// CheckInterval is how often the purge job runs (default: 24h)
	CheckInterval time.Duration `env:"TRASH_CHECK_INTERVAL" default:"24h"`
}

// Retention returns RetentionDays as a duration.
func (c *TrashConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
