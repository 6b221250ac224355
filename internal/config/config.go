// Package config provides centralized configuration management for the SDK and CLI.
// It loads configuration from environment variables (optionally layered over a YAML
// file) with sensible defaults and validates all settings up front to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all client configuration.
// Every setting can be configured via environment variables.
type Config struct {
	Upstream UpstreamConfig
	Upload   UploadConfig
	Logging  LoggingConfig
	Database DatabaseConfig
}

// UpstreamConfig holds connection settings for the Upstream API.
type UpstreamConfig struct {
	// BaseURL is the root of the Upstream API (required)
	BaseURL string `env:"UPSTREAM_BASE_URL" file:"upstream.base_url" required:"true"`

	// Username and Password are the account credentials used to obtain tokens
	Username string `env:"UPSTREAM_USERNAME" file:"upstream.username"`
	Password string `env:"UPSTREAM_PASSWORD" file:"upstream.password"`

	// Timeout applies to each individual HTTP request, not to a whole upload (default: 30s)
	Timeout time.Duration `env:"UPSTREAM_TIMEOUT" file:"upstream.timeout" default:"30s"`

	// RateLimit is the client-side request rate in requests/second, 0 disables throttling
	RateLimit float64 `env:"UPSTREAM_RATE_LIMIT" file:"upstream.rate_limit" default:"0"`

	// RateBurst is the token bucket size used with RateLimit (default: 1)
	RateBurst int `env:"UPSTREAM_RATE_BURST" file:"upstream.rate_burst" default:"1"`
}

// UploadConfig holds chunked CSV upload settings.
type UploadConfig struct {
	// ChunkSize is the number of measurement rows sent per request (default: 1000)
	ChunkSize int `env:"UPLOAD_CHUNK_SIZE" file:"upload.chunk_size" default:"1000"`

	// MaxFileSize is the per-file ceiling in bytes, 0 disables the check (default: 500MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" file:"upload.max_file_size" default:"524288000"`

	// MaxConcurrent is the number of uploads that may run at once through one client (default: 1)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" file:"upload.max_concurrent" default:"1"`

	// MaxWaitTime is how long an upload waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" file:"upload.max_wait_time" default:"30s"`

	// Validate runs local structure validation before any network call (default: true)
	Validate bool `env:"UPLOAD_VALIDATE" file:"upload.validate" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" file:"logging.level" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" file:"logging.format" default:"text"`

	// File, when set, receives a JSON copy of every log record
	File string `env:"LOG_FILE" file:"logging.file"`
}

// DatabaseConfig holds the optional upload ledger connection.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty disables the ledger.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" file:"database.url"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" file:"database.max_conns" default:"4"`
}

// Enabled reports whether an upload ledger database is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}
