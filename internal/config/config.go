// Package config provides centralized configuration management for the
// import service. Settings come from environment variables with defaults and
// are validated on startup so misconfiguration fails fast.
package config

import (
	"time"
	_ "time/tzdata"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Diff     DiffConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"180s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds a single request. Import creation waits on the
	// diff service, so this must exceed DIFF_TIMEOUT.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"150s"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// Driver selects the store: postgres or memory (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	// Supports both DATABASE_URL and DB_URL.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies the embedded schema on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	// MaxFileSize is the maximum accepted spreadsheet size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// UploadDir is where uploaded spreadsheets are kept for the diff service.
	UploadDir string `env:"IMPORT_UPLOAD_DIR" default:"uploads"`

	// MaxConcurrentDiffs caps parallel calls to the diff service (default: 4)
	MaxConcurrentDiffs int `env:"IMPORT_MAX_CONCURRENT_DIFFS" default:"4"`

	// DiffWaitTime is how long a request waits for a diff slot (default: 30s)
	DiffWaitTime time.Duration `env:"IMPORT_DIFF_WAIT_TIME" default:"30s"`

	// LedgerTimezone is the zone used to turn sign dates into transaction times.
	LedgerTimezone string `env:"IMPORT_LEDGER_TIMEZONE" default:"Asia/Shanghai"`

	// PhoneRegion is the default region for customer phone normalization.
	PhoneRegion string `env:"IMPORT_PHONE_REGION" default:"CN"`
}

// DiffConfig holds settings for the external spreadsheet diff service.
type DiffConfig struct {
	// ServiceURL is the base URL of the diff service.
	ServiceURL string `env:"DIFF_SERVICE_URL" envAlt:"PYTHON_SERVICE_URL" default:"http://localhost:8001"`

	// Timeout bounds one diff call (default: 120s)
	Timeout time.Duration `env:"DIFF_TIMEOUT" default:"120s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for import creation (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds request trust settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are honored.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableHeaders adds nosniff/frame/referrer headers (default: true)
	EnableHeaders bool `env:"SECURITY_ENABLE_HEADERS" default:"true"`

	// RequireAPIKey rejects /api requests without a valid X-API-Key.
	RequireAPIKey bool `env:"SECURITY_REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of "actor:key" or bare "key"
	// entries. The actor part becomes the default actor of the request.
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// UsesMemory reports whether the in-memory store is selected.
func (c *DatabaseConfig) UsesMemory() bool {
	return c.Driver == DriverMemory
}

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
