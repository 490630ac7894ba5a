package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables, applies defaults for
// unset values and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with a custom variable source. An empty value counts as
// unset.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	var errs []string
	fill(reflect.ValueOf(cfg).Elem(), getenv, &errs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("config load:\n  - %s", strings.Join(errs, "\n  - "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// fill walks the config sections and assigns every field tagged with env.
// Parse failures are appended to errs so one run reports all of them.
func fill(section reflect.Value, getenv func(string) string, errs *[]string) {
	for i := 0; i < section.NumField(); i++ {
		meta, dst := section.Type().Field(i), section.Field(i)
		if !dst.CanSet() {
			continue
		}
		if meta.Type.Kind() == reflect.Struct {
			fill(dst, getenv, errs)
			continue
		}

		name := meta.Tag.Get("env")
		if name == "" {
			continue
		}
		raw := getenv(name)
		if alt := meta.Tag.Get("envAlt"); raw == "" && alt != "" {
			raw = getenv(alt)
		}
		if raw == "" {
			raw = meta.Tag.Get("default")
		}
		if raw == "" {
			continue
		}

		if err := assign(dst, raw); err != nil {
			*errs = append(*errs, fmt.Sprintf("%s=%q: %v", name, raw, err))
		}
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

// assign parses raw into dst according to dst's type. Slices of strings are
// comma separated; blanks are dropped.
func assign(dst reflect.Value, raw string) error {
	if dst.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("not a duration")
		}
		dst.SetInt(int64(d))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		dst.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("not an integer")
		}
		dst.SetInt(n)
	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("not a boolean")
		}
		dst.SetBool(v)
	case reflect.Slice:
		if dst.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list of %s", dst.Type().Elem().Kind())
		}
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		dst.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", dst.Kind())
	}
	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required when DB_DRIVER=postgres")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) must be one of: postgres, memory", c.Database.Driver))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Import.MaxFileSize <= 0 {
		errs = append(errs, "IMPORT_MAX_FILE_SIZE must be positive")
	}
	if c.Import.MaxConcurrentDiffs <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT_DIFFS must be positive")
	}
	if c.Import.DiffWaitTime <= 0 {
		errs = append(errs, "IMPORT_DIFF_WAIT_TIME must be positive")
	}
	if c.Import.UploadDir == "" {
		errs = append(errs, "IMPORT_UPLOAD_DIR must not be empty")
	}
	if _, err := time.LoadLocation(c.Import.LedgerTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("IMPORT_LEDGER_TIMEZONE (%q) is not a known zone", c.Import.LedgerTimezone))
	}

	if c.Diff.ServiceURL == "" {
		errs = append(errs, "DIFF_SERVICE_URL must not be empty")
	}
	if c.Diff.Timeout <= 0 {
		errs = append(errs, "DIFF_TIMEOUT must be positive")
	}
	if c.Server.RequestTimeout > 0 && c.Server.RequestTimeout <= c.Diff.Timeout {
		errs = append(errs, fmt.Sprintf("SERVER_REQUEST_TIMEOUT (%s) must exceed DIFF_TIMEOUT (%s)",
			c.Server.RequestTimeout, c.Diff.Timeout))
	}

	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.UploadLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "API_KEYS must be set when SECURITY_REQUIRE_API_KEY=true")
	}
	for _, proxy := range c.Security.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err != nil && net.ParseIP(proxy) == nil {
			errs = append(errs, fmt.Sprintf("TRUSTED_PROXIES entry %q is not an IP or CIDR", proxy))
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// The database URL is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {Driver: %q, URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.Driver, c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Import: {MaxFileSize: %d, MaxConcurrentDiffs: %d, LedgerTimezone: %q}, ",
		c.Import.MaxFileSize, c.Import.MaxConcurrentDiffs, c.Import.LedgerTimezone)
	fmt.Fprintf(&b, "Diff: {ServiceURL: %q, Timeout: %s}, ", c.Diff.ServiceURL, c.Diff.Timeout)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ", c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {TrustedProxies: %d, RequireAPIKey: %v, APIKeys: [MASKED]}, ",
		len(c.Security.TrustedProxies), c.Security.RequireAPIKey)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
