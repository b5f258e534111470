package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/billing/internal/ingest"
)

// Load reads the configuration from the environment, fills in defaults and
// validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := fill(reflect.ValueOf(cfg).Elem(), os.Getenv); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// parse converts a raw setting into a value assignable to its field.
type parse func(string) (any, error)

var parsers = map[reflect.Type]parse{
	reflect.TypeOf(""): func(s string) (any, error) { return s, nil },
	reflect.TypeOf(0): func(s string) (any, error) {
		return strconv.Atoi(s)
	},
	reflect.TypeOf(int64(0)): func(s string) (any, error) {
		return strconv.ParseInt(s, 10, 64)
	},
	reflect.TypeOf(false): func(s string) (any, error) {
		return strconv.ParseBool(s)
	},
	reflect.TypeOf(time.Duration(0)): func(s string) (any, error) {
		return time.ParseDuration(s)
	},
	reflect.TypeOf([]string(nil)): func(s string) (any, error) {
		var out []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	},
}

// fill sets every field tagged with env, descending into the section
// structs. envAlt names a fallback variable.
func fill(v reflect.Value, getenv func(string) string) error {
	t := v.Type()
	for i := range t.NumField() {
		f, fv := t.Field(i), v.Field(i)
		if f.Type.Kind() == reflect.Struct {
			if err := fill(fv, getenv); err != nil {
				return err
			}
			continue
		}

		name := f.Tag.Get("env")
		if name == "" {
			continue
		}
		raw := getenv(name)
		if alt := f.Tag.Get("envAlt"); raw == "" && alt != "" {
			raw = getenv(alt)
		}
		if raw == "" {
			if f.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", name)
			}
			raw = f.Tag.Get("default")
		}
		if raw == "" {
			continue
		}

		p, ok := parsers[f.Type]
		if !ok {
			return fmt.Errorf("%s: unsupported field type %s", name, f.Type)
		}
		val, err := p(raw)
		if err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, raw, err)
		}
		fv.Set(reflect.ValueOf(val))
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	db := c.Database
	check(db.URL != "", "DATABASE_URL is required")
	check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	check(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	check(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)

	srv := c.Server
	check(srv.Port > 0 && srv.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", srv.Port)
	check(srv.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	check(srv.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	check(c.Upload.MaxFileSize > 0, "UPLOAD_MAX_FILE_SIZE must be positive")
	check(c.Upload.MaxConcurrent > 0, "UPLOAD_MAX_CONCURRENT must be positive")
	check(c.Upload.MaxWaitTime > 0, "UPLOAD_MAX_WAIT_TIME must be positive")

	_, err := ingest.ParsePolicy(c.Import.Policy)
	check(err == nil, "IMPORT_POLICY (%q) must be one of: best-effort, all-or-nothing", c.Import.Policy)
	check(c.Import.Timeout > 0, "IMPORT_TIMEOUT must be positive")
	check(c.Import.ProgressEvery > 0, "IMPORT_PROGRESS_EVERY must be positive")
	check(c.Import.ResultRetention >= 0, "IMPORT_RESULT_RETENTION must be non-negative")

	if c.Rate.Enabled {
		check(c.Rate.RequestsPerMinute > 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
		check(c.Rate.UploadLimit > 0, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}
	if c.Metrics.Enabled {
		check(strings.HasPrefix(c.Metrics.Path, "/"), "METRICS_PATH (%q) must start with /", c.Metrics.Path)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		check(false, "LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		check(false, "LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	return errors.Join(errs...)
}
