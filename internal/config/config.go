// Package config handles fieldsync configuration
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/cloud-shuttle/fieldsync/internal/schema"
)

// Duration is a time.Duration read from strings like "30s" or "12h"
type Duration time.Duration

// UnmarshalText parses durations from TOML and YAML
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration in time.Duration notation
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AppConfig configures the engineer-facing listener
type AppConfig struct {
	Addr          string   `toml:"addr" yaml:"addr"`
	SessionMaxAge Duration `toml:"session_max_age" yaml:"session_max_age"`
}

// DispatchConfig configures both directions of the dispatch link
type DispatchConfig struct {
	// Addr is where the dispatch authority posts inbound messages
	Addr string `toml:"addr" yaml:"addr"`

	// URL receives outbound task updates. Empty disables forwarding.
	URL      string `toml:"url" yaml:"url"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
	Secret   string `toml:"secret,omitempty" yaml:"secret,omitempty"`

	Workers       int      `toml:"workers" yaml:"workers"`
	Retries       int      `toml:"retries" yaml:"retries"`
	Timeout       Duration `toml:"timeout" yaml:"timeout"`
	RetryInterval Duration `toml:"retry_interval" yaml:"retry_interval"`
}

// NATSConfig configures the optional NATS transport
type NATSConfig struct {
	URL     string `toml:"url,omitempty" yaml:"url,omitempty"`
	Subject string `toml:"subject" yaml:"subject"`
}

// Config holds fieldsync configuration
type Config struct {
	DatabasePath string `toml:"database_path" yaml:"database_path"`
	LogLevel     string `toml:"log_level" yaml:"log_level"`
	LogFormat    string `toml:"log_format" yaml:"log_format"`

	// ScheduleFixture is a YAML/JSON file of demo schedules. Empty uses the built-in demo.
	ScheduleFixture string `toml:"schedule_fixture,omitempty" yaml:"schedule_fixture,omitempty"`

	// Housekeeping is a cron spec for the purge job
	Housekeeping string `toml:"housekeeping" yaml:"housekeeping"`

	App      AppConfig      `toml:"app" yaml:"app"`
	Dispatch DispatchConfig `toml:"dispatch" yaml:"dispatch"`
	NATS     NATSConfig     `toml:"nats" yaml:"nats"`
	Logic    schema.Logic   `toml:"logic" yaml:"logic"`

	// DBOSDatabaseURL enables durable outbound forwarding. Environment only.
	DBOSDatabaseURL string `toml:"-" yaml:"-"`

	configPath string
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DatabasePath: defaultDatabasePath(),
		LogLevel:     "info",
		LogFormat:    "text",
		Housekeeping: "@hourly",
		App: AppConfig{
			Addr:          ":3000",
			SessionMaxAge: Duration(12 * time.Hour),
		},
		Dispatch: DispatchConfig{
			Addr:          ":8000",
			Workers:       2,
			Retries:       3,
			Timeout:       Duration(30 * time.Second),
			RetryInterval: Duration(time.Second),
		},
		NATS:  NATSConfig{Subject: "fieldsync.dispatch"},
		Logic: schema.DefaultLogic(),
	}
}

// Load reads defaults, then the config file at path if it exists, then
// FIELDSYNC_* environment overrides. The file format follows the extension:
// .yaml/.yml is YAML, anything else TOML.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.configPath = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.decode(path, data); err != nil {
				return nil, err
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FIELDSYNC_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("FIELDSYNC_APP_ADDR"); v != "" {
		c.App.Addr = v
	}
	if v := os.Getenv("FIELDSYNC_DISPATCH_ADDR"); v != "" {
		c.Dispatch.Addr = v
	}
	if v := os.Getenv("FIELDSYNC_DISPATCH_URL"); v != "" {
		c.Dispatch.URL = v
	}
	if v := os.Getenv("FIELDSYNC_DISPATCH_USER"); v != "" {
		c.Dispatch.Username = v
	}
	if v := os.Getenv("FIELDSYNC_DISPATCH_PASS"); v != "" {
		c.Dispatch.Password = v
	}
	if v := os.Getenv("FIELDSYNC_DISPATCH_SECRET"); v != "" {
		c.Dispatch.Secret = v
	}
	if v := os.Getenv("FIELDSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FIELDSYNC_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("FIELDSYNC_DRIPFEED"); v != "" {
		c.Logic.Dripfeed = parseBoolOrDefault(v, c.Logic.Dripfeed)
	}
	if v, ok := os.LookupEnv("FIELDSYNC_FAKE_DATE"); ok {
		c.Logic.FakeDate = v
	}
	if v := os.Getenv("FIELDSYNC_OUTBOUND_WORKERS"); v != "" {
		c.Dispatch.Workers = parseIntOrDefault(v, 2)
	}
	if v := os.Getenv("FIELDSYNC_OUTBOUND_RETRIES"); v != "" {
		c.Dispatch.Retries = parseIntOrDefault(v, 3)
	}
	if v := os.Getenv("FIELDSYNC_OUTBOUND_TIMEOUT"); v != "" {
		c.Dispatch.Timeout = Duration(parseDurationOrDefault(v, 30*time.Second))
	}
	if v := os.Getenv("FIELDSYNC_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("FIELDSYNC_NATS_SUBJECT"); v != "" {
		c.NATS.Subject = v
	}
	if v := os.Getenv("FIELDSYNC_SCHEDULE_FIXTURE"); v != "" {
		c.ScheduleFixture = v
	}
	if v := os.Getenv("FIELDSYNC_SESSION_MAX_AGE"); v != "" {
		c.App.SessionMaxAge = Duration(parseDurationOrDefault(v, 12*time.Hour))
	}
	if v := os.Getenv("DBOS_SYSTEM_DATABASE_URL"); v != "" {
		c.DBOSDatabaseURL = v
	}
}

// Validate checks the configuration, including the logic section
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.App.Addr == "" || c.Dispatch.Addr == "" {
		return fmt.Errorf("app.addr and dispatch.addr are required")
	}
	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("dispatch.workers must be at least 1")
	}
	if c.Dispatch.Retries < 0 {
		return fmt.Errorf("dispatch.retries cannot be negative")
	}
	if err := c.Logic.Validate(); err != nil {
		return fmt.Errorf("logic: %w", err)
	}
	return nil
}

// ConfigPath returns the path the configuration was loaded from
func (c *Config) ConfigPath() string {
	return c.configPath
}

// Encode renders the configuration as TOML
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path unless a file is
// already there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("creating config directory: %w", err)
	}

	cfg := Default()
	cfg.DatabasePath = filepath.Join(filepath.Dir(path), "fieldsync.db")
	data, err := cfg.Encode()
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("writing config file: %w", err)
	}
	return true, nil
}

// defaultDatabasePath returns SQLite in the working directory
func defaultDatabasePath() string {
	dir, err := os.Getwd()
	if err != nil {
		return filepath.Join(".fieldsync", "fieldsync.db")
	}
	return filepath.Join(dir, ".fieldsync", "fieldsync.db")
}

func parseIntOrDefault(s string, def int) int {
	var i int
	if _, err := fmt.Sscanf(s, "%d", &i); err != nil {
		return def
	}
	return i
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func parseBoolOrDefault(s string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return b
}
