// Package config loads service configuration from defaults, an optional YAML file,
// an optional .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Prefs backends.
const (
	PrefsMemory   = "memory"
	PrefsSQLite   = "sqlite"
	PrefsPostgres = "postgres"
)

// Config is the service configuration.
type Config struct {
	Stream   StreamConfig   `yaml:"stream"`
	View     ViewConfig     `yaml:"view"`
	Metadata MetadataConfig `yaml:"metadata"`
	Search   SearchConfig   `yaml:"search"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

// StreamConfig selects the tokens subscription and its reconnect policy.
type StreamConfig struct {
	URL         string        `yaml:"url"`
	Filter      string        `yaml:"filter"`
	Order       string        `yaml:"order"`
	Offset      int           `yaml:"offset"`
	Limit       int           `yaml:"limit"`
	BaseDelay   time.Duration `yaml:"reconnect_base"`
	MaxDelay    time.Duration `yaml:"reconnect_max"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ViewConfig holds the presentation timers.
type ViewConfig struct {
	Throttle     time.Duration `yaml:"throttle"`
	SignalExpiry time.Duration `yaml:"signal_expiry"`
}

// MetadataConfig configures metadata resolution.
type MetadataConfig struct {
	RevealDelay  time.Duration `yaml:"reveal_delay"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	RPCURL       string        `yaml:"rpc_url"` // optional; enables on-chain locator lookup
}

// SearchConfig configures interactive search.
type SearchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// APIConfig points at the REST API used for search and orders.
type APIConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// StorageConfig selects the persistence backends. Empty DSNs disable a backend.
type StorageConfig struct {
	Prefs         string `yaml:"prefs"`
	SQLitePath    string `yaml:"sqlite_path"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

// HTTPConfig configures the service listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Stream: StreamConfig{
			URL:         "ws://localhost:8080",
			Filter:      "marketcap",
			Order:       "desc",
			Offset:      0,
			Limit:       20,
			BaseDelay:   time.Second,
			MaxDelay:    16 * time.Second,
			MaxAttempts: 5,
		},
		View: ViewConfig{
			Throttle:     1000 * time.Millisecond,
			SignalExpiry: 300 * time.Millisecond,
		},
		Metadata: MetadataConfig{
			RevealDelay:  500 * time.Millisecond,
			FetchTimeout: 5 * time.Second,
		},
		Search: SearchConfig{
			Debounce: 500 * time.Millisecond,
		},
		API: APIConfig{
			URL: "http://localhost:8080",
		},
		Storage: StorageConfig{
			Prefs:      PrefsSQLite,
			SQLitePath: "prefs.db",
		},
		HTTP: HTTPConfig{
			Addr:            ":8090",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. yamlPath and envFile are optional; a missing
// .env file is not an error, a missing YAML file named explicitly is.
func Load(yamlPath, envFile string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", yamlPath, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"STREAM_URL":     &c.Stream.URL,
		"STREAM_FILTER":  &c.Stream.Filter,
		"STREAM_ORDER":   &c.Stream.Order,
		"API_URL":        &c.API.URL,
		"API_TOKEN":      &c.API.Token,
		"RPC_URL":        &c.Metadata.RPCURL,
		"PREFS_BACKEND":  &c.Storage.Prefs,
		"SQLITE_PATH":    &c.Storage.SQLitePath,
		"POSTGRES_DSN":   &c.Storage.PostgresDSN,
		"CLICKHOUSE_DSN": &c.Storage.ClickhouseDSN,
		"HTTP_ADDR":      &c.HTTP.Addr,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FORMAT":     &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"STREAM_OFFSET":       &c.Stream.Offset,
		"STREAM_LIMIT":        &c.Stream.Limit,
		"STREAM_MAX_ATTEMPTS": &c.Stream.MaxAttempts,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"VIEW_THROTTLE":   &c.View.Throttle,
		"SIGNAL_EXPIRY":   &c.View.SignalExpiry,
		"SEARCH_DEBOUNCE": &c.Search.Debounce,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Stream.URL == "" {
		return errors.New("stream url is required")
	}
	if c.Stream.Limit < 1 || c.Stream.Limit > 100 {
		return fmt.Errorf("stream limit %d out of range 1..100", c.Stream.Limit)
	}
	if c.Stream.Offset < 0 {
		return fmt.Errorf("stream offset %d is negative", c.Stream.Offset)
	}
	if c.Stream.MaxAttempts < 0 {
		return fmt.Errorf("max attempts %d is negative", c.Stream.MaxAttempts)
	}

	windows := map[string]time.Duration{
		"reconnect_base": c.Stream.BaseDelay,
		"reconnect_max":  c.Stream.MaxDelay,
		"throttle":       c.View.Throttle,
		"signal_expiry":  c.View.SignalExpiry,
		"reveal_delay":   c.Metadata.RevealDelay,
		"fetch_timeout":  c.Metadata.FetchTimeout,
		"debounce":       c.Search.Debounce,
	}
	for name, d := range windows {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Stream.MaxDelay < c.Stream.BaseDelay {
		return fmt.Errorf("reconnect_max %s is below reconnect_base %s", c.Stream.MaxDelay, c.Stream.BaseDelay)
	}

	switch c.Storage.Prefs {
	case PrefsMemory:
	case PrefsSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("sqlite prefs backend needs sqlite_path")
		}
	case PrefsPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("postgres prefs backend needs postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown prefs backend %q", c.Storage.Prefs)
	}
	return nil
}
