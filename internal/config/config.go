package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents runtime configuration for the service and client.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Sync        SyncConfig                `json:"sync"`
	Redis       RedisConfig               `json:"redis"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Providers   map[string]ProviderConfig `json:"providers"`
}

type BasicConfig struct {
	ServerAddress  string `json:"server_address"`
	LocalStorePath string `json:"local_store_path"`
	RemoteBaseURL  string `json:"remote_base_url"`
	TitleProvider  string `json:"title_provider"`
}

type SyncConfig struct {
	// MessageWindow bounds how many trailing messages a chat loads at once.
	MessageWindow int `json:"message_window"`
	// RetryIntervalSeconds is the backoff between failed push attempts.
	RetryIntervalSeconds int `json:"retry_interval_seconds"`
	// RequestTimeoutSeconds bounds every remote-store HTTP call.
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

const (
	DefaultMessageWindow  = 15
	DefaultRequestTimeout = 30 * time.Second
	DefaultRetryInterval  = 5 * time.Second
)

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Sync.MessageWindow <= 0 {
		cfg.Sync.MessageWindow = DefaultMessageWindow
	}
	if cfg.Sync.RetryIntervalSeconds <= 0 {
		cfg.Sync.RetryIntervalSeconds = int(DefaultRetryInterval.Seconds())
	}
	if cfg.Sync.RequestTimeoutSeconds <= 0 {
		cfg.Sync.RequestTimeoutSeconds = int(DefaultRequestTimeout.Seconds())
	}

	for name, db := range cfg.Databases {
		if db.DSN != "" && !filepath.IsAbs(db.DSN) && db.DSN != ":memory:" {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	return &cfg, nil
}

// RequestTimeout returns the configured remote request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Sync.RequestTimeoutSeconds) * time.Second
}

// RetryInterval returns the configured push retry backoff.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Sync.RetryIntervalSeconds) * time.Second
}
