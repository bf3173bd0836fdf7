// Package config loads the server configuration from a YAML file with
// environment-variable overrides for deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "90s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the full server configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	Store  StoreConfig  `yaml:"store"`
	Orders OrdersConfig `yaml:"orders"`
	LLM    LLMConfig    `yaml:"llm"`
	Lock   LockConfig   `yaml:"lock"`
	Log    LogConfig    `yaml:"log"`
}

// OrdersConfig points at the commerce backend's JSON API.
type OrdersConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// StoreConfig selects and configures the checkpoint store.
type StoreConfig struct {
	// Backend is one of sqlite, redis, memory.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file (sqlite backend).
	Path string `yaml:"path"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis backend and the distributed lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LLMConfig configures the completion client.
type LLMConfig struct {
	// Disabled runs the server without a completion client; replies use
	// the deterministic templates and routing falls back to the default
	// workflow.
	Disabled bool `yaml:"disabled"`

	// Path is the CLI binary to exec.
	Path string `yaml:"path"`

	Model   string   `yaml:"model"`
	Timeout Duration `yaml:"timeout"`
}

// LockConfig configures per-conversation locking.
type LockConfig struct {
	// TTL bounds how long a crashed replica can hold a conversation
	// lock. Only the redis locker honors it.
	TTL Duration `yaml:"ttl"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Listen: ":8080",
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    "supportflow.db",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "supportflow:",
			},
		},
		Orders: OrdersConfig{
			BaseURL: "http://localhost:8081/api/v1",
		},
		LLM: LLMConfig{
			Path:    "claude",
			Timeout: Duration(2 * time.Minute),
		},
		Lock: LockConfig{TTL: Duration(30 * time.Second)},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus environment.
	case err != nil:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SUPPORTFLOW_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("SUPPORTFLOW_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("SUPPORTFLOW_SQLITE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SUPPORTFLOW_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("SUPPORTFLOW_REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}
	if v := os.Getenv("SUPPORTFLOW_ORDERS_BASE_URL"); v != "" {
		cfg.Orders.BaseURL = v
	}
	if v := os.Getenv("SUPPORTFLOW_ORDERS_TOKEN"); v != "" {
		cfg.Orders.Token = v
	}
	if v := os.Getenv("SUPPORTFLOW_LLM_PATH"); v != "" {
		cfg.LLM.Path = v
	}
	if v := os.Getenv("SUPPORTFLOW_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SUPPORTFLOW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the configuration for values the server cannot start
// with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("config: store.redis.addr is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if c.Orders.BaseURL == "" {
		return fmt.Errorf("config: orders.base_url is required")
	}
	if !c.LLM.Disabled && c.LLM.Path == "" {
		return fmt.Errorf("config: llm.path is required unless llm.disabled is set")
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("config: lock.ttl must be positive")
	}
	return nil
}
