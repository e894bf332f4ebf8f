package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/raaihank/pii-veil/internal/obfuscation"
)

// Loader reads configuration from a file and the environment and can watch the
// file for changes
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. An empty configPath searches the default locations.
func NewLoader(configPath string) *Loader {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pii-veil/")
	v.AddConfigPath("$HOME/.pii-veil/")

	// Environment variable overrides, e.g. VEIL_STORE_BACKEND=redis
	v.SetEnvPrefix("VEIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys must be known to viper for AutomaticEnv to apply without a file.
	defaults := GetDefaults()
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("store.backend", defaults.Store.Backend)
	v.SetDefault("store.redis.url", defaults.Store.Redis.URL)
	v.SetDefault("store.postgres.url", defaults.Store.Postgres.URL)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("websocket.username", defaults.WebSocket.Username)
	v.SetDefault("websocket.password", defaults.WebSocket.Password)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads, unmarshals and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	config := GetDefaults()
	if err := l.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if len(config.Engine.Categories) == 0 {
		return fmt.Errorf("engine.categories: at least one category (or \"all\") is required")
	}
	for _, name := range config.Engine.Categories {
		if name == "all" {
			continue
		}
		if _, err := obfuscation.ParseCategory(name); err != nil {
			return fmt.Errorf("engine.categories: %w", err)
		}
	}

	switch config.Store.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("invalid store backend: %s (must be memory, redis, or postgres)", config.Store.Backend)
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerMin <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: requests_per_min and burst must be positive")
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Batch.BatchSize <= 0 || config.Batch.WorkerCount <= 0 {
		return fmt.Errorf("invalid batch settings: batch_size and worker_count must be positive")
	}

	return nil
}

// Watch starts watching the configuration file for changes. The callback receives
// each new valid configuration; invalid revisions are reported to onError and skipped.
// It reports false when no file was loaded.
func (l *Loader) Watch(callback func(*Config), onError func(error)) bool {
	if l.v.ConfigFileUsed() == "" {
		return false
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	l.v.WatchConfig()
	return true
}
