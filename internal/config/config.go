package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"savings/internal/core"
	"savings/internal/storage"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Storage
	DataBackend  string
	DataDir      string
	SQLiteDBPath string

	GoalsStorageKey      string
	RatesStorageKey      string
	MilestonesStorageKey string

	// Exchange rates
	ExchangeAPIURL       string
	ExchangeAPIKey       string
	ExchangeBase         string
	RatesCacheTTL        time.Duration
	RatesRefreshInterval time.Duration
	RatesTimeout         time.Duration

	// AMQP, empty URL disables goal events
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		DataBackend:  getEnv("DATA_BACKEND", "file"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/savings.db"),

		GoalsStorageKey:      getEnv("GOALS_STORAGE_KEY", "savings-planner-goals"),
		RatesStorageKey:      getEnv("RATES_STORAGE_KEY", "savings-planner-exchange-rate"),
		MilestonesStorageKey: getEnv("MILESTONES_STORAGE_KEY", "savings-planner-milestones"),

		ExchangeAPIURL:       getEnv("EXCHANGE_API_URL", "https://v6.exchangerate-api.com/v6"),
		ExchangeAPIKey:       getEnv("EXCHANGE_API_KEY", ""),
		ExchangeBase:         getEnv("EXCHANGE_BASE", "USD"),
		RatesCacheTTL:        getEnvDuration("RATES_CACHE_TTL", 6*time.Hour),
		RatesRefreshInterval: getEnvDuration("RATES_REFRESH_INTERVAL", 6*time.Hour),
		RatesTimeout:         getEnvDuration("RATES_TIMEOUT", 10*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "savings"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "goal_events"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 1 || c.RateLimitPerMinute > 10000 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be between 1 and 10000 requests per minute", c.RateLimitPerMinute))
	}

	validBackends := []string{"memory", "file", "sqlite"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "file":
		if c.DataDir == "" {
			errors = append(errors, "data directory cannot be empty when using file backend")
		} else if err := ensureDir(c.DataDir); err != nil {
			errors = append(errors, fmt.Sprintf("cannot create data directory '%s': %v", c.DataDir, err))
		}
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if err := ensureDir(dir); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	keys := map[string]string{
		"GOALS_STORAGE_KEY":      c.GoalsStorageKey,
		"RATES_STORAGE_KEY":      c.RatesStorageKey,
		"MILESTONES_STORAGE_KEY": c.MilestonesStorageKey,
	}
	for _, name := range []string{"GOALS_STORAGE_KEY", "RATES_STORAGE_KEY", "MILESTONES_STORAGE_KEY"} {
		if err := storage.ValidateKey(keys[name]); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': use letters, digits, '-', '_' or '.'", name, keys[name]))
		}
	}
	if c.GoalsStorageKey == c.RatesStorageKey {
		errors = append(errors, "goals and rates storage keys must differ")
	}

	if parsedURL, err := url.Parse(c.ExchangeAPIURL); err != nil || c.ExchangeAPIURL == "" {
		errors = append(errors, fmt.Sprintf("invalid exchange API URL '%s'", c.ExchangeAPIURL))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid exchange API URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	}
	if _, err := core.ParseCurrency(c.ExchangeBase); err != nil {
		errors = append(errors, fmt.Sprintf("invalid exchange base '%s': must be one of %v", c.ExchangeBase, core.Currencies()))
	}
	if c.RatesCacheTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rates cache TTL %v: must be at least 1 minute", c.RatesCacheTTL))
	}
	if c.RatesRefreshInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rates refresh interval %v: must be at least 1 minute", c.RatesRefreshInterval))
	} else if c.RatesRefreshInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid rates refresh interval %v: must be at most 7 days", c.RatesRefreshInterval))
	}
	if c.RatesTimeout < time.Second || c.RatesTimeout > 2*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rates timeout %v: must be between 1 second and 2 minutes", c.RatesTimeout))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json", "tint":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text, json or tint", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// EventsEnabled reports whether goal events should be published.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
}

func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
