package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Log source selection
	LogSource string `mapstructure:"LOG_SOURCE"`

	// Chain indexer API configuration
	IndexerURL     string `mapstructure:"INDEXER_URL"`
	IndexerTimeout int    `mapstructure:"INDEXER_TIMEOUT_SECONDS"`
	IndexerPage    int    `mapstructure:"INDEXER_PAGE_SIZE"`
	FetchRetries   int    `mapstructure:"FETCH_MAX_RETRIES"`

	// Database configuration (PostgreSQL log source)
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBMaxConns int    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns int    `mapstructure:"DB_MIN_CONNS"`

	// File storage configuration
	DataDir string `mapstructure:"DATA_DIR"`

	// Result cache configuration
	CacheBackend     string `mapstructure:"CACHE_BACKEND"`
	CacheTTL         int    `mapstructure:"CACHE_TTL_SECONDS"`
	CacheMaxEntries  int    `mapstructure:"CACHE_MAX_ENTRIES"`
	CacheCompression bool   `mapstructure:"CACHE_COMPRESSION"`
	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RedisDB          int    `mapstructure:"REDIS_DB"`
	RedisPassword    string `mapstructure:"REDIS_PASSWORD"`

	// Aggregation configuration
	TopUsersLimit        int `mapstructure:"TOP_USERS_LIMIT"`
	RateFallbackMinutes  int `mapstructure:"RATE_FALLBACK_MINUTES"`
	DailyBucketMinutes   int `mapstructure:"DAILY_BUCKET_MINUTES"`
	DailyBucketCount     int `mapstructure:"DAILY_BUCKET_COUNT"`
	WeeklyBucketMinutes  int `mapstructure:"WEEKLY_BUCKET_MINUTES"`
	WeeklyBucketCount    int `mapstructure:"WEEKLY_BUCKET_COUNT"`
	MonthlyBucketMinutes int `mapstructure:"MONTHLY_BUCKET_MINUTES"`
	MonthlyBucketCount   int `mapstructure:"MONTHLY_BUCKET_COUNT"`

	// Live estimation configuration
	QuoteRPCURL    string  `mapstructure:"QUOTE_RPC_URL"`
	PollInterval   int     `mapstructure:"POLL_INTERVAL_SECONDS"`
	ReconcileDelay int     `mapstructure:"RECONCILE_DELAY_SECONDS"`
	MinutesPerUnit float64 `mapstructure:"MINUTES_PER_UNIT"`

	// API Server configuration
	APIPort int    `mapstructure:"API_PORT"`
	APIHost string `mapstructure:"API_HOST"`

	// Logging configuration
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogFile   string `mapstructure:"LOG_FILE"`

	// Runtime environment
	Environment string `mapstructure:"ENVIRONMENT"`
}

// ValidationError represents configuration validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n%s", strings.Join(messages, "\n"))
}

func LoadConfig(path string) (config Config, err error) {
	// Configure viper
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, env vars and defaults still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return config, err
	}

	config.DataDir = expandPath(config.DataDir)
	if config.LogFile != "" {
		config.LogFile = expandPath(config.LogFile)
	}

	return config, nil
}

func setDefaults() {
	// Source defaults
	viper.SetDefault("LOG_SOURCE", "http")
	viper.SetDefault("INDEXER_URL", "")
	viper.SetDefault("INDEXER_TIMEOUT_SECONDS", 30)
	viper.SetDefault("INDEXER_PAGE_SIZE", 50)
	viper.SetDefault("FETCH_MAX_RETRIES", 3)

	// Database defaults
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "energy")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("DB_MIN_CONNS", 2)

	// File storage defaults
	viper.SetDefault("DATA_DIR", "data")

	// Cache defaults
	viper.SetDefault("CACHE_BACKEND", "memory")
	viper.SetDefault("CACHE_TTL_SECONDS", 300)
	viper.SetDefault("CACHE_MAX_ENTRIES", 10000)
	viper.SetDefault("CACHE_COMPRESSION", true)
	viper.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_PASSWORD", "")

	// Aggregation defaults
	viper.SetDefault("TOP_USERS_LIMIT", 10)
	viper.SetDefault("RATE_FALLBACK_MINUTES", 1440)
	viper.SetDefault("DAILY_BUCKET_MINUTES", 60)
	viper.SetDefault("DAILY_BUCKET_COUNT", 24)
	viper.SetDefault("WEEKLY_BUCKET_MINUTES", 1440)
	viper.SetDefault("WEEKLY_BUCKET_COUNT", 7)
	viper.SetDefault("MONTHLY_BUCKET_MINUTES", 4320)
	viper.SetDefault("MONTHLY_BUCKET_COUNT", 10)

	// Live estimation defaults
	viper.SetDefault("QUOTE_RPC_URL", "")
	viper.SetDefault("POLL_INTERVAL_SECONDS", 5)
	viper.SetDefault("RECONCILE_DELAY_SECONDS", 10)
	viper.SetDefault("MINUTES_PER_UNIT", 10)

	// API Server defaults
	viper.SetDefault("API_PORT", 8080)
	viper.SetDefault("API_HOST", "localhost")

	// Logging defaults
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("LOG_FILE", "")

	// Runtime defaults
	viper.SetDefault("ENVIRONMENT", "development")
}

func validateConfig(config Config) error {
	var errors ValidationErrors

	// Log source validation
	validSources := []string{"http", "postgres", "file"}
	source := strings.ToLower(config.LogSource)
	if !contains(validSources, source) {
		errors = append(errors, ValidationError{
			Field:   "LOG_SOURCE",
			Message: fmt.Sprintf("log source must be one of: %s", strings.Join(validSources, ", ")),
		})
	}

	switch source {
	case "http":
		if config.IndexerURL == "" {
			errors = append(errors, ValidationError{
				Field:   "INDEXER_URL",
				Message: "indexer URL is required when the log source is http",
			})
		}
	case "postgres":
		if config.DBHost == "" {
			errors = append(errors, ValidationError{
				Field:   "DB_HOST",
				Message: "database host is required",
			})
		}

		if config.DBName == "" {
			errors = append(errors, ValidationError{
				Field:   "DB_NAME",
				Message: "database name is required",
			})
		}

		if config.DBUser == "" {
			errors = append(errors, ValidationError{
				Field:   "DB_USER",
				Message: "database user is required",
			})
		}

		if config.DBPort == "" {
			errors = append(errors, ValidationError{
				Field:   "DB_PORT",
				Message: "database port is required",
			})
		} else if port, err := strconv.Atoi(config.DBPort); err != nil || port <= 0 || port > 65535 {
			errors = append(errors, ValidationError{
				Field:   "DB_PORT",
				Message: "database port must be a valid port number (1-65535)",
			})
		}

		if config.DBMaxConns <= 0 {
			errors = append(errors, ValidationError{
				Field:   "DB_MAX_CONNS",
				Message: "database max connections must be greater than 0",
			})
		}

		if config.DBMinConns < 0 {
			errors = append(errors, ValidationError{
				Field:   "DB_MIN_CONNS",
				Message: "database min connections must be greater than or equal to 0",
			})
		}

		if config.DBMinConns > config.DBMaxConns {
			errors = append(errors, ValidationError{
				Field:   "DB_MIN_CONNS",
				Message: "database min connections cannot be greater than max connections",
			})
		}
	case "file":
		if config.DataDir == "" {
			errors = append(errors, ValidationError{
				Field:   "DATA_DIR",
				Message: "data directory is required when the log source is file",
			})
		}
	}

	if config.IndexerTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "INDEXER_TIMEOUT_SECONDS",
			Message: "indexer timeout must be greater than 0 seconds",
		})
	}

	if config.IndexerPage <= 0 {
		errors = append(errors, ValidationError{
			Field:   "INDEXER_PAGE_SIZE",
			Message: "indexer page size must be greater than 0",
		})
	}

	if config.FetchRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "FETCH_MAX_RETRIES",
			Message: "fetch retries must be greater than or equal to 0",
		})
	}

	// Cache validation
	validBackends := []string{"memory", "redis"}
	if !contains(validBackends, strings.ToLower(config.CacheBackend)) {
		errors = append(errors, ValidationError{
			Field:   "CACHE_BACKEND",
			Message: fmt.Sprintf("cache backend must be one of: %s", strings.Join(validBackends, ", ")),
		})
	}

	if strings.ToLower(config.CacheBackend) == "redis" && config.RedisAddr == "" {
		errors = append(errors, ValidationError{
			Field:   "REDIS_ADDR",
			Message: "redis address is required when the cache backend is redis",
		})
	}

	if config.CacheTTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "CACHE_TTL_SECONDS",
			Message: "cache TTL must be greater than 0 seconds",
		})
	}

	if config.CacheMaxEntries <= 0 {
		errors = append(errors, ValidationError{
			Field:   "CACHE_MAX_ENTRIES",
			Message: "cache max entries must be greater than 0",
		})
	}

	// Aggregation validation
	if config.TopUsersLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "TOP_USERS_LIMIT",
			Message: "top users limit must be greater than 0",
		})
	}

	if config.RateFallbackMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "RATE_FALLBACK_MINUTES",
			Message: "rate fallback span must be greater than 0 minutes",
		})
	}

	buckets := []struct {
		field string
		value int
	}{
		{"DAILY_BUCKET_MINUTES", config.DailyBucketMinutes},
		{"DAILY_BUCKET_COUNT", config.DailyBucketCount},
		{"WEEKLY_BUCKET_MINUTES", config.WeeklyBucketMinutes},
		{"WEEKLY_BUCKET_COUNT", config.WeeklyBucketCount},
		{"MONTHLY_BUCKET_MINUTES", config.MonthlyBucketMinutes},
		{"MONTHLY_BUCKET_COUNT", config.MonthlyBucketCount},
	}
	for _, b := range buckets {
		if b.value <= 0 {
			errors = append(errors, ValidationError{
				Field:   b.field,
				Message: "value must be greater than 0",
			})
		}
	}

	// Live estimation validation
	if config.PollInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "POLL_INTERVAL_SECONDS",
			Message: "poll interval must be greater than 0 seconds",
		})
	}

	if config.ReconcileDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "RECONCILE_DELAY_SECONDS",
			Message: "reconcile delay must be greater than or equal to 0 seconds",
		})
	}

	if config.MinutesPerUnit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "MINUTES_PER_UNIT",
			Message: "minutes per unit must be greater than 0",
		})
	}

	if config.APIPort <= 0 || config.APIPort > 65535 {
		errors = append(errors, ValidationError{
			Field:   "API_PORT",
			Message: "API port must be a valid port number (1-65535)",
		})
	}

	// Log level validation
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(config.LogLevel)) {
		errors = append(errors, ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	// Log format validation
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(config.LogFormat)) {
		errors = append(errors, ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	// Environment validation
	validEnvironments := []string{"development", "staging", "production"}
	if !contains(validEnvironments, strings.ToLower(config.Environment)) {
		errors = append(errors, ValidationError{
			Field:   "ENVIRONMENT",
			Message: fmt.Sprintf("environment must be one of: %s", strings.Join(validEnvironments, ", ")),
		})
	}

	// Log file validation (if specified)
	if config.LogFile != "" {
		logDir := filepath.Dir(config.LogFile)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			errors = append(errors, ValidationError{
				Field:   "LOG_FILE",
				Message: fmt.Sprintf("cannot create log file directory '%s': %v", logDir, err),
			})
		}
	}

	if len(errors) > 0 {
		return errors
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	path = os.ExpandEnv(path)

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return path
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// GetDatabaseConnectionString builds a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
	)
}

func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

func (c *Config) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

func (c *Config) ReconcileDelayDuration() time.Duration {
	return time.Duration(c.ReconcileDelay) * time.Second
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
