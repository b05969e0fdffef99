package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrMissingEnvironmentVariables = errors.New("missing required environment variables")

// Config holds application configuration loaded from files and environment variables.
type Config struct {
	Env         string      `mapstructure:"env"`          // current application environment (local, dev, production)
	DB          DB          `mapstructure:"database"`     // database configuration section
	Pipeline    Pipeline    `mapstructure:"pipeline"`     // progress batching configuration section
	SRS         SRS         `mapstructure:"srs"`          // spaced-repetition tuning section
	ProgressAPI ProgressAPI `mapstructure:"progress_api"` // external bulk endpoint, optional
}

// DB contains database-related configuration parameters.
type DB struct {
	URL             string        `mapstructure:"-"`                 // connection string loaded from environment
	MaxConnections  int           `mapstructure:"max_connections"`   // maximum number of open connections in the pool
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"` // maximum lifetime of a single connection
}

// Pipeline contains the progress batching window and retry parameters.
type Pipeline struct {
	Window       time.Duration `mapstructure:"window"`        // batching window duration
	MaxAttempts  int           `mapstructure:"max_attempts"`  // total bulk-write attempts per partition
	InitialDelay time.Duration `mapstructure:"initial_delay"` // first retry delay, doubled per attempt
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // per-attempt deadline
}

// SRS contains spaced-repetition tuning parameters.
type SRS struct {
	MasteryThreshold int `mapstructure:"mastery_threshold"` // repetitions at which a card counts as mastered
	ReviewLimit      int `mapstructure:"review_limit"`      // default due-card query limit
}

// ProgressAPI points the pipeline at an external bulk-write endpoint.
// When the URL is empty, coalesced progress is written to the database.
type ProgressAPI struct {
	URL     string        `mapstructure:"-"`       // endpoint URL loaded from environment
	Timeout time.Duration `mapstructure:"timeout"` // HTTP client timeout
}

// DSN returns the database connection string if it is configured.
func (db DB) DSN() (string, error) {
	if db.URL == "" {
		return "", ErrMissingEnvironmentVariables
	}
	return db.URL, nil
}

// Load reads configuration from config files and environment variables.
func Load() (*Config, error) {
	// Initialize Viper instance and base config options.
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")

	// Set default values for configuration keys.
	v.SetDefault("env", "local")
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.max_conn_lifetime", "30s")
	v.SetDefault("pipeline.window", "5s")
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.initial_delay", "1s")
	v.SetDefault("pipeline.write_timeout", "10s")
	v.SetDefault("srs.mastery_threshold", 3)
	v.SetDefault("srs.review_limit", 20)
	v.SetDefault("progress_api.timeout", "10s")

	// Configure environment variable handling and key mapping.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // map nested keys to ENV style names
	v.AutomaticEnv()

	// Bind explicit environment variables to configuration keys.
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("progress_api_url", "PROGRESS_API_URL")
	_ = v.BindEnv("env", "APP_ENV")

	// Try to read configuration file if present.
	if err := v.ReadInConfig(); err != nil {
		var fileLookupErr viper.ConfigFileNotFoundError
		if !errors.As(err, &fileLookupErr) {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	}

	// Unmarshal configuration into strongly typed struct.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	// Load sensitive values from environment variables.
	cfg.DB.URL = v.GetString("database_url")
	if cfg.DB.URL == "" {
		return nil, ErrMissingEnvironmentVariables
	}

	// The bulk endpoint is optional; without it progress is persisted locally.
	cfg.ProgressAPI.URL = v.GetString("progress_api_url")

	return &cfg, nil
}
