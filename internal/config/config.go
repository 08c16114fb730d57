// Package config provides configuration structures and validation for the
// archiver. It handles environment-based configuration for all major
// components: the aggregator client, database connections, SMTP delivery,
// and operational parameters.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all
// components. Each field represents a major subsystem's configuration and is
// validated during application startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	OpenBanking OpenBankingConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	SMTP        SMTPConfig
	Sync        SyncConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// OpenBankingConfig contains the aggregator API credentials and link
// parameters used when creating new requisitions.
type OpenBankingConfig struct {
	SecretID          string
	SecretKey         string
	BaseURL           string
	Timeout           time.Duration
	Country           string // ISO country code for institution listing
	RedirectURI       string // Where the user lands after completing consent
	MaxHistoricalDays int    // Transaction history window requested per link
	AccessValidDays   int    // Consent validity requested per link
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration for the sync audit log
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// SMTPConfig contains the relay settings and addresses for re-authorization
// notification emails.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	UserEmail string // Recipient of activation notifications
}

// SyncConfig contains pipeline tuning parameters
type SyncConfig struct {
	PollInterval time.Duration // 0 means run a single cycle and exit
	BatchSize    int           // Transactions upserted per commit
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate aggregator config
	if c.OpenBanking.SecretID == "" {
		validationErrors = append(validationErrors, "OPEN_BANKING_SECRET_ID is required")
	}
	if c.OpenBanking.SecretKey == "" {
		validationErrors = append(validationErrors, "OPEN_BANKING_SECRET_KEY is required")
	}
	if c.OpenBanking.BaseURL == "" {
		validationErrors = append(validationErrors, "OPEN_BANKING_BASE_URL is required")
	}
	if c.OpenBanking.Timeout <= 0 {
		validationErrors = append(validationErrors, "OPEN_BANKING_TIMEOUT must be greater than 0")
	}
	if c.OpenBanking.RedirectURI == "" {
		validationErrors = append(validationErrors, "OPEN_BANKING_REDIRECT_URI is required")
	}
	if c.OpenBanking.MaxHistoricalDays <= 0 {
		validationErrors = append(validationErrors, "OPEN_BANKING_MAX_HISTORICAL_DAYS must be greater than 0")
	}
	if c.OpenBanking.AccessValidDays <= 0 {
		validationErrors = append(validationErrors, "OPEN_BANKING_ACCESS_VALID_DAYS must be greater than 0")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate SMTP config
	if c.SMTP.Host == "" {
		validationErrors = append(validationErrors, "SMTP_HOST is required")
	}
	if c.SMTP.Port <= 0 {
		validationErrors = append(validationErrors, "SMTP_PORT must be greater than 0")
	}
	if c.SMTP.FromEmail == "" {
		validationErrors = append(validationErrors, "FROM_EMAIL is required")
	}
	if c.SMTP.UserEmail == "" {
		validationErrors = append(validationErrors, "USER_EMAIL is required")
	}

	// Validate Sync config
	if c.Sync.PollInterval < 0 {
		validationErrors = append(validationErrors, "SYNC_POLL_INTERVAL must not be negative")
	}
	if c.Sync.BatchSize <= 0 {
		validationErrors = append(validationErrors, "SYNC_BATCH_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
