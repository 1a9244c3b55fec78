package main

import (
	"fmt"
	"os"
	"strings"
)

// Config holds the migration tool settings.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationTable tracks applied migrations.
	MigrationTable string
}

// LoadConfig reads the migration settings from the environment.
func LoadConfig() (*Config, error) {
	config := &Config{
		DatabaseURL:    getEnvOrDefault("DATABASE_URL", ""),
		MigrationTable: getEnvOrDefault("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}

	if c.MigrationTable == "" {
		return fmt.Errorf("MIGRATION_TABLE cannot be empty")
	}

	return nil
}

// String returns a log-safe representation with the password masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// maskDatabaseURL replaces the password in a connection URL with "***".
// The last "@" in the authority section splits user info from host, so
// passwords containing "@" are masked in full.
func maskDatabaseURL(url string) string {
	schemeEnd := strings.Index(url, "//")
	if schemeEnd == -1 {
		return url
	}

	authStart := schemeEnd + 2

	authEnd := len(url)

	for i := authStart; i < len(url); i++ {
		if url[i] == '/' || url[i] == '?' || url[i] == '#' {
			authEnd = i

			break
		}
	}

	atPos := strings.LastIndex(url[authStart:authEnd], "@")
	if atPos == -1 {
		return url
	}

	atPos += authStart

	colonPos := strings.Index(url[authStart:atPos], ":")
	if colonPos == -1 {
		return url
	}

	colonPos += authStart

	if atPos == colonPos+1 {
		// Empty password, nothing to mask.
		return url
	}

	return url[:colonPos+1] + "***" + url[atPos:]
}
