// Package api provides the HTTP read API for the cross-match service.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
)

const (
	defaultPort       int    = 8080
	maxPort           int    = 65535
	defaultHost       string = "0.0.0.0"
	defaultCORSMaxAge int    = 86400
	defaultTimeout           = 30 * time.Second
	defaultLogLevel          = slog.LevelInfo

	// defaultNonAdminDeltaTMins bounds how far a match may sit from the
	// event epoch before external accounts stop seeing it.
	defaultNonAdminDeltaTMins = 60.0
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidReadTimeout indicates the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("read timeout must be positive")

	// ErrInvalidWriteTimeout indicates the write timeout is zero or negative.
	ErrInvalidWriteTimeout = errors.New("write timeout must be positive")

	// ErrInvalidShutdownTimeout indicates the shutdown timeout is zero or negative.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")

	// ErrInvalidDeltaTWindow indicates the non-admin delta-t window is zero or negative.
	ErrInvalidDeltaTWindow = errors.New("non-admin delta-t window must be positive")
)

type (
	// ServerConfig holds HTTP server configuration.
	// Pure configuration only - no runtime dependencies.
	ServerConfig struct {
		Port            int
		Host            string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		LogLevel        slog.Level

		// NonAdminDeltaTMins caps |delta_t| in minutes for accounts
		// below the caltech role.
		NonAdminDeltaTMins float64

		CORSAllowedOrigins []string
		CORSAllowedMethods []string
		CORSAllowedHeaders []string
		CORSMaxAge         int
	}

	// CORSConfig holds CORS configuration options.
	// This is defined here to keep CORS configuration centralized.
	CORSConfig struct {
		AllowedOrigins []string
		AllowedMethods []string
		AllowedHeaders []string
		MaxAge         int
	}
)

// LoadServerConfig loads server configuration from environment variables with sensible defaults.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:               config.GetEnvInt("XMATCH_SERVER_PORT", defaultPort),
		Host:               config.GetEnvStr("XMATCH_SERVER_HOST", defaultHost),
		ReadTimeout:        config.GetEnvDuration("XMATCH_SERVER_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:       config.GetEnvDuration("XMATCH_SERVER_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout:    config.GetEnvDuration("XMATCH_SERVER_TIMEOUT", defaultTimeout),
		LogLevel:           config.GetEnvLogLevel("XMATCH_SERVER_LOG_LEVEL", defaultLogLevel),
		NonAdminDeltaTMins: config.GetEnvFloat("DT_XMATCH_NONADMIN", defaultNonAdminDeltaTMins),
		CORSAllowedOrigins: config.ParseCommaSeparatedList(
			config.GetEnvStr("XMATCH_CORS_ALLOWED_ORIGINS", "*"),
		), // "*" is Development default - should be restricted in production
		CORSAllowedMethods: config.ParseCommaSeparatedList(
			config.GetEnvStr("XMATCH_CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
		),
		CORSAllowedHeaders: config.ParseCommaSeparatedList(
			config.GetEnvStr(
				"XMATCH_CORS_ALLOWED_HEADERS",
				"Content-Type,Authorization,X-Correlation-ID",
			),
		),
		CORSMaxAge: config.GetEnvInt("XMATCH_CORS_MAX_AGE", defaultCORSMaxAge),
	}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NonAdminDeltaTDays converts the non-admin delta-t window to days, the
// unit delta_t is stored in.
func (c *ServerConfig) NonAdminDeltaTDays() float64 {
	return c.NonAdminDeltaTMins / (24 * 60)
}

// ToCORSConfig converts ServerConfig CORS fields to the middleware CORS interface.
func (c *ServerConfig) ToCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c *CORSConfig) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// GetAllowedMethods returns the allowed methods for CORS.
func (c *CORSConfig) GetAllowedMethods() []string {
	return c.AllowedMethods
}

// GetAllowedHeaders returns the allowed headers for CORS.
func (c *CORSConfig) GetAllowedHeaders() []string {
	return c.AllowedHeaders
}

// GetMaxAge returns the max age for CORS preflight cache.
func (c *CORSConfig) GetMaxAge() int {
	return c.MaxAge
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	if c.NonAdminDeltaTMins <= 0 {
		return fmt.Errorf("%w: got %v minutes", ErrInvalidDeltaTWindow, c.NonAdminDeltaTMins)
	}

	return nil
}
