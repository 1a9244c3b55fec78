package middleware

import (
	"time"

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: Applied to all requests
//   - Per-user: Applied to authenticated requests
//   - Unauthenticated: Applied to requests without credentials
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int // Default: 100
	UserRPS   int // Default: 20
	UnAuthRPS int // Default: 5

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate)
	GlobalBurst int
	UserBurst   int
	UnAuthBurst int

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxUsers        int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("XMATCH_GLOBAL_RPS", defaultGlobalRPS),
		UserRPS:   config.GetEnvInt("XMATCH_USER_RPS", defaultUserRPS),
		UnAuthRPS: config.GetEnvInt("XMATCH_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst: config.GetEnvInt("XMATCH_GLOBAL_BURST", 0),
		UserBurst:   config.GetEnvInt("XMATCH_USER_BURST", 0),
		UnAuthBurst: config.GetEnvInt("XMATCH_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"XMATCH_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("XMATCH_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxUsers:    config.GetEnvInt("XMATCH_RATE_LIMIT_MAX_USERS", maxUsers),
	}
}
