package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int = 2
	maxUsers                   int = 10000
	defaultGlobalRPS           int = 100
	defaultUserRPS             int = 20
	defaultUnAuthRPS           int = 5
	rateLimiterCleanupInterval     = 5 * time.Minute
	rateLimiterIdleTimeout         = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node
	// deployment) or distributed stores like Redis when the read API
	// runs behind a load balancer.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		//
		// For authenticated requests, username identifies the account.
		// For unauthenticated requests, username is empty string.
		Allow(username string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Limits are enforced in three tiers: a global limit on all
	// requests, a per-user limit on authenticated requests, and a
	// shared limit on unauthenticated requests.
	//
	// Idle per-user limiters are removed periodically to keep memory
	// bounded.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perUser         map[string]*userLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		userRPS         int
		userBurst       int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxUsers        int
	}

	// userLimiter tracks rate limit state for a single account.
	userLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a new in-memory rate limiter.
//
// Burst capacity is computed automatically as 2 × rate unless
// overridden in config.
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{
//	    GlobalRPS: 100,
//	    UserRPS:   20,
//	    UnAuthRPS: 5,
//	})
//	defer rl.Close()
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	userBurst := computeBurstCapacity(config.UserRPS, config.UserBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perUser:         make(map[string]*userLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		userRPS:         config.UserRPS,
		userBurst:       userBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxUsers:        config.MaxUsers,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity computes the burst capacity based on the rate
// and optional override. A zero override means 2 × rate.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks if a request should be allowed based on rate limits.
// Implements the RateLimiter interface.
//
// Parameters:
//   - username: empty string for unauthenticated requests, account name otherwise
func (rl *InMemoryRateLimiter) Allow(username string) bool {
	// Check global limit first (fail fast)
	if !rl.global.Allow() {
		return false
	}

	if username == "" {
		return rl.unauthenticated.Allow()
	}

	rl.mu.RLock()
	ul, ok := rl.perUser[username]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Double-check after acquiring write lock (avoid race)
		if ul, ok = rl.perUser[username]; !ok {
			ul = &userLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.userRPS), rl.userBurst),
				lastAccess: time.Now(),
			}

			rl.perUser[username] = ul

			if len(rl.perUser) >= rl.maxUsers {
				slog.Warn("rate limiter at max tracked users",
					"current_users", len(rl.perUser),
					"max_users", rl.maxUsers)
			}
		}

		rl.mu.Unlock()
	}

	ul.mu.Lock()
	ul.lastAccess = time.Now()
	ul.mu.Unlock()

	return ul.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
//
// Close is not part of the RateLimiter interface so implementations
// without background state can skip it. Use a type assertion on
// io.Closer when cleanup is needed.
func (rl *InMemoryRateLimiter) Close() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)
}

// startCleanup starts a background goroutine that periodically removes
// stale per-user limiters.
func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes per-user limiters that haven't been accessed recently.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for username, ul := range rl.perUser {
		ul.mu.Lock()
		lastAccess := ul.lastAccess
		ul.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perUser, username)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming
// requests. Requests over the limit get a 429 response in RFC 7807
// format.
//
// The middleware must run after basic auth so per-user limits can see
// the authenticated account. Public endpoints bypass rate limiting.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			username := ""
			if user, ok := GetUser(r.Context()); ok {
				username = user.Username
			}

			if !limiter.Allow(username) {
				correlationID := GetCorrelationID(r.Context())

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write response with RFC 7807 error format",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("detail", detail),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
