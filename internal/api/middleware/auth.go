// Package middleware provides HTTP middleware for the cross-match read API.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/Theodlz/ep-ztf-xmatch/internal/storage"
)

// Authenticator verifies account credentials. The storage user store is
// the production implementation.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*storage.User, error)
}

// userKey is the context key for the authenticated user.
type userKey struct{}

// publicEndpoints holds paths that bypass authentication and rate
// limiting, such as liveness probes.
var (
	publicEndpoints   = make(map[string]struct{})
	publicEndpointsMu sync.RWMutex
)

// RegisterPublicEndpoint marks a path as reachable without credentials.
func RegisterPublicEndpoint(path string) {
	publicEndpointsMu.Lock()
	defer publicEndpointsMu.Unlock()

	publicEndpoints[path] = struct{}{}
}

// IsPublicEndpoint reports whether a path bypasses authentication.
func IsPublicEndpoint(path string) bool {
	publicEndpointsMu.RLock()
	defer publicEndpointsMu.RUnlock()

	_, ok := publicEndpoints[path]

	return ok
}

// BasicAuth creates a middleware that authenticates requests with HTTP
// basic auth against the user store. The authenticated user lands in
// the request context for role checks downstream.
func BasicAuth(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				// Burn a bcrypt comparison so missing credentials cost
				// the same as wrong ones.
				_ = bcrypt.CompareHashAndPassword([]byte("dummy"), []byte("dummy"))

				writeUnauthorized(w, r, logger, "credentials required")

				return
			}

			user, err := auth.Authenticate(r.Context(), username, password)
			if err != nil {
				correlationID := GetCorrelationID(r.Context())
				logger.Warn("authentication failed",
					slog.String("username", username),
					slog.String("correlation_id", correlationID),
					slog.String("remote_addr", r.RemoteAddr),
				)

				writeUnauthorized(w, r, logger, "invalid credentials")

				return
			}

			ctx := context.WithValue(r.Context(), userKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser extracts the authenticated user from the request context.
func GetUser(ctx context.Context) (*storage.User, bool) {
	user, ok := ctx.Value(userKey{}).(*storage.User)

	return user, ok
}

// ContextWithUser returns a context carrying the user, the same way the
// BasicAuth middleware does.
func ContextWithUser(ctx context.Context, user *storage.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// writeUnauthorized emits an RFC 7807 response with a basic-auth
// challenge.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, logger *slog.Logger, detail string) {
	correlationID := GetCorrelationID(r.Context())

	w.Header().Set("WWW-Authenticate", `Basic realm="ep-ztf-xmatch"`)

	if err := writeRFC7807Error(w, r, http.StatusUnauthorized, detail, correlationID); err != nil {
		logger.Error("failed to encode unauthorized response",
			slog.String("correlation_id", correlationID),
			slog.Any("error", err),
		)
	}
}

// writeRFC7807Error writes an error response in RFC 7807 problem detail format.
func writeRFC7807Error(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	detail,
	correlationID string,
) error {
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	default:
		title = "Request Failed"
	}

	problem := map[string]interface{}{
		"type":          fmt.Sprintf("https://ep-ztf-xmatch.io/problems/%d", statusCode),
		"title":         title,
		"status":        statusCode,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
