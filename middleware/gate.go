package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sessionkit/sessionkit/session"
	"github.com/sessionkit/sessionkit/store"
)

// Verifier is the slice of the session manager the gate consumes.
type Verifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string, mode session.Mode) (*session.AuthInfo, error)
}

// Config tunes the [Gate].
type Config struct {
	// Mode selects stateless or store-backed verification. Defaults to
	// ModeJWTOnly.
	Mode session.Mode
	// CookieName, when set, is consulted when the Authorization header
	// carries no bearer token.
	CookieName string
	// Optional lets unauthenticated requests through with no session in
	// context instead of rejecting them. Requests with a present but bad
	// token are still rejected.
	Optional bool
}

type sessionContextKey struct{}

// SessionFromContext returns the verified session injected by [Gate].
func SessionFromContext(ctx context.Context) (*session.AuthInfo, bool) {
	info, ok := ctx.Value(sessionContextKey{}).(*session.AuthInfo)
	return info, ok
}

// Gate returns middleware that verifies the request's access token and
// injects the session view into the context. CORS preflights pass through
// unverified.
func Gate(verifier Verifier, cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			accessToken, found := extractToken(r, cfg.CookieName)
			if !found {
				if cfg.Optional {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := verifier.VerifyAccessToken(r.Context(), accessToken, cfg.Mode)
			if err != nil {
				http.Error(w, statusText(err), statusCode(err))
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request, cookieName string) (string, bool) {
	const bearer = "Bearer "
	if value := r.Header.Get("Authorization"); strings.HasPrefix(value, bearer) {
		if token := value[len(bearer):]; token != "" {
			return token, true
		}
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrUnavailable), errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func statusText(err error) string {
	if statusCode(err) == http.StatusServiceUnavailable {
		return "service unavailable"
	}
	// Never leak why verification failed.
	return "unauthorized"
}
