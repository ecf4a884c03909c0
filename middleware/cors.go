package middleware

import (
	"net/http"
	"strings"
)

// CORSConfig declares the cross-origin policy for the auth API surface.
type CORSConfig struct {
	// AllowedOrigins is the exact-match origin allowlist. Wildcards are not
	// supported: credentialed requests need a concrete origin echo.
	AllowedOrigins []string
	// AllowedHeaders is appended to the Content-Type baseline; list the
	// custom token header here if clients send one.
	AllowedHeaders   []string
	AllowCredentials bool
}

// CORS returns middleware enforcing cfg. Preflights are answered here and
// never reach the next handler.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = struct{}{}
	}

	headers := append([]string{"Content-Type", "Authorization"}, cfg.AllowedHeaders...)
	allowHeaders := strings.Join(headers, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := origins[origin]; ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
					if cfg.AllowCredentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					if r.Method == http.MethodOptions {
						h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
						h.Set("Access-Control-Allow-Headers", allowHeaders)
						w.WriteHeader(http.StatusNoContent)
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
