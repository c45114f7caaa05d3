package middleware

import (
	"net/http"
	"strings"
)

// Origins is a whitelist of browser origins. Localhost origins are always
// allowed for development and "*" allows every origin.
type Origins struct {
	any     bool
	allowed map[string]struct{}
}

// NewOrigins builds a whitelist from configured origins.
func NewOrigins(origins []string) *Origins {
	o := &Origins{allowed: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			o.any = true
		default:
			o.allowed[origin] = struct{}{}
		}
	}
	return o
}

// isLocalhostOrigin returns true if the origin is http(s)://localhost:<port>.
func isLocalhostOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1"} {
		if origin == prefix || strings.HasPrefix(origin, prefix+":") {
			return true
		}
	}
	return false
}

// Allowed checks whether a request origin should receive CORS headers.
func (o *Origins) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if o.any || isLocalhostOrigin(origin) {
		return true
	}
	_, ok := o.allowed[origin]
	return ok
}

// CheckOrigin is a websocket upgrade origin check. Requests without an
// Origin header come from non-browser clients and are accepted.
func (o *Origins) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || o.Allowed(origin)
}

// CORS returns middleware that handles CORS headers with an origin whitelist.
func CORS(origins *Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Requested-With")
			w.Header().Set("Access-Control-Max-Age", "86400")

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
