package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
}

// NewConfig enables auth when token is non-empty.
func NewConfig(token string) Config {
	return Config{Enabled: token != "", Token: token}
}

// exemptPaths are always public regardless of auth configuration.
var exemptPaths = map[string]bool{
	"/":           true,
	"/app.js":     true,
	"/styles.css": true,
	"/healthz":    true,
	"/readyz":     true,
	"/metrics":    true,
}

func isExempt(path string) bool {
	return exemptPaths[path]
}

// token returns the bearer token from the Authorization header. Browsers
// cannot set headers on an EventSource, so the access_token query
// parameter is accepted too.
func token(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		tok, ok := strings.CutPrefix(header, "Bearer ")
		return tok, ok
	}
	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return tok, true
	}
	return "", false
}

// Middleware returns an HTTP middleware that enforces Bearer token auth
// on non-exempt paths when auth is enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || isExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			tok, ok := token(r)
			if !ok || subtle.ConstantTimeCompare([]byte(tok), []byte(cfg.Token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
