package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/graphchat-go/internal/logging"
)

const authRealm = "graphchat"

// requireAPIKey guards next with the GRAPHCHAT_API_KEY bearer token. An empty
// key disables the check; New warns about that once at startup.
func requireAPIKey(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		switch {
		case !ok:
			logging.FromContext(r.Context()).Warn("auth: missing bearer token", slog.String("path", r.URL.Path))
			challenge(w, "", "authorization required")
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			// The presented value is never logged.
			logging.FromContext(r.Context()).Warn("auth: rejected bearer token", slog.String("path", r.URL.Path))
			challenge(w, "invalid_token", "invalid token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// challenge answers 401 with a Bearer WWW-Authenticate header (RFC 6750).
func challenge(w http.ResponseWriter, code, msg string) {
	v := `Bearer realm="` + authRealm + `"`
	if code != "" {
		v += `, error="` + code + `"`
	}
	w.Header().Set("WWW-Authenticate", v)
	http.Error(w, msg, http.StatusUnauthorized)
}

// bearerToken parses "Bearer <token>" with a case-insensitive scheme.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
