// Package auth guards the HTTP surface of the server. MCP clients connect to
// /sse and git post-receive hooks post to /hooks; both present the same
// credentials, and /health stays open for health checks.
package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sha1n/relic-commits/internal/config"
)

// APIKeyHeader carries the API key of MCP clients. Hook scripts that can only
// set Authorization send the key as a bearer token instead.
const APIKeyHeader = "X-API-Key"

var publicPaths = map[string]bool{
	"/health": true,
}

func isPublicPath(path string) bool {
	return publicPaths[path]
}

// authenticator checks the credentials of a request. reason is logged when
// the request is rejected.
type authenticator func(r *http.Request) (ok bool, reason string)

// NewMiddleware returns the middleware enforcing the configured auth type.
// With no auth configured requests pass through untouched.
func NewMiddleware(settings config.AuthSettings) (func(http.Handler) http.Handler, error) {
	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler { return next }, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		return guard(basicAuth(settings.Basic), `Basic realm="relic-commits"`), nil
	case config.AuthTypeAPIKey:
		if len(settings.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		return guard(apiKeyAuth(settings.APIKeys), ""), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}
}

// guard rejects requests to non-public paths that auth does not accept.
// challenge, if set, is sent as WWW-Authenticate on rejection.
func guard(auth authenticator, challenge string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if ok, reason := auth(r); !ok {
				slog.Warn("Rejected request", "path", r.URL.Path, "remote", r.RemoteAddr, "reason", reason)
				if challenge != "" {
					w.Header().Set("WWW-Authenticate", challenge)
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func basicAuth(settings config.BasicAuthSettings) authenticator {
	return func(r *http.Request) (bool, string) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			return false, "missing credentials"
		}
		userMatch := equal(user, settings.Username)
		passMatch := equal(pass, settings.Password)
		if !userMatch || !passMatch {
			return false, "invalid credentials"
		}
		return true, ""
	}
}

func apiKeyAuth(keys []string) authenticator {
	return func(r *http.Request) (bool, string) {
		key := requestKey(r)
		if key == "" {
			return false, "missing api key"
		}
		for _, valid := range keys {
			if equal(key, valid) {
				return true, ""
			}
		}
		return false, "invalid api key"
	}
}

// requestKey returns the API key of a request, preferring APIKeyHeader over
// an Authorization bearer token.
func requestKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
