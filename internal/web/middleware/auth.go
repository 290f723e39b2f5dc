package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/formreg/internal/auth"
)

// TokenCookie carries the bearer token for browser pages that cannot set an
// Authorization header.
const TokenCookie = "formreg_token"

// TokenVerifier turns a raw bearer token into an actor.
type TokenVerifier interface {
	Verify(raw string) (*auth.Actor, error)
}

// BearerAuth returns middleware that verifies the request's bearer token and
// stores the resulting actor in the request context. Requests without a
// token get 401, requests with a bad token get 401 as well; the reason is
// logged, never returned.
func BearerAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				slog.Warn("auth: missing token",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				unauthorized(w, "missing bearer token", "AUTH_MISSING_TOKEN")
				return
			}

			actor, err := v.Verify(raw)
			if err != nil {
				slog.Warn("auth: invalid token",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				unauthorized(w, "invalid bearer token", "AUTH_INVALID_TOKEN")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
		})
	}
}

// bearerToken reads the Authorization header, falling back to TokenCookie.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="formreg"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","code":"` + code + `"}`))
}
