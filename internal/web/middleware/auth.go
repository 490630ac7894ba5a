package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/config"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/core"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/logging"
)

type apiKey struct {
	actor string
	key   []byte
}

// parseAPIKeys splits "actor:key" entries. A bare entry is a key with no
// actor.
func parseAPIKeys(entries []string) []apiKey {
	keys := make([]apiKey, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		actor, key, found := strings.Cut(e, ":")
		if !found {
			actor, key = "", e
		}
		keys = append(keys, apiKey{actor: strings.TrimSpace(actor), key: []byte(strings.TrimSpace(key))})
	}
	return keys
}

// APIKeyAuth checks X-API-Key when cfg.RequireAPIKey is set. A key bound to
// an actor supplies that actor to the request unless the caller already
// named one with X-Actor-ID.
func APIKeyAuth(cfg config.SecurityConfig) func(http.Handler) http.Handler {
	keys := parseAPIKeys(cfg.APIKeys)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				logging.FromContext(r.Context()).Warn("auth: missing API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeAuthError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}

			k, ok := matchKey(keys, []byte(presented))
			if !ok {
				logging.FromContext(r.Context()).Warn("auth: invalid API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeAuthError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			ctx := r.Context()
			if k.actor != "" && core.ActorIDFromContext(ctx) == "" {
				ctx = core.ContextWithActorID(ctx, k.actor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// matchKey compares against every key in constant time per key, so timing
// does not reveal which one matched.
func matchKey(keys []apiKey, presented []byte) (apiKey, bool) {
	var (
		match apiKey
		found int
	)
	for _, k := range keys {
		if subtle.ConstantTimeCompare(presented, k.key) == 1 {
			match = k
			found = 1
		}
	}
	return match, found == 1
}

func writeAuthError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `","message":"` + msg + `","code":"` + code + `"}`))
}
