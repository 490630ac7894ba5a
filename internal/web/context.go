package web

import (
	"net/http"
	"strings"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/core"
)

// Request headers carrying caller identity into the engine.
const (
	headerSessionID = "X-Session-ID"
	headerActorID   = "X-Actor-ID"
)

// requestMetadata copies the session and actor headers into the request
// context, where commit records them on the units it touches.
func requestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := strings.TrimSpace(r.Header.Get(headerSessionID)); id != "" {
			ctx = core.ContextWithSessionID(ctx, id)
		}
		if id := strings.TrimSpace(r.Header.Get(headerActorID)); id != "" {
			ctx = core.ContextWithActorID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
