package core

import "context"

type contextKey string

const (
	ctxKeySessionID contextKey = "import_session_id"
	ctxKeyActorID   contextKey = "import_actor_id"
)

// ContextWithSessionID attaches the operator session that triggered a write.
// Commit records it on every unit it touches.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, sessionID)
}

// SessionIDFromContext returns the session id or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeySessionID).(string); ok {
		return v
	}
	return ""
}

// ContextWithActorID attaches the acting user. It is the fallback for
// CreatedBy and actor ids not passed explicitly.
func ContextWithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ctxKeyActorID, actorID)
}

// ActorIDFromContext returns the actor id or "".
func ActorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyActorID).(string); ok {
		return v
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
