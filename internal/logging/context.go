package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey string

const connIDKey contextKey = "conn_id"

// ContextWithConnID tags ctx with the id of the websocket connection it serves.
func ContextWithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey, id)
}

// ConnIDFromContext returns the connection id stored in ctx, or "".
func ConnIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(connIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns the global logger with any connection id in ctx attached.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger()
	if id := ConnIDFromContext(ctx); id != "" {
		l = l.With().Str("conn_id", id).Logger()
	}
	return &l
}
