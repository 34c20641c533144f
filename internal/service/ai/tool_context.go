package ai

import "context"

type toolSessionContextKey struct{}

// WithToolSession tags a context with the session id a tool invocation
// belongs to.
func WithToolSession(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, toolSessionContextKey{}, sessionID)
}

// ToolSessionFromContext returns the session id attached by WithToolSession.
func ToolSessionFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(toolSessionContextKey{})
	if val == nil {
		return "", false
	}
	sessionID, ok := val.(string)
	return sessionID, ok
}
