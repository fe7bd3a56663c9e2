package registry

import "context"

type contextKey int

const toolCallIDKey contextKey = iota

// WithToolCallID attaches the dispatching tool call's ID to ctx so a tool's
// Handler can correlate its own side effects (file changes, RPC spans) back
// to the originating call without the registry threading it explicitly
// through every Handler signature.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, id)
}

// ToolCallIDFromContext returns the tool call ID attached by WithToolCallID,
// if any.
func ToolCallIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(toolCallIDKey).(string)
	return id, ok
}
