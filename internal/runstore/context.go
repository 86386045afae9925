package runstore

import "context"

type requestIDKey struct{}

// MetaRequestID is the meta key under which Put records the caller's
// correlation id.
const MetaRequestID = "request_id"

// WithRequestID returns a context carrying the upstream correlation id.
// Put stashes it in the artifact's meta unless meta already has one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the correlation id carried by ctx, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}
