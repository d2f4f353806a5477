// Package requestctx carries request scoped identifiers from the HTTP layer
// down to the audit trail without the domain importing transport code.
package requestctx

import "context"

type key int

const (
	requestIDKey key = iota
	actorKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithActor records the authenticated user behind the request.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey, userID)
}

func ActorID(ctx context.Context) string {
	id, _ := ctx.Value(actorKey).(string)
	return id
}
