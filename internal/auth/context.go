package auth

import "context"

type contextKey string

const actorKey contextKey = "actor"

// AnonymousActor is attributed to requests that carry no identity header.
const AnonymousActor = "anonymous"

// ContextWithActor returns a new context that carries the acting user's
// identity for audit attribution.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the acting user's identity, falling back to
// AnonymousActor when the request carried none.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return AnonymousActor
	}
	actor, ok := ctx.Value(actorKey).(string)
	if !ok || actor == "" {
		return AnonymousActor
	}
	return actor
}
