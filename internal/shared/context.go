// Package shared holds helpers used across clinic modules.
package shared

import "context"

// Actor identifies the staff member and clinic behind a request. Authentication
// itself is owned by the front gateway; this only carries identity forward.
type Actor struct {
	StaffID  int64
	ClinicID int64
}

type actorContextKey struct{}

// ContextWithActor stores the acting staff identity in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting staff identity from context.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
