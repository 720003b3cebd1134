package audit

import (
	"context"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// Context keys read when an event does not carry the value itself
const (
	KeyActor     ContextKey = "actor"     // types.Actor performing the action
	KeyRequestID ContextKey = "requestId" // Request identifier
	KeySource    ContextKey = "source"    // Component or entry point
)

// SystemActor is used when neither the event nor the context names an actor
var SystemActor = types.Actor{Type: "system", ID: "data-protection"}

// WithActor adds the acting user or service to the context
func WithActor(ctx context.Context, actor types.Actor) context.Context {
	return context.WithValue(ctx, KeyActor, actor)
}

// WithRequestID adds a request identifier to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, KeyRequestID, requestID)
}

// WithSource adds the originating component to the context
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, KeySource, source)
}

func fillFromContext(ctx context.Context, d types.EventDetails) types.EventDetails {
	if d.Actor.ID == "" && d.Actor.Type == "" {
		if actor, ok := ctx.Value(KeyActor).(types.Actor); ok {
			d.Actor = actor
		} else {
			d.Actor = SystemActor
		}
	}
	if d.Context.RequestID == "" {
		if id, ok := ctx.Value(KeyRequestID).(string); ok {
			d.Context.RequestID = id
		}
	}
	if d.Context.Source == "" {
		if src, ok := ctx.Value(KeySource).(string); ok {
			d.Context.Source = src
		}
	}
	return d
}
