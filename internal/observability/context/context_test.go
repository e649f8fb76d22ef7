package context

import (
	"context"
	"testing"
)

func TestContextValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithAccountID(ctx, "42")
	ctx = WithActor(ctx, "user", "42")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected trimmed request id, got %q", got)
	}
	if got := AccountIDFromContext(ctx); got != "42" {
		t.Fatalf("expected account id 42, got %q", got)
	}
	actorType, actorID := ActorFromContext(ctx)
	if actorType != "user" || actorID != "42" {
		t.Fatalf("unexpected actor %q/%q", actorType, actorID)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
