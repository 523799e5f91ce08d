package core

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const syncRunIDKey contextKey = "sync-run-id"

// WithSyncRunID returns a new context carrying the given sync-run ID.
func WithSyncRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, syncRunIDKey, id)
}

// SyncRunID retrieves the sync-run ID from the context, minting a fresh
// one when the context does not carry one yet.
func SyncRunID(ctx context.Context) string {
	if v := ctx.Value(syncRunIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return uuid.NewString()
}
