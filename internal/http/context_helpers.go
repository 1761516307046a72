package httpx

import (
	"context"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
)

// snapshotKey is an unexported context key type to avoid collisions across packages.
type snapshotKey struct{}

// SetSnapshotInContext returns a child context that carries the snapshot a request was admitted with.
func SetSnapshotInContext(ctx context.Context, snap domainauth.Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey{}, snap)
}

// SnapshotFromContext returns the snapshot stored by SetSnapshotInContext and a boolean indicating presence.
func SnapshotFromContext(ctx context.Context) (domainauth.Snapshot, bool) {
	snap, ok := ctx.Value(snapshotKey{}).(domainauth.Snapshot)
	return snap, ok
}

// ActorIDFromContext returns the acting user's id, or "" when the request carries no signed-in snapshot.
func ActorIDFromContext(ctx context.Context) string {
	snap, ok := SnapshotFromContext(ctx)
	if !ok || snap.User == nil {
		return ""
	}
	return snap.User.ID
}
