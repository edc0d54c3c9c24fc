package driven

import (
	"context"
	"time"
)

// DistributedLock coordinates scheduler runs across instances so only one
// instance syncs the due companies per tick.
type DistributedLock interface {
	// Acquire returns true if the named lock was taken, false if another instance holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release is best-effort and safe to call for a lock that is not held.
	Release(ctx context.Context, name string) error

	// Extend pushes the TTL of a held lock. Backends without TTL treat it as a no-op.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	Ping(ctx context.Context) error
}
