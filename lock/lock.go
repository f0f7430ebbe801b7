// Package lock implements the distributed lock of spec.md §4.8: acquire,
// release, and a scoped Lock() helper, over three interchangeable
// backends. The in-process backend hands a released key to its waiters in
// arrival (FIFO) order; the Redis and Postgres advisory backends wake every
// waiter on release and the first retry to succeed takes the key, so their
// waiter order is not defined. max_lock_time bounds how long any single
// acquisition survives so a crashed holder cannot wedge a key.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Acquire (and propagated by Lock) when timeout
// elapses before the caller acquires the key (spec.md §4.8 "TimeoutError").
var ErrTimeout = errors.New("lock: timed out waiting for key")

// Backend is the contract every lock implementation (in-process, Redis,
// Postgres advisory) satisfies. A held token is released by passing it
// back to Release.
type Backend interface {
	// Acquire blocks until key is held by the caller, timeout elapses
	// (returning ErrTimeout), or ctx is canceled. maxHold bounds how long
	// the acquisition is allowed to live before the backend force-expires
	// it out from under a crashed holder.
	Acquire(ctx context.Context, key string, timeout, maxHold time.Duration) (token string, err error)
	Release(ctx context.Context, key, token string) error
	Close(ctx context.Context) error
}

// Locker wraps a Backend with the scoped-acquisition convenience of
// spec.md §4.8.
type Locker struct {
	backend Backend
}

// New wraps backend in a Locker.
func New(backend Backend) *Locker {
	return &Locker{backend: backend}
}

// Acquire blocks until key is held or timeout/ctx cancellation occurs.
func (l *Locker) Acquire(ctx context.Context, key string, timeout, maxHold time.Duration) (string, error) {
	return l.backend.Acquire(ctx, key, timeout, maxHold)
}

// Release releases a previously acquired token for key.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	return l.backend.Release(ctx, key, token)
}

// Lock acquires key, runs fn, and releases key on any exit from fn
// (spec.md §4.8 "a scoped lock(key, timeout?) that acquires on entry and
// releases on any exit").
func (l *Locker) Lock(ctx context.Context, key string, timeout, maxHold time.Duration, fn func(ctx context.Context) error) error {
	token, err := l.Acquire(ctx, key, timeout, maxHold)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release(context.Background(), key, token) }()
	return fn(ctx)
}

// Close releases backend resources (connections, subscriptions).
func (l *Locker) Close(ctx context.Context) error {
	return l.backend.Close(ctx)
}
