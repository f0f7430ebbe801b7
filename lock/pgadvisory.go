package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgAdvisory is the Backend described in spec.md §4.8 "Relational
// (advisory locks)": acquire maps key to a 64-bit advisory-lock id and
// polls pg_try_advisory_lock under a deadline, listening on a
// LISTEN/NOTIFY channel between attempts so waiters wake promptly instead
// of busy polling. The same pg_advisory_lock primitive backs the task
// scheduler's row locking (package scheduler).
type PgAdvisory struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	holders map[string]*pgxpool.Conn // token -> the connection holding its advisory lock
}

// NewPgAdvisory wraps an existing pgx pool as a lock Backend.
func NewPgAdvisory(pool *pgxpool.Pool) *PgAdvisory {
	return &PgAdvisory{pool: pool, holders: map[string]*pgxpool.Conn{}}
}

var _ Backend = (*PgAdvisory)(nil)

// AdvisoryID maps a lock key to the 64-bit id pg_advisory_lock expects.
func AdvisoryID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

func pgChannel(key string) string {
	return fmt.Sprintf("lock_%d", uint64(AdvisoryID(key)))
}

func (p *PgAdvisory) Acquire(ctx context.Context, key string, timeout, maxHold time.Duration) (string, error) {
	id := AdvisoryID(key)
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("lock: acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "listen "+pgChannel(key)); err != nil {
		conn.Release()
		return "", fmt.Errorf("lock: listen: %w", err)
	}

	for {
		var got bool
		if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", id).Scan(&got); err != nil {
			conn.Release()
			return "", fmt.Errorf("lock: try_advisory_lock: %w", err)
		}
		if got {
			token := uuid.NewString()
			p.mu.Lock()
			p.holders[token] = conn
			p.mu.Unlock()
			if maxHold > 0 {
				p.scheduleExpiry(key, token, maxHold)
			}
			return token, nil
		}

		select {
		case <-deadline:
			conn.Release()
			return "", ErrTimeout
		case <-ctx.Done():
			conn.Release()
			return "", ctx.Err()
		default:
		}

		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		_, _ = conn.Conn().WaitForNotification(waitCtx)
		cancel()
	}
}

func (p *PgAdvisory) scheduleExpiry(key, token string, maxHold time.Duration) {
	time.AfterFunc(maxHold, func() {
		_ = p.Release(context.Background(), key, token)
	})
}

func (p *PgAdvisory) Release(ctx context.Context, key, token string) error {
	p.mu.Lock()
	conn, ok := p.holders[token]
	if ok {
		delete(p.holders, token)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	defer conn.Release()

	id := AdvisoryID(key)
	if _, err := conn.Exec(ctx, "select pg_advisory_unlock($1)", id); err != nil {
		return fmt.Errorf("lock: advisory_unlock: %w", err)
	}
	if _, err := conn.Exec(ctx, "notify "+pgChannel(key)); err != nil {
		return fmt.Errorf("lock: notify: %w", err)
	}
	return nil
}

func (p *PgAdvisory) Close(context.Context) error { return nil }
