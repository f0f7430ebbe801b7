package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// waiter is one caller's position in a key's FIFO queue. token is filled
// in (by whoever hands the key off to this waiter) before result is
// closed, so the waiter never has to re-acquire the mutex to learn what it
// won — closing the race window a "wake up, then re-lock and claim"
// design would leave between releaseLocked and the woken goroutine's next
// mutex acquisition.
type waiter struct {
	maxHold time.Duration
	token   string
	result  chan struct{}
}

type keyState struct {
	held  bool
	token string
	queue []*waiter
}

// InProcess is the Backend described in spec.md §4.8 "in-process": a map
// guarded by a single mutex plus a FIFO channel queue per key, for
// single-instance deployments or tests that don't need Redis/Postgres.
type InProcess struct {
	mu   sync.Mutex
	keys map[string]*keyState
}

// NewInProcess creates an empty in-process lock backend.
func NewInProcess() *InProcess {
	return &InProcess{keys: map[string]*keyState{}}
}

var _ Backend = (*InProcess)(nil)

func (p *InProcess) state(key string) *keyState {
	s, ok := p.keys[key]
	if !ok {
		s = &keyState{}
		p.keys[key] = s
	}
	return s
}

func (p *InProcess) Acquire(ctx context.Context, key string, timeout, maxHold time.Duration) (string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	p.mu.Lock()
	s := p.state(key)
	if !s.held {
		token := p.grant(key, s, maxHold)
		p.mu.Unlock()
		return token, nil
	}
	w := &waiter{maxHold: maxHold, result: make(chan struct{})}
	s.queue = append(s.queue, w)
	p.mu.Unlock()

	select {
	case <-w.result:
		return w.token, nil
	case <-deadline:
		p.removeWaiter(key, w)
		return "", ErrTimeout
	case <-ctx.Done():
		p.removeWaiter(key, w)
		return "", ctx.Err()
	}
}

// grant marks s held under the caller's lock, mints a token, and schedules
// its forced expiry after maxHold so a crashed holder can never wedge the
// key (spec.md §4.8 "max_lock_time bounds the lifetime").
func (p *InProcess) grant(key string, s *keyState, maxHold time.Duration) string {
	token := uuid.NewString()
	s.held = true
	s.token = token
	if maxHold > 0 {
		time.AfterFunc(maxHold, func() {
			p.mu.Lock()
			if cur, ok := p.keys[key]; ok && cur.token == token {
				p.releaseLocked(key, cur)
			}
			p.mu.Unlock()
		})
	}
	return token
}

func (p *InProcess) removeWaiter(key string, w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.keys[key]
	if !ok {
		return
	}
	out := s.queue[:0]
	for _, q := range s.queue {
		if q != w {
			out = append(out, q)
		}
	}
	s.queue = out
}

func (p *InProcess) Release(ctx context.Context, key, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.keys[key]
	if !ok || !s.held || s.token != token {
		return nil
	}
	p.releaseLocked(key, s)
	return nil
}

// releaseLocked hands the key directly to the earliest queued waiter (the
// FIFO wake-up contract of spec.md §4.8), without ever setting held back
// to false in between — closing the window where a brand-new Acquire call
// could otherwise race a queued waiter for the same key.
func (p *InProcess) releaseLocked(key string, s *keyState) {
	if len(s.queue) == 0 {
		s.held = false
		s.token = ""
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	next.token = p.grant(key, s, next.maxHold)
	close(next.result)
}

func (p *InProcess) Close(context.Context) error { return nil }
