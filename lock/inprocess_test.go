package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessFIFOWithTimeoutDoesNotDisturbOrdering(t *testing.T) {
	backend := NewInProcess()
	l := New(backend)
	ctx := context.Background()

	var order []int
	var mu sync.Mutex
	record := func(n int) {
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		err := l.Lock(ctx, "k", 0, time.Second, func(ctx context.Context) error {
			record(1)
			time.Sleep(100 * time.Millisecond)
			return nil
		})
		assert.NoError(t, err)
	}()
	time.Sleep(10 * time.Millisecond)

	go func() {
		defer wg.Done()
		err := l.Lock(ctx, "k", 50*time.Millisecond, time.Second, func(ctx context.Context) error {
			record(2)
			return nil
		})
		assert.ErrorIs(t, err, ErrTimeout)
	}()

	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		err := l.Lock(ctx, "k", time.Second, time.Second, func(ctx context.Context) error {
			record(3)
			return nil
		})
		assert.NoError(t, err)
	}()

	wg.Wait()
	assert.Equal(t, []int{1, 3}, order)
}

func TestInProcessAcquireReleaseExclusive(t *testing.T) {
	backend := NewInProcess()
	ctx := context.Background()

	tok, err := backend.Acquire(ctx, "x", 0, time.Second)
	require.NoError(t, err)

	gotSecond := make(chan struct{})
	go func() {
		_, err := backend.Acquire(ctx, "x", 0, time.Second)
		assert.NoError(t, err)
		close(gotSecond)
	}()

	select {
	case <-gotSecond:
		t.Fatal("second acquire should not succeed while first holds the key")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, backend.Release(ctx, "x", tok))
	select {
	case <-gotSecond:
	case <-time.After(time.Second):
		t.Fatal("second acquire should succeed after release")
	}
}

func TestInProcessMaxHoldForceExpires(t *testing.T) {
	backend := NewInProcess()
	ctx := context.Background()

	_, err := backend.Acquire(ctx, "y", 0, 20*time.Millisecond)
	require.NoError(t, err)

	tok2, err := backend.Acquire(ctx, "y", time.Second, time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, tok2)
}
