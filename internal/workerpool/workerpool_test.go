package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunExecutesAllTasks(t *testing.T) {
	p := New(2)
	var count int32
	err := p.Run(context.Background(),
		func(context.Context) error { atomic.AddInt32(&count, 1); return nil },
		func(context.Context) error { atomic.AddInt32(&count, 1); return nil },
		func(context.Context) error { atomic.AddInt32(&count, 1); return nil },
	)
	assert.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestRunReturnsFirstError(t *testing.T) {
	p := New(4)
	boom := errors.New("boom")
	err := p.Run(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
	)
	assert.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunHonorsBoundedConcurrency(t *testing.T) {
	p := New(1)
	var active, maxActive int32
	task := func(context.Context) error {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		return nil
	}
	assert.NoError(t, p.Run(context.Background(), task, task, task))
	assert.EqualValues(t, 1, maxActive)
}
