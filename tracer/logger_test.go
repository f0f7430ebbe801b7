package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type lifecycleAdapter struct {
	name        string
	startCalled bool
	stopCalled  bool
	startErr    error
}

func (a *lifecycleAdapter) Name() string { return a.name }
func (a *lifecycleAdapter) Start(context.Context) error {
	a.startCalled = true
	return a.startErr
}
func (a *lifecycleAdapter) Stop(context.Context) error {
	a.stopCalled = true
	return nil
}
func (a *lifecycleAdapter) Handle(*Span) {}

func TestLoggerStartsAndStopsAdaptersInParallel(t *testing.T) {
	a1 := &lifecycleAdapter{name: "a1"}
	a2 := &lifecycleAdapter{name: "a2"}
	logger := NewLogger(a1, a2)

	assert.NoError(t, logger.Start(context.Background()))
	assert.True(t, a1.startCalled)
	assert.True(t, a2.startCalled)

	assert.NoError(t, logger.Stop(context.Background()))
	assert.True(t, a1.stopCalled)
	assert.True(t, a2.stopCalled)
}

func TestLoggerStartFailurePropagates(t *testing.T) {
	failing := &lifecycleAdapter{name: "bad", startErr: assertErr}
	logger := NewLogger(failing)
	err := logger.Start(context.Background())
	assert.Error(t, err)
}

func TestLoggerPreHandleRunsBeforeAdapters(t *testing.T) {
	rec := &recordingAdapter{name: "rec"}
	logger := NewLogger(rec)

	var order []string
	logger.AddPreHandle(func(s *Span) { order = append(order, "pre") })

	root := logger.New("root")
	root.Finish(nil)

	assert.Equal(t, []string{"pre"}, order)
	assert.Len(t, rec.handled, 1)
}

func TestLoggerAdapterPanicIsSwallowed(t *testing.T) {
	panicking := panicAdapter{}
	rec := &recordingAdapter{name: "rec"}
	logger := NewLogger(panicking, rec)

	root := logger.New("root")
	assert.NotPanics(t, func() { root.Finish(nil) })
	assert.Len(t, rec.handled, 1)
}

type panicAdapter struct{}

func (panicAdapter) Name() string                    { return "panic" }
func (panicAdapter) Start(context.Context) error      { return nil }
func (panicAdapter) Stop(context.Context) error       { return nil }
func (panicAdapter) Handle(*Span)                     { panic("boom") }

var assertErr = assertError("start failed")

type assertError string

func (e assertError) Error() string { return string(e) }
