package tracer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingAdapter struct {
	name    string
	handled []*Span
}

func (a *recordingAdapter) Name() string                    { return a.name }
func (a *recordingAdapter) Start(context.Context) error      { return nil }
func (a *recordingAdapter) Stop(context.Context) error       { return nil }
func (a *recordingAdapter) Handle(s *Span)                   { a.handled = append(a.handled, s) }

func TestSpanStart(t *testing.T) {
	logger := NewLogger()
	span := logger.New("pylons.request")
	assert.False(t, span.StartTime().IsZero())
	assert.False(t, span.IsFinished())
}

func TestSpanTag(t *testing.T) {
	logger := NewLogger()
	span := logger.New("pylons.request")

	span.Tag("status.code", "200")
	assert.Equal(t, "200", span.Tags()["status.code"])

	span.Finish(nil)
	// operating on a finished span is a no-op
	span.Tag("ignored", "true")
	assert.NotContains(t, span.Tags(), "ignored")
}

func TestSpanAnnotate(t *testing.T) {
	logger := NewLogger()
	span := logger.New("pylons.request")
	span.Annotate("log", "hello", time.Time{})
	span.Annotate("log", "world", time.Time{})
	got := span.Annotations()["log"]
	if assert.Len(t, got, 2) {
		assert.Equal(t, "hello", got[0].Value)
		assert.Equal(t, "world", got[1].Value)
	}
}

func TestSpanError(t *testing.T) {
	logger := NewLogger()
	span := logger.New("pylons.request")

	err := errors.New("boom")
	span.Error(err)
	assert.Equal(t, "true", span.Tags()["error"])
	assert.Equal(t, "boom", span.Tags()["error.message"])
	assert.NotNil(t, span.Err())
}

func TestSpanSkipPropagatesToChildren(t *testing.T) {
	logger := NewLogger()
	root := logger.New("root")
	root.Skip()

	child := root.NewChild("child")
	assert.True(t, child.Skipped())

	grandchild := child.NewChild("grandchild")
	assert.True(t, grandchild.Skipped())
}

func TestSpanUniqueHandleAfterRootFinishes(t *testing.T) {
	rec := &recordingAdapter{name: "rec"}
	logger := NewLogger(rec)

	root := logger.New("root")
	child := root.NewChild("child")
	grandchild := child.NewChild("grandchild")

	// children finish first, in arbitrary order relative to each other
	grandchild.Finish(nil)
	child.Finish(nil)
	assert.Empty(t, rec.handled, "nothing should be handled before the root finishes")

	root.Finish(nil)
	assert.Len(t, rec.handled, 3)

	// finishing again is a no-op and must not re-dispatch
	root.Finish(nil)
	assert.Len(t, rec.handled, 3)
}

func TestSpanHandledAfterParentAlreadyHandled(t *testing.T) {
	rec := &recordingAdapter{name: "rec"}
	logger := NewLogger(rec)

	root := logger.New("root")
	root.Finish(nil)
	assert.Len(t, rec.handled, 1)

	// a child created and finished after the root already handled should
	// be emitted immediately, since its parent is already handled.
	late := root.NewChild("late")
	late.Finish(nil)
	assert.Len(t, rec.handled, 2)
}

func TestSkippedSpanNeverHandled(t *testing.T) {
	rec := &recordingAdapter{name: "rec"}
	logger := NewLogger(rec)

	root := logger.New("root")
	child := root.NewChild("child")
	child.Skip()
	child.Finish(nil)
	root.Finish(nil)

	assert.Len(t, rec.handled, 1)
	assert.Equal(t, "root", rec.handled[0].Name())
}

func TestSpanToDict(t *testing.T) {
	logger := NewLogger()
	root := logger.New("request")
	child := root.NewChild("db.query", WithKind("CLIENT"))
	child.Tag("db.table", "users")
	child.Finish(nil)
	root.Finish(nil)

	d := child.ToDict()
	assert.Equal(t, "db.query", d["name"])
	assert.Equal(t, "CLIENT", d["kind"])
	assert.Equal(t, spanIDString(root.SpanID()), d["parent_id"])
	assert.Equal(t, map[string]string{"db.table": "users"}, d["tags"])
	assert.Contains(t, d, "duration")
}

func TestEmptySpanNeverCrashes(t *testing.T) {
	var s *Span
	assert.NotPanics(t, func() {
		s.Finish(nil)
		_ = s.String()
	})
}
