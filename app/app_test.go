package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeComponent struct {
	HealthComponent
	name     string
	events   *[]string
	mu       *sync.Mutex
	prepErr  error
	startErr error
	healthErr error
}

func (c *fakeComponent) record(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.events = append(*c.events, c.name+":"+event)
}

func (c *fakeComponent) Prepare(context.Context) error {
	c.record("prepare")
	return c.prepErr
}
func (c *fakeComponent) Start(context.Context) error {
	c.record("start")
	return c.startErr
}
func (c *fakeComponent) Stop(context.Context) error {
	c.record("stop")
	return nil
}
func (c *fakeComponent) Health(context.Context) error { return c.healthErr }

func newFake(name string, events *[]string, mu *sync.Mutex) *fakeComponent {
	return &fakeComponent{name: name, events: events, mu: mu}
}

func TestAddRejectsDuplicateName(t *testing.T) {
	a := New(Config{Name: "t"}, nil)
	var events []string
	var mu sync.Mutex
	assert.NoError(t, a.Add("db", newFake("db", &events, &mu)))
	err := a.Add("db", newFake("db", &events, &mu))
	assert.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestAddRejectsUnknownStopAfter(t *testing.T) {
	a := New(Config{Name: "t"}, nil)
	var events []string
	var mu sync.Mutex
	err := a.Add("server", newFake("server", &events, &mu), "db")
	assert.Error(t, err)
}

func TestStartRunsPrepareThenStart(t *testing.T) {
	a := New(Config{Name: "t"}, nil)
	var events []string
	var mu sync.Mutex
	require := assert.New(t)
	require.NoError(a.Add("db", newFake("db", &events, &mu)))
	require.NoError(a.Add("server", newFake("server", &events, &mu), "db"))

	assert.NoError(t, a.Start(context.Background()))
	assert.False(t, a.StartStamp().IsZero())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, "db:prepare")
	assert.Contains(t, events, "db:start")
	assert.Contains(t, events, "server:prepare")
	assert.Contains(t, events, "server:start")
}

func TestStartFailureTearsDownPartialApplication(t *testing.T) {
	a := New(Config{Name: "t"}, nil)
	var events []string
	var mu sync.Mutex
	ok := newFake("ok", &events, &mu)
	bad := newFake("bad", &events, &mu)
	bad.startErr = errors.New("boom")

	assert.NoError(t, a.Add("ok", ok))
	assert.NoError(t, a.Add("bad", bad))

	err := a.Start(context.Background())
	assert.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, "ok:stop")
	assert.Contains(t, events, "bad:stop")
}

func TestStopOrdersStopAfterDependenciesFirst(t *testing.T) {
	a := New(Config{Name: "t"}, nil)
	var events []string
	var mu sync.Mutex
	assert.NoError(t, a.Add("db", newFake("db", &events, &mu)))
	assert.NoError(t, a.Add("cache", newFake("cache", &events, &mu)))
	assert.NoError(t, a.Add("server", newFake("server", &events, &mu), "db", "cache"))

	assert.NoError(t, a.Start(context.Background()))
	assert.NoError(t, a.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	dbIdx := indexOf(events, "db:stop")
	cacheIdx := indexOf(events, "cache:stop")
	serverIdx := indexOf(events, "server:stop")
	assert.Less(t, dbIdx, serverIdx)
	assert.Less(t, cacheIdx, serverIdx)
}

func TestHealthAggregatesPerComponent(t *testing.T) {
	a := New(Config{Name: "t"}, nil)
	var events []string
	var mu sync.Mutex
	sick := newFake("sick", &events, &mu)
	sick.healthErr = errors.New("db down")
	assert.NoError(t, a.Add("sick", sick))
	assert.NoError(t, a.Add("ok", newFake("ok", &events, &mu)))

	health := a.Health(context.Background())
	assert.NoError(t, health["ok"])
	assert.Error(t, health["sick"])
}

func indexOf(xs []string, v string) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
