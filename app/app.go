// Package app implements the component lifecycle and dependency
// orchestrator of spec.md §4.4: an Application registers named
// Components, resolves stop order from declared stop-after edges, drives
// prepare→start→stop, and aggregates health.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ipapp-go/ipapp/tracer"
)

type componentEntry struct {
	name      string
	component Component
	stopAfter []string
}

// Application owns a set of named Components and the Logger (span
// adapter bus) they all share (spec.md §3).
type Application struct {
	mu sync.RWMutex

	name        string
	version     string
	buildStamp  string
	startStamp  time.Time
	started     bool

	order   []string
	entries map[string]*componentEntry

	logger *tracer.Logger
	log    *logrus.Entry
}

// Config carries the identity fields of an Application. Loading Config
// from the environment/dotenv/JSON/YAML is out of scope (spec.md §1) —
// callers construct it directly or via their own loader.
type Config struct {
	Name       string
	Version    string
	BuildStamp string
}

// New creates an Application. logger may be nil, in which case a Logger
// with no adapters is used (NoopAdapter-equivalent: dispatch is legal, it
// just reaches no sinks).
func New(cfg Config, logger *tracer.Logger) *Application {
	if logger == nil {
		logger = tracer.NewLogger()
	}
	return &Application{
		name:       cfg.Name,
		version:    cfg.Version,
		buildStamp: cfg.BuildStamp,
		entries:    map[string]*componentEntry{},
		logger:     logger,
		log:        logrus.WithField("app", cfg.Name),
	}
}

// Name satisfies ctx.App.
func (a *Application) Name() string { return a.name }

// Version returns the application's version string.
func (a *Application) Version() string { return a.version }

// BuildStamp returns the application's build stamp string.
func (a *Application) BuildStamp() string { return a.buildStamp }

// StartStamp returns when Start last completed successfully (zero if
// never started).
func (a *Application) StartStamp() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.startStamp
}

// Logger satisfies tracer's ambient-app lookup so tracer.Start can mint
// root spans from the application's adapter bus.
func (a *Application) Logger() *tracer.Logger { return a.logger }

// Add registers a component under name. stopAfter names components that
// must be stopped before name is (spec.md §4.4): every name in stopAfter
// must already be registered, and name itself must be unique.
func (a *Application) Add(name string, c Component, stopAfter ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.entries[name]; exists {
		return newConfigurationError("duplicate component name %q", name)
	}
	for _, dep := range stopAfter {
		if _, ok := a.entries[dep]; !ok {
			return newConfigurationError("component %q declares stop_after unknown component %q", name, dep)
		}
	}
	a.entries[name] = &componentEntry{name: name, component: c, stopAfter: append([]string(nil), stopAfter...)}
	a.order = append(a.order, name)
	return nil
}

// Get returns the component registered under name, if any.
func (a *Application) Get(name string) (Component, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[name]
	if !ok {
		return nil, false
	}
	return e.component, true
}

// Start drives logger.Start, then prepare on every component concurrently,
// then records the start stamp, then start on every component
// concurrently. Any failure tears down whatever already started before
// surfacing the error (spec.md §4.4).
func (a *Application) Start(ctx context.Context) error {
	a.mu.RLock()
	entries := a.snapshotEntries()
	a.mu.RUnlock()

	if err := a.logger.Start(ctx); err != nil {
		_ = a.logger.Stop(ctx)
		return err
	}

	if err := a.runConcurrently(entries, func(c Component) error { return c.Prepare(ctx) }, "prepare"); err != nil {
		_ = a.Stop(ctx)
		return err
	}

	a.mu.Lock()
	a.startStamp = time.Now()
	a.mu.Unlock()

	if err := a.runConcurrently(entries, func(c Component) error { return c.Start(ctx) }, "start"); err != nil {
		_ = a.Stop(ctx)
		return err
	}

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	return nil
}

func (a *Application) snapshotEntries() []*componentEntry {
	out := make([]*componentEntry, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.entries[name])
	}
	return out
}

func (a *Application) runConcurrently(entries []*componentEntry, fn func(Component) error, phase string) error {
	errs := make([]error, len(entries))
	var wg sync.WaitGroup
	wg.Add(len(entries))
	for i, e := range entries {
		i, e := i, e
		go func() {
			defer wg.Done()
			errs[i] = fn(e.component)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return &PrepareError{Component: entries[i].name, Attempt: 1, Cause: fmt.Errorf("%s: %w", phase, err)}
		}
	}
	return nil
}

// Stop walks components in registration order; for each, it recursively
// stops the components it declared stop_after first (memoized so a
// component shared by several stop_after edges is only stopped once),
// then the component itself, then finally stops the logger. Stop errors
// are logged but never returned (spec.md §4.4, §7).
func (a *Application) Stop(ctx context.Context) error {
	a.mu.RLock()
	order := append([]string(nil), a.order...)
	entries := map[string]*componentEntry{}
	for k, v := range a.entries {
		entries[k] = v
	}
	a.mu.RUnlock()

	stopped := map[string]bool{}
	var stopOne func(name string)
	stopOne = func(name string) {
		if stopped[name] {
			return
		}
		e, ok := entries[name]
		if !ok {
			return
		}
		for _, dep := range e.stopAfter {
			stopOne(dep)
		}
		stopped[name] = true
		if err := e.component.Stop(ctx); err != nil {
			a.log.WithError(err).WithField("component", name).Warn("component stop failed")
		}
	}
	for _, name := range order {
		stopOne(name)
	}

	if err := a.logger.Stop(ctx); err != nil {
		a.log.WithError(err).Warn("logger stop failed")
	}

	a.mu.Lock()
	a.started = false
	a.mu.Unlock()
	return nil
}

// Health probes every component and returns nil for healthy ones and the
// probe error for sick ones (spec.md §4.4, §6 "health endpoint").
func (a *Application) Health(ctx context.Context) map[string]error {
	a.mu.RLock()
	entries := a.snapshotEntries()
	a.mu.RUnlock()

	out := make(map[string]error, len(entries))
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(entries))
	for _, e := range entries {
		e := e
		go func() {
			defer wg.Done()
			err := e.component.Health(ctx)
			mu.Lock()
			out[e.name] = err
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// Run blocks until SIGINT/SIGTERM, starting first and stopping on signal
// (spec.md §4.4). It returns a non-nil error if Start failed or if the
// signal arrived before Start completed; exit-code mapping is described in
// spec.md §6 ("run() returns 0 on clean shutdown, 1 on prepare/start
// failure or SIGINT before start completes").
func (a *Application) Run(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	startErrCh := make(chan error, 1)
	go func() { startErrCh <- a.Start(ctx) }()

	select {
	case err := <-startErrCh:
		if err != nil {
			return err
		}
	case <-sigCtx.Done():
		return GracefulExit{}
	}

	<-sigCtx.Done()
	return a.Stop(context.Background())
}
