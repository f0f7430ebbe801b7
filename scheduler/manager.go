package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ipapp-go/ipapp/app"
	"github.com/ipapp-go/ipapp/internal/workerpool"
	"github.com/ipapp-go/ipapp/lock"
	"github.com/ipapp-go/ipapp/rpc"
	"github.com/ipapp-go/ipapp/tracer"
	"github.com/ipapp-go/ipapp/tracer/ext"
)

// Config tunes a Manager's polling cadence and the defaults new tasks
// inherit when Schedule's caller doesn't override them (spec.md §4.7).
type Config struct {
	// PollInterval is how often the dispatch loop looks for due rows.
	PollInterval time.Duration
	// BatchSize bounds how many due rows one poll claims at once.
	BatchSize int
	// CreateDatabaseObjects runs Store.CreateSchema during Prepare,
	// matching spec.md §6 "Creation is idempotent when
	// create_database_objects=true".
	CreateDatabaseObjects bool
	// PropagateTrace persists the caller's trace/span id on Schedule and
	// rehydrates it when the task runs, per spec.md §4.7 "Trace
	// propagation".
	PropagateTrace bool
	// StopGrace bounds how long Stop waits for in-flight tasks before
	// returning (spec.md §4.7 "Graceful stop").
	StopGrace time.Duration
	// ClaimMaxHold bounds how long a claimed row's advisory lock survives
	// a crashed dispatcher (spec.md §4.8 "max_lock_time").
	ClaimMaxHold time.Duration
	// DispatchConcurrency bounds how many claimed rows run concurrently
	// within one poll's batch (spec.md §5's bounded off-loop execution,
	// applied here to the dispatch loop itself rather than to a single
	// method body).
	DispatchConcurrency int

	DefaultMaxRetries int
	DefaultRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 30 * time.Second
	}
	if c.ClaimMaxHold <= 0 {
		c.ClaimMaxHold = 5 * time.Minute
	}
	if c.DispatchConcurrency <= 0 {
		c.DispatchConcurrency = 10
	}
	return c
}

type cronState struct {
	method   *rpc.Method
	schedule cron.Schedule
	next     time.Time
}

// Manager is the durable task scheduler of spec.md §4.7: a Store-backed
// queue, a crontab-driven recurring scheduler, and a dispatch loop that
// claims due rows under a per-row Postgres advisory lock (package lock)
// so peer Managers sharing the same database never run the same row
// twice. Manager is itself an app.Component.
type Manager struct {
	cfg      Config
	store    *Store
	registry *rpc.Registry
	locker   *lock.Locker
	logger   *tracer.Logger
	pool     *workerpool.Pool

	cronParser cron.Parser

	mu    sync.Mutex
	cron  map[string]*cronState
	stop  chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
	log   *logrus.Entry
}

var _ app.Component = (*Manager)(nil)

// New builds a Manager dispatching registry's methods against a Store
// backed by pool, guarding row claims with a Postgres advisory lock over
// the same pool (spec.md §4.7's shared "database component and the
// engine's dispatch style").
func New(pool *pgxpool.Pool, registry *rpc.Registry, logger *tracer.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = tracer.NewLogger()
	}
	withDefaults := cfg.withDefaults()
	return &Manager{
		cfg:        withDefaults,
		store:      NewStore(pool),
		registry:   registry,
		locker:     lock.New(lock.NewPgAdvisory(pool)),
		logger:     logger,
		pool:       workerpool.New(withDefaults.DispatchConcurrency),
		cronParser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cron:       map[string]*cronState{},
		log:        logrus.WithField("component", "scheduler.manager"),
	}
}

// Store exposes the underlying persistence layer, e.g. for callers that
// want direct read access to archived rows.
func (m *Manager) Store() *Store { return m.store }

func (m *Manager) Prepare(ctx context.Context) error {
	if m.cfg.CreateDatabaseObjects {
		if err := m.store.CreateSchema(ctx); err != nil {
			return err
		}
	}
	return m.initCronState(ctx)
}

// initCronState computes each crontab method's next fire time. A method
// with CrontabDoNotMiss looks up its last recorded eta so downtime is
// caught up on recovery (spec.md §4.7 "Cron tasks"); otherwise only the
// next future fire is scheduled.
func (m *Manager) initCronState(ctx context.Context) error {
	now := time.Now().UTC()
	for _, method := range m.registry.Methods() {
		if method.Crontab == "" {
			continue
		}
		schedule, err := m.cronParser.Parse(normalizeCrontab(method.Crontab))
		if err != nil {
			return fmt.Errorf("scheduler: parse crontab for %q: %w", method.Name, err)
		}
		state := &cronState{method: method, schedule: schedule, next: schedule.Next(now)}
		if method.CrontabDoNotMiss {
			if last, ok, err := m.store.LastETA(ctx, method.Name); err != nil {
				return fmt.Errorf("scheduler: last eta for %q: %w", method.Name, err)
			} else if ok {
				state.next = schedule.Next(last)
			}
		}
		m.cron[method.Name] = state
	}
	return nil
}

// normalizeCrontab drops a trailing year/seventh field robfig/cron/v3
// doesn't model (spec.md §9 "Open question: ... the source accepts
// seven-field crontabs"; DESIGN.md records the resolution: the 7th field
// is accepted and ignored rather than rejected, so specs ported from the
// original source keep parsing).
func normalizeCrontab(spec string) string {
	fields := splitFields(spec)
	if len(fields) == 7 {
		return joinFields(fields[:6])
	}
	return spec
}

func splitFields(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += " "
		}
		out += f
	}
	return out
}

func (m *Manager) Start(context.Context) error {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop()
	return nil
}

// Stop signals the dispatch loop to stop accepting new work and waits up
// to Config.StopGrace for in-flight tasks to finish (spec.md §4.7
// "Graceful stop": "no in-flight task is interrupted mid-statement").
func (m *Manager) Stop(context.Context) error {
	if m.stop == nil {
		return nil
	}
	close(m.stop)
	<-m.done

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.StopGrace):
		m.log.Warn("stop grace period elapsed with tasks still in flight")
	}
	return nil
}

func (m *Manager) Health(ctx context.Context) error {
	_, err := m.store.DueTasks(ctx, 0)
	return err
}

func (m *Manager) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.fireCron(ctx)
			m.dispatchDue(ctx)
		}
	}
}

// fireCron enqueues one-shot tasks for every crontab method whose next
// fire time has arrived, advancing its schedule past now (spec.md §4.7
// "Cron tasks").
func (m *Manager) fireCron(ctx context.Context) {
	now := time.Now().UTC()
	m.mu.Lock()
	due := make([]*cronState, 0, len(m.cron))
	for _, st := range m.cron {
		if !st.next.After(now) {
			due = append(due, st)
		}
	}
	m.mu.Unlock()

	for _, st := range due {
		fire := st.next
		params := map[string]interface{}{}
		if st.method.CrontabDateAttr != "" {
			params[st.method.CrontabDateAttr] = fire
		}
		if _, err := m.scheduleAt(ctx, st.method.Name, params, fire, m.cfg.DefaultMaxRetries, m.cfg.DefaultRetryDelay, ""); err != nil {
			m.log.WithError(err).WithField("method", st.method.Name).Error("cron: schedule failed")
		}

		m.mu.Lock()
		st.next = st.schedule.Next(fire)
		m.mu.Unlock()
	}
}

// dispatchDue selects one batch of due rows and hands them to the bounded
// worker pool, tracked by wg so Stop's drain can wait on the whole batch
// rather than just the goroutine that launched it.
func (m *Manager) dispatchDue(ctx context.Context) {
	due, err := m.store.DueTasks(ctx, m.cfg.BatchSize)
	if err != nil {
		m.log.WithError(err).Error("select due tasks failed")
		return
	}
	if len(due) == 0 {
		return
	}

	fns := make([]func(context.Context) error, len(due))
	for i, t := range due {
		t := t
		fns[i] = func(ctx context.Context) error {
			m.claimAndRun(ctx, t)
			return nil
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.pool.Run(ctx, fns...)
	}()
}

// claimAndRun acquires t's row-level advisory lock (spec.md §4.7, §4.8),
// re-validates the row is still claimable (the due-row read and the lock
// acquisition aren't one atomic step), and runs one attempt.
func (m *Manager) claimAndRun(ctx context.Context, t *Task) {
	key := "scheduler:task:" + t.ID.String()
	token, err := m.locker.Acquire(ctx, key, 50*time.Millisecond, m.cfg.ClaimMaxHold)
	if err != nil {
		return
	}
	defer func() { _ = m.locker.Release(context.Background(), key, token) }()

	claimed, err := m.store.MarkInProgress(ctx, t.ID)
	if err != nil {
		m.log.WithError(err).WithField("task", t.ID).Error("mark in-progress failed")
		return
	}
	if !claimed {
		return
	}
	m.runAttempt(ctx, t)
}

// runAttempt executes t's bound method once, appends the task_log row,
// and resolves the state machine of spec.md §4.7: successful (archive),
// retry (re-queue with backoff) if retries remain, or error (archive)
// once retries are exhausted. Every attempt runs inside its own span
// (spec.md §5 "every task body ... always wrapped in their own span"),
// rehydrating the caller's trace when one was propagated.
func (m *Manager) runAttempt(ctx context.Context, t *Task) {
	span, taskCtx := m.spanForTask(ctx, t)

	entry := &TaskLog{ID: uuid.New(), TaskID: t.ID, ETA: t.ETA, Started: time.Now()}
	result, rpcErr := m.registry.ExecKwargs(taskCtx, t.Name, t.Params)
	entry.Finished = time.Now()

	if rpcErr == nil {
		entry.Result = result
		span.Finish(nil)
		m.logAttempt(ctx, entry)
		if err := m.store.Archive(ctx, t.ID, StatusSuccessful); err != nil {
			m.log.WithError(err).WithField("task", t.ID).Error("archive successful failed")
		}
		return
	}

	entry.Error = attemptErrorText(rpcErr)
	span.Error(rpcErr)
	span.Finish(rpcErr)
	m.logAttempt(ctx, entry)

	if t.Retries < t.MaxRetries {
		t.Retries++
		eta := time.Now().Add(t.RetryDelay)
		if err := m.store.Requeue(ctx, t.ID, eta, t.Retries); err != nil {
			m.log.WithError(err).WithField("task", t.ID).Error("requeue failed")
		}
		return
	}
	if err := m.store.Archive(ctx, t.ID, StatusError); err != nil {
		m.log.WithError(err).WithField("task", t.ID).Error("archive error failed")
	}
}

func (m *Manager) logAttempt(ctx context.Context, entry *TaskLog) {
	if err := m.store.InsertLog(ctx, entry); err != nil {
		m.log.WithError(err).WithField("task", entry.TaskID).Error("insert task_log failed")
	}
}

// attemptErrorText prefers a Retry(cause)'s own message over the
// ServerError wrapping rpc.AsRPCError gives it, so task_log.error reads
// like "Attempt 1" rather than a doubly-wrapped framework message.
func attemptErrorText(rpcErr *rpc.Error) string {
	var rr *RetryRequest
	if errors.As(rpcErr, &rr) && rr.Cause != nil {
		return rr.Cause.Error()
	}
	if rpcErr.Cause != nil {
		return rpcErr.Cause.Error()
	}
	return rpcErr.Message
}

// spanForTask mints the span a dispatched attempt runs inside: a
// continuation of the caller's trace when one was propagated at Schedule
// time (the persisted caller span id goes into X-B3-SpanId, so the new
// span becomes that caller's child), otherwise a fresh root — both minted
// from the Manager's own logger so every attempt's span reaches the
// application's adapter bus (spec.md §4.7 "Trace propagation", §5). The
// returned span is the attempt span itself; runAttempt owns finishing it.
func (m *Manager) spanForTask(ctx context.Context, t *Task) (*tracer.Span, context.Context) {
	name := "task::" + t.Name
	if t.TraceID == "" {
		span := m.logger.New(name, tracer.WithKind(ext.SpanKindServer))
		return span, tracer.ContextWithSpan(ctx, span)
	}
	h := http.Header{}
	h.Set(ext.HeaderB3TraceID, t.TraceID)
	if t.TraceSpanID != "" {
		h.Set(ext.HeaderB3SpanID, t.TraceSpanID)
	}
	span := m.logger.FromHeaders(name, h, tracer.WithKind(ext.SpanKindServer))
	return span, tracer.ContextWithSpan(ctx, span)
}

// ScheduleOption customizes one call to Schedule/Once.
type ScheduleOption func(*Task)

func WithETA(eta time.Time) ScheduleOption   { return func(t *Task) { t.ETA = eta } }
func WithMaxRetries(n int) ScheduleOption    { return func(t *Task) { t.MaxRetries = n } }
func WithRetryDelay(d time.Duration) ScheduleOption {
	return func(t *Task) { t.RetryDelay = d }
}
func WithReference(ref string) ScheduleOption { return func(t *Task) { t.Reference = ref } }

// Schedule inserts a new pending task for registry method name, eta
// defaulting to now (spec.md §4.7 "schedule()"). If Config.PropagateTrace
// is set and ctx carries an active span, the span's trace/span id are
// persisted with the row so the dispatched attempt can rejoin the trace.
func (m *Manager) Schedule(ctx context.Context, name string, params map[string]interface{}, opts ...ScheduleOption) (uuid.UUID, error) {
	return m.scheduleAt(ctx, name, params, time.Now(), m.cfg.DefaultMaxRetries, m.cfg.DefaultRetryDelay, "", opts...)
}

// Once is Schedule's one-shot convenience: it always fires as soon as
// eta (default now) is reached, as distinct from the crontab-driven
// recurring schedule the registry's WithCrontab methods run under
// (spec.md SPEC_FULL supplement, from original_source examples/tm.py's
// plain `tm.schedule(Api.test, {})` call).
func (m *Manager) Once(ctx context.Context, name string, params map[string]interface{}, opts ...ScheduleOption) (uuid.UUID, error) {
	return m.Schedule(ctx, name, params, opts...)
}

func (m *Manager) scheduleAt(ctx context.Context, name string, params map[string]interface{}, eta time.Time, maxRetries int, retryDelay time.Duration, reference string, opts ...ScheduleOption) (uuid.UUID, error) {
	if _, ok := m.registry.Lookup(name); !ok {
		return uuid.UUID{}, fmt.Errorf("scheduler: schedule %q: %w", name, rpc.NewMethodNotFound(name))
	}
	t := &Task{
		ID:         uuid.New(),
		Name:       name,
		Params:     params,
		ETA:        eta,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		Reference:  reference,
	}
	for _, o := range opts {
		o(t)
	}
	if m.cfg.PropagateTrace {
		if span, ok := tracer.SpanFromContext(ctx); ok {
			t.TraceID = span.TraceID().String()
			t.TraceSpanID = fmt.Sprintf("%016x", span.SpanID())
		}
	}
	if err := m.store.Insert(ctx, t); err != nil {
		return uuid.UUID{}, err
	}
	return t.ID, nil
}

// Cancel implements spec.md §4.7 "cancel(task_id)": best-effort before
// dispatch, a no-op once the row is already in progress or terminal.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) error {
	return m.store.Cancel(ctx, id)
}

// ByReference looks up every task (pending or archived) carrying
// reference, for callers correlating an externally issued key (spec.md
// SPEC_FULL supplement).
func (m *Manager) ByReference(ctx context.Context, reference string) ([]*Task, error) {
	return m.store.ByReference(ctx, reference)
}
