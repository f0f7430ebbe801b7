package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the jackc/pgx/v5-backed persistence layer for task, task_arch,
// and task_log (spec.md §4.7 "Task storage layout"). Storage is only ever
// touched through this type so the scheduler loop's SQL stays in one
// place.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateSchema creates task/task_arch/task_log and the task_pending view
// if they don't already exist (spec.md §4.7 "Creation is idempotent when
// create_database_objects=true").
func (s *Store) CreateSchema(ctx context.Context) error {
	const ddl = `
create table if not exists task (
	id uuid primary key,
	name text not null,
	params jsonb not null default '{}',
	eta timestamptz not null,
	last_stamp timestamptz not null default now(),
	status text not null,
	retries int not null default 0,
	max_retries int not null default 0,
	retry_delay_seconds int not null default 0,
	reference text,
	trace_id text,
	trace_span_id text,
	created_at timestamptz not null default now()
);

create table if not exists task_arch (
	like task including all
);

create table if not exists task_log (
	id uuid primary key,
	task_id uuid not null,
	eta timestamptz not null,
	started timestamptz,
	finished timestamptz,
	result jsonb,
	error text,
	traceback text
);

create or replace view task_pending as
	select * from task where status in ('pending', 'retry') and eta <= now();
`
	_, err := s.pool.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("scheduler: create schema: %w", err)
	}
	return nil
}

// Insert adds t as a new pending/retry row.
func (s *Store) Insert(ctx context.Context, t *Task) error {
	params, err := json.Marshal(t.Params)
	if err != nil {
		return fmt.Errorf("scheduler: marshal params: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into task (id, name, params, eta, last_stamp, status, retries, max_retries,
			retry_delay_seconds, reference, trace_id, trace_span_id, created_at)
		values ($1,$2,$3,$4,now(),$5,$6,$7,$8,$9,$10,$11,now())`,
		t.ID, t.Name, params, t.ETA, t.Status, t.Retries, t.MaxRetries,
		int(t.RetryDelay.Seconds()), nullable(t.Reference), nullable(t.TraceID), nullable(t.TraceSpanID))
	if err != nil {
		return fmt.Errorf("scheduler: insert task: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// DueTasks selects up to limit due rows (status in {pending,retry} and
// eta <= now()) ordered by eta. It does not change their status —
// DueTasks only picks candidates; the scheduler loop takes each row's
// advisory lock and then claims it (MarkInProgress).
func (s *Store) DueTasks(ctx context.Context, limit int) ([]*Task, error) {
	rows, err := s.pool.Query(ctx, `
		select id, name, params, eta, last_stamp, status, retries, max_retries,
			retry_delay_seconds, coalesce(reference,''), coalesce(trace_id,''), coalesce(trace_span_id,'')
		from task_pending order by eta limit $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("scheduler: select due tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(rows pgx.Rows) (*Task, error) {
	var t Task
	var params []byte
	var retrySeconds int
	if err := rows.Scan(&t.ID, &t.Name, &params, &t.ETA, &t.LastStamp, &t.Status, &t.Retries,
		&t.MaxRetries, &retrySeconds, &t.Reference, &t.TraceID, &t.TraceSpanID); err != nil {
		return nil, fmt.Errorf("scheduler: scan task: %w", err)
	}
	t.RetryDelay = time.Duration(retrySeconds) * time.Second
	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Params); err != nil {
			return nil, fmt.Errorf("scheduler: unmarshal params: %w", err)
		}
	}
	return &t, nil
}

// MarkInProgress transitions id to in_progress, guarded by the row still
// being pending/retry so a row the advisory lock let two dispatchers both
// glimpse (lock acquisition and the due-row read are not one atomic step)
// is only ever claimed once. Reports whether this call was the one that
// claimed it.
func (s *Store) MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		update task set status=$2, last_stamp=now()
		where id=$1 and status in ('pending','retry')`, id, StatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Requeue moves id back to pending/retry with a new eta and incremented
// retry counter (spec.md §4.7's retry edge).
func (s *Store) Requeue(ctx context.Context, id uuid.UUID, eta time.Time, retries int) error {
	_, err := s.pool.Exec(ctx, `update task set status=$2, eta=$3, retries=$4, last_stamp=now() where id=$1`,
		id, StatusRetry, eta, retries)
	return err
}

// Archive moves id from task to task_arch with a terminal status,
// atomically (spec.md §4.7 "status in (successful, error, canceled) ⇒ row
// lives in archive partition").
func (s *Store) Archive(ctx context.Context, id uuid.UUID, status Status) error {
	return s.archive(ctx, id, status, nil)
}

// archive copies id into task_arch with the given terminal status and
// deletes it from task, all in one transaction. fromStatuses, when
// non-empty, restricts which live statuses are eligible; a row in any
// other state is left untouched and ErrNotFound is returned.
func (s *Store) archive(ctx context.Context, id uuid.UUID, status Status, fromStatuses []Status) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: begin archive tx: %w", err)
	}
	defer tx.Rollback(ctx)

	copySQL := `insert into task_arch select * from task where id=$1`
	args := []interface{}{id}
	if len(fromStatuses) > 0 {
		copySQL += ` and status = any($2)`
		statuses := make([]string, len(fromStatuses))
		for i, st := range fromStatuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
	}
	tag, err := tx.Exec(ctx, copySQL, args...)
	if err != nil {
		return fmt.Errorf("scheduler: archive copy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `update task_arch set status=$2, last_stamp=now() where id=$1`, id, status); err != nil {
		return fmt.Errorf("scheduler: archive set status: %w", err)
	}
	if _, err := tx.Exec(ctx, `delete from task where id=$1`, id); err != nil {
		return fmt.Errorf("scheduler: archive delete: %w", err)
	}
	return tx.Commit(ctx)
}

// Cancel implements spec.md §4.7 "cancel(task_id) deletes the row from
// task and inserts a canceled row into task_arch, atomically". Only a
// pending or retry row can be canceled; an in-progress or already
// archived row reports ErrNotFound, making cancellation of a dispatched
// task the best-effort no-op the contract describes.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.archive(ctx, id, StatusCanceled, []Status{StatusPending, StatusRetry})
}

// InsertLog appends one task_log row (spec.md §3 TaskLog "one row per
// attempt").
func (s *Store) InsertLog(ctx context.Context, l *TaskLog) error {
	result, err := json.Marshal(l.Result)
	if err != nil {
		return fmt.Errorf("scheduler: marshal log result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into task_log (id, task_id, eta, started, finished, result, error, traceback)
		values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		l.ID, l.TaskID, l.ETA, l.Started, l.Finished, result, l.Error, l.Traceback)
	return err
}

// LastETA returns the most recent eta recorded for name across both the
// pending and archive relations, used by Manager to catch up a
// crontab_do_not_miss method's missed fires after downtime (spec.md §4.7
// "Cron tasks").
func (s *Store) LastETA(ctx context.Context, name string) (time.Time, bool, error) {
	var eta time.Time
	err := s.pool.QueryRow(ctx, `
		select eta from (
			select eta from task where name=$1
			union all
			select eta from task_arch where name=$1
		) t order by eta desc limit 1`, name).Scan(&eta)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("scheduler: last_eta: %w", err)
	}
	return eta, true, nil
}

// ByReference looks up archived and pending tasks sharing reference
// (spec.md SPEC_FULL supplement "Scheduler.ByReference").
func (s *Store) ByReference(ctx context.Context, reference string) ([]*Task, error) {
	rows, err := s.pool.Query(ctx, `
		select id, name, params, eta, last_stamp, status, retries, max_retries,
			retry_delay_seconds, coalesce(reference,''), coalesce(trace_id,''), coalesce(trace_span_id,'')
		from task where reference=$1
		union all
		select id, name, params, eta, last_stamp, status, retries, max_retries,
			retry_delay_seconds, coalesce(reference,''), coalesce(trace_id,''), coalesce(trace_span_id,'')
		from task_arch where reference=$1
		order by eta`, reference)
	if err != nil {
		return nil, fmt.Errorf("scheduler: by_reference: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
