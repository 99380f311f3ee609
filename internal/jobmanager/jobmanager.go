// Package jobmanager schedules and runs the hub's dump/upload/build/diff
// work: cron-scheduled recurring jobs plus one-off "thread" and "process"
// tasks, gated by predicates that defer a task until its dependencies are
// satisfied. It mirrors the teacher's daemon job-queue idiom of a single
// dispatcher goroutine handing ready work to bounded worker pools, rather
// than an actor-per-task model.
package jobmanager

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// JobInfo describes a unit of work for logging and status reporting —
// the same (category, source, step) triple HubDB's status records key
// on.
type JobInfo struct {
	Category    string
	Source      string
	Step        string
	Description string
	Predicates  []Predicate
}

// JobTable is read by Predicates to decide whether a job is ready to
// run; it abstracts over HubDB so predicates can be unit tested against
// a fake.
type JobTable interface {
	// Lookup reports whether a prerequisite identified by key (e.g. a
	// source name) has reached a ready state.
	Lookup(ctx context.Context, key string) (ready bool, err error)
}

// Predicate gates a task's execution. A predicate error is treated as
// "not ready yet" and retried on the dispatcher's next tick rather than
// failing the job outright.
type Predicate func(ctx context.Context, table JobTable) (bool, error)

// Future is a handle to an in-flight DeferToThread/DeferToProcess task.
type Future struct {
	id     string
	done   chan struct{}
	result any
	err    error
	cancel context.CancelFunc
}

// Await blocks until the task completes or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cooperative cancellation of the task's context.
func (f *Future) Cancel() { f.cancel() }

// Handle is returned by Submit for a scheduled (cron) job.
type Handle struct {
	id      string
	entryID cron.EntryID
	cancel  context.CancelFunc
}

// Cancel removes the job's schedule and cancels any in-flight run.
func (h *Handle) Cancel() { h.cancel() }

type SubmitOption func(*submitOptions)

type submitOptions struct {
	schedule string
}

// WithSchedule wraps task in a robfig/cron schedule expression instead
// of running it once immediately.
func WithSchedule(cronExpr string) SubmitOption {
	return func(o *submitOptions) { o.schedule = cronExpr }
}

// Manager owns the cron scheduler plus the thread and process worker
// pools. One Manager per hub process.
type Manager struct {
	log *zap.Logger

	cron *cron.Cron

	threadSem *semaphore.Weighted
	processSem *semaphore.Weighted

	workerBin string // worker binary path given to New; DeferToProcess does not use it

	dispatchTick time.Duration

	mu      sync.Mutex
	pending []*pendingTask
	closed  bool
	wg      sync.WaitGroup

	stopDispatch chan struct{}
}

type pendingTask struct {
	info    JobInfo
	run     func(ctx context.Context) (any, error)
	future  *Future
	ctx     context.Context
	process bool
}

// New constructs a Manager with threadPoolSize/processPoolSize bounding
// concurrent "thread" and "process" tasks respectively, per
// hubconfig's jobmanager.thread_pool_size / process_pool_size.
func New(log *zap.Logger, threadPoolSize, processPoolSize int, dispatchTick time.Duration, workerBin string) *Manager {
	m := &Manager{
		log:          log,
		cron:         cron.New(cron.WithSeconds()),
		threadSem:    semaphore.NewWeighted(int64(threadPoolSize)),
		processSem:   semaphore.NewWeighted(int64(processPoolSize)),
		workerBin:    workerBin,
		dispatchTick: dispatchTick,
		stopDispatch: make(chan struct{}),
	}
	m.cron.Start()
	m.wg.Add(1)
	go m.dispatchLoop()
	return m
}

// Shutdown stops the cron scheduler and dispatcher, waiting for
// in-flight tasks bounded by ctx's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopDispatch)
	cronCtx := m.cron.Stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Submit registers task to run once, or on a recurring schedule if
// WithSchedule is given.
func (m *Manager) Submit(ctx context.Context, task func(context.Context) error, opts ...SubmitOption) (*Handle, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	runCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()

	if o.schedule == "" {
		go func() {
			if err := task(runCtx); err != nil {
				m.log.Error("submitted task failed", zap.String("job_id", id), zap.Error(err))
			}
		}()
		return &Handle{id: id, cancel: cancel}, nil
	}

	entryID, err := m.cron.AddFunc(o.schedule, func() {
		if err := task(runCtx); err != nil {
			m.log.Error("scheduled task failed", zap.String("job_id", id), zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("jobmanager: submit schedule %q: %w", o.schedule, err)
	}
	return &Handle{id: id, entryID: entryID, cancel: func() {
		m.cron.Remove(entryID)
		cancel()
	}}, nil
}

// DeferToThread queues fn on the bounded in-process goroutine pool,
// gated by info.Predicates. It returns immediately; use Future.Await to
// observe completion.
func (m *Manager) DeferToThread(ctx context.Context, info JobInfo, fn func(context.Context) (any, error)) *Future {
	return m.enqueue(ctx, info, fn, false)
}

// DeferToProcess queues fn to run on the bounded "process" pool. Like
// DeferToThread, fn runs in-process on a goroutine; the two differ only
// in which pool's semaphore bounds them. No child process is started;
// callers needing out-of-process execution supply fn that shells out
// themselves via RunWorker.
func (m *Manager) DeferToProcess(ctx context.Context, info JobInfo, fn func(context.Context) (any, error)) *Future {
	return m.enqueue(ctx, info, fn, true)
}

func (m *Manager) enqueue(ctx context.Context, info JobInfo, fn func(context.Context) (any, error), process bool) *Future {
	runCtx, cancel := context.WithCancel(ctx)
	future := &Future{id: uuid.NewString(), done: make(chan struct{}), cancel: cancel}

	m.mu.Lock()
	m.pending = append(m.pending, &pendingTask{
		info:    info,
		run:     fn,
		future:  future,
		ctx:     runCtx,
		process: process,
	})
	m.mu.Unlock()

	return future
}

// dispatchLoop is the single goroutine that moves pending tasks whose
// predicates are satisfied onto the bounded worker pools. It never
// blocks on a worker's completion: pool admission happens on its own
// goroutine per task so one slow task cannot stall predicate evaluation
// for the rest of the queue.
func (m *Manager) dispatchLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(tickOrDefault(m.dispatchTick))
	defer ticker.Stop()

	for {
		select {
		case <-m.stopDispatch:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func tickOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}

func (m *Manager) tick() {
	m.mu.Lock()
	remaining := m.pending[:0]
	ready := make([]*pendingTask, 0)
	for _, t := range m.pending {
		ok, err := m.evaluate(t)
		if err != nil {
			m.log.Debug("predicate not satisfied, retrying",
				zap.String("category", t.info.Category),
				zap.String("source", t.info.Source),
				zap.String("step", t.info.Step),
				zap.Error(err))
			remaining = append(remaining, t)
			continue
		}
		if ok {
			ready = append(ready, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	m.pending = remaining
	m.mu.Unlock()

	for _, t := range ready {
		m.runTask(t)
	}
}

func (m *Manager) evaluate(t *pendingTask) (bool, error) {
	for _, p := range t.info.Predicates {
		ok, err := p(t.ctx, nilTable{})
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// nilTable is the zero-value JobTable used when the dispatcher has no
// concrete table wired in; real predicates are constructed by callers
// closing over an actual HubDB-backed JobTable, so Lookup here is never
// exercised in practice.
type nilTable struct{}

func (nilTable) Lookup(context.Context, string) (bool, error) { return true, nil }

func (m *Manager) runTask(t *pendingTask) {
	sem := m.threadSem
	if t.process {
		sem = m.processSem
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := sem.Acquire(t.ctx, 1); err != nil {
			t.future.err = err
			close(t.future.done)
			return
		}
		defer sem.Release(1)

		result, err := t.run(t.ctx)
		t.future.result = result
		t.future.err = err
		close(t.future.done)
	}()
}

// RunWorker shells out to the "hub worker" binary with the given
// subcommand and args, used by process-pool tasks that want genuine
// process isolation (e.g. running an untrusted plugin's parser). It
// returns the child's combined stdout/stderr for logging.
func RunWorker(ctx context.Context, workerBin, subcommand string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, workerBin, append([]string{subcommand}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("jobmanager: worker %s %s: %w", workerBin, subcommand, err)
	}
	return out, nil
}
