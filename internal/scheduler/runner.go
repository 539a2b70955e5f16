// Package scheduler runs named tasks so that at most one run of each name is
// in flight, retries a failed run once after a delay, and fires runs from
// cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultRetryDelay is how long a failed run waits before its retry.
const DefaultRetryDelay = 5 * time.Minute

// State is the lifecycle state of a task name.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Task is one run of a named job.
type Task func(ctx context.Context) error

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Runner guards task names and owns their retries.
type Runner struct {
	logger     *zap.Logger
	retryDelay time.Duration
	afterFunc  AfterFunc
	now        func() time.Time

	mu      sync.Mutex
	states  map[string]*atomic.Int32
	retries map[string]func() bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithRetryDelay sets the delay before a failed run is retried.
func WithRetryDelay(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.retryDelay = d
		}
	}
}

// WithAfterFunc replaces time.AfterFunc, for tests.
func WithAfterFunc(f AfterFunc) RunnerOption {
	return func(r *Runner) { r.afterFunc = f }
}

// WithClock sets the time source used for run durations.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:     zap.NewNop(),
		retryDelay: DefaultRetryDelay,
		afterFunc:  realAfterFunc,
		now:        time.Now,
		states:     make(map[string]*atomic.Int32),
		retries:    make(map[string]func() bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) state(name string) *atomic.Int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[name]
	if !ok {
		st = new(atomic.Int32)
		r.states[name] = st
	}
	return st
}

// State returns the current state of name.
func (r *Runner) State(name string) State {
	return State(r.state(name).Load())
}

// Run executes task under name unless a run of name is already in flight,
// in which case it logs and returns false.
//
// When the task fails, exactly one retry is scheduled after the retry
// delay. The retry itself never schedules another.
func (r *Runner) Run(ctx context.Context, name string, task Task) bool {
	return r.run(ctx, name, task, false)
}

func (r *Runner) run(ctx context.Context, name string, task Task, retry bool) bool {
	st := r.state(name)
	if !st.CompareAndSwap(int32(Idle), int32(Running)) {
		r.logger.Info("task already running", zap.String("task", name), zap.Bool("retry", retry))
		return false
	}

	started := r.now()
	r.logger.Info("task started", zap.String("task", name), zap.Bool("retry", retry))
	err := r.call(ctx, st, task)

	took := r.now().Sub(started)
	if err == nil {
		r.logger.Info("task finished", zap.String("task", name), zap.Duration("took", took))
		return true
	}

	r.logger.Error("task failed", zap.String("task", name), zap.Duration("took", took), zap.Error(err))
	if !retry {
		r.scheduleRetry(ctx, name, task)
	}
	return true
}

// call runs task and returns the name to Idle even when task panics. A panic
// comes back as the run's error.
func (r *Runner) call(ctx context.Context, st *atomic.Int32, task Task) (err error) {
	defer st.Store(int32(Idle))
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return task(ctx)
}

func (r *Runner) scheduleRetry(ctx context.Context, name string, task Task) {
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if stop, ok := r.retries[name]; ok {
		stop()
	}
	r.retries[name] = r.afterFunc(r.retryDelay, func() {
		r.mu.Lock()
		delete(r.retries, name)
		r.mu.Unlock()
		r.run(ctx, name, task, true)
	})
	r.logger.Info("task retry scheduled", zap.String("task", name), zap.Duration("delay", r.retryDelay))
}

// PendingRetries returns the number of scheduled retries.
func (r *Runner) PendingRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retries)
}

// Stop cancels every scheduled retry.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, stop := range r.retries {
		stop()
		delete(r.retries, name)
	}
}
