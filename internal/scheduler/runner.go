package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultInterval = time.Second

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

// Lock guards a run so that only one holder executes it at a time. ok is
// false when another holder owns the lock, in which case the run is skipped.
type Lock interface {
	TryAcquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// Runner invokes a task with fixed-delay semantics: the next run starts
// interval after the previous one returned. Task errors and panics are
// logged and never stop the loop.
type Runner struct {
	name     string
	task     Task
	interval time.Duration
	lock     Lock
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Runner)

// WithLock makes every run conditional on acquiring lock.
func WithLock(lock Lock) Option {
	return func(r *Runner) {
		r.lock = lock
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRunner(name string, interval time.Duration, task Task, opts ...Option) (*Runner, error) {
	if task == nil {
		return nil, fmt.Errorf("task is required")
	}
	if interval <= 0 {
		interval = defaultInterval
	}

	r := &Runner{
		name:     name,
		task:     task,
		interval: interval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("runner", name))

	return r, nil
}

// Start runs the first cycle immediately and blocks until ctx is cancelled
// or Stop is called. It returns an error only if the runner is already
// started.
func (r *Runner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("runner %s already started", r.name)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	defer func() {
		cancel()
		close(done)
		r.mu.Lock()
		r.cancel = nil
		r.done = nil
		r.mu.Unlock()
	}()

	r.logger.Info("runner started", zap.Duration("interval", r.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopped")
			return nil
		case <-timer.C:
			r.runOnce(ctx)
			timer.Reset(r.interval)
		}
	}
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) runOnce(ctx context.Context) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("runner task panicked", zap.Any("panic", recovered))
		}
	}()

	if r.lock != nil {
		release, ok, err := r.lock.TryAcquire(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error("runner lock acquisition failed", zap.Error(err))
			}
			return
		}
		if !ok {
			r.logger.Debug("runner lock held elsewhere, skipping cycle")
			return
		}
		defer func() {
			// Release on a fresh context so shutdown does not strand the lock.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				r.logger.Warn("runner lock release failed", zap.Error(err))
			}
		}()
	}

	if err := r.task(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("runner task failed", zap.Error(err))
	}
}
