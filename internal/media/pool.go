package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize is the number of media tasks allowed to run concurrently
// across all sessions.
const DefaultPoolSize = 4

// Pool bounds the detached work that runs after a command's stream has
// completed: image generation, music generation, deferred step bookkeeping.
// Tasks acquire a process-wide semaphore before running, so a burst of
// sessions cannot stack unbounded provider calls.
type Pool struct {
	sem *semaphore.Weighted
	log *slog.Logger
	wg  sync.WaitGroup
}

// NewPool returns a pool admitting size concurrent tasks. Sizes below one
// fall back to [DefaultPoolSize].
func NewPool(size int, log *slog.Logger) *Pool {
	if size < 1 {
		size = DefaultPoolSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		sem: semaphore.NewWeighted(int64(size)),
		log: log,
	}
}

// Go schedules fn on the pool. The call returns immediately; fn starts once
// a slot frees up. Cancelling ctx before the slot is acquired skips fn
// entirely, cancelling it afterwards is fn's business via the same ctx.
// Task errors are logged, never propagated: detached media work must not
// fail the command that spawned it.
func (p *Pool) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.log.Debug("media task skipped", "task", name, "error", err)
			return
		}
		defer p.sem.Release(1)

		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrUnavailable) {
				p.log.Debug("media task ended early", "task", name, "error", err)
				return
			}
			p.log.Warn("media task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until every scheduled task has finished or been skipped.
// Called during shutdown after session contexts are cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
