package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manawiki/sitepulse/pkg/observability"
)

// ErrPoolClosed is returned by Submit after Wait or Shutdown
var ErrPoolClosed = errors.New("worker pool shut down")

// SafeGo executes fn in a goroutine under a timeout, recovering and logging
// panics and logging a returned error. Use it instead of a bare `go func()`.
//
//	async.SafeGo(ctx, logger, 10*time.Minute, "manual dispatch", func(ctx context.Context) error {
//	    _, err := dispatcher.DispatchAll(ctx)
//	    return err
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
}

// WorkerPool runs submitted tasks on a fixed number of workers, each task
// under its own timeout. A failing or panicking task never stops a worker.
type WorkerPool struct {
	workers  int
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	workCh chan func(context.Context) error
	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	failed atomic.Int64
}

// NewWorkerPool starts a pool with the given number of workers.
//
//	pool := async.NewWorkerPool(ctx, logger, 4, "site analytics", 10*time.Minute)
//	for _, site := range sites {
//	    _ = pool.Submit(func(ctx context.Context) error { return job.Run(ctx, site) })
//	}
//	pool.Wait()
func NewWorkerPool(ctx context.Context, logger *observability.Logger, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   logger.WithField("pool", taskName),
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues a task, blocking while the queue is full.
// Returns ErrPoolClosed once the pool stops accepting work.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Failed reports how many tasks returned an error or panicked
func (p *WorkerPool) Failed() int64 {
	return p.failed.Load()
}

func (p *WorkerPool) close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()
	})
}

// Wait stops accepting work and blocks until every queued task has finished
func (p *WorkerPool) Wait() {
	p.close()
	<-p.doneCh
	p.cancel()
}

// Shutdown stops accepting work and waits up to timeout for queued tasks.
// On timeout the remaining tasks see their contexts cancelled.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.close()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return errors.New("worker pool shutdown timed out after " + timeout.String())
	}
}

func (p *WorkerPool) worker(id int) {
	for fn := range p.workCh {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.WithError(observability.PanicError(r)).WithField("worker", id).Error("Task panicked")
		}
	}()

	if err := fn(ctx); err != nil {
		p.failed.Add(1)
		p.logger.WithError(err).WithField("worker", id).Warn("Task failed")
	}
}

// Result pairs an input item with the value or error its task produced
type Result[T, R any] struct {
	Item  T
	Value R
	Err   error
}

// Map runs fn for every item on a bounded WorkerPool and returns one Result
// per item, in input order. Errors and panics are isolated per item.
func Map[T, R any](ctx context.Context, logger *observability.Logger, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) (R, error)) []Result[T, R] {

	results := make([]Result[T, R], len(items))
	pool := NewWorkerPool(ctx, logger, workers, taskName, timeout)

	for i, item := range items {
		i, item := i, item
		results[i].Item = item
		err := pool.Submit(func(ctx context.Context) (err error) {
			defer func() {
				if perr := observability.PanicError(recover()); perr != nil {
					err = perr
					results[i].Err = perr
				}
			}()
			results[i].Value, results[i].Err = fn(ctx, item)
			return results[i].Err
		})
		if err != nil {
			results[i].Err = err
		}
	}

	pool.Wait()
	return results
}
