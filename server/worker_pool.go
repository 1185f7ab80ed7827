package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrPoolStopped = errors.New("worker pool stopped")
	ErrWorkerPanic = errors.New("worker panic")
)

// poolJob is a unit of work handed to a worker goroutine.
type poolJob struct {
	ctx  context.Context
	fn   func(context.Context) (any, error)
	done chan poolResult
}

type poolResult struct {
	value any
	err   error
}

// WorkerPool runs jobs on a fixed number of goroutines. Each job gets its own
// VM thread, so workers never share mutable state; the pool only bounds how
// many programs execute at once.
type WorkerPool struct {
	jobs     chan poolJob
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	size     int
}

// NewWorkerPool starts workers goroutines with a queue of the given depth.
func NewWorkerPool(workers, queue int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &WorkerPool{
		jobs: make(chan poolJob, queue),
		quit: make(chan struct{}),
		size: workers,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

// loop processes jobs until the pool stops.
func (p *WorkerPool) loop() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			job.done <- p.execute(job)
		case <-p.quit:
			return
		}
	}
}

// execute runs a job, recovering from panics.
func (p *WorkerPool) execute(job poolJob) (result poolResult) {
	if err := job.ctx.Err(); err != nil {
		return poolResult{err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			result = poolResult{err: fmt.Errorf("%w: %v", ErrWorkerPanic, r)}
		}
	}()
	v, err := job.fn(job.ctx)
	return poolResult{value: v, err: err}
}

// Do submits fn and blocks until it completes, ctx is done, or the pool
// stops. fn receives ctx and should honour it.
func (p *WorkerPool) Do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	job := poolJob{
		ctx:  ctx,
		fn:   fn,
		done: make(chan poolResult, 1),
	}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolStopped
	}
	select {
	case r := <-job.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolStopped
	}
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return p.size
}

// Stop shuts down the workers and waits for running jobs to return.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}
