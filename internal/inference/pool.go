// Package inference runs blocking model calls on a fixed set of worker
// goroutines so that connection handlers only wait on a completion channel.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultWorkers is used when a pool is created with a non-positive size.
const DefaultWorkers = 1

var (
	// ErrPoolClosed is returned when work is submitted after Close.
	ErrPoolClosed = errors.New("inference pool is closed")
	// ErrJobPanicked wraps the value recovered from a panicking job.
	ErrJobPanicked = errors.New("inference job panicked")
)

// Job is a unit of blocking work.
type Job func() error

type task struct {
	job  Job
	done chan error
}

// Pool executes jobs on a fixed number of workers.
type Pool struct {
	tasks     chan task
	quit      chan struct{}
	closeOnce sync.Once
	waitGroup sync.WaitGroup
}

// NewPool starts a pool with the given number of workers.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	pool := &Pool{
		tasks: make(chan task),
		quit:  make(chan struct{}),
	}

	pool.waitGroup.Add(workers)

	for range workers {
		go pool.work()
	}

	return pool
}

// Do hands job to a worker and blocks until it has finished. The context only
// bounds the time spent waiting for a free worker; once a job has started it
// always runs to completion.
func (p *Pool) Do(ctx context.Context, job Job) error {
	pending := task{job: job, done: make(chan error, 1)}

	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- pending:
	case <-ctx.Done():
		return fmt.Errorf("waiting for an inference worker: %w", ctx.Err())
	case <-p.quit:
		return ErrPoolClosed
	}

	return <-pending.done
}

// Close stops accepting jobs and waits for running ones to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
	})

	p.waitGroup.Wait()
}

func (p *Pool) work() {
	defer p.waitGroup.Done()

	for {
		select {
		case pending := <-p.tasks:
			pending.done <- run(pending.job)
		case <-p.quit:
			return
		}
	}
}

func run(job Job) (err error) {
	defer func() {
		recovered := recover()
		if recovered != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, recovered)
		}
	}()

	return job()
}
