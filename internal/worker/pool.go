package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by jobs submitted after Close.
var ErrClosed = errors.New("worker pool closed")

// Pool runs jobs on goroutines with bounded concurrency.
type Pool struct {
	sema   chan struct{}
	active atomic.Int64
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sema: make(chan struct{}, size)}
}

// Size is the maximum number of concurrent jobs.
func (p *Pool) Size() int { return cap(p.sema) }

// Active is the number of jobs currently holding a slot.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Close stops accepting jobs and waits for in-flight ones.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Wait()
}

// Wait blocks until every submitted job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Future is the pending result of a submitted job.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Submit queues fn on the pool. A panic inside fn is returned as an error.
func Submit[T any](p *Pool, fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.err = ErrClosed
		close(f.done)
		return f
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer close(f.done)
		p.sema <- struct{}{}
		p.active.Add(1)
		defer func() {
			p.active.Add(-1)
			<-p.sema
		}()
		f.value, f.err = run(fn)
	}()
	return f
}

func run[T any](fn func() (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn()
}

// Wait returns the job result, or ctx.Err() if ctx ends first.
// Giving up does not stop the job; its result is discarded.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
