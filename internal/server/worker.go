package server

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// workerPool bounds the number of connections served at the same time. Each
// accepted connection runs on a worker that holds one slot until the
// connection is shut down.
type workerPool struct {
	slots  chan struct{}
	active atomic.Int64
}

func newWorkerPool(size int) *workerPool {
	return &workerPool{slots: make(chan struct{}, size)}
}

// acquire blocks until a slot is free or ctx is done.
func (p *workerPool) acquire(ctx context.Context) (*worker, error) {
	select {
	case p.slots <- struct{}{}:
		p.active.Inc()
		return &worker{pool: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Active returns the number of workers currently serving a connection.
func (p *workerPool) Active() int64 {
	return p.active.Load()
}

// worker is the Worker handed to a connection handler.
type worker struct {
	pool *workerPool
	once sync.Once
}

// NotifyShutdown returns the worker's slot to the pool. Only the first call
// has an effect.
func (w *worker) NotifyShutdown() {
	w.once.Do(func() {
		w.pool.active.Dec()
		<-w.pool.slots
	})
}
