package pipeline

import (
	"context"
	"sync"
)

// Dispatcher fans ingested chunks out to a fixed set of bounded consumer
// queues. Each chunk is put to every queue in parallel, so one slow
// consumer applies backpressure to the producer without starving the
// others of chunks already queued. Closing a queue is its end sentinel;
// CloseAll guarantees exactly one per queue regardless of how the run
// ended.
type Dispatcher struct {
	queues    []chan Chunk
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher with n queues of the given capacity.
func NewDispatcher(n, capacity int) *Dispatcher {
	queues := make([]chan Chunk, n)
	for i := range queues {
		queues[i] = make(chan Chunk, capacity)
	}
	return &Dispatcher{queues: queues}
}

// Queue returns the receive side of queue i.
func (d *Dispatcher) Queue(i int) <-chan Chunk {
	return d.queues[i]
}

// Dispatch puts the chunk onto every queue, blocking until all puts land
// or the context is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, chunk Chunk) error {
	var wg sync.WaitGroup
	errs := make([]error, len(d.queues))

	for i, q := range d.queues {
		wg.Add(1)
		go func(i int, q chan Chunk) {
			defer wg.Done()
			select {
			case q <- chunk:
			case <-ctx.Done():
				errs[i] = ctx.Err()
			}
		}(i, q)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// CloseAll delivers the end sentinel to every queue. Safe to call more
// than once; consumers see exactly one close.
func (d *Dispatcher) CloseAll() {
	d.closeOnce.Do(func() {
		for _, q := range d.queues {
			close(q)
		}
	})
}
