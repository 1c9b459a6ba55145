package dispatch

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Queue hands closures from runtime goroutines to the host goroutine.
// Enqueue is safe from any goroutine; Drain must only be called from the
// host goroutine.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	spare   []func()
	logger  *zap.Logger
}

func NewQueue(logger *zap.Logger) *Queue {
	return &Queue{logger: logger}
}

func (q *Queue) Enqueue(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// Drain runs every closure queued so far in enqueue order and returns how
// many ran. Closures run outside the lock, so they may enqueue further work;
// that work runs on the next Drain. A panicking closure is logged and the
// rest still run.
func (q *Queue) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = q.spare[:0]
	q.spare = nil
	q.mu.Unlock()

	for i, fn := range batch {
		q.run(fn)
		batch[i] = nil
	}

	q.mu.Lock()
	if q.spare == nil {
		q.spare = batch[:0]
	}
	q.mu.Unlock()
	return len(batch)
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Dispatched action failed",
				zap.Error(fmt.Errorf("panic: %v", r)))
		}
	}()
	fn()
}

// Clear drops everything not yet drained.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	for i := range q.pending {
		q.pending[i] = nil
	}
	q.pending = q.pending[:0]
	return n
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
