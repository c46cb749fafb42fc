package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Enqueue after Close
var ErrQueueClosed = errors.New("queue is closed")

// MemoryQueue runs tasks on worker goroutines inside the process
type MemoryQueue struct {
	registry *Registry
	tasks    chan Task
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue starts workers goroutines reading from a buffer of the given size
func NewMemoryQueue(registry *Registry, workers, buffer int) *MemoryQueue {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	q := &MemoryQueue{registry: registry, tasks: make(chan Task, buffer)}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

func (q *MemoryQueue) work() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.registry.run(context.Background(), task)
	}
}

// Enqueue blocks until a worker or the buffer takes the task, or ctx ends
func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued ones to finish
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}
