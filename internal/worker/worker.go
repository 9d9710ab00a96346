// Package worker provides the bounded single-consumer queue that serializes
// every state-mutating event. One goroutine owns all load-modify-save
// cycles, which gives per-user ordering for free and makes the store's lock
// uncontended in practice.
package worker

import (
	"context"
	"log/slog"

	dErrors "warden/pkg/domain-errors"
)

// Task is one unit of serialized work.
type Task struct {
	Name string
	Fn   func(ctx context.Context)
}

// Queue is a bounded FIFO with exactly one consumer.
type Queue struct {
	tasks   chan Task
	logger  *slog.Logger
	onDepth func(depth int)
}

// Option configures a Queue.
type Option func(*Queue)

// WithDepthHook registers a callback invoked with the backlog size after
// every enqueue and dequeue, used for metrics.
func WithDepthHook(fn func(depth int)) Option {
	return func(q *Queue) { q.onDepth = fn }
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int, logger *slog.Logger, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	q := &Queue{tasks: make(chan Task, capacity), logger: logger}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a task or fails fast when the queue is full. Blocking the
// transport on a saturated queue would only move the backlog upstream.
func (q *Queue) Enqueue(task Task) error {
	select {
	case q.tasks <- task:
		q.reportDepth()
		return nil
	default:
		return dErrors.New(dErrors.CodeUnavailable, "event queue is full")
	}
}

// Len reports the current backlog.
func (q *Queue) Len() int { return len(q.tasks) }

// Run consumes tasks until ctx is cancelled. It must be called from exactly
// one goroutine.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-q.tasks:
			q.reportDepth()
			q.logger.Debug("processing task", "task", task.Name)
			task.Fn(ctx)
		}
	}
}

func (q *Queue) reportDepth() {
	if q.onDepth != nil {
		q.onDepth(len(q.tasks))
	}
}
