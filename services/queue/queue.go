// Package queue runs background tasks either in-process or through SQS.
// Tasks are delivered at most once by the application: a failing handler is
// logged and the task dropped.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"sure_app_go/logger"

	"github.com/google/uuid"
)

// Task kinds
const (
	KindExport = "export"
)

// ErrNoHandler is returned when a task kind has no registered handler
var ErrNoHandler = errors.New("no handler registered for task kind")

// Task is one unit of background work
type Task struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewTask encodes payload as JSON into a task of the given kind
func NewTask(kind string, payload interface{}) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("failed to encode %s task: %w", kind, err)
	}
	return Task{ID: uuid.New().String(), Kind: kind, Payload: raw}, nil
}

// Decode unmarshals the task payload into v
func (t Task) Decode(v interface{}) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s task: %w", t.Kind, err)
	}
	return nil
}

// Handler processes one task
type Handler func(ctx context.Context, task Task) error

// Queue accepts tasks for background execution
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
}

// Registry maps task kinds to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Handle registers h for kind, replacing any earlier handler
func (r *Registry) Handle(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Dispatch runs the handler for the task's kind
func (r *Registry) Dispatch(ctx context.Context, task Task) error {
	r.mu.RLock()
	h, ok := r.handlers[task.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, task.Kind)
	}
	return h(ctx, task)
}

// run dispatches and logs the outcome; errors are not propagated
func (r *Registry) run(ctx context.Context, task Task) {
	log := logger.Component("queue")
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("task_id", task.ID).Str("kind", task.Kind).Interface("panic", p).Msg("Task panicked")
		}
	}()
	if err := r.Dispatch(ctx, task); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Str("kind", task.Kind).Msg("Task failed")
		return
	}
	log.Debug().Str("task_id", task.ID).Str("kind", task.Kind).Msg("Task done")
}
