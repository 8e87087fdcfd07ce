package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrExhausted is returned by Inline once a job has already been reported as exhausted.
var ErrExhausted = errors.New("job retries exhausted")

// Mux routes jobs to handlers by Job.Type.
type Mux struct {
	mu        sync.RWMutex
	handlers  map[string]Handler
	exhausted map[string]ExhaustedFunc
}

// NewMux returns an empty router.
func NewMux() *Mux {
	return &Mux{handlers: map[string]Handler{}, exhausted: map[string]ExhaustedFunc{}}
}

// Handle registers h for jobs of the given type.
func (m *Mux) Handle(jobType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = h
}

// OnExhausted registers a callback for jobs of the given type that ran out of retries.
func (m *Mux) OnExhausted(jobType string, fn ExhaustedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted[jobType] = fn
}

// Process dispatches job to its handler.
func (m *Mux) Process(ctx context.Context, job Job) error {
	m.mu.RLock()
	h, ok := m.handlers[job.Type]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
	return h(ctx, job)
}

// Exhausted forwards to the callback registered for job.Type, if any.
func (m *Mux) Exhausted(job Job, err error) {
	m.mu.RLock()
	fn, ok := m.exhausted[job.Type]
	m.mu.RUnlock()
	if ok {
		fn(job, err)
	}
}

// Inline runs jobs synchronously on the caller goroutine, retrying in place. Used by the admin CLI and tests.
type Inline struct {
	Mux        *Mux
	MaxRetries int
}

// Enqueue processes job immediately.
func (i *Inline) Enqueue(job Job) error {
	limit := i.MaxRetries
	if job.MaxRetries > 0 {
		limit = job.MaxRetries
	}
	var err error
	for job.Attempt <= limit {
		if err = i.Mux.Process(context.Background(), job); err == nil {
			return nil
		}
		job.Attempt++
	}
	i.Mux.Exhausted(job, err)
	return fmt.Errorf("%w: %v", ErrExhausted, err)
}
