package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Memory is a channel-backed Queue for development and tests. It keeps
// the interface's leasing semantics (a dequeued job is invisible until
// requeued) but is not durable across restarts; production deployments
// use the Postgres or SQS queue.
type Memory struct {
	jobs   chan *Job
	logger *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	done   chan struct{}
}

// NewMemory creates an in-memory queue with the given buffer capacity.
func NewMemory(capacity int, logger *zap.Logger) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{
		jobs:   make(chan *Job, capacity),
		logger: logger,
		timers: make(map[string]*time.Timer),
		done:   make(chan struct{}),
	}
}

// Enqueue makes a job available for dispatch.
func (m *Memory) Enqueue(ctx context.Context, job *Job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	job.Receipt = uuid.NewString()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	select {
	case m.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

// Dequeue blocks until a job is available or the queue is closed.
func (m *Memory) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case job := <-m.jobs:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		// Drain remaining jobs before reporting closed, so a shutdown
		// does not silently drop work that is already buffered.
		select {
		case job := <-m.jobs:
			return job, nil
		default:
			return nil, ErrClosed
		}
	}
}

// Requeue makes a leased job visible again after delay.
func (m *Memory) Requeue(ctx context.Context, job *Job, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	receipt := job.Receipt
	m.timers[receipt] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.timers, receipt)
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		select {
		case m.jobs <- job:
		case <-m.done:
		}
	})

	return nil
}

// Ack removes a leased job. For the memory queue a dequeued job is
// already out of the channel, so ack is bookkeeping only.
func (m *Memory) Ack(ctx context.Context, job *Job) error {
	return nil
}

// Close shuts the queue down. Blocked Dequeue calls return ErrClosed
// once buffered jobs are drained; pending requeue timers are stopped.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for receipt, t := range m.timers {
		t.Stop()
		delete(m.timers, receipt)
	}
	close(m.done)
	if m.logger != nil {
		m.logger.Info("memory queue closed", zap.Int("buffered", len(m.jobs)))
	}
}

// Len returns the number of currently visible jobs.
func (m *Memory) Len() int {
	return len(m.jobs)
}
