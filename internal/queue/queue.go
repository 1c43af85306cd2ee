// Package queue provides the delivery queue holding pending dispatch
// jobs. Implementations guarantee at-least-once delivery: a job that is
// dequeued but never acked becomes visible again after its lease
// expires, and no two workers hold the same job at the same time.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/heraldhq/herald/internal/store"
)

// ErrClosed is returned by Dequeue once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Job is an ephemeral queue entry referencing a notification. It is
// created when the notification is created and removed once dispatch
// reaches a terminal outcome.
type Job struct {
	// Receipt identifies this delivery of the job to the queue that
	// produced it (lease token for the Postgres queue, receipt handle
	// for SQS). Opaque to the dispatch engine.
	Receipt        string        `json:"-"`
	NotificationID int64         `json:"notification_id"`
	Channel        store.Channel `json:"channel"`
	EnqueuedAt     time.Time     `json:"enqueued_at"`
}

// Queue is the delivery queue consumed by the dispatch engine.
type Queue interface {
	// Enqueue makes a job available for dispatch.
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue blocks until a job is available, the context is
	// cancelled, or the queue is closed (ErrClosed). The returned job
	// is leased exclusively to the caller until acked or requeued.
	Dequeue(ctx context.Context) (*Job, error)

	// Requeue releases a leased job back to the queue, making it
	// visible again after delay.
	Requeue(ctx context.Context, job *Job, delay time.Duration) error

	// Ack removes a leased job permanently.
	Ack(ctx context.Context, job *Job) error

	// Close shuts the queue down. Blocked Dequeue calls return
	// ErrClosed.
	Close()
}
