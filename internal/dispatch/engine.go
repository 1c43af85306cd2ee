// Package dispatch runs the worker pool that drains the delivery queue
// and pushes notifications through their channel adapters.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/adapter"
	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/queue"
	"github.com/heraldhq/herald/internal/store"
)

// Repository is the slice of the store the engine needs.
type Repository interface {
	FindByID(ctx context.Context, id int64) (*store.Notification, error)
	UpdateDeliveryState(ctx context.Context, id int64, state store.DeliveryState, attempts int, lastError *string) error
}

// Config tunes the dispatch engine.
type Config struct {
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Engine pulls jobs from the delivery queue and dispatches them. It is
// stateless: everything durable lives in the store and the queue, so
// any number of engine instances can share one queue.
type Engine struct {
	repo     Repository
	queue    queue.Queue
	registry *adapter.Registry
	config   Config
	logger   *zap.Logger

	wg sync.WaitGroup
}

// New creates a dispatch engine.
func New(repo Repository, q queue.Queue, registry *adapter.Registry, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 15 * time.Minute
	}

	return &Engine{
		repo:     repo,
		queue:    q,
		registry: registry,
		config:   cfg,
		logger:   logger,
	}
}

// Start launches the worker pool. Workers stop pulling new jobs when
// ctx is cancelled; in-flight attempts run to completion before Start's
// companion Wait returns.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("dispatch engine starting",
		zap.Int("workers", e.config.Workers),
		zap.Int("max_attempts", e.config.MaxAttempts),
	)

	for i := 0; i < e.config.Workers; i++ {
		e.wg.Add(1)
		go func(id int) {
			defer e.wg.Done()
			e.runWorker(ctx, id)
		}(i)
	}
}

// Wait blocks until every worker has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
	e.logger.Info("dispatch engine stopped")
}

// dequeueRetryBase and dequeueRetryMax pace the worker loop when the
// queue itself is failing, so an outage does not turn workers into a
// busy loop against the down backend.
const (
	dequeueRetryBase = time.Second
	dequeueRetryMax  = 30 * time.Second
)

func (e *Engine) runWorker(ctx context.Context, id int) {
	log := e.logger.With(zap.Int("worker", id))

	consecutiveErrs := 0
	for {
		job, err := e.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				log.Info("worker stopping")
				return
			}
			consecutiveErrs++
			delay := Backoff(dequeueRetryBase, dequeueRetryMax, consecutiveErrs)
			log.Error("dequeue failed", zap.Error(err),
				zap.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				log.Info("worker stopping")
				return
			case <-time.After(delay):
			}
			continue
		}
		consecutiveErrs = 0

		// Detach from the pool context so an in-flight attempt can
		// finish during shutdown.
		e.processJob(context.WithoutCancel(ctx), log, job)
	}
}

func (e *Engine) processJob(ctx context.Context, log *zap.Logger, job *queue.Job) {
	start := time.Now()

	n, err := e.repo.FindByID(ctx, job.NotificationID)
	if errors.Is(err, store.ErrNotFound) {
		// The owner deleted the notification while the job was queued.
		log.Info("notification gone, dropping job",
			zap.Int64("notification_id", job.NotificationID))
		e.ack(ctx, log, job)
		return
	}
	if err != nil {
		// Store unavailable: the failure may be transient, back off.
		log.Error("failed to load notification", zap.Error(err),
			zap.Int64("notification_id", job.NotificationID))
		e.requeue(ctx, log, job, Backoff(e.config.BaseBackoff, e.config.MaxBackoff, 1))
		return
	}

	if n.DeliveryState.Terminal() {
		// Redelivered job for an already-settled notification
		// (at-least-once duplicate). Never fan out twice.
		e.ack(ctx, log, job)
		return
	}

	ad, ok := e.registry.Resolve(n.Channel)
	if !ok {
		e.settle(ctx, log, job, n, store.DeliveryAbandoned, n.DeliveryAttempts,
			strptr("no adapter registered for channel "+string(n.Channel)))
		return
	}

	err = ad.Send(ctx, n)
	attempts := n.DeliveryAttempts + 1

	switch {
	case err == nil:
		e.settle(ctx, log, job, n, store.DeliveryDelivered, attempts, nil)
		metrics.RecordDispatchAttempt(string(n.Channel), "delivered")
		metrics.RecordDispatchLatency(string(n.Channel), time.Since(job.EnqueuedAt))
		log.Info("notification delivered",
			zap.Int64("notification_id", n.ID),
			zap.String("channel", string(n.Channel)),
			zap.Int("attempts", attempts),
			zap.Duration("took", time.Since(start)),
		)

	case adapter.IsPermanent(err):
		e.settle(ctx, log, job, n, store.DeliveryAbandoned, attempts, strptr(err.Error()))
		metrics.RecordDispatchAttempt(string(n.Channel), "abandoned")
		log.Warn("notification abandoned, permanent failure",
			zap.Int64("notification_id", n.ID),
			zap.String("channel", string(n.Channel)),
			zap.Error(err),
		)

	case attempts >= e.config.MaxAttempts:
		e.settle(ctx, log, job, n, store.DeliveryAbandoned, attempts, strptr(err.Error()))
		metrics.RecordDispatchAttempt(string(n.Channel), "abandoned")
		log.Warn("notification abandoned, attempts exhausted",
			zap.Int64("notification_id", n.ID),
			zap.String("channel", string(n.Channel)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)

	default:
		delay := Backoff(e.config.BaseBackoff, e.config.MaxBackoff, attempts)
		if uerr := e.repo.UpdateDeliveryState(ctx, n.ID, store.DeliveryFailed, attempts, strptr(err.Error())); uerr != nil {
			log.Error("failed to record attempt", zap.Error(uerr),
				zap.Int64("notification_id", n.ID))
		}
		e.requeue(ctx, log, job, delay)
		metrics.RecordDispatchAttempt(string(n.Channel), "retried")
		log.Info("delivery failed, retrying",
			zap.Int64("notification_id", n.ID),
			zap.String("channel", string(n.Channel)),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
	}
}

// settle writes a terminal-or-final state and acks the job.
func (e *Engine) settle(ctx context.Context, log *zap.Logger, job *queue.Job, n *store.Notification, state store.DeliveryState, attempts int, lastError *string) {
	if err := e.repo.UpdateDeliveryState(ctx, n.ID, state, attempts, lastError); err != nil && !errors.Is(err, store.ErrNotFound) {
		// Keep the job: the outcome is not durably recorded yet, and a
		// redelivery will observe the store state and re-settle.
		log.Error("failed to record delivery state", zap.Error(err),
			zap.Int64("notification_id", n.ID),
			zap.String("state", string(state)))
		e.requeue(ctx, log, job, Backoff(e.config.BaseBackoff, e.config.MaxBackoff, 1))
		return
	}
	e.ack(ctx, log, job)
}

func (e *Engine) ack(ctx context.Context, log *zap.Logger, job *queue.Job) {
	if err := e.queue.Ack(ctx, job); err != nil {
		log.Error("failed to ack job", zap.Error(err),
			zap.Int64("notification_id", job.NotificationID))
	}
}

func (e *Engine) requeue(ctx context.Context, log *zap.Logger, job *queue.Job, delay time.Duration) {
	if err := e.queue.Requeue(ctx, job, delay); err != nil {
		// Leave the job leased; the queue redelivers it after the
		// lease expires (at-least-once, slower path).
		log.Error("failed to requeue job", zap.Error(err),
			zap.Int64("notification_id", job.NotificationID))
	}
}

func strptr(s string) *string { return &s }
