package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/store"
)

// Postgres is a durable Queue stored in the delivery_jobs table.
//
// Dequeue claims the oldest visible job with FOR UPDATE SKIP LOCKED and
// stamps it with a lease token, so no two workers ever hold the same
// job. A job whose lease expires without an ack or requeue becomes
// visible again, which is what makes delivery at-least-once across
// process crashes.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	pollInterval time.Duration
	leaseFor     time.Duration
	closed       chan struct{}
}

// PostgresConfig tunes the Postgres-backed queue.
type PostgresConfig struct {
	// PollInterval is how often an idle Dequeue re-checks for work.
	PollInterval time.Duration
	// Lease is how long a dequeued job stays invisible before it is
	// considered abandoned by a crashed worker and redelivered.
	Lease time.Duration
}

// NewPostgres creates a Postgres-backed delivery queue.
func NewPostgres(pool *pgxpool.Pool, cfg PostgresConfig, logger *zap.Logger) *Postgres {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Lease == 0 {
		cfg.Lease = 2 * time.Minute
	}
	return &Postgres{
		pool:         pool,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		leaseFor:     cfg.Lease,
		closed:       make(chan struct{}),
	}
}

// Enqueue inserts a job visible immediately.
func (q *Postgres) Enqueue(ctx context.Context, job *Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	_, err := q.pool.Exec(ctx, `
		INSERT INTO delivery_jobs (notification_id, channel, available_at, enqueued_at)
		VALUES ($1, $2, NOW(), $3)
	`, job.NotificationID, job.Channel, job.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("insert delivery job: %w", err)
	}

	q.logger.Debug("delivery job enqueued",
		zap.Int64("notification_id", job.NotificationID),
		zap.String("channel", string(job.Channel)),
	)
	return nil
}

// Dequeue blocks until a job is claimed, polling between attempts.
func (q *Postgres) Dequeue(ctx context.Context) (*Job, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		job, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closed:
			return nil, ErrClosed
		case <-ticker.C:
		}
	}
}

func (q *Postgres) claim(ctx context.Context) (*Job, error) {
	token := uuid.NewString()

	row := q.pool.QueryRow(ctx, `
		UPDATE delivery_jobs
		SET lease_token = $1, leased_until = NOW() + $2
		WHERE id = (
			SELECT id FROM delivery_jobs
			WHERE available_at <= NOW()
			  AND (lease_token IS NULL OR leased_until < NOW())
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, notification_id, channel, enqueued_at
	`, token, q.leaseFor)

	var rowID, notificationID int64
	var channel string
	var enqueuedAt time.Time
	err := row.Scan(&rowID, &notificationID, &channel, &enqueuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim delivery job: %w", err)
	}

	return &Job{
		Receipt:        receipt(rowID, token),
		NotificationID: notificationID,
		Channel:        store.Channel(channel),
		EnqueuedAt:     enqueuedAt,
	}, nil
}

// Requeue releases the lease and schedules the job after delay. A stale
// receipt (lease already expired and reclaimed) is a no-op: the job is
// owned by someone else now.
func (q *Postgres) Requeue(ctx context.Context, job *Job, delay time.Duration) error {
	rowID, token, err := parseReceipt(job.Receipt)
	if err != nil {
		return err
	}

	_, err = q.pool.Exec(ctx, `
		UPDATE delivery_jobs
		SET lease_token = NULL, leased_until = NULL, available_at = NOW() + $1
		WHERE id = $2 AND lease_token = $3
	`, delay, rowID, token)
	if err != nil {
		return fmt.Errorf("requeue delivery job: %w", err)
	}
	return nil
}

// Ack deletes the job. Only the current leaseholder's receipt matches.
func (q *Postgres) Ack(ctx context.Context, job *Job) error {
	rowID, token, err := parseReceipt(job.Receipt)
	if err != nil {
		return err
	}

	_, err = q.pool.Exec(ctx,
		`DELETE FROM delivery_jobs WHERE id = $1 AND lease_token = $2`, rowID, token)
	if err != nil {
		return fmt.Errorf("ack delivery job: %w", err)
	}
	return nil
}

// Close releases blocked Dequeue calls. Leased jobs that were in flight
// simply expire and get redelivered on the next start.
func (q *Postgres) Close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}

// Depth returns the number of jobs currently visible for dispatch.
func (q *Postgres) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM delivery_jobs
		WHERE available_at <= NOW()
		  AND (lease_token IS NULL OR leased_until < NOW())
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func receipt(rowID int64, token string) string {
	return strconv.FormatInt(rowID, 10) + ":" + token
}

func parseReceipt(r string) (int64, string, error) {
	rowID, token, ok := strings.Cut(r, ":")
	if !ok {
		return 0, "", fmt.Errorf("malformed receipt: %q", r)
	}
	id, err := strconv.ParseInt(rowID, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed receipt: %q", r)
	}
	return id, token, nil
}
