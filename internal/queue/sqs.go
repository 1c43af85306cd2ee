package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/store"
)

// SQSConfig holds SQS queue configuration.
type SQSConfig struct {
	Region   string
	QueueURL string
}

// sqsMessage is the wire form of a Job on SQS.
type sqsMessage struct {
	NotificationID int64         `json:"notification_id"`
	Channel        store.Channel `json:"channel"`
	EnqueuedAt     int64         `json:"enqueued_at"`
}

// SQS is a Queue backed by an AWS SQS queue. SQS's visibility timeout
// provides the lease: a received message is invisible to other workers
// until deleted (ack) or until its visibility is changed (requeue with
// backoff). Redelivery after a crash comes for free.
type SQS struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
	closed   chan struct{}
}

// NewSQS creates an SQS-backed delivery queue.
func NewSQS(ctx context.Context, cfg SQSConfig, logger *zap.Logger) (*SQS, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	logger.Info("sqs delivery queue initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &SQS{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
		closed:   make(chan struct{}),
	}, nil
}

// Enqueue sends the job to SQS.
func (q *SQS) Enqueue(ctx context.Context, job *Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	body, err := json.Marshal(sqsMessage{
		NotificationID: job.NotificationID,
		Channel:        job.Channel,
		EnqueuedAt:     job.EnqueuedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("marshal delivery job: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		q.logger.Error("failed to enqueue delivery job",
			zap.Error(err),
			zap.Int64("notification_id", job.NotificationID),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	return nil
}

// Dequeue long-polls SQS until a message arrives or the context ends.
func (q *SQS) Dequeue(ctx context.Context) (*Job, error) {
	for {
		select {
		case <-q.closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   60,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("sqs receive failed: %w", err)
		}
		if len(result.Messages) == 0 {
			continue
		}

		raw := result.Messages[0]

		var msg sqsMessage
		if err := json.Unmarshal([]byte(*raw.Body), &msg); err != nil {
			// Poison message: drop it rather than wedging the worker.
			q.logger.Error("dropping malformed delivery job", zap.Error(err))
			_ = q.deleteMessage(ctx, *raw.ReceiptHandle)
			continue
		}

		return &Job{
			Receipt:        *raw.ReceiptHandle,
			NotificationID: msg.NotificationID,
			Channel:        msg.Channel,
			EnqueuedAt:     time.Unix(0, msg.EnqueuedAt),
		}, nil
	}
}

// Requeue extends the message's invisibility so it redelivers after
// delay. SQS caps visibility at 12 hours; backoff delays are far below
// that.
func (q *SQS) Requeue(ctx context.Context, job *Job, delay time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(job.Receipt),
		VisibilityTimeout: int32(delay / time.Second),
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}

// Ack deletes the message from the queue.
func (q *SQS) Ack(ctx context.Context, job *Job) error {
	return q.deleteMessage(ctx, job.Receipt)
}

func (q *SQS) deleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// Close releases blocked Dequeue calls.
func (q *SQS) Close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}
