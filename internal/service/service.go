// Package service implements the notification facade: the only
// component the API boundary talks to. It enforces the data-model
// invariants before touching the store or the delivery queue.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/queue"
	"github.com/heraldhq/herald/internal/store"
)

// Store is the repository surface the service depends on.
type Store interface {
	Save(ctx context.Context, n *store.Notification) error
	FindByUser(ctx context.Context, userID int64) ([]*store.Notification, error)
	FindAll(ctx context.Context) ([]*store.Notification, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	UnreadCount(ctx context.Context, userID int64) (int64, error)
	DeleteByID(ctx context.Context, userID, id int64) error
	UserExists(ctx context.Context, userID int64) (bool, error)
	ListUsers(ctx context.Context) ([]*store.User, error)
}

// Service is the notification facade.
type Service struct {
	store  Store
	queue  queue.Queue
	logger *zap.Logger
}

// New creates the notification service.
func New(st Store, q queue.Queue, logger *zap.Logger) *Service {
	return &Service{
		store:  st,
		queue:  q,
		logger: logger,
	}
}

// Create validates the request, persists the notification in
// unread/pending state, and enqueues its delivery job. It returns the
// new notification's id without waiting for delivery.
func (s *Service) Create(ctx context.Context, recipientID int64, title, message string, channel store.Channel) (int64, error) {
	if recipientID <= 0 {
		return 0, fmt.Errorf("%w: recipient id must be a positive integer", ErrInvalidInput)
	}
	if strings.TrimSpace(title) == "" {
		return 0, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(message) == "" {
		return 0, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	if !channel.Valid() {
		return 0, fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, channel)
	}

	// The validation middleware already checked shape; referential
	// validity is ours.
	exists, err := s.store.UserExists(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !exists {
		return 0, fmt.Errorf("%w: recipient %d does not exist", ErrInvalidInput, recipientID)
	}

	n := &store.Notification{
		RecipientID:   recipientID,
		Title:         title,
		Message:       message,
		Channel:       channel,
		ReadState:     store.ReadStateUnread,
		DeliveryState: store.DeliveryPending,
	}

	if err := s.store.Save(ctx, n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	job := &queue.Job{
		NotificationID: n.ID,
		Channel:        n.Channel,
		EnqueuedAt:     n.CreatedAt,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		// The notification exists but will not dispatch until the
		// queue recovers; surface the failure to the caller.
		s.logger.Error("failed to enqueue delivery job",
			zap.Error(err),
			zap.Int64("notification_id", n.ID),
		)
		return 0, fmt.Errorf("enqueue delivery job: %w", err)
	}

	metrics.RecordNotificationCreated(string(channel))
	s.logger.Info("notification created",
		zap.Int64("notification_id", n.ID),
		zap.Int64("recipient_id", recipientID),
		zap.String("channel", string(channel)),
	)

	return n.ID, nil
}

// ListAll returns every notification system-wide, newest first.
func (s *Service) ListAll(ctx context.Context) ([]*store.Notification, error) {
	notifications, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return notifications, nil
}

// ListForUser returns only that user's notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]*store.Notification, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be a positive integer", ErrInvalidInput)
	}
	notifications, err := s.store.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return notifications, nil
}

// MarkAllRead transitions every unread notification owned by userID to
// read and returns the number updated. Idempotent: a second call
// updates zero records.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("%w: user id must be a positive integer", ErrInvalidInput)
	}
	updated, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return updated, nil
}

// UnreadCount returns the number of unread notifications owned by
// userID.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("%w: user id must be a positive integer", ErrInvalidInput)
	}
	count, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// Delete removes a notification owned by userID. A missing id and an
// id owned by someone else both return ErrNotFound.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if userID <= 0 || id <= 0 {
		return fmt.Errorf("%w: ids must be positive integers", ErrInvalidInput)
	}
	err := s.store.DeleteByID(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ListUsers returns the user directory.
func (s *Service) ListUsers(ctx context.Context) ([]*store.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return users, nil
}
