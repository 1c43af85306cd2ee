package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a record does not exist. The service
// layer also maps ownership mismatches onto it so that non-owners
// cannot probe for existence.
var ErrNotFound = errors.New("record not found")

// Repository handles database operations for notifications and users.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
	id, recipient_id, title, message, channel,
	read_state, delivery_state, delivery_attempts, last_error,
	created_at, updated_at
`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.Title,
		&n.Message,
		&n.Channel,
		&n.ReadState,
		&n.DeliveryState,
		&n.DeliveryAttempts,
		&n.LastError,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Save inserts a new notification and fills in its assigned id and
// timestamps.
func (r *Repository) Save(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (
			recipient_id, title, message, channel,
			read_state, delivery_state, delivery_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		n.RecipientID,
		n.Title,
		n.Message,
		n.Channel,
		n.ReadState,
		n.DeliveryState,
		n.DeliveryAttempts,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to save notification",
			zap.Error(err),
			zap.Int64("recipient_id", n.RecipientID),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Info("notification saved",
		zap.Int64("notification_id", n.ID),
		zap.Int64("recipient_id", n.RecipientID),
		zap.String("channel", string(n.Channel)),
	)

	return nil
}

// FindByID retrieves a notification by id.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// FindByUser retrieves all of one user's notifications, newest first.
// Within a colliding timestamp, lower ids come first (creation order).
func (r *Repository) FindByUser(ctx context.Context, userID int64) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

// FindAll retrieves every notification system-wide, newest first.
func (r *Repository) FindAll(ctx context.Context) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		ORDER BY created_at DESC, id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

func collectNotifications(rows pgx.Rows) ([]*Notification, error) {
	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return notifications, nil
}

// MarkAllRead transitions every unread notification owned by userID to
// read and returns the number of rows updated. The WHERE clause makes
// the operation idempotent and keeps the unread->read transition
// monotonic.
func (r *Repository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	query := `
		UPDATE notifications
		SET read_state = $1, updated_at = NOW()
		WHERE recipient_id = $2 AND read_state = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, ReadStateRead, userID, ReadStateUnread)
	if err != nil {
		r.logger.Error("failed to mark notifications read",
			zap.Error(err),
			zap.Int64("user_id", userID),
		)
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	return result.RowsAffected(), nil
}

// UnreadCount returns the number of unread notifications owned by userID.
func (r *Repository) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read_state = $2`

	var count int64
	if err := r.db.Pool().QueryRow(ctx, query, userID, ReadStateUnread).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// UpdateDeliveryState records a dispatch outcome. The guard on the
// current state prevents a late worker from overwriting a terminal
// outcome (lost-update protection on the delivery axis).
func (r *Repository) UpdateDeliveryState(
	ctx context.Context,
	id int64,
	state DeliveryState,
	attempts int,
	lastError *string,
) error {
	query := `
		UPDATE notifications
		SET delivery_state = $1, delivery_attempts = $2, last_error = $3, updated_at = NOW()
		WHERE id = $4 AND delivery_state NOT IN ($5, $6)
	`

	result, err := r.db.Pool().Exec(ctx, query,
		state, attempts, lastError, id, DeliveryDelivered, DeliveryAbandoned)
	if err != nil {
		r.logger.Error("failed to update delivery state",
			zap.Error(err),
			zap.Int64("notification_id", id),
			zap.String("state", string(state)),
		)
		return fmt.Errorf("update delivery state: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Either the row is gone (deleted by its owner) or another
		// worker already reached a terminal state.
		return ErrNotFound
	}

	return nil
}

// DeleteByID removes a notification if and only if it is owned by
// userID. A missing id and a foreign owner are indistinguishable to the
// caller: both return ErrNotFound.
func (r *Repository) DeleteByID(ctx context.Context, userID, id int64) error {
	query := `DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`

	result, err := r.db.Pool().Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("notification deleted",
		zap.Int64("notification_id", id),
		zap.Int64("user_id", userID),
	)

	return nil
}

// GetUser retrieves a user by id.
func (r *Repository) GetUser(ctx context.Context, userID int64) (*User, error) {
	var u User
	err := r.db.Pool().QueryRow(ctx,
		`SELECT id, name, email, COALESCE(phone, ''), created_at FROM users WHERE id = $1`,
		userID).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// UserExists reports whether a user with the given id exists.
func (r *Repository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

// ListUsers returns the user directory ordered by id.
func (r *Repository) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT id, name, email, COALESCE(phone, ''), created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return users, nil
}
