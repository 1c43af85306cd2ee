// Package adapter contains the channel adapters that carry a single
// notification to its external provider (push, email, sms).
package adapter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/store"
)

// Adapter sends one notification through one delivery medium.
//
// A nil return means delivered. A *PermanentError means the
// notification can never be delivered (malformed recipient, no
// address on file) and must not be retried. Any other error is
// treated as transient and retried with backoff.
type Adapter interface {
	Send(ctx context.Context, n *store.Notification) error
	Channel() store.Channel
}

// Directory resolves a recipient's contact details. The store's
// repository satisfies it.
type Directory interface {
	GetUser(ctx context.Context, userID int64) (*store.User, error)
}

// PermanentError marks a delivery failure that retrying cannot fix.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent delivery failure: %s: %v", e.Reason, e.Err)
	}
	return "permanent delivery failure: " + e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError with the given reason.
func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

// IsPermanent reports whether err marks an unretryable failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Registry maps channels to their adapters. Lookup is by the channel
// enum, so dispatch never string-matches its way to a sender.
type Registry struct {
	adapters map[store.Channel]Adapter
}

// NewRegistry builds a registry from the given adapters. A later
// adapter for the same channel replaces an earlier one.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[store.Channel]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Channel()] = a
	}
	return &Registry{adapters: m}
}

// Resolve returns the adapter for ch, or false if no adapter is
// registered for that channel.
func (r *Registry) Resolve(ch store.Channel) (Adapter, bool) {
	a, ok := r.adapters[ch]
	return a, ok
}

// Channels lists the channels with a registered adapter.
func (r *Registry) Channels() []store.Channel {
	chs := make([]store.Channel, 0, len(r.adapters))
	for ch := range r.adapters {
		chs = append(chs, ch)
	}
	return chs
}

// Log is an adapter that only logs, used in development and tests. It
// can impersonate any channel.
type Log struct {
	channel store.Channel
	logger  *zap.Logger
}

// NewLog creates a logging adapter for the given channel.
func NewLog(channel store.Channel, logger *zap.Logger) *Log {
	return &Log{channel: channel, logger: logger}
}

func (l *Log) Send(ctx context.Context, n *store.Notification) error {
	l.logger.Info("delivering notification (development mode)",
		zap.Int64("id", n.ID),
		zap.String("channel", string(l.channel)),
		zap.Int64("recipient_id", n.RecipientID),
		zap.String("title", n.Title),
	)
	return nil
}

func (l *Log) Channel() store.Channel { return l.channel }
