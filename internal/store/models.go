package store

import (
	"time"
)

// Notification represents a notification in the database.
// The read axis (unread/read) and the delivery axis (pending/delivered/
// failed/abandoned) are independent: a failed delivery never hides the
// notification from the in-app list.
type Notification struct {
	ID               int64         `json:"id"`
	RecipientID      int64         `json:"recipient_id"`
	Title            string        `json:"title"`
	Message          string        `json:"message"`
	Channel          Channel       `json:"channel"`
	ReadState        ReadState     `json:"read_state"`
	DeliveryState    DeliveryState `json:"delivery_state"`
	DeliveryAttempts int           `json:"delivery_attempts"`
	LastError        *string       `json:"last_error,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Channel is a delivery medium.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// ReadState tracks per-user read status. Transitions are monotonic:
// unread -> read, never back.
type ReadState string

const (
	ReadStateUnread ReadState = "unread"
	ReadStateRead   ReadState = "read"
)

// DeliveryState tracks dispatch progress. Only the dispatch engine
// mutates it. delivered and abandoned are terminal.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
	DeliveryAbandoned DeliveryState = "abandoned"
)

// Terminal reports whether no further delivery attempts will occur.
func (s DeliveryState) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryAbandoned
}

// User is an entry in the user directory. Notification recipients are
// checked against it on create.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
