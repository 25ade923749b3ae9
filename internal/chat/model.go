package chat

import (
	"time"

	"github.com/samber/lo"
)

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

func (s Status) Valid() bool {
	return s.rank() >= 0
}

// CanAdvanceTo reports whether moving from s to next keeps the status
// monotonic (sent -> delivered -> read). Staying put is allowed.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.Valid() && next.rank() >= s.rank()
}

type Message struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Image      string    `json:"image,omitempty"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Notification struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"senderId,omitempty"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Image      string    `json:"image,omitempty"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
	// SourceRef is the fan-out delivery id a consumer-written notification
	// came from. It makes redelivery idempotent.
	SourceRef string `json:"-"`
}

const (
	notificationText  = "sent a message"
	notificationPhoto = "sent a photo"
)

// NotificationContent is the text shown for a new message.
func NotificationContent(hasAttachment bool) string {
	return lo.Ternary(hasAttachment, notificationPhoto, notificationText)
}

// Conversation summarises the exchange between a user and one partner.
type Conversation struct {
	PartnerID            string    `json:"partnerId"`
	LastMessageTimestamp time.Time `json:"lastMessageTimestamp"`
	MessageCount         int       `json:"messageCount"`
}

// MessageFilter selects the messages exchanged between two users, in
// either direction.
type MessageFilter struct {
	UserA string
	UserB string
}

// Page is an offset window over a newest-first listing.
type Page struct {
	Skip  int
	Limit int
}

// ---------------------------------------------
// Delivery Models
// ---------------------------------------------

// Envelope is what goes over the fan-out channel when the receiver is not
// connected here. It has no id; the consumer derives one from the delivery.
type Envelope struct {
	ReceiverID string    `json:"receiverId"`
	SenderID   string    `json:"senderId,omitempty"`
	Content    string    `json:"content"`
	Image      string    `json:"image,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Route string

const (
	RouteDirect  Route = "direct"
	RouteFanout  Route = "fanout"
	RouteDropped Route = "dropped"
)

// Receipt describes what happened to one send. DeliveryErr is informational:
// by the time a receipt exists the message and notification are persisted.
type Receipt struct {
	Message      *Message
	Notification *Notification
	Route        Route
	DeliveryErr  error
}
