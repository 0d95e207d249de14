package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueueItem is a durable intent to notify one user. Items are created by
// producers, mutated only by the dispatch worker, and kept for audit.
type QueueItem struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Priority     int             `json:"priority"`
	Status       QueueStatus     `json:"status"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Type         string          `json:"type"`
	Category     string          `json:"category"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	ActionRef    *string         `json:"action_ref,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
}

// QueueStatus is the closed set of queue item states.
//
// Transitions:
//
//	pending    -> processing  (claim)
//	processing -> completed   (finalize)
//	processing -> failed      (finalize with error)
//	processing -> pending     (quiet-hour deferral, advances scheduled_for)
//	processing -> pending     (stale reclaim after a worker crash)
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// Valid reports whether s is a member of the closed status set.
func (s QueueStatus) Valid() bool {
	switch s {
	case QueuePending, QueueProcessing, QueueCompleted, QueueFailed:
		return true
	}
	return false
}

// Channel is a delivery channel for a notification.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Channels lists every delivery channel, in_app first.
var Channels = []Channel{ChannelInApp, ChannelPush, ChannelEmail, ChannelSMS}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelPush, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// DeliveryStatus is the closed set of delivery log states. The worker only
// ever writes pending (or delivered, for in_app); transport providers flip
// pending rows to sent/delivered/failed asynchronously.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Notification is the durable in-app record shown to the user. Created
// exactly once per successfully dequeued QueueItem; only the UI mutates it
// afterwards (mark-as-read).
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      string          `json:"type"`
	Category  string          `json:"category"`
	Priority  int             `json:"priority"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	ActionRef *string         `json:"action_ref,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"`
}

// DeliveryLogEntry is one delivery attempt for one (notification, channel)
// pair. Rows with status=pending are the contract handed to external
// transport providers.
type DeliveryLogEntry struct {
	ID             uuid.UUID      `json:"id"`
	NotificationID uuid.UUID      `json:"notification_id"`
	UserID         uuid.UUID      `json:"user_id"`
	Channel        Channel        `json:"channel"`
	Status         DeliveryStatus `json:"status"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Preference holds a user's channel enablement and quiet-hours window.
// Owned by the settings subsystem; read-only here. Quiet hours are local
// wall-clock times ("HH:MM") in the user's timezone, no date component.
type Preference struct {
	UserID          uuid.UUID `json:"user_id"`
	InAppEnabled    bool      `json:"in_app_enabled"`
	PushEnabled     bool      `json:"push_enabled"`
	EmailEnabled    bool      `json:"email_enabled"`
	SMSEnabled      bool      `json:"sms_enabled"`
	QuietHoursStart *string   `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *string   `json:"quiet_hours_end,omitempty"`
	Timezone        string    `json:"timezone"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultPreference is the behavior for users with no stored row: every
// channel enabled, no quiet hours.
func DefaultPreference(userID uuid.UUID) *Preference {
	return &Preference{
		UserID:       userID,
		InAppEnabled: true,
		PushEnabled:  true,
		EmailEnabled: true,
		SMSEnabled:   true,
		Timezone:     "UTC",
	}
}

// ChannelEnabled reports whether the given channel is enabled for this user.
func (p *Preference) ChannelEnabled(c Channel) bool {
	switch c {
	case ChannelInApp:
		return p.InAppEnabled
	case ChannelPush:
		return p.PushEnabled
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelSMS:
		return p.SMSEnabled
	}
	return false
}

// StatusCounts is the per-status breakdown of queue items in a window.
type StatusCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// ChannelStats is the per-channel delivery outcome breakdown in a window.
type ChannelStats struct {
	Channel   Channel `json:"channel"`
	Pending   int     `json:"pending"`
	Sent      int     `json:"sent"`
	Delivered int     `json:"delivered"`
	Failed    int     `json:"failed"`
}
