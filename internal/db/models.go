package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationLog is one delivery attempt outcome. Rows are append-only:
// the service inserts exactly one per dispatched request and never updates
// or deletes them. Admin reporting reads this table directly.
type NotificationLog struct {
	ID                uuid.UUID       `json:"id"`
	Type              string          `json:"type"`
	Title             string          `json:"title"`
	Message           string          `json:"message"`
	TargetType        string          `json:"target_type"`
	TargetValue       *string         `json:"target_value,omitempty"`
	Success           bool            `json:"success"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty"`
	RecipientCount    *int            `json:"recipient_count,omitempty"`
	ErrorMessage      *string         `json:"error_message,omitempty"`
	Data              json.RawMessage `json:"data,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Log type constants
const (
	LogTypeOneSignal  = "onesignal"
	LogTypeWebPush    = "webpush"
	LogTypeWonderPush = "wonderpush"
)

// PushSubscription mirrors a browser push subscription so the raw Web Push
// path can address a user without asking the provider. At most one active
// subscription per user: re-subscription replaces the prior handle.
type PushSubscription struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
