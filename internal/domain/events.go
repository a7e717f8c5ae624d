package domain

import (
	"time"

	"github.com/google/uuid"
)

// PayoutNotificationEvent is published to the message bus when a payout
// reaches a terminal state. The notification-service turns it into a push /
// SMS / WhatsApp message; delivery is fire-and-forget from our side.
type PayoutNotificationEvent struct {
	UserID          uuid.UUID `json:"user_id"`
	PayoutRequestID uuid.UUID `json:"payout_request_id"`
	EventType       string    `json:"event_type"` // 'payout.paid' or 'payout.failed'
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	ProviderCode    string    `json:"provider_code"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// AuditEvent is a structured append emitted after every state-changing
// operation. The audit-log service persists it; failure to publish never
// blocks payout processing.
type AuditEvent struct {
	Actor      string                 `json:"actor"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// ProviderStatusEvent is the message emitted by the gateway when a provider
// delivers a callback over AMQP instead of hitting our HTTP webhook directly.
// It carries the same payload as the HTTP path and feeds the same handler.
type ProviderStatusEvent struct {
	EventID      string    `json:"event_id"`
	ProviderCode string    `json:"provider_code"`
	ProviderTxID string    `json:"provider_tx_id"`
	Status       string    `json:"status"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
