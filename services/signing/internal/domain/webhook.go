package domain

import "time"

// Event types produced by the engine.
const (
	EventSignatureCreated = "document.signature_created"
	EventCompleted        = "document.completed"
	EventLocked           = "document.locked"
	EventStatusChanged    = "document.status_changed"
)

type Webhook struct {
	ID                   string     `json:"id"`
	URL                  string     `json:"url"`
	Secret               string     `json:"-"`
	Events               []string   `json:"events"`
	Active               bool       `json:"active"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	LastTriggeredAt      *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Subscribed reports whether the webhook listens for eventType.
func (w Webhook) Subscribed(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

type WebhookEventStatus string

const (
	WebhookPending   WebhookEventStatus = "pending"
	WebhookDelivered WebhookEventStatus = "delivered"
	WebhookFailed    WebhookEventStatus = "failed"
	WebhookRetrying  WebhookEventStatus = "retrying"
)

func (s WebhookEventStatus) Terminal() bool {
	return s == WebhookDelivered || s == WebhookFailed
}

// WebhookEvent is one firing of one event type at one webhook.
type WebhookEvent struct {
	ID           string             `json:"id"`
	WebhookID    string             `json:"webhook_id"`
	EventType    string             `json:"event_type"`
	Payload      map[string]any     `json:"payload"`
	Status       WebhookEventStatus `json:"status"`
	AttemptCount int                `json:"attempt_count"`
	NextRetryAt  *time.Time         `json:"next_retry_at,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	DeliveredAt  *time.Time         `json:"delivered_at,omitempty"`
	// ClaimedUntil is a delivery lease so the worker pool and the retry
	// scheduler never send the same attempt twice.
	ClaimedUntil *time.Time `json:"-"`
	// Counted is set when the terminal outcome has been added to the
	// webhook's lifetime counters.
	Counted   bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookDeliveryLog is one HTTP attempt.
type WebhookDeliveryLog struct {
	ID           string        `json:"id"`
	EventID      string        `json:"event_id"`
	Attempt      int           `json:"attempt"`
	StatusCode   *int          `json:"status_code,omitempty"`
	ResponseBody string        `json:"response_body,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	CreatedAt    time.Time     `json:"created_at"`
}
