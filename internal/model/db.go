package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	WebhookStatusProcessing = "PROCESSING"
	WebhookStatusProcessed  = "PROCESSED"
)

// WebhookEvent is the idempotency record for one provider event id. A row in
// PROCESSING state is a claim held by a processor until ClaimedAt+lease.
type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	Status      string `gorm:"size:16;index;not null"`
	ClaimedAt   time.Time
	ProcessedAt *time.Time
	ExpiresAt   *time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// StatusChange is an append-only subscription status transition.
type StatusChange struct {
	ID             uint                               `gorm:"primaryKey"`
	SubscriptionID string                             `gorm:"size:64;index;not null"`
	OldStatus      string                             `gorm:"size:32;not null"`
	NewStatus      string                             `gorm:"size:32;index;not null"`
	Metadata       datatypes.JSONType[StatusMetadata] `json:"metadata"`
	CreatedAt      time.Time                          `gorm:"index"`
}

type StatusMetadata struct {
	// OldStatus is only an input to tracking; the record keeps it in its own column.
	OldStatus string `json:"-"`

	Reason     string           `json:"reason,omitempty"`
	Source     string           `json:"source,omitempty"`
	WebhookID  string           `json:"webhookId,omitempty"`
	EventType  string           `json:"eventType,omitempty"`
	PaymentID  string           `json:"paymentId,omitempty"`
	RefundID   string           `json:"refundId,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Currency   string           `json:"currency,omitempty"`
	EventTime  *time.Time       `json:"eventTime,omitempty"`
	OutOfOrder bool             `json:"outOfOrder,omitempty"`
	Details    map[string]any   `json:"details,omitempty"`
}

// SubscriptionCache is the latest known status of a subscription.
type SubscriptionCache struct {
	SubscriptionID string     `gorm:"primaryKey;size:64;not null"`
	Status         string     `gorm:"size:32;index;not null"`
	LastEventAt    *time.Time
	PaypalData     datatypes.JSON
	UpdatedAt      time.Time
}

type Customer struct {
	ID                   string `gorm:"primaryKey;size:64;not null"` // cust_<uuid>
	PaypalCustomerID     string `gorm:"size:64;uniqueIndex;not null"` // paypal payer id
	PaypalSubscriptionID string `gorm:"size:64;index"`
	PlanID               string `gorm:"size:64"`
	Status               string `gorm:"size:32;index;not null"`
	Email                string `gorm:"size:255"`
	FirstName            string `gorm:"size:128"`
	LastName             string `gorm:"size:128"`
	Phone                string `gorm:"size:32"`
	Company              string `gorm:"size:255"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type RetryAttempt struct {
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error"`
	RetryCount int       `json:"retryCount"`
}

// WebhookRetry is a failed webhook waiting for its next attempt.
type WebhookRetry struct {
	WebhookID   string                               `gorm:"primaryKey;size:128;not null"`
	EventType   string                               `gorm:"size:64;index"`
	Webhook     datatypes.JSON                       `gorm:"not null"`
	RetryCount  int                                  `gorm:"not null"`
	ScheduledAt time.Time                            `gorm:"index;not null"`
	DelayMs     int64                                `gorm:"not null"`
	LastError   string                               `gorm:"type:text"`
	Attempts    datatypes.JSONType[[]RetryAttempt]
	CreatedAt   time.Time                            `gorm:"index"`
	UpdatedAt   time.Time
}

// WebhookDeadLetter keeps a webhook that exhausted its retries.
type WebhookDeadLetter struct {
	ID         string                             `gorm:"primaryKey;size:64;not null"`
	WebhookID  string                             `gorm:"size:128;index;not null"`
	EventType  string                             `gorm:"size:64;index"`
	Webhook    datatypes.JSON                     `gorm:"not null"`
	RetryCount int                                `gorm:"not null"`
	LastError  string                             `gorm:"type:text"`
	Attempts   datatypes.JSONType[[]RetryAttempt]
	FailedAt   time.Time                          `gorm:"index;not null"`
	ReplayedAt *time.Time
}

func AllModels() []any {
	return []any{
		&WebhookEvent{},
		&StatusChange{},
		&SubscriptionCache{},
		&Customer{},
		&WebhookRetry{},
		&WebhookDeadLetter{},
	}
}
