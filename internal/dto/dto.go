package dto

import (
	"paypal-billing-service/internal/model"
	"time"

	"github.com/shopspring/decimal"
)

// ProcessResult is the outcome of one webhook delivery.
type ProcessResult struct {
	Success          bool               `json:"success"`
	WebhookID        string             `json:"webhookId"`
	EventType        string             `json:"eventType,omitempty"`
	IsDuplicate      bool               `json:"duplicate,omitempty"`
	Handled          bool               `json:"handled"`
	ProcessingTimeMs int64              `json:"processingTime"`
	Performance      *PerformanceReport `json:"performance,omitempty"`
	QueuedForRetry   bool               `json:"queuedForRetry,omitempty"`
	DeadLettered     bool               `json:"deadLettered,omitempty"`
	Error            string             `json:"error,omitempty"`
	Result           any                `json:"result,omitempty"`
}

const (
	PerformanceOK       = "ok"
	PerformanceWarning  = "warning"
	PerformanceCritical = "critical"
)

type PerformanceReport struct {
	ProcessingTimeMs int64   `json:"processingTimeMs"`
	TargetMs         int64   `json:"targetMs"`
	PercentOfTarget  float64 `json:"percentOfTarget"`
	WithinTarget     bool    `json:"withinTarget"`
	Level            string  `json:"level"`
}

// HandlerOutcome summarises what an event handler changed.
type HandlerOutcome struct {
	Action         string `json:"action"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Status         string `json:"status,omitempty"`
	CustomerID     string `json:"customerId,omitempty"`
}

type QueueResult struct {
	Queued      bool       `json:"queued"`
	WebhookID   string     `json:"webhookId"`
	RetryCount  int        `json:"retryCount"`
	DelayMs     int64      `json:"delayMs,omitempty"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

type RetryStats struct {
	TotalPending   int         `json:"totalPending"`
	ByRetryCount   map[int]int `json:"byRetryCount"`
	OldestRetry    *time.Time  `json:"oldestRetry"`
	NewestRetry    *time.Time  `json:"newestRetry"`
	AverageRetries float64     `json:"averageRetries"`
	DeadLetters    int         `json:"deadLetters"`
}

type SubscriptionMetrics struct {
	SubscriptionID     string         `json:"subscriptionId"`
	CurrentStatus      string         `json:"currentStatus"`
	StatusCounts       map[string]int `json:"statusCounts"`
	TotalStatusChanges int            `json:"totalStatusChanges"`
	DaysActive         int            `json:"daysActive"`
	CreatedAt          time.Time      `json:"createdAt"`
	LastUpdated        time.Time      `json:"lastUpdated"`
}

type StatusSummary struct {
	Total     int64            `json:"total"`
	ByStatus  map[string]int64 `json:"byStatus"`
	Timestamp time.Time        `json:"timestamp"`
}

type SyncResult struct {
	SubscriptionID string    `json:"subscriptionId"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus"`
	Changed        bool      `json:"changed"`
	Synced         bool      `json:"synced"`
	SyncTime       time.Time `json:"syncTime"`
}

type TimelineEntry struct {
	Status    string               `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
	Reason    string               `json:"reason"`
	Details   model.StatusMetadata `json:"details"`
}

type Plan struct {
	Key           string          `json:"key"`
	PlanID        string          `json:"planId"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	Interval      string          `json:"interval"`
	IntervalCount int             `json:"intervalCount"`
	Features      []string        `json:"features"`
}

type CustomerInfo struct {
	Email     string `json:"email" validate:"omitempty,email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	ReturnURL string `json:"returnUrl" validate:"omitempty,url"`
	CancelURL string `json:"cancelUrl" validate:"omitempty,url"`
}

type CreateSubscriptionRequest struct {
	PlanKey    string       `json:"planKey" validate:"required,oneof=SOLO_PRO PROFESSIONAL ENTERPRISE"`
	CustomerID string       `json:"customerId"`
	Customer   CustomerInfo `json:"customer"`
}

type CreateSubscriptionResponse struct {
	SubscriptionID string    `json:"subscriptionId"`
	Status         string    `json:"status"`
	PlanKey        string    `json:"planKey"`
	CustomerID     string    `json:"customerId,omitempty"`
	ApprovalURL    string    `json:"approvalUrl"`
	CreatedAt      time.Time `json:"createdAt"`
}

type CancelSubscriptionRequest struct {
	Reason string `json:"reason" validate:"max=128"`
}

type CancelSubscriptionResponse struct {
	SubscriptionID string    `json:"subscriptionId"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason"`
	CancelledAt    time.Time `json:"cancelledAt"`
}

type UpdateSubscriptionRequest struct {
	PlanKey string `json:"planKey" validate:"required,oneof=SOLO_PRO PROFESSIONAL ENTERPRISE"`
}

type UpdateSubscriptionResponse struct {
	SubscriptionID string          `json:"subscriptionId"`
	NewPlanKey     string          `json:"newPlanKey"`
	NewPrice       decimal.Decimal `json:"newPrice"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type ListSubscriptionsRequest struct {
	PlanKey  string `query:"planKey"`
	Status   string `query:"status"`
	PageSize int    `query:"pageSize" validate:"omitempty,min=1,max=20"`
	Page     int    `query:"page" validate:"omitempty,min=1"`
}

type SubscriptionSummary struct {
	SubscriptionID string `json:"subscriptionId"`
	Status         string `json:"status"`
	PlanID         string `json:"planId"`
	CreatedAt      string `json:"createdAt,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

type ListSubscriptionsResponse struct {
	Subscriptions []SubscriptionSummary `json:"subscriptions"`
	Total         int                   `json:"total"`
	Pages         int                   `json:"pages"`
}

type CreateCustomerRequest struct {
	SubscriptionID   string `json:"subscriptionId" validate:"required"`
	PaypalCustomerID string `json:"paypalCustomerId"`
	PlanID           string `json:"planId"`
}

type CustomerUpdates struct {
	Email     string `json:"email" validate:"omitempty,email"`
	FirstName string `json:"firstName" validate:"max=128"`
	LastName  string `json:"lastName" validate:"max=128"`
	Phone     string `json:"phone" validate:"omitempty,e164"`
	Company   string `json:"company" validate:"max=255"`
}

type LinkCustomerRequest struct {
	PaypalCustomerID string `json:"paypalCustomerId" validate:"required"`
}

type UpdateCustomerStatusRequest struct {
	Status string `json:"status" validate:"required,max=32"`
}

type CustomerProfile struct {
	SubscriptionID string
	PlanID         string
	Email          string
	FirstName      string
	LastName       string
}

type ListCustomersResponse struct {
	Customers []*model.Customer `json:"customers"`
	Total     int64             `json:"total"`
}
