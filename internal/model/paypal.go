package model

import (
	"bytes"
	"encoding/json"
	"regexp"
	"time"
)

const (
	EventSubscriptionCreated   = "BILLING.SUBSCRIPTION.CREATED"
	EventSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	EventSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	EventSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	EventSubscriptionUpdated   = "BILLING.SUBSCRIPTION.UPDATED"
	EventPaymentCompleted      = "PAYMENT.CAPTURE.COMPLETED"
	EventPaymentDenied         = "PAYMENT.CAPTURE.DENIED"
	EventPaymentRefunded       = "PAYMENT.CAPTURE.REFUNDED"
	EventPaymentReversed       = "PAYMENT.CAPTURE.REVERSED"
)

const (
	StatusUnknown         = "UNKNOWN"
	StatusCreated         = "CREATED"
	StatusApprovalPending = "APPROVAL_PENDING"
	StatusActive          = "ACTIVE"
	StatusCancelled       = "CANCELLED"
	StatusSuspended       = "SUSPENDED"
	StatusUpdated         = "UPDATED"
	StatusPaymentReceived = "PAYMENT_RECEIVED"
	StatusPaymentFailed   = "PAYMENT_FAILED"
	StatusRefunded        = "REFUNDED"
	StatusReversed        = "REVERSED"
)

type PaypalLink struct {
	Rel    string `json:"rel"`
	Href   string `json:"href"`
	Method string `json:"method,omitempty"`
}

type Amount struct {
	Currency string `json:"currency_code"`
	Value    string `json:"value"`
}

type RelatedIDs struct {
	OrderID        string `json:"order_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

type SupplementaryData struct {
	RelatedIDs RelatedIDs `json:"related_ids"`
}

// PayPalWebhookEvent is the notification envelope. Resource stays raw until a
// handler decodes the view it needs.
type PayPalWebhookEvent struct {
	ID           string          `json:"id" validate:"required"`
	EventType    string          `json:"event_type" validate:"required"`
	EventVersion string          `json:"event_version,omitempty"`
	CreateTime   string          `json:"create_time,omitempty"`
	ResourceType string          `json:"resource_type,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	Resource     json.RawMessage `json:"resource"`
}

func (e *PayPalWebhookEvent) HasResource() bool {
	trimmed := bytes.TrimSpace(e.Resource)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// OccurredAt parses create_time. ok is false when the field is absent or invalid.
func (e *PayPalWebhookEvent) OccurredAt() (time.Time, bool) {
	if e.CreateTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, e.CreateTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type SubscriberName struct {
	GivenName string `json:"given_name,omitempty"`
	Surname   string `json:"surname,omitempty"`
}

type Subscriber struct {
	PayerID      string         `json:"payer_id,omitempty"`
	EmailAddress string         `json:"email_address,omitempty"`
	Name         SubscriberName `json:"name"`
}

// PaypalSubscription is both the BILLING.SUBSCRIPTION.* resource and the
// /v1/billing/subscriptions response body.
type PaypalSubscription struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	PlanID           string          `json:"plan_id,omitempty"`
	StatusUpdateNote string          `json:"status_update_note,omitempty"`
	StartTime        string          `json:"start_time,omitempty"`
	CreateTime       string          `json:"create_time,omitempty"`
	UpdateTime       string          `json:"update_time,omitempty"`
	Subscriber       Subscriber      `json:"subscriber"`
	BillingInfo      json.RawMessage `json:"billing_info,omitempty"`
	Links            []PaypalLink    `json:"links,omitempty"`
}

type PaypalSubscriptionList struct {
	Subscriptions []PaypalSubscription `json:"subscriptions"`
	TotalItems    int                  `json:"total_items"`
	TotalPages    int                  `json:"total_pages"`
	Links         []PaypalLink         `json:"links,omitempty"`
}

type StatusDetails struct {
	Reason string `json:"reason"`
}

// CaptureResource is the PAYMENT.CAPTURE.* resource.
type CaptureResource struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Amount             Amount            `json:"amount"`
	BillingAgreementID string            `json:"billing_agreement_id,omitempty"`
	CustomID           string            `json:"custom_id,omitempty"`
	SupplementaryData  SupplementaryData `json:"supplementary_data"`
	StatusDetails      *StatusDetails    `json:"status_details,omitempty"`
	Links              []PaypalLink      `json:"links,omitempty"`
}

var subscriptionHrefPattern = regexp.MustCompile(`subscriptions/([^/?]+)`)

// SubscriptionID resolves the billing subscription a capture belongs to.
// Refunds only carry it inside their links.
func (c *CaptureResource) SubscriptionID() string {
	if id := c.SupplementaryData.RelatedIDs.SubscriptionID; id != "" {
		return id
	}
	if c.BillingAgreementID != "" {
		return c.BillingAgreementID
	}
	for _, link := range c.Links {
		if m := subscriptionHrefPattern.FindStringSubmatch(link.Href); m != nil {
			return m[1]
		}
	}
	return ""
}

type PaypalPlan struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Status        string          `json:"status"`
	BillingCycles json.RawMessage `json:"billing_cycles,omitempty"`
	CreateTime    string          `json:"create_time,omitempty"`
	Links         []PaypalLink    `json:"links,omitempty"`
}
