package service

import (
	"errors"
	"fmt"
)

var (
	ErrSignatureInvalid   = errors.New("invalid webhook signature")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrInvalidPlan        = errors.New("invalid plan")
	ErrRetryNotFound      = errors.New("retry not found")
	ErrDeadLetterNotFound = errors.New("dead letter not found")
)

// MalformedEventError means a verified body is not a usable event.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed webhook event: " + e.Reason
}

// HandlerError wraps a failure inside an event-type handler.
type HandlerError struct {
	EventID   string
	EventType string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle %s (%s): %v", e.EventType, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// RetryExhaustedError is raised when a webhook fails after its last retry.
type RetryExhaustedError struct {
	WebhookID  string
	RetryCount int
	Err        error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("webhook %s exhausted %d retries: %v", e.WebhookID, e.RetryCount, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
