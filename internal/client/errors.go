package client

import (
	"fmt"
	"net/http"
	"strings"
)

// AuthenticationError means the client-credentials exchange failed.
type AuthenticationError struct {
	StatusCode int
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("paypal authentication failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("paypal authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

type ErrorDetail struct {
	Field       string `json:"field,omitempty"`
	Issue       string `json:"issue,omitempty"`
	Description string `json:"description,omitempty"`
}

// RemoteServiceError is a non-2xx answer (or transport failure) from the PayPal REST API.
type RemoteServiceError struct {
	StatusCode int
	Name       string
	Message    string
	DebugID    string
	Details    []ErrorDetail
	Err        error
}

func (e *RemoteServiceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "paypal error %d", e.StatusCode)
	if e.Name != "" {
		fmt.Fprintf(&b, " %s", e.Name)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.DebugID != "" {
		fmt.Fprintf(&b, " (debug_id=%s)", e.DebugID)
	}
	return b.String()
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later.
func (e *RemoteServiceError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// paypalErrorBody covers both the REST error shape and the OAuth one.
type paypalErrorBody struct {
	Name             string        `json:"name"`
	Message          string        `json:"message"`
	DebugID          string        `json:"debug_id"`
	Details          []ErrorDetail `json:"details"`
	Error            string        `json:"error"`
	ErrorDescription string        `json:"error_description"`
}
