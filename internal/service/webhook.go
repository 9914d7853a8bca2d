package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"paypal-billing-service/internal/client"
	"paypal-billing-service/internal/config"
	"paypal-billing-service/internal/dto"
	"paypal-billing-service/internal/model"
	"paypal-billing-service/internal/repository"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type WebhookService interface {
	VerifyWebhookSignature(ctx context.Context, headers http.Header, rawBody []byte, webhookID string) bool
	ParseEvent(rawBody []byte) (*model.PayPalWebhookEvent, error)
	ProcessWebhookEvent(ctx context.Context, event *model.PayPalWebhookEvent) *dto.ProcessResult
	IsWebhookProcessed(ctx context.Context, eventID string) (bool, error)
	MarkWebhookProcessed(ctx context.Context, eventID, eventType string) error
}

type eventHandler func(ctx context.Context, event *model.PayPalWebhookEvent) (*dto.HandlerOutcome, error)

type webhookServiceImpl struct {
	paypalClient     client.PaypalClient
	webhookEventRepo repository.WebhookEventRepository
	tracker          TrackerService
	customers        CustomerService
	retries          RetryService
	paypalCfg        config.Paypal
	webhookCfg       config.Webhook
	validate         *validator.Validate
	logger           *slog.Logger
	handlers         map[string]eventHandler
}

func NewWebhookService(
	paypalClient client.PaypalClient,
	webhookEventRepo repository.WebhookEventRepository,
	tracker TrackerService,
	customers CustomerService,
	retries RetryService,
	paypalCfg config.Paypal,
	webhookCfg config.Webhook,
	logger *slog.Logger,
) WebhookService {
	s := &webhookServiceImpl{
		paypalClient:     paypalClient,
		webhookEventRepo: webhookEventRepo,
		tracker:          tracker,
		customers:        customers,
		retries:          retries,
		paypalCfg:        paypalCfg,
		webhookCfg:       webhookCfg,
		validate:         validator.New(),
		logger:           logger.With("component", "webhooks"),
	}

	s.handlers = map[string]eventHandler{
		model.EventSubscriptionCreated:   s.handleSubscriptionCreated,
		model.EventSubscriptionActivated: s.handleSubscriptionActivated,
		model.EventSubscriptionCancelled: s.handleSubscriptionCancelled,
		model.EventSubscriptionSuspended: s.handleSubscriptionSuspended,
		model.EventSubscriptionUpdated:   s.handleSubscriptionUpdated,
		model.EventPaymentCompleted:      s.handlePaymentCompleted,
		model.EventPaymentDenied:         s.handlePaymentDenied,
		model.EventPaymentRefunded:       s.handlePaymentRefunded,
		model.EventPaymentReversed:       s.handlePaymentReversed,
	}
	return s
}

// VerifyWebhookSignature checks a delivery before anything is parsed.
// The shared-secret HMAC is a local pre-check; PayPal's verification
// endpoint has the final word when enabled. With neither configured every
// delivery is rejected.
func (s *webhookServiceImpl) VerifyWebhookSignature(ctx context.Context, headers http.Header, rawBody []byte, webhookID string) bool {
	sh, ok := extractSignatureHeaders(headers)
	if !ok {
		s.logger.Warn("webhook signature headers missing")
		return false
	}

	localPassed := false
	if s.paypalCfg.WebhookSecret != "" {
		if !verifyLocalSignature(s.paypalCfg.WebhookSecret, webhookID, sh, rawBody) {
			s.logger.Warn("webhook signature mismatch", "transmission_id", sh.TransmissionID)
			return false
		}
		localPassed = true
	}

	if !s.paypalCfg.VerifyRemote {
		if !localPassed {
			s.logger.Error("no webhook signature verification configured")
		}
		return localPassed
	}

	if webhookID == "" {
		s.logger.Error("remote signature verification needs a webhook id")
		return false
	}

	verified, err := s.paypalClient.VerifyWebhookSignature(ctx, &client.VerifySignatureRequest{
		AuthAlgo:         sh.AuthAlgo,
		CertURL:          sh.CertURL,
		TransmissionID:   sh.TransmissionID,
		TransmissionSig:  sh.TransmissionSig,
		TransmissionTime: sh.TransmissionTime,
		WebhookID:        webhookID,
		WebhookEvent:     json.RawMessage(rawBody),
	})
	if err != nil {
		s.logger.Error("webhook signature verification failed", "transmission_id", sh.TransmissionID, "error", err)
		return false
	}
	if !verified {
		s.logger.Warn("webhook signature rejected by paypal", "transmission_id", sh.TransmissionID)
	}
	return verified
}

func (s *webhookServiceImpl) ParseEvent(rawBody []byte) (*model.PayPalWebhookEvent, error) {
	var event model.PayPalWebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, &MalformedEventError{Reason: "invalid JSON: " + err.Error()}
	}
	if err := s.validate.Struct(&event); err != nil {
		return nil, &MalformedEventError{Reason: err.Error()}
	}
	if !event.HasResource() {
		return nil, &MalformedEventError{Reason: "missing resource"}
	}
	return &event, nil
}

func (s *webhookServiceImpl) IsWebhookProcessed(ctx context.Context, eventID string) (bool, error) {
	return s.webhookEventRepo.IsProcessed(ctx, eventID)
}

func (s *webhookServiceImpl) MarkWebhookProcessed(ctx context.Context, eventID, eventType string) error {
	return s.webhookEventRepo.MarkProcessed(ctx, eventID, eventType, s.webhookCfg.Retention)
}

// ProcessWebhookEvent runs one delivery through claim, dispatch and either
// completion or retry. It never returns an error; the outcome is in the
// result.
func (s *webhookServiceImpl) ProcessWebhookEvent(ctx context.Context, event *model.PayPalWebhookEvent) *dto.ProcessResult {
	start := time.Now()
	result := &dto.ProcessResult{
		WebhookID: event.ID,
		EventType: event.EventType,
	}
	logger := s.logger.With("webhook_id", event.ID, "event_type", event.EventType)

	claimed, err := s.webhookEventRepo.Claim(ctx, event.ID, event.EventType, s.webhookCfg.ClaimLease)
	if err != nil {
		logger.Error("failed to claim webhook", "error", err)
		return s.fail(ctx, event, result, fmt.Errorf("claim webhook: %w", err), start)
	}
	if !claimed {
		logger.Info("duplicate webhook skipped")
		result.Success = true
		result.IsDuplicate = true
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		return result
	}

	handler, ok := s.handlers[event.EventType]
	if !ok {
		logger.Warn("unhandled webhook event type")
		if err := s.complete(ctx, event); err != nil {
			logger.Error("failed to mark webhook processed", "error", err)
		}
		result.Success = true
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		return result
	}

	outcome, err := handler(ctx, event)
	if err != nil {
		var malformed *MalformedEventError
		if errors.As(err, &malformed) {
			return s.deadLetter(ctx, event, result, err, start)
		}
		return s.fail(ctx, event, result, &HandlerError{EventID: event.ID, EventType: event.EventType, Err: err}, start)
	}

	if err := s.complete(ctx, event); err != nil {
		// the handler already applied its changes; a redelivery only repeats them
		logger.Error("failed to mark webhook processed", "error", err)
	}

	elapsed := time.Since(start)
	result.Success = true
	result.Handled = true
	result.Result = outcome
	result.ProcessingTimeMs = elapsed.Milliseconds()
	result.Performance = s.retries.MonitorPerformance(elapsed)

	logger.Info("webhook processed", "processing_ms", result.ProcessingTimeMs)
	return result
}

func (s *webhookServiceImpl) complete(ctx context.Context, event *model.PayPalWebhookEvent) error {
	if err := s.MarkWebhookProcessed(ctx, event.ID, event.EventType); err != nil {
		return err
	}
	if _, err := s.retries.CancelRetry(ctx, event.ID); err != nil {
		return err
	}
	return nil
}

// fail releases the claim so a retry can take it and queues the event with
// the retry count it has reached so far.
func (s *webhookServiceImpl) fail(ctx context.Context, event *model.PayPalWebhookEvent, result *dto.ProcessResult, cause error, start time.Time) *dto.ProcessResult {
	logger := s.logger.With("webhook_id", event.ID, "event_type", event.EventType)
	logger.Error("webhook processing failed", "error", cause)

	if err := s.webhookEventRepo.Release(ctx, event.ID); err != nil {
		logger.Error("failed to release webhook claim", "error", err)
	}

	retryCount := 0
	existing, err := s.retries.GetRetryStatus(ctx, event.ID)
	switch {
	case err == nil:
		retryCount = existing.RetryCount
	case !errors.Is(err, ErrRetryNotFound):
		logger.Error("failed to load retry status", "error", err)
	}

	queued, err := s.retries.QueueWebhookForRetry(ctx, event, retryCount, cause)
	if err != nil {
		logger.Error("failed to queue webhook for retry", "error", err)
	} else {
		result.QueuedForRetry = queued.Queued
		result.DeadLettered = !queued.Queued
		result.Result = queued
	}

	result.Success = false
	result.Error = cause.Error()
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result
}

// deadLetter parks an event whose resource can never be handled. It is
// marked processed so redeliveries are dropped as duplicates.
func (s *webhookServiceImpl) deadLetter(ctx context.Context, event *model.PayPalWebhookEvent, result *dto.ProcessResult, cause error, start time.Time) *dto.ProcessResult {
	logger := s.logger.With("webhook_id", event.ID, "event_type", event.EventType)
	logger.Error("webhook resource unusable", "error", cause)

	if _, err := s.retries.MoveToDeadLetter(ctx, event, 0, cause); err != nil {
		logger.Error("failed to dead-letter webhook", "error", err)
		if err := s.webhookEventRepo.Release(ctx, event.ID); err != nil {
			logger.Error("failed to release webhook claim", "error", err)
		}
	} else {
		result.DeadLettered = true
		if err := s.MarkWebhookProcessed(ctx, event.ID, event.EventType); err != nil {
			logger.Error("failed to mark webhook processed", "error", err)
		}
	}

	result.Success = false
	result.Error = cause.Error()
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result
}

func decodeSubscription(event *model.PayPalWebhookEvent) (*model.PaypalSubscription, error) {
	var subscription model.PaypalSubscription
	if err := json.Unmarshal(event.Resource, &subscription); err != nil {
		return nil, &MalformedEventError{Reason: "subscription resource: " + err.Error()}
	}
	if subscription.ID == "" {
		return nil, &MalformedEventError{Reason: "subscription resource has no id"}
	}
	return &subscription, nil
}

func decodeCapture(event *model.PayPalWebhookEvent) (*model.CaptureResource, error) {
	var capture model.CaptureResource
	if err := json.Unmarshal(event.Resource, &capture); err != nil {
		return nil, &MalformedEventError{Reason: "capture resource: " + err.Error()}
	}
	if capture.ID == "" {
		return nil, &MalformedEventError{Reason: "capture resource has no id"}
	}
	return &capture, nil
}

func webhookMetadata(event *model.PayPalWebhookEvent, oldStatus, reason string) model.StatusMetadata {
	meta := model.StatusMetadata{
		OldStatus: oldStatus,
		Reason:    reason,
		Source:    "webhook",
		WebhookID: event.ID,
		EventType: event.EventType,
	}
	if at, ok := event.OccurredAt(); ok {
		meta.EventTime = &at
	}
	return meta
}

func subscriberProfile(subscription *model.PaypalSubscription) dto.CustomerProfile {
	return dto.CustomerProfile{
		SubscriptionID: subscription.ID,
		PlanID:         subscription.PlanID,
		Email:          subscription.Subscriber.EmailAddress,
		FirstName:      subscription.Subscriber.Name.GivenName,
		LastName:       subscription.Subscriber.Name.Surname,
	}
}

// trackSubscription records the transition and, when the resource names a
// payer, moves the customer to customerStatus.
func (s *webhookServiceImpl) trackSubscription(ctx context.Context, event *model.PayPalWebhookEvent, action, newStatus, oldStatus, reason, customerStatus string) (*dto.HandlerOutcome, error) {
	subscription, err := decodeSubscription(event)
	if err != nil {
		return nil, err
	}
	if subscription.StatusUpdateNote != "" && (newStatus == model.StatusCancelled || newStatus == model.StatusSuspended) {
		reason = subscription.StatusUpdateNote
	}

	if _, err := s.tracker.TrackStatusChange(ctx, subscription.ID, newStatus, webhookMetadata(event, oldStatus, reason)); err != nil {
		return nil, fmt.Errorf("track %s: %w", subscription.ID, err)
	}

	outcome := &dto.HandlerOutcome{
		Action:         action,
		SubscriptionID: subscription.ID,
		Status:         newStatus,
	}

	payerID := subscription.Subscriber.PayerID
	if customerStatus == "" || payerID == "" {
		return outcome, nil
	}
	customer, err := s.customers.UpdateCustomerStatus(ctx, payerID, customerStatus, subscriberProfile(subscription))
	if err != nil {
		return nil, fmt.Errorf("update customer %s: %w", payerID, err)
	}
	outcome.CustomerID = customer.ID
	return outcome, nil
}

func (s *webhookServiceImpl) handleSubscriptionCreated(ctx context.Context, event *model.PayPalWebhookEvent) (*dto.HandlerOutcome, error) {
	return s.trackSubscription(ctx, event, "subscription_created",
		model.StatusApprovalPending, model.StatusCreated, "Subscription created by customer", "")
}

func (s *webhookServiceImpl) handleSubscriptionActivated(ctx context.Context, event *model.PayPalWebhookEvent) (*dto.HandlerOutcome, error) {
	return s.trackSubscription(ctx, event, "subscription_activated",
		model.StatusActive, model.StatusApprovalPending, "Customer approved subscription", model.StatusActive)
}

func (s *webhookServiceImpl) handleSubscriptionCancelled(ctx context.Context, event *model.PayPalWebhookEvent) (*dto.HandlerOutcome, error) {
	return s.trackSubscription(ctx, event, "subscription_cancelled",
		model.StatusCancelled, model.StatusActive, "Subscription cancelled", model.StatusCancelled)
}

func (s *webhookServiceImpl) handleSubscriptionSuspended(ctx context.Context, event *model.PayPalWebhookEvent) (*dto.HandlerOutcome, error) {
	return s.trackSubscription(ctx, event, "subscription_suspended",
		model.StatusSuspended, model.StatusActive, "Subscription suspended", model.StatusSuspended)
}

// handleSubscriptionUpdated takes the previous status from history since an
// update can follow any state.
func (s *webhookServiceImpl) handleSubscriptionUpdated(ctx context.Context, event *model.PayPalWebhookEvent) (*dto.HandlerOutcome, error) {
	subscription, err := decodeSubscription(event)
	if err != nil {
		return nil, err
	}

	oldStatus := model.StatusUnknown
	history, err := s.tracker.GetStatusHistory(ctx, subscription.ID)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		oldStatus = history[0].NewStatus
	}

	return s.trackSubscription(ctx, event, "subscription_updated",
		model.StatusUpdated, oldStatus, "Subscription updated", "")
}

func (s *webhookServiceImpl) trackCapture(ctx context.Context, event *model.PayPalWebhookEvent, action, newStatus, oldStatus, reason string, decorate func(*model.CaptureResource, *model.StatusMetadata)) (*dto.HandlerOutcome, error) {
	capture, err := decodeCapture(event)
	if err != nil {
		return nil, err
	}

	outcome := &dto.HandlerOutcome{Action: action, Status: newStatus}
	subscriptionID := capture.SubscriptionID()
	if subscriptionID == "" {
		// one-off captures have no subscription to track
		s.logger.Info("capture without subscription", "webhook_id", event.ID, "capture_id", capture.ID)
		return outcome, nil
	}

	meta := webhookMetadata(event, oldStatus, reason)
	if capture.Amount.Value != "" {
		amount, err := decimal.NewFromString(capture.Amount.Value)
		if err != nil {
			return nil, &MalformedEventError{Reason: "capture amount: " + err.Error()}
		}
		meta.Amount = &amount
		meta.Currency = capture.Amount.Currency
	}
	decorate(capture, &meta)

	if _, err := s.tracker.TrackStatusChange(ctx, subscriptionID, newStatus, meta); err != nil {
		return nil, fmt.Errorf("track %s: %w", subscriptionID, err)
	}
	outcome.SubscriptionID = subscriptionID
	return outcome, nil
}

func (s *webhookServiceImpl) handlePaymentCompleted(ctx context.Context, event *model.PayPalWebhookEvent) (*dto.HandlerOutcome, error) {
	return s.trackCapture(ctx, event, "payment_received",
		model.StatusPaymentReceived, model.StatusActive, "Payment received",
		func(c *model.CaptureResource, m *model.StatusMetadata) { m.PaymentID = c.ID })
}

func (s *webhookServiceImpl) handlePaymentDenied(ctx context.Context, event *model.PayPalWebhookEvent) (*dto.HandlerOutcome, error) {
	return s.trackCapture(ctx, event, "payment_failed",
		model.StatusPaymentFailed, model.StatusActive, "Payment denied",
		func(c *model.CaptureResource, m *model.StatusMetadata) {
			m.PaymentID = c.ID
			if c.StatusDetails != nil {
				m.Details = map[string]any{"reason": c.StatusDetails.Reason}
			}
		})
}

func (s *webhookServiceImpl) handlePaymentRefunded(ctx context.Context, event *model.PayPalWebhookEvent) (*dto.HandlerOutcome, error) {
	return s.trackCapture(ctx, event, "payment_refunded",
		model.StatusRefunded, model.StatusPaymentReceived, "Payment refunded",
		func(c *model.CaptureResource, m *model.StatusMetadata) { m.RefundID = c.ID })
}

func (s *webhookServiceImpl) handlePaymentReversed(ctx context.Context, event *model.PayPalWebhookEvent) (*dto.HandlerOutcome, error) {
	return s.trackCapture(ctx, event, "payment_reversed",
		model.StatusReversed, model.StatusPaymentReceived, "Payment reversed",
		func(c *model.CaptureResource, m *model.StatusMetadata) {
			m.PaymentID = c.ID
			if c.StatusDetails != nil {
				m.Details = map[string]any{"reason": c.StatusDetails.Reason}
			}
		})
}
