package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"paypal-billing-service/internal/client"
	"paypal-billing-service/internal/config"
	"paypal-billing-service/internal/dto"
	"paypal-billing-service/internal/model"
	"paypal-billing-service/internal/repository"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const maxRetriesExceeded = "Max retries exceeded"

// EventProcessor re-runs a stored webhook. The processor owns re-queueing
// on failure.
type EventProcessor interface {
	ProcessWebhookEvent(ctx context.Context, event *model.PayPalWebhookEvent) *dto.ProcessResult
}

type RetryService interface {
	CalculateBackoffDelay(retryCount int) time.Duration
	QueueWebhookForRetry(ctx context.Context, event *model.PayPalWebhookEvent, retryCount int, cause error) (*dto.QueueResult, error)
	MoveToDeadLetter(ctx context.Context, event *model.PayPalWebhookEvent, retryCount int, cause error) (*model.WebhookDeadLetter, error)
	GetRetryStatus(ctx context.Context, webhookID string) (*model.WebhookRetry, error)
	GetPendingRetries(ctx context.Context) ([]*model.WebhookRetry, error)
	GetRetryStats(ctx context.Context) (*dto.RetryStats, error)
	CancelRetry(ctx context.Context, webhookID string) (bool, error)
	CleanupOldRetries(ctx context.Context, maxAge time.Duration) (int64, error)
	MonitorPerformance(processingTime time.Duration) *dto.PerformanceReport
	ListDeadLetters(ctx context.Context, limit int) ([]*model.WebhookDeadLetter, error)
	ReplayDeadLetter(ctx context.Context, id string, processor EventProcessor) (*dto.ProcessResult, error)
	ProcessDue(ctx context.Context, processor EventProcessor) (int, error)
	Run(ctx context.Context, processor EventProcessor)
}

type retryServiceImpl struct {
	retryRepo        repository.RetryRepository
	deadLetterRepo   repository.DeadLetterRepository
	webhookEventRepo repository.WebhookEventRepository
	publisher        client.DeadLetterPublisher
	cfg              config.Retry
	webhookCfg       config.Webhook
	logger           *slog.Logger
	nowFunc          func() time.Time
	jitter           func() float64
}

// NewRetryService wires the durable retry queue. publisher may be nil.
func NewRetryService(
	retryRepo repository.RetryRepository,
	deadLetterRepo repository.DeadLetterRepository,
	webhookEventRepo repository.WebhookEventRepository,
	publisher client.DeadLetterPublisher,
	cfg config.Retry,
	webhookCfg config.Webhook,
	logger *slog.Logger,
) RetryService {
	return &retryServiceImpl{
		retryRepo:        retryRepo,
		deadLetterRepo:   deadLetterRepo,
		webhookEventRepo: webhookEventRepo,
		publisher:        publisher,
		cfg:              cfg,
		webhookCfg:       webhookCfg,
		logger:           logger.With("component", "retry"),
		nowFunc:          func() time.Time { return time.Now().UTC() },
		jitter:           rand.Float64,
	}
}

// CalculateBackoffDelay returns min(initial*multiplier^n, max) plus up to 10% jitter.
func (s *retryServiceImpl) CalculateBackoffDelay(retryCount int) time.Duration {
	base := float64(s.cfg.InitialDelay.Milliseconds()) * math.Pow(s.cfg.BackoffMultiplier, float64(retryCount))
	capped := math.Min(base, float64(s.cfg.MaxDelay.Milliseconds()))
	withJitter := capped * (1 + 0.1*s.jitter())

	return time.Duration(math.Floor(withJitter)) * time.Millisecond
}

func (s *retryServiceImpl) QueueWebhookForRetry(ctx context.Context, event *model.PayPalWebhookEvent, retryCount int, cause error) (*dto.QueueResult, error) {
	if retryCount >= s.cfg.MaxRetries {
		exhausted := &RetryExhaustedError{WebhookID: event.ID, RetryCount: retryCount, Err: cause}
		s.logger.Error("webhook retries exhausted",
			"webhook_id", event.ID,
			"event_type", event.EventType,
			"retry_count", retryCount,
			"error", exhausted,
		)

		if _, err := s.MoveToDeadLetter(ctx, event, retryCount, cause); err != nil {
			return nil, err
		}
		return &dto.QueueResult{
			Queued:     false,
			WebhookID:  event.ID,
			RetryCount: retryCount,
			Reason:     maxRetriesExceeded,
		}, nil
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook: %w", err)
	}

	now := s.nowFunc()
	delay := s.CalculateBackoffDelay(retryCount)
	nextRetryAt := now.Add(delay)

	record := &model.WebhookRetry{
		WebhookID:   event.ID,
		EventType:   event.EventType,
		Webhook:     datatypes.JSON(raw),
		RetryCount:  retryCount + 1,
		ScheduledAt: nextRetryAt,
		DelayMs:     delay.Milliseconds(),
		LastError:   errorText(cause),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var attempts []model.RetryAttempt
	existing, err := s.retryRepo.Get(ctx, event.ID)
	switch {
	case err == nil:
		attempts = existing.Attempts.Data()
		record.CreatedAt = existing.CreatedAt
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("load retry record: %w", err)
	}
	attempts = append(attempts, model.RetryAttempt{
		Timestamp:  now,
		Error:      errorText(cause),
		RetryCount: retryCount,
	})
	record.Attempts = datatypes.NewJSONType(attempts)

	if err := s.retryRepo.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("save retry record: %w", err)
	}

	s.logger.Info("webhook queued for retry",
		"webhook_id", event.ID,
		"event_type", event.EventType,
		"retry_count", record.RetryCount,
		"delay_ms", record.DelayMs,
		"next_retry", nextRetryAt,
	)

	return &dto.QueueResult{
		Queued:      true,
		WebhookID:   event.ID,
		RetryCount:  record.RetryCount,
		DelayMs:     record.DelayMs,
		NextRetryAt: &nextRetryAt,
	}, nil
}

// MoveToDeadLetter parks a webhook that will not be retried and drops its
// pending retry record.
func (s *retryServiceImpl) MoveToDeadLetter(ctx context.Context, event *model.PayPalWebhookEvent, retryCount int, cause error) (*model.WebhookDeadLetter, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook: %w", err)
	}

	deadLetter := &model.WebhookDeadLetter{
		ID:         uuid.NewString(),
		WebhookID:  event.ID,
		EventType:  event.EventType,
		Webhook:    datatypes.JSON(raw),
		RetryCount: retryCount,
		LastError:  errorText(cause),
		FailedAt:   s.nowFunc(),
	}

	existing, err := s.retryRepo.Get(ctx, event.ID)
	switch {
	case err == nil:
		deadLetter.Attempts = existing.Attempts
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("load retry record: %w", err)
	}

	if err := s.deadLetterRepo.Create(ctx, deadLetter); err != nil {
		return nil, fmt.Errorf("store dead letter: %w", err)
	}
	if _, err := s.retryRepo.Delete(ctx, event.ID); err != nil {
		return nil, fmt.Errorf("delete retry record: %w", err)
	}

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, &client.DeadLetterMessage{
			DeadLetterID: deadLetter.ID,
			WebhookID:    deadLetter.WebhookID,
			EventType:    deadLetter.EventType,
			RetryCount:   deadLetter.RetryCount,
			LastError:    deadLetter.LastError,
			Webhook:      raw,
		})
		if err != nil {
			s.logger.Error("failed to publish dead letter", "dead_letter_id", deadLetter.ID, "error", err)
		}
	}

	s.logger.Warn("webhook moved to dead letters",
		"webhook_id", event.ID,
		"dead_letter_id", deadLetter.ID,
		"retry_count", retryCount,
	)
	return deadLetter, nil
}

func (s *retryServiceImpl) GetRetryStatus(ctx context.Context, webhookID string) (*model.WebhookRetry, error) {
	record, err := s.retryRepo.Get(ctx, webhookID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRetryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get retry %s: %w", webhookID, err)
	}
	return record, nil
}

func (s *retryServiceImpl) GetPendingRetries(ctx context.Context) ([]*model.WebhookRetry, error) {
	records, err := s.retryRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list retries: %w", err)
	}
	return records, nil
}

func (s *retryServiceImpl) GetRetryStats(ctx context.Context) (*dto.RetryStats, error) {
	records, err := s.GetPendingRetries(ctx)
	if err != nil {
		return nil, err
	}

	stats := &dto.RetryStats{
		TotalPending: len(records),
		ByRetryCount: make(map[int]int),
	}

	total := 0
	for _, record := range records {
		stats.ByRetryCount[record.RetryCount]++
		total += record.RetryCount

		createdAt := record.CreatedAt
		if stats.OldestRetry == nil || createdAt.Before(*stats.OldestRetry) {
			stats.OldestRetry = &createdAt
		}
		if stats.NewestRetry == nil || createdAt.After(*stats.NewestRetry) {
			stats.NewestRetry = &createdAt
		}
	}
	if len(records) > 0 {
		stats.AverageRetries = float64(total) / float64(len(records))
	}

	deadLetters, err := s.deadLetterRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}
	stats.DeadLetters = int(deadLetters)

	return stats, nil
}

func (s *retryServiceImpl) CancelRetry(ctx context.Context, webhookID string) (bool, error) {
	deleted, err := s.retryRepo.Delete(ctx, webhookID)
	if err != nil {
		return false, fmt.Errorf("cancel retry %s: %w", webhookID, err)
	}
	if deleted {
		s.logger.Info("webhook retry cancelled", "webhook_id", webhookID)
	}
	return deleted, nil
}

func (s *retryServiceImpl) CleanupOldRetries(ctx context.Context, maxAge time.Duration) (int64, error) {
	removed, err := s.retryRepo.DeleteCreatedBefore(ctx, s.nowFunc().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("cleanup old retries: %w", err)
	}
	if removed > 0 {
		s.logger.Info("old webhook retries removed", "count", removed, "max_age", maxAge)
	}
	return removed, nil
}

// MonitorPerformance grades a processing time against the webhook target:
// warning above 80%, critical above 100%.
func (s *retryServiceImpl) MonitorPerformance(processingTime time.Duration) *dto.PerformanceReport {
	target := s.webhookCfg.PerformanceTarget
	report := &dto.PerformanceReport{
		ProcessingTimeMs: processingTime.Milliseconds(),
		TargetMs:         target.Milliseconds(),
		WithinTarget:     processingTime <= target,
		Level:            dto.PerformanceOK,
	}
	if target > 0 {
		report.PercentOfTarget = math.Round(float64(processingTime)/float64(target)*10000) / 100
	}

	switch {
	case processingTime > target:
		report.Level = dto.PerformanceCritical
		s.logger.Error("webhook processing exceeded target",
			"processing_ms", report.ProcessingTimeMs,
			"target_ms", report.TargetMs,
		)
	case float64(processingTime) > 0.8*float64(target):
		report.Level = dto.PerformanceWarning
		s.logger.Warn("webhook processing close to target",
			"processing_ms", report.ProcessingTimeMs,
			"target_ms", report.TargetMs,
		)
	}
	return report
}

func (s *retryServiceImpl) ListDeadLetters(ctx context.Context, limit int) ([]*model.WebhookDeadLetter, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	deadLetters, err := s.deadLetterRepo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return deadLetters, nil
}

// ReplayDeadLetter runs a dead-lettered webhook again with a fresh retry budget.
func (s *retryServiceImpl) ReplayDeadLetter(ctx context.Context, id string, processor EventProcessor) (*dto.ProcessResult, error) {
	deadLetter, err := s.deadLetterRepo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter %s: %w", id, err)
	}

	var event model.PayPalWebhookEvent
	if err := json.Unmarshal(deadLetter.Webhook, &event); err != nil {
		return nil, fmt.Errorf("decode dead letter %s: %w", id, err)
	}

	result := processor.ProcessWebhookEvent(ctx, &event)

	if err := s.deadLetterRepo.MarkReplayed(ctx, id, s.nowFunc()); err != nil {
		return nil, fmt.Errorf("mark dead letter replayed: %w", err)
	}
	s.logger.Info("dead letter replayed",
		"dead_letter_id", id,
		"webhook_id", event.ID,
		"success", result.Success,
	)
	return result, nil
}

// ProcessDue fires every retry whose time has come. Each record is claimed
// first so concurrent workers never fire the same retry.
func (s *retryServiceImpl) ProcessDue(ctx context.Context, processor EventProcessor) (int, error) {
	now := s.nowFunc()
	due, err := s.retryRepo.ListDue(ctx, now, s.batchSize())
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}

	fired := 0
	for _, record := range due {
		claimed, err := s.retryRepo.ClaimDue(ctx, record.WebhookID, now, now.Add(s.webhookCfg.ClaimLease))
		if err != nil {
			s.logger.Error("failed to claim retry", "webhook_id", record.WebhookID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		var event model.PayPalWebhookEvent
		if err := json.Unmarshal(record.Webhook, &event); err != nil {
			cause := fmt.Errorf("decode stored webhook: %w", err)
			if _, dlErr := s.MoveToDeadLetter(ctx, &model.PayPalWebhookEvent{ID: record.WebhookID, EventType: record.EventType}, record.RetryCount, cause); dlErr != nil {
				s.logger.Error("failed to dead-letter undecodable retry", "webhook_id", record.WebhookID, "error", dlErr)
			}
			continue
		}

		s.logger.Info("retrying webhook",
			"webhook_id", event.ID,
			"event_type", event.EventType,
			"retry_count", record.RetryCount,
		)
		result := processor.ProcessWebhookEvent(ctx, &event)
		fired++

		if result.Success {
			if _, err := s.retryRepo.Delete(ctx, record.WebhookID); err != nil {
				s.logger.Error("failed to clear retry", "webhook_id", record.WebhookID, "error", err)
			}
		}
	}

	return fired, nil
}

func (s *retryServiceImpl) batchSize() int {
	if s.cfg.BatchSize <= 0 {
		return 10
	}
	return s.cfg.BatchSize
}

// Run polls for due retries until ctx is cancelled and periodically drops
// stale retries and expired idempotency records.
func (s *retryServiceImpl) Run(ctx context.Context, processor EventProcessor) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	maintenance := time.NewTicker(s.cfg.CleanupInterval)
	defer maintenance.Stop()

	s.logger.Info("retry worker started", "poll_interval", s.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry worker stopped")
			return
		case <-ticker.C:
			if _, err := s.ProcessDue(ctx, processor); err != nil {
				s.logger.Error("failed to process retry queue", "error", err)
			}
		case <-maintenance.C:
			s.runMaintenance(ctx)
		}
	}
}

func (s *retryServiceImpl) runMaintenance(ctx context.Context) {
	if _, err := s.CleanupOldRetries(ctx, s.cfg.CleanupAge); err != nil {
		s.logger.Error("failed to cleanup old retries", "error", err)
	}

	purged, err := s.webhookEventRepo.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("failed to purge processed webhooks", "error", err)
		return
	}
	if purged > 0 {
		s.logger.Info("expired processed webhooks purged", "count", purged)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
