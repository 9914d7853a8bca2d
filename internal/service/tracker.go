package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"paypal-billing-service/internal/client"
	"paypal-billing-service/internal/dto"
	"paypal-billing-service/internal/model"
	"paypal-billing-service/internal/repository"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TrackerService interface {
	TrackStatusChange(ctx context.Context, subscriptionID, newStatus string, meta model.StatusMetadata) (*model.StatusChange, error)
	GetStatusHistory(ctx context.Context, subscriptionID string) ([]*model.StatusChange, error)
	GetCurrentStatus(ctx context.Context, subscriptionID string) (string, error)
	IsSubscriptionActive(ctx context.Context, subscriptionID string) (bool, error)
	GetStatusTimeline(ctx context.Context, subscriptionID string) ([]dto.TimelineEntry, error)
	GetSubscriptionMetrics(ctx context.Context, subscriptionID string) (*dto.SubscriptionMetrics, error)
	GetSubscriptionsByStatus(ctx context.Context, status string) ([]string, error)
	GetStatusSummary(ctx context.Context) (*dto.StatusSummary, error)
	SyncSubscriptionStatus(ctx context.Context, subscriptionID string) (*dto.SyncResult, error)
}

type trackerServiceImpl struct {
	db           *gorm.DB
	paypalClient client.PaypalClient
	statusRepo   repository.StatusRepository
	logger       *slog.Logger
	nowFunc      func() time.Time
}

func NewTrackerService(
	db *gorm.DB,
	paypalClient client.PaypalClient,
	statusRepo repository.StatusRepository,
	logger *slog.Logger,
) TrackerService {
	return &trackerServiceImpl{
		db:           db,
		paypalClient: paypalClient,
		statusRepo:   statusRepo,
		logger:       logger.With("component", "tracker"),
		nowFunc:      func() time.Time { return time.Now().UTC() },
	}
}

// TrackStatusChange appends a history record and moves the cached status in
// the same transaction, so the cache always matches the newest record.
func (s *trackerServiceImpl) TrackStatusChange(ctx context.Context, subscriptionID, newStatus string, meta model.StatusMetadata) (*model.StatusChange, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("track status change: empty subscription id")
	}

	oldStatus := meta.OldStatus
	if oldStatus == "" {
		oldStatus = model.StatusUnknown
	}
	now := s.nowFunc()

	var change *model.StatusChange
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cache, err := s.statusRepo.GetCache(ctx, tx, subscriptionID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load cached status: %w", err)
		}

		lastEventAt := meta.EventTime
		if cache != nil && cache.LastEventAt != nil {
			if meta.EventTime != nil && meta.EventTime.Before(*cache.LastEventAt) {
				meta.OutOfOrder = true
			}
			if lastEventAt == nil || meta.OutOfOrder {
				lastEventAt = cache.LastEventAt
			}
		}

		change = &model.StatusChange{
			SubscriptionID: subscriptionID,
			OldStatus:      oldStatus,
			NewStatus:      newStatus,
			Metadata:       datatypes.NewJSONType(meta),
			CreatedAt:      now,
		}
		if err := s.statusRepo.CreateChange(ctx, tx, change); err != nil {
			return fmt.Errorf("store status change: %w", err)
		}

		err = s.statusRepo.UpsertCache(ctx, tx, &model.SubscriptionCache{
			SubscriptionID: subscriptionID,
			Status:         newStatus,
			LastEventAt:    lastEventAt,
			UpdatedAt:      now,
		})
		if err != nil {
			return fmt.Errorf("update cached status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if meta.OutOfOrder {
		s.logger.Warn("status change arrived out of order",
			"subscription_id", subscriptionID,
			"new_status", newStatus,
			"webhook_id", meta.WebhookID,
		)
	}
	s.logger.Info("subscription status changed",
		"subscription_id", subscriptionID,
		"old_status", oldStatus,
		"new_status", newStatus,
		"source", meta.Source,
	)

	return change, nil
}

func (s *trackerServiceImpl) GetStatusHistory(ctx context.Context, subscriptionID string) ([]*model.StatusChange, error) {
	history, err := s.statusRepo.ListChanges(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	return history, nil
}

// GetCurrentStatus answers from the cache and falls back to PayPal,
// remembering the answer.
func (s *trackerServiceImpl) GetCurrentStatus(ctx context.Context, subscriptionID string) (string, error) {
	cache, err := s.statusRepo.GetCache(ctx, nil, subscriptionID)
	if err == nil && cache.Status != "" {
		return cache.Status, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("load cached status: %w", err)
	}

	subscription, err := s.paypalClient.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", fmt.Errorf("paypal api get subscription: %w", err)
	}

	if err := s.cacheRemote(ctx, subscription); err != nil {
		// the remote answer is still valid
		s.logger.Warn("failed to cache remote status", "subscription_id", subscriptionID, "error", err)
	}

	return subscription.Status, nil
}

func (s *trackerServiceImpl) cacheRemote(ctx context.Context, subscription *model.PaypalSubscription) error {
	data, err := json.Marshal(subscription)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}

	return s.statusRepo.UpsertCache(ctx, s.db, &model.SubscriptionCache{
		SubscriptionID: subscription.ID,
		Status:         subscription.Status,
		PaypalData:     datatypes.JSON(data),
		UpdatedAt:      s.nowFunc(),
	})
}

func (s *trackerServiceImpl) IsSubscriptionActive(ctx context.Context, subscriptionID string) (bool, error) {
	status, err := s.GetCurrentStatus(ctx, subscriptionID)
	if err != nil {
		return false, err
	}
	return status == model.StatusActive, nil
}

func (s *trackerServiceImpl) GetStatusTimeline(ctx context.Context, subscriptionID string) ([]dto.TimelineEntry, error) {
	history, err := s.GetStatusHistory(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	timeline := make([]dto.TimelineEntry, 0, len(history))
	for _, record := range history {
		meta := record.Metadata.Data()
		reason := meta.Reason
		if reason == "" {
			reason = "Status change"
		}
		timeline = append(timeline, dto.TimelineEntry{
			Status:    record.NewStatus,
			Timestamp: record.CreatedAt,
			Reason:    reason,
			Details:   meta,
		})
	}
	return timeline, nil
}

func (s *trackerServiceImpl) GetSubscriptionMetrics(ctx context.Context, subscriptionID string) (*dto.SubscriptionMetrics, error) {
	history, err := s.GetStatusHistory(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	currentStatus, err := s.GetCurrentStatus(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	statusCounts := make(map[string]int)
	for _, record := range history {
		statusCounts[record.NewStatus]++
	}

	now := s.nowFunc()
	createdAt, lastUpdated := now, now
	if len(history) > 0 {
		createdAt = history[len(history)-1].CreatedAt
		lastUpdated = history[0].CreatedAt
	}

	return &dto.SubscriptionMetrics{
		SubscriptionID:     subscriptionID,
		CurrentStatus:      currentStatus,
		StatusCounts:       statusCounts,
		TotalStatusChanges: len(history),
		DaysActive:         int(now.Sub(createdAt) / (24 * time.Hour)),
		CreatedAt:          createdAt,
		LastUpdated:        lastUpdated,
	}, nil
}

func (s *trackerServiceImpl) GetSubscriptionsByStatus(ctx context.Context, status string) ([]string, error) {
	caches, err := s.statusRepo.ListCacheByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by status: %w", err)
	}

	ids := make([]string, 0, len(caches))
	for _, cache := range caches {
		ids = append(ids, cache.SubscriptionID)
	}
	return ids, nil
}

func (s *trackerServiceImpl) GetStatusSummary(ctx context.Context) (*dto.StatusSummary, error) {
	counts, err := s.statusRepo.CountCacheByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions by status: %w", err)
	}

	var total int64
	for _, count := range counts {
		total += count
	}

	return &dto.StatusSummary{
		Total:     total,
		ByStatus:  counts,
		Timestamp: s.nowFunc(),
	}, nil
}

// SyncSubscriptionStatus reconciles the cache with PayPal. A differing status
// is recorded as a regular transition.
func (s *trackerServiceImpl) SyncSubscriptionStatus(ctx context.Context, subscriptionID string) (*dto.SyncResult, error) {
	subscription, err := s.paypalClient.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("paypal api get subscription: %w", err)
	}
	if subscription.ID == "" {
		subscription.ID = subscriptionID
	}

	oldStatus := model.StatusUnknown
	cache, err := s.statusRepo.GetCache(ctx, nil, subscriptionID)
	switch {
	case err == nil:
		oldStatus = cache.Status
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("load cached status: %w", err)
	}

	changed := oldStatus != subscription.Status
	if changed {
		_, err := s.TrackStatusChange(ctx, subscriptionID, subscription.Status, model.StatusMetadata{
			OldStatus: oldStatus,
			Reason:    "Synced from PayPal",
			Source:    "sync",
		})
		if err != nil {
			return nil, fmt.Errorf("track synced status: %w", err)
		}
	}

	if err := s.cacheRemote(ctx, subscription); err != nil {
		return nil, fmt.Errorf("cache synced subscription: %w", err)
	}

	return &dto.SyncResult{
		SubscriptionID: subscriptionID,
		Status:         subscription.Status,
		PreviousStatus: oldStatus,
		Changed:        changed,
		Synced:         true,
		SyncTime:       s.nowFunc(),
	}, nil
}
