package repository

import (
	"context"
	"paypal-billing-service/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookEventRepository is the processed-event set. Claim is the only way to
// start processing an event and succeeds for exactly one caller at a time.
type WebhookEventRepository interface {
	Claim(ctx context.Context, eventID, eventType string, lease time.Duration) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, retention time.Duration) error
	Release(ctx context.Context, eventID string) error
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

type webhookEventRepoImpl struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepoImpl{db: db, nowFunc: utcNow}
}

func (r *webhookEventRepoImpl) Claim(ctx context.Context, eventID, eventType string, lease time.Duration) (bool, error) {
	now := r.nowFunc()

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.WebhookEvent{
			EventID:   eventID,
			EventType: eventType,
			Status:    model.WebhookStatusProcessing,
			ClaimedAt: now,
			CreatedAt: now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	// a crashed processor's claim or an expired processed record can be taken over
	result = r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Where(`
			(status = ? AND claimed_at < ?)
			OR (status = ? AND expires_at IS NOT NULL AND expires_at < ?)
		`,
			model.WebhookStatusProcessing, now.Add(-lease),
			model.WebhookStatusProcessed, now,
		).
		Updates(map[string]interface{}{
			"status":       model.WebhookStatusProcessing,
			"event_type":   eventType,
			"claimed_at":   now,
			"processed_at": nil,
			"expires_at":   nil,
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *webhookEventRepoImpl) MarkProcessed(ctx context.Context, eventID, eventType string, retention time.Duration) error {
	now := r.nowFunc()
	expiresAt := now.Add(retention)

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"event_type", "status", "processed_at", "expires_at"}),
	}).Create(&model.WebhookEvent{
		EventID:     eventID,
		EventType:   eventType,
		Status:      model.WebhookStatusProcessed,
		ClaimedAt:   now,
		ProcessedAt: &now,
		ExpiresAt:   &expiresAt,
		CreatedAt:   now,
	}).Error
}

func (r *webhookEventRepoImpl) Release(ctx context.Context, eventID string) error {
	return r.db.WithContext(ctx).
		Where("event_id = ? AND status = ?", eventID, model.WebhookStatusProcessing).
		Delete(&model.WebhookEvent{}).Error
}

func (r *webhookEventRepoImpl) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("event_id = ? AND status = ?", eventID, model.WebhookStatusProcessed).
		Where("expires_at IS NULL OR expires_at > ?", r.nowFunc()).
		Count(&count).Error

	return count > 0, err
}

func (r *webhookEventRepoImpl) PurgeExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.WebhookStatusProcessed, r.nowFunc()).
		Delete(&model.WebhookEvent{})

	return result.RowsAffected, result.Error
}
