package repository

import (
	"context"
	"paypal-billing-service/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RetryRepository interface {
	Get(ctx context.Context, webhookID string) (*model.WebhookRetry, error)
	Save(ctx context.Context, retry *model.WebhookRetry) error
	Delete(ctx context.Context, webhookID string) (bool, error)
	List(ctx context.Context) ([]*model.WebhookRetry, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.WebhookRetry, error)
	// ClaimDue pushes a due record's scheduled_at to leaseUntil. Only one
	// caller sees true for a given due record.
	ClaimDue(ctx context.Context, webhookID string, now, leaseUntil time.Time) (bool, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type retryRepoImpl struct {
	db *gorm.DB
}

func NewRetryRepository(db *gorm.DB) RetryRepository {
	return &retryRepoImpl{
		db: db,
	}
}

func (r *retryRepoImpl) Get(ctx context.Context, webhookID string) (*model.WebhookRetry, error) {
	var retry model.WebhookRetry
	err := r.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		First(&retry).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &retry, nil
}

func (r *retryRepoImpl) Save(ctx context.Context, retry *model.WebhookRetry) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "webhook_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"event_type", "webhook", "retry_count", "scheduled_at",
			"delay_ms", "last_error", "attempts", "updated_at",
		}),
	}).Create(retry).Error
}

func (r *retryRepoImpl) Delete(ctx context.Context, webhookID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Delete(&model.WebhookRetry{})

	return result.RowsAffected > 0, result.Error
}

func (r *retryRepoImpl) List(ctx context.Context) ([]*model.WebhookRetry, error) {
	var retries []*model.WebhookRetry
	err := r.db.WithContext(ctx).
		Order("scheduled_at ASC").
		Find(&retries).Error
	if err != nil {
		return nil, err
	}

	return retries, nil
}

func (r *retryRepoImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.WebhookRetry, error) {
	var retries []*model.WebhookRetry
	err := r.db.WithContext(ctx).
		Where("scheduled_at <= ?", now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&retries).Error
	if err != nil {
		return nil, err
	}

	return retries, nil
}

func (r *retryRepoImpl) ClaimDue(ctx context.Context, webhookID string, now, leaseUntil time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.WebhookRetry{}).
		Where("webhook_id = ? AND scheduled_at <= ?", webhookID, now).
		Updates(map[string]interface{}{
			"scheduled_at": leaseUntil,
			"updated_at":   now,
		})

	return result.RowsAffected == 1, result.Error
}

func (r *retryRepoImpl) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.WebhookRetry{})

	return result.RowsAffected, result.Error
}
