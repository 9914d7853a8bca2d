package repository

import (
	"context"
	"paypal-billing-service/internal/model"
	"time"

	"gorm.io/gorm"
)

type DeadLetterRepository interface {
	Create(ctx context.Context, deadLetter *model.WebhookDeadLetter) error
	Get(ctx context.Context, id string) (*model.WebhookDeadLetter, error)
	List(ctx context.Context, limit int) ([]*model.WebhookDeadLetter, error)
	MarkReplayed(ctx context.Context, id string, at time.Time) error
	Count(ctx context.Context) (int64, error)
}

type deadLetterRepoImpl struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) DeadLetterRepository {
	return &deadLetterRepoImpl{
		db: db,
	}
}

func (r *deadLetterRepoImpl) Create(ctx context.Context, deadLetter *model.WebhookDeadLetter) error {
	return r.db.WithContext(ctx).Create(deadLetter).Error
}

func (r *deadLetterRepoImpl) Get(ctx context.Context, id string) (*model.WebhookDeadLetter, error) {
	var deadLetter model.WebhookDeadLetter
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&deadLetter).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &deadLetter, nil
}

func (r *deadLetterRepoImpl) List(ctx context.Context, limit int) ([]*model.WebhookDeadLetter, error) {
	var deadLetters []*model.WebhookDeadLetter
	err := r.db.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Find(&deadLetters).Error
	if err != nil {
		return nil, err
	}

	return deadLetters, nil
}

func (r *deadLetterRepoImpl) MarkReplayed(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&model.WebhookDeadLetter{}).
		Where("id = ?", id).
		Update("replayed_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *deadLetterRepoImpl) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.WebhookDeadLetter{}).Count(&count).Error
	return count, err
}
