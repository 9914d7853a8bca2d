package repository

import (
	"context"
	"paypal-billing-service/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StatusRepository interface {
	CreateChange(ctx context.Context, tx *gorm.DB, change *model.StatusChange) error
	UpsertCache(ctx context.Context, tx *gorm.DB, cache *model.SubscriptionCache) error
	GetCache(ctx context.Context, tx *gorm.DB, subscriptionID string) (*model.SubscriptionCache, error)
	ListChanges(ctx context.Context, subscriptionID string) ([]*model.StatusChange, error)
	ListCacheByStatus(ctx context.Context, status string) ([]*model.SubscriptionCache, error)
	CountCacheByStatus(ctx context.Context) (map[string]int64, error)
}

type statusRepoImpl struct {
	db *gorm.DB
}

func NewStatusRepository(db *gorm.DB) StatusRepository {
	return &statusRepoImpl{
		db: db,
	}
}

func (r *statusRepoImpl) CreateChange(ctx context.Context, tx *gorm.DB, change *model.StatusChange) error {
	return tx.WithContext(ctx).Create(change).Error
}

func (r *statusRepoImpl) UpsertCache(ctx context.Context, tx *gorm.DB, cache *model.SubscriptionCache) error {
	columns := []string{"status", "updated_at"}
	if cache.LastEventAt != nil {
		columns = append(columns, "last_event_at")
	}
	if cache.PaypalData != nil {
		columns = append(columns, "paypal_data")
	}

	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscription_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(cache).Error
}

// GetCache reads through tx when one is given so callers inside a
// transaction see their own writes.
func (r *statusRepoImpl) GetCache(ctx context.Context, tx *gorm.DB, subscriptionID string) (*model.SubscriptionCache, error) {
	if tx == nil {
		tx = r.db
	}

	var cache model.SubscriptionCache
	err := tx.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		First(&cache).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &cache, nil
}

// ListChanges returns the history newest first.
func (r *statusRepoImpl) ListChanges(ctx context.Context, subscriptionID string) ([]*model.StatusChange, error) {
	var changes []*model.StatusChange
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&changes).Error
	if err != nil {
		return nil, err
	}

	return changes, nil
}

func (r *statusRepoImpl) ListCacheByStatus(ctx context.Context, status string) ([]*model.SubscriptionCache, error) {
	var caches []*model.SubscriptionCache
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at DESC").
		Find(&caches).Error
	if err != nil {
		return nil, err
	}

	return caches, nil
}

func (r *statusRepoImpl) CountCacheByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&model.SubscriptionCache{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
