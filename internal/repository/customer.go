package repository

import (
	"context"
	"paypal-billing-service/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CustomerRepository interface {
	Create(ctx context.Context, customer *model.Customer) error
	// UpsertByPaypalID creates the customer or, when the payer id is known,
	// overwrites the given columns.
	UpsertByPaypalID(ctx context.Context, customer *model.Customer, columns []string) error
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	FindByID(ctx context.Context, id string) (*model.Customer, error)
	FindByPaypalID(ctx context.Context, paypalCustomerID string) (*model.Customer, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Customer, error)
	List(ctx context.Context, status string, limit, offset int) ([]*model.Customer, int64, error)
	Delete(ctx context.Context, id string) error
}

type customerRepoImpl struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepoImpl{
		db: db,
	}
}

func (r *customerRepoImpl) Create(ctx context.Context, customer *model.Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

func (r *customerRepoImpl) UpsertByPaypalID(ctx context.Context, customer *model.Customer, columns []string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "paypal_customer_id"}},
		DoUpdates: clause.AssignmentColumns(append(append([]string{}, columns...), "updated_at")),
	}).Create(customer).Error
}

func (r *customerRepoImpl) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC()

	result := r.db.WithContext(ctx).Model(&model.Customer{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *customerRepoImpl) findBy(ctx context.Context, column, value string) (*model.Customer, error) {
	var customer model.Customer
	err := r.db.WithContext(ctx).
		Where(column+" = ?", value).
		First(&customer).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &customer, nil
}

func (r *customerRepoImpl) FindByID(ctx context.Context, id string) (*model.Customer, error) {
	return r.findBy(ctx, "id", id)
}

func (r *customerRepoImpl) FindByPaypalID(ctx context.Context, paypalCustomerID string) (*model.Customer, error) {
	return r.findBy(ctx, "paypal_customer_id", paypalCustomerID)
}

func (r *customerRepoImpl) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Customer, error) {
	return r.findBy(ctx, "paypal_subscription_id", subscriptionID)
}

func (r *customerRepoImpl) List(ctx context.Context, status string, limit, offset int) ([]*model.Customer, int64, error) {
	byStatus := func(db *gorm.DB) *gorm.DB {
		if status != "" {
			return db.Where("status = ?", status)
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Customer{}).Scopes(byStatus).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var customers []*model.Customer
	err := r.db.WithContext(ctx).Scopes(byStatus).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&customers).Error
	if err != nil {
		return nil, 0, err
	}

	return customers, total, nil
}

func (r *customerRepoImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&model.Customer{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
