package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"paypal-billing-service/internal/client"
	"paypal-billing-service/internal/dto"
	"paypal-billing-service/internal/model"
	"paypal-billing-service/internal/repository"

	"github.com/google/uuid"
)

type CustomerService interface {
	GetCustomer(ctx context.Context, customerID string) (*model.Customer, error)
	GetCustomerByPayPalID(ctx context.Context, paypalCustomerID string) (*model.Customer, error)
	GetCustomerBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Customer, error)
	UpdateCustomerStatus(ctx context.Context, paypalCustomerID, status string, profile dto.CustomerProfile) (*model.Customer, error)
	SetCustomerStatus(ctx context.Context, customerID, status string) (*model.Customer, error)
	CreateCustomerFromSubscription(ctx context.Context, req *dto.CreateCustomerRequest) (*model.Customer, error)
	LinkPayPalCustomer(ctx context.Context, customerID, paypalCustomerID string) (*model.Customer, error)
	SyncCustomerData(ctx context.Context, customerID string, updates *dto.CustomerUpdates) (*model.Customer, error)
	ListCustomers(ctx context.Context, status string, limit, offset int) (*dto.ListCustomersResponse, error)
	DeleteCustomer(ctx context.Context, customerID string) error
}

type customerServiceImpl struct {
	paypalClient client.PaypalClient
	customerRepo repository.CustomerRepository
	logger       *slog.Logger
}

func NewCustomerService(
	paypalClient client.PaypalClient,
	customerRepo repository.CustomerRepository,
	logger *slog.Logger,
) CustomerService {
	return &customerServiceImpl{
		paypalClient: paypalClient,
		customerRepo: customerRepo,
		logger:       logger.With("component", "customers"),
	}
}

func newCustomerID() string {
	return "cust_" + uuid.NewString()
}

func customerErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrCustomerNotFound
	}
	return err
}

func (s *customerServiceImpl) GetCustomer(ctx context.Context, customerID string) (*model.Customer, error) {
	customer, err := s.customerRepo.FindByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", customerID, customerErr(err))
	}
	return customer, nil
}

func (s *customerServiceImpl) GetCustomerByPayPalID(ctx context.Context, paypalCustomerID string) (*model.Customer, error) {
	customer, err := s.customerRepo.FindByPaypalID(ctx, paypalCustomerID)
	if err != nil {
		return nil, fmt.Errorf("get customer by paypal id %s: %w", paypalCustomerID, customerErr(err))
	}
	return customer, nil
}

func (s *customerServiceImpl) GetCustomerBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Customer, error) {
	customer, err := s.customerRepo.FindBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("get customer by subscription id %s: %w", subscriptionID, customerErr(err))
	}
	return customer, nil
}

// UpdateCustomerStatus sets the status of the customer behind a PayPal payer,
// creating the customer on first sight. Non-empty profile fields overwrite
// the stored ones.
func (s *customerServiceImpl) UpdateCustomerStatus(ctx context.Context, paypalCustomerID, status string, profile dto.CustomerProfile) (*model.Customer, error) {
	if paypalCustomerID == "" {
		return nil, fmt.Errorf("update customer status: empty paypal customer id")
	}

	customer := &model.Customer{
		ID:                   newCustomerID(),
		PaypalCustomerID:     paypalCustomerID,
		PaypalSubscriptionID: profile.SubscriptionID,
		PlanID:               profile.PlanID,
		Status:               status,
		Email:                profile.Email,
		FirstName:            profile.FirstName,
		LastName:             profile.LastName,
	}

	columns := []string{"status"}
	for column, value := range map[string]string{
		"paypal_subscription_id": profile.SubscriptionID,
		"plan_id":                profile.PlanID,
		"email":                  profile.Email,
		"first_name":             profile.FirstName,
		"last_name":              profile.LastName,
	} {
		if value != "" {
			columns = append(columns, column)
		}
	}

	if err := s.customerRepo.UpsertByPaypalID(ctx, customer, columns); err != nil {
		return nil, fmt.Errorf("upsert customer %s: %w", paypalCustomerID, err)
	}

	stored, err := s.customerRepo.FindByPaypalID(ctx, paypalCustomerID)
	if err != nil {
		return nil, fmt.Errorf("reload customer %s: %w", paypalCustomerID, customerErr(err))
	}

	s.logger.Info("customer status updated",
		"customer_id", stored.ID,
		"paypal_customer_id", paypalCustomerID,
		"status", status,
	)
	return stored, nil
}

func (s *customerServiceImpl) SetCustomerStatus(ctx context.Context, customerID, status string) (*model.Customer, error) {
	if err := s.customerRepo.Update(ctx, customerID, map[string]interface{}{"status": status}); err != nil {
		return nil, fmt.Errorf("set customer status %s: %w", customerID, customerErr(err))
	}
	return s.GetCustomer(ctx, customerID)
}

// CreateCustomerFromSubscription verifies the subscription with PayPal and
// copies the subscriber profile into an ACTIVE customer.
func (s *customerServiceImpl) CreateCustomerFromSubscription(ctx context.Context, req *dto.CreateCustomerRequest) (*model.Customer, error) {
	subscription, err := s.paypalClient.GetSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("paypal api get subscription: %w", err)
	}

	payerID := req.PaypalCustomerID
	if payerID == "" {
		payerID = subscription.Subscriber.PayerID
	}
	if payerID == "" {
		return nil, fmt.Errorf("subscription %s has no payer id", req.SubscriptionID)
	}

	planID := req.PlanID
	if planID == "" {
		planID = subscription.PlanID
	}

	return s.UpdateCustomerStatus(ctx, payerID, model.StatusActive, dto.CustomerProfile{
		SubscriptionID: req.SubscriptionID,
		PlanID:         planID,
		Email:          subscription.Subscriber.EmailAddress,
		FirstName:      subscription.Subscriber.Name.GivenName,
		LastName:       subscription.Subscriber.Name.Surname,
	})
}

func (s *customerServiceImpl) LinkPayPalCustomer(ctx context.Context, customerID, paypalCustomerID string) (*model.Customer, error) {
	err := s.customerRepo.Update(ctx, customerID, map[string]interface{}{
		"paypal_customer_id": paypalCustomerID,
	})
	if err != nil {
		return nil, fmt.Errorf("link paypal customer %s: %w", customerID, customerErr(err))
	}
	return s.GetCustomer(ctx, customerID)
}

func (s *customerServiceImpl) SyncCustomerData(ctx context.Context, customerID string, updates *dto.CustomerUpdates) (*model.Customer, error) {
	changes := map[string]interface{}{}
	for column, value := range map[string]string{
		"email":      updates.Email,
		"first_name": updates.FirstName,
		"last_name":  updates.LastName,
		"phone":      updates.Phone,
		"company":    updates.Company,
	} {
		if value != "" {
			changes[column] = value
		}
	}

	if len(changes) == 0 {
		return s.GetCustomer(ctx, customerID)
	}

	if err := s.customerRepo.Update(ctx, customerID, changes); err != nil {
		return nil, fmt.Errorf("sync customer %s: %w", customerID, customerErr(err))
	}
	return s.GetCustomer(ctx, customerID)
}

func (s *customerServiceImpl) ListCustomers(ctx context.Context, status string, limit, offset int) (*dto.ListCustomersResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	customers, total, err := s.customerRepo.List(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}

	return &dto.ListCustomersResponse{Customers: customers, Total: total}, nil
}

func (s *customerServiceImpl) DeleteCustomer(ctx context.Context, customerID string) error {
	if err := s.customerRepo.Delete(ctx, customerID); err != nil {
		return fmt.Errorf("delete customer %s: %w", customerID, customerErr(err))
	}
	s.logger.Info("customer deleted", "customer_id", customerID)
	return nil
}
