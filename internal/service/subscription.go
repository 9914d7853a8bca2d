package service

import (
	"context"
	"fmt"
	"log/slog"
	"paypal-billing-service/internal/client"
	"paypal-billing-service/internal/config"
	"paypal-billing-service/internal/dto"
	"paypal-billing-service/internal/model"
	"time"
)

type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.CreateSubscriptionResponse, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*model.PaypalSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID, reason string) (*dto.CancelSubscriptionResponse, error)
	UpdateSubscription(ctx context.Context, subscriptionID, planKey string) (*dto.UpdateSubscriptionResponse, error)
	ListSubscriptions(ctx context.Context, req *dto.ListSubscriptionsRequest) (*dto.ListSubscriptionsResponse, error)
	GetPlanDetails(planKey string) (*dto.Plan, error)
	GetAllPlans() []dto.Plan
	CreateBillingPlan(ctx context.Context, planKey string) (*model.PaypalPlan, error)
	GetBillingPlan(ctx context.Context, paypalPlanID string) (*model.PaypalPlan, error)
}

type subscriptionServiceImpl struct {
	paypalClient client.PaypalClient
	plans        PlanCatalog
	paypalCfg    *config.Paypal
	logger       *slog.Logger
	nowFunc      func() time.Time
}

func NewSubscriptionService(
	paypalClient client.PaypalClient,
	paypalCfg *config.Paypal,
	logger *slog.Logger,
) SubscriptionService {
	return &subscriptionServiceImpl{
		paypalClient: paypalClient,
		plans:        NewPlanCatalog(paypalCfg),
		paypalCfg:    paypalCfg,
		logger:       logger.With("component", "subscriptions"),
		nowFunc:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *subscriptionServiceImpl) plan(key string) (dto.Plan, error) {
	plan, ok := s.plans.Lookup(key)
	if !ok {
		return dto.Plan{}, fmt.Errorf("%w: %s", ErrInvalidPlan, key)
	}
	return plan, nil
}

func (s *subscriptionServiceImpl) CreateSubscription(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.CreateSubscriptionResponse, error) {
	plan, err := s.plan(req.PlanKey)
	if err != nil {
		return nil, err
	}

	returnURL := req.Customer.ReturnURL
	if returnURL == "" {
		returnURL = s.paypalCfg.ReturnURL
	}
	cancelURL := req.Customer.CancelURL
	if cancelURL == "" {
		cancelURL = s.paypalCfg.CancelURL
	}

	created, err := s.paypalClient.CreateSubscription(ctx, &client.CreateSubscriptionRequest{
		PlanID:   plan.PlanID,
		CustomID: req.CustomerID,
		Subscriber: model.Subscriber{
			PayerID:      req.CustomerID,
			EmailAddress: req.Customer.Email,
			Name: model.SubscriberName{
				GivenName: req.Customer.FirstName,
				Surname:   req.Customer.LastName,
			},
		},
		BrandName: s.paypalCfg.BrandName,
		ReturnURL: returnURL,
		CancelURL: cancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("paypal api create subscription: %w", err)
	}

	s.logger.Info("subscription created",
		"subscription_id", created.SubscriptionID,
		"plan", plan.Key,
		"customer_id", req.CustomerID,
	)

	return &dto.CreateSubscriptionResponse{
		SubscriptionID: created.SubscriptionID,
		Status:         created.Status,
		PlanKey:        plan.Key,
		CustomerID:     req.CustomerID,
		ApprovalURL:    created.ApprovalURL,
		CreatedAt:      created.CreatedAt,
	}, nil
}

func (s *subscriptionServiceImpl) GetSubscription(ctx context.Context, subscriptionID string) (*model.PaypalSubscription, error) {
	subscription, err := s.paypalClient.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("paypal api get subscription: %w", err)
	}
	return subscription, nil
}

func (s *subscriptionServiceImpl) CancelSubscription(ctx context.Context, subscriptionID, reason string) (*dto.CancelSubscriptionResponse, error) {
	if reason == "" {
		reason = "Customer requested"
	}
	if err := s.paypalClient.CancelSubscription(ctx, subscriptionID, reason); err != nil {
		return nil, fmt.Errorf("paypal api cancel subscription: %w", err)
	}

	s.logger.Info("subscription cancelled", "subscription_id", subscriptionID, "reason", reason)
	return &dto.CancelSubscriptionResponse{
		SubscriptionID: subscriptionID,
		Status:         model.StatusCancelled,
		Reason:         reason,
		CancelledAt:    s.nowFunc(),
	}, nil
}

// UpdateSubscription switches a subscription to another catalog plan.
func (s *subscriptionServiceImpl) UpdateSubscription(ctx context.Context, subscriptionID, planKey string) (*dto.UpdateSubscriptionResponse, error) {
	plan, err := s.plan(planKey)
	if err != nil {
		return nil, err
	}

	ops := []client.PatchOperation{{Op: "replace", Path: "/plan_id", Value: plan.PlanID}}
	if err := s.paypalClient.UpdateSubscription(ctx, subscriptionID, ops); err != nil {
		return nil, fmt.Errorf("paypal api update subscription: %w", err)
	}

	s.logger.Info("subscription plan changed", "subscription_id", subscriptionID, "plan", plan.Key)
	return &dto.UpdateSubscriptionResponse{
		SubscriptionID: subscriptionID,
		NewPlanKey:     plan.Key,
		NewPrice:       plan.Price,
		UpdatedAt:      s.nowFunc(),
	}, nil
}

func (s *subscriptionServiceImpl) ListSubscriptions(ctx context.Context, req *dto.ListSubscriptionsRequest) (*dto.ListSubscriptionsResponse, error) {
	filter := client.ListSubscriptionsFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Page:     req.Page,
	}
	if req.PlanKey != "" {
		plan, err := s.plan(req.PlanKey)
		if err != nil {
			return nil, err
		}
		filter.PlanID = plan.PlanID
	}

	list, err := s.paypalClient.ListSubscriptions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("paypal api list subscriptions: %w", err)
	}

	resp := &dto.ListSubscriptionsResponse{
		Subscriptions: make([]dto.SubscriptionSummary, 0, len(list.Subscriptions)),
		Total:         list.TotalItems,
		Pages:         list.TotalPages,
	}
	for _, sub := range list.Subscriptions {
		resp.Subscriptions = append(resp.Subscriptions, dto.SubscriptionSummary{
			SubscriptionID: sub.ID,
			Status:         sub.Status,
			PlanID:         sub.PlanID,
			CreatedAt:      sub.CreateTime,
			UpdatedAt:      sub.UpdateTime,
		})
	}
	return resp, nil
}

func (s *subscriptionServiceImpl) GetPlanDetails(planKey string) (*dto.Plan, error) {
	plan, err := s.plan(planKey)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *subscriptionServiceImpl) GetAllPlans() []dto.Plan {
	return s.plans.All()
}

// CreateBillingPlan registers a catalog plan with PayPal as a monthly
// infinite-tenure plan under the configured product.
func (s *subscriptionServiceImpl) CreateBillingPlan(ctx context.Context, planKey string) (*model.PaypalPlan, error) {
	plan, err := s.plan(planKey)
	if err != nil {
		return nil, err
	}

	created, err := s.paypalClient.CreatePlan(ctx, &client.CreatePlanRequest{
		ProductID:   s.paypalCfg.ProductID,
		Name:        plan.Name,
		Description: plan.Description,
		Status:      "ACTIVE",
		BillingCycles: []client.BillingCycle{{
			Frequency: client.Frequency{
				IntervalUnit:  plan.Interval,
				IntervalCount: plan.IntervalCount,
			},
			TenureType:  "REGULAR",
			Sequence:    1,
			TotalCycles: 0,
			PricingScheme: client.PricingScheme{
				FixedPrice: model.Amount{
					Currency: plan.Currency,
					Value:    plan.Price.StringFixed(2),
				},
			},
		}},
		PaymentPreferences: client.PaymentPreferences{
			AutoBillOutstanding:     true,
			SetupFeeFailureAction:   "CONTINUE",
			PaymentFailureThreshold: 3,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("paypal api create plan: %w", err)
	}

	s.logger.Info("billing plan created", "plan", plan.Key, "paypal_plan_id", created.ID)
	return created, nil
}

func (s *subscriptionServiceImpl) GetBillingPlan(ctx context.Context, paypalPlanID string) (*model.PaypalPlan, error) {
	plan, err := s.paypalClient.GetPlan(ctx, paypalPlanID)
	if err != nil {
		return nil, fmt.Errorf("paypal api get plan: %w", err)
	}
	return plan, nil
}
