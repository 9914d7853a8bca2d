package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"paypal-billing-service/internal/client"
	"paypal-billing-service/internal/config"
	"paypal-billing-service/internal/model"
	"paypal-billing-service/internal/repository"
)

var errPaypalDown = errors.New("paypal unavailable")

type fakePaypal struct {
	mu sync.Mutex

	subscriptions map[string]*model.PaypalSubscription
	verifyResult  bool
	verifyErr     error
	verifyCalls   int
	created       []*client.CreateSubscriptionRequest
	cancelled     map[string]string
	patched       map[string][]client.PatchOperation
	plans         []*client.CreatePlanRequest
	listFilter    client.ListSubscriptionsFilter
	err           error
}

func newFakePaypal() *fakePaypal {
	return &fakePaypal{
		subscriptions: map[string]*model.PaypalSubscription{},
		cancelled:     map[string]string{},
		patched:       map[string][]client.PatchOperation{},
	}
}

func (f *fakePaypal) GetAccessToken(ctx context.Context) (string, error) {
	return "token", f.err
}

func (f *fakePaypal) CreateSubscription(ctx context.Context, req *client.CreateSubscriptionRequest) (*client.CreateSubscriptionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	return &client.CreateSubscriptionResponse{
		SubscriptionID: "I-NEW",
		Status:         model.StatusApprovalPending,
		ApprovalURL:    "https://www.sandbox.paypal.com/webapps/billing/subscriptions?ba_token=BA-1",
		CreatedAt:      time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakePaypal) GetSubscription(ctx context.Context, subscriptionID string) (*model.PaypalSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, &client.RemoteServiceError{StatusCode: 404, Name: "RESOURCE_NOT_FOUND"}
	}
	copied := *sub
	return &copied, nil
}

func (f *fakePaypal) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cancelled[subscriptionID] = reason
	return nil
}

func (f *fakePaypal) UpdateSubscription(ctx context.Context, subscriptionID string, ops []client.PatchOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.patched[subscriptionID] = ops
	return nil
}

func (f *fakePaypal) ListSubscriptions(ctx context.Context, filter client.ListSubscriptionsFilter) (*model.PaypalSubscriptionList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.listFilter = filter
	list := &model.PaypalSubscriptionList{TotalItems: len(f.subscriptions), TotalPages: 1}
	for _, sub := range f.subscriptions {
		list.Subscriptions = append(list.Subscriptions, *sub)
	}
	return list, nil
}

func (f *fakePaypal) CreatePlan(ctx context.Context, req *client.CreatePlanRequest) (*model.PaypalPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.plans = append(f.plans, req)
	return &model.PaypalPlan{ID: "P-CREATED", ProductID: req.ProductID, Name: req.Name, Status: req.Status}, nil
}

func (f *fakePaypal) GetPlan(ctx context.Context, planID string) (*model.PaypalPlan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.PaypalPlan{ID: planID, Status: "ACTIVE"}, nil
}

func (f *fakePaypal) VerifyWebhookSignature(ctx context.Context, req *client.VerifySignatureRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return f.verifyResult, f.verifyErr
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []*client.DeadLetterMessage
}

func (p *fakePublisher) Publish(ctx context.Context, msg *client.DeadLetterMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

// flakyTracker fails TrackStatusChange while failures remain; a negative
// count fails forever.
type flakyTracker struct {
	TrackerService

	mu       sync.Mutex
	failures int
}

func (f *flakyTracker) TrackStatusChange(ctx context.Context, subscriptionID, newStatus string, meta model.StatusMetadata) (*model.StatusChange, error) {
	f.mu.Lock()
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		f.mu.Unlock()
		return nil, errors.New("database is locked")
	}
	f.mu.Unlock()
	return f.TrackerService.TrackStatusChange(ctx, subscriptionID, newStatus, meta)
}

type testEnv struct {
	db        *gorm.DB
	paypal    *fakePaypal
	publisher *fakePublisher

	statusRepo     repository.StatusRepository
	customerRepo   repository.CustomerRepository
	retryRepo      repository.RetryRepository
	deadLetterRepo repository.DeadLetterRepository
	eventRepo      repository.WebhookEventRepository

	tracker   *trackerServiceImpl
	customers CustomerService
	retries   *retryServiceImpl
	flaky     *flakyTracker
	webhooks  *webhookServiceImpl

	paypalCfg config.Paypal
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRetryConfig() config.Retry {
	return config.Retry{
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          60 * time.Second,
		MaxRetries:        5,
		PollInterval:      time.Second,
		BatchSize:         10,
		CleanupAge:        24 * time.Hour,
		CleanupInterval:   time.Hour,
	}
}

func testWebhookConfig() config.Webhook {
	return config.Webhook{
		Retention:         24 * time.Hour,
		ClaimLease:        5 * time.Minute,
		PerformanceTarget: 30 * time.Second,
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := client.InitDatabase("sqlite", dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type envOption func(*config.Paypal, *config.Retry)

func withMaxRetries(n int) envOption {
	return func(_ *config.Paypal, r *config.Retry) { r.MaxRetries = n }
}

func withPaypal(apply func(*config.Paypal)) envOption {
	return func(p *config.Paypal, _ *config.Retry) { apply(p) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	paypalCfg := config.Paypal{
		WebhookID:          "WH-CONFIG",
		WebhookSecret:      "shh",
		VerifyRemote:       false,
		ReturnURL:          "https://app.example.com/billing/return",
		CancelURL:          "https://app.example.com/billing/cancel",
		ProductID:          "AI_RECEPTIONIST",
		BrandName:          "AI Receptionist",
		PlanIDSoloPro:      "P-SOLO",
		PlanIDProfessional: "P-PRO",
		PlanIDEnterprise:   "P-ENT",
	}
	retryCfg := testRetryConfig()
	for _, opt := range opts {
		opt(&paypalCfg, &retryCfg)
	}

	env := &testEnv{
		db:        newTestDB(t),
		paypal:    newFakePaypal(),
		publisher: &fakePublisher{},
		paypalCfg: paypalCfg,
	}
	logger := testLogger()

	env.statusRepo = repository.NewStatusRepository(env.db)
	env.customerRepo = repository.NewCustomerRepository(env.db)
	env.retryRepo = repository.NewRetryRepository(env.db)
	env.deadLetterRepo = repository.NewDeadLetterRepository(env.db)
	env.eventRepo = repository.NewWebhookEventRepository(env.db)

	env.tracker = NewTrackerService(env.db, env.paypal, env.statusRepo, logger).(*trackerServiceImpl)
	env.flaky = &flakyTracker{TrackerService: env.tracker}
	env.customers = NewCustomerService(env.paypal, env.customerRepo, logger)
	env.retries = NewRetryService(env.retryRepo, env.deadLetterRepo, env.eventRepo, env.publisher,
		retryCfg, testWebhookConfig(), logger).(*retryServiceImpl)
	env.retries.jitter = func() float64 { return 0 }
	env.webhooks = NewWebhookService(env.paypal, env.eventRepo, env.flaky, env.customers, env.retries,
		paypalCfg, testWebhookConfig(), logger).(*webhookServiceImpl)

	return env
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func subscriptionEvent(t *testing.T, eventID, eventType string, sub model.PaypalSubscription) *model.PayPalWebhookEvent {
	return &model.PayPalWebhookEvent{
		ID:           eventID,
		EventType:    eventType,
		CreateTime:   "2024-05-01T09:00:00Z",
		ResourceType: "subscription",
		Resource:     mustJSON(t, sub),
	}
}

func captureEvent(t *testing.T, eventID, eventType string, capture model.CaptureResource) *model.PayPalWebhookEvent {
	return &model.PayPalWebhookEvent{
		ID:           eventID,
		EventType:    eventType,
		CreateTime:   "2024-05-01T09:00:00Z",
		ResourceType: "capture",
		Resource:     mustJSON(t, capture),
	}
}

func activeSubscription(id, payerID string) model.PaypalSubscription {
	return model.PaypalSubscription{
		ID:     id,
		Status: model.StatusActive,
		PlanID: "P-PRO",
		Subscriber: model.Subscriber{
			PayerID:      payerID,
			EmailAddress: "jane@example.com",
			Name:         model.SubscriberName{GivenName: "Jane", Surname: "Doe"},
		},
	}
}
