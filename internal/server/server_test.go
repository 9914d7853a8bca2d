package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paypal-billing-service/internal/client"
	"paypal-billing-service/internal/config"
	"paypal-billing-service/internal/middleware"
	"paypal-billing-service/internal/repository"
	"paypal-billing-service/internal/service"
)

const (
	testSecret     = "shh"
	testWebhookID  = "WH-CONFIG"
	testAdminToken = "admin-secret"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	db, err := client.InitDatabase("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	paypalCfg := config.Paypal{
		BaseApiURL:    "http://127.0.0.1:1",
		WebhookID:     testWebhookID,
		WebhookSecret: testSecret,
		HTTPTimeout:   time.Second,
	}
	webhookCfg := config.Webhook{Retention: 24 * time.Hour, ClaimLease: 5 * time.Minute, PerformanceTarget: 30 * time.Second}
	retryCfg := config.Retry{
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          time.Minute,
		MaxRetries:        5,
		PollInterval:      time.Second,
		BatchSize:         10,
		CleanupAge:        24 * time.Hour,
		CleanupInterval:   time.Hour,
	}

	paypalClient := client.NewPaypalClient(&paypalCfg)
	eventRepo := repository.NewWebhookEventRepository(db)
	tracker := service.NewTrackerService(db, paypalClient, repository.NewStatusRepository(db), logger)
	customers := service.NewCustomerService(paypalClient, repository.NewCustomerRepository(db), logger)
	retries := service.NewRetryService(repository.NewRetryRepository(db), repository.NewDeadLetterRepository(db),
		eventRepo, nil, retryCfg, webhookCfg, logger)
	webhooks := service.NewWebhookService(paypalClient, eventRepo, tracker, customers, retries, paypalCfg, webhookCfg, logger)

	srv := NewServer(Services{
		Webhooks:      webhooks,
		Retries:       retries,
		Tracker:       tracker,
		Customers:     customers,
		Subscriptions: service.NewSubscriptionService(paypalClient, &paypalCfg, logger),
	}, Options{
		WebhookID:  testWebhookID,
		AdminToken: testAdminToken,
		Logger:     logger,
	})
	return srv.Handler()
}

func postWebhook(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paypal", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(service.HeaderTransmissionID, "TX-1")
	req.Header.Set(service.HeaderTransmissionTime, "2024-05-01T09:00:00Z")
	req.Header.Set(service.HeaderCertURL, "https://api.sandbox.paypal.com/v1/notifications/certs/CERT-1")
	req.Header.Set(service.HeaderAuthAlgo, "SHA256withRSA")
	req.Header.Set(service.HeaderTransmissionSig,
		service.Sign(testSecret, "TX-1", "2024-05-01T09:00:00Z", testWebhookID, []byte(body)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func adminGet(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(middleware.AdminTokenHeader, testAdminToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const activationBody = `{
	"id": "WH-E2E-1",
	"event_type": "BILLING.SUBSCRIPTION.ACTIVATED",
	"create_time": "2024-05-01T09:00:00Z",
	"resource": {
		"id": "I-E2E",
		"status": "ACTIVE",
		"plan_id": "P-PRO",
		"subscriber": {"payer_id": "PAYER-E2E", "email_address": "ops@example.com", "name": {"given_name": "Ana", "surname": "Lee"}}
	}
}`

func TestWebhookEndToEnd(t *testing.T) {
	h := newTestServer(t)

	rec := postWebhook(t, h, activationBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "WH-E2E-1", result["webhookId"])

	rec = postWebhook(t, h, activationBody)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, true, result["duplicate"])

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions/I-E2E/status", nil)
	statusRec := httptest.NewRecorder()
	h.ServeHTTP(statusRec, req)
	require.Equal(t, http.StatusOK, statusRec.Code)
	assert.Contains(t, statusRec.Body.String(), `"active":true`)

	customers := adminGet(h, "/api/admin/customers")
	require.Equal(t, http.StatusOK, customers.Code)
	assert.Contains(t, customers.Body.String(), "PAYER-E2E")

	summary := adminGet(h, "/api/admin/status/summary")
	require.Equal(t, http.StatusOK, summary.Code)
	assert.Contains(t, summary.Body.String(), `"ACTIVE":1`)
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paypal", strings.NewReader(activationBody))
	req.Header.Set(service.HeaderTransmissionID, "TX-1")
	req.Header.Set(service.HeaderTransmissionTime, "2024-05-01T09:00:00Z")
	req.Header.Set(service.HeaderCertURL, "https://api.sandbox.paypal.com/v1/notifications/certs/CERT-1")
	req.Header.Set(service.HeaderAuthAlgo, "SHA256withRSA")
	req.Header.Set(service.HeaderTransmissionSig,
		service.Sign(testSecret, "TX-1", "2024-05-01T09:00:00Z", testWebhookID, []byte(`{"id":"other"}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	status := httptest.NewRecorder()
	h.ServeHTTP(status, httptest.NewRequest(http.MethodGet, "/api/admin/retries/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, status.Code)
}

func TestWebhookMalformedEvent(t *testing.T) {
	h := newTestServer(t)

	rec := postWebhook(t, h, `{"id":"WH-X","event_type":"BILLING.SUBSCRIPTION.CREATED"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesNeedToken(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/retries/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = adminGet(h, "/api/admin/retries/stats")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = adminGet(h, "/api/admin/retries/WH-MISSING")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlansAndHealth(t *testing.T) {
	h := newTestServer(t)

	for path, want := range map[string]int{
		"/api/health":                 http.StatusOK,
		"/api/webhooks/paypal/health": http.StatusOK,
		"/api/plans":                  http.StatusOK,
		"/api/plans/SOLO_PRO":         http.StatusOK,
		"/api/plans/GOLD":             http.StatusBadRequest,
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, path)
	}
}
