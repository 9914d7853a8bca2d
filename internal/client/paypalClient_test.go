package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"paypal-billing-service/internal/config"
	"paypal-billing-service/internal/model"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePaypal struct {
	tokenCalls atomic.Int32
	tokenDelay time.Duration
	expiresIn  int
	mux        *http.ServeMux
}

func newFakePaypal(t *testing.T) (*fakePaypal, *httptest.Server) {
	t.Helper()
	f := &fakePaypal{expiresIn: 32400, mux: http.NewServeMux()}
	f.mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"Client Authentication failed"}`))
			return
		}
		n := f.tokenCalls.Add(1)
		if f.tokenDelay > 0 {
			time.Sleep(f.tokenDelay)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "token-" + string(rune('0'+n)),
			"expires_in":   f.expiresIn,
		})
	})
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testClient(srv *httptest.Server, secret string) *paypalClientImpl {
	return newPaypalClient(&config.Paypal{
		BaseApiURL:   srv.URL,
		ClientID:     "client-id",
		ClientSecret: secret,
	}, srv.Client())
}

func TestGetAccessTokenIsCached(t *testing.T) {
	fake, srv := newFakePaypal(t)
	c := testClient(srv, "client-secret")

	first, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	second, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}

func TestGetAccessTokenRefreshesInsideSafetyMargin(t *testing.T) {
	fake, srv := newFakePaypal(t)
	c := testClient(srv, "client-secret")
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return now }

	_, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)

	// expires_in is 9h, so 8h56m later we are within the 5 minute margin
	now = now.Add(8*time.Hour + 56*time.Minute)
	_, err = c.GetAccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestGetAccessTokenConcurrentRefreshSharesOneRequest(t *testing.T) {
	fake, srv := newFakePaypal(t)
	fake.tokenDelay = 50 * time.Millisecond
	c := testClient(srv, "client-secret")

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := c.GetAccessToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), fake.tokenCalls.Load())
	for _, token := range tokens {
		assert.Equal(t, tokens[0], token)
	}
}

func TestGetAccessTokenFailure(t *testing.T) {
	_, srv := newFakePaypal(t)
	c := testClient(srv, "wrong")

	_, err := c.GetAccessToken(context.Background())
	require.Error(t, err)

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Contains(t, err.Error(), "Client Authentication failed")
}

func TestRequestRetriesOnceAfterUnauthorized(t *testing.T) {
	fake, srv := newFakePaypal(t)
	var calls atomic.Int32
	fake.mux.HandleFunc("/v1/billing/subscriptions/I-SUB1", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"name": "AUTHENTICATION_FAILURE"})
			return
		}
		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"id": "I-SUB1", "status": "ACTIVE", "plan_id": "P-1"})
	})
	c := testClient(srv, "client-secret")

	sub, err := c.GetSubscription(context.Background(), "I-SUB1")
	require.NoError(t, err)

	assert.Equal(t, "ACTIVE", sub.Status)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestRequestGivesUpAfterSecondUnauthorized(t *testing.T) {
	fake, srv := newFakePaypal(t)
	fake.mux.HandleFunc("/v1/billing/subscriptions/I-SUB1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"name": "AUTHENTICATION_FAILURE", "message": "nope"})
	})
	c := testClient(srv, "client-secret")

	_, err := c.GetSubscription(context.Background(), "I-SUB1")

	var remoteErr *RemoteServiceError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusUnauthorized, remoteErr.StatusCode)
	assert.False(t, remoteErr.Retryable())
}

func TestRemoteErrorIsDecoded(t *testing.T) {
	fake, srv := newFakePaypal(t)
	fake.mux.HandleFunc("/v1/billing/subscriptions/I-SUB1/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"name":     "UNPROCESSABLE_ENTITY",
			"message":  "The requested action could not be performed",
			"debug_id": "abc123",
			"details":  []map[string]string{{"issue": "SUBSCRIPTION_STATUS_INVALID"}},
		})
	})
	c := testClient(srv, "client-secret")

	err := c.CancelSubscription(context.Background(), "I-SUB1", "")

	var remoteErr *RemoteServiceError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusUnprocessableEntity, remoteErr.StatusCode)
	assert.Equal(t, "UNPROCESSABLE_ENTITY", remoteErr.Name)
	assert.Equal(t, "abc123", remoteErr.DebugID)
	require.Len(t, remoteErr.Details, 1)
	assert.Equal(t, "SUBSCRIPTION_STATUS_INVALID", remoteErr.Details[0].Issue)
}

func TestTransportFailureIsServiceUnavailable(t *testing.T) {
	_, srv := newFakePaypal(t)
	c := testClient(srv, "client-secret")
	_, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	srv.Close()

	_, err = c.GetPlan(context.Background(), "P-1")

	var remoteErr *RemoteServiceError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusServiceUnavailable, remoteErr.StatusCode)
	assert.True(t, remoteErr.Retryable())
}

func TestCreateSubscriptionReturnsApprovalURL(t *testing.T) {
	fake, srv := newFakePaypal(t)
	fake.mux.HandleFunc("/v1/billing/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "P-PRO", body["plan_id"])
		appCtx, _ := body["application_context"].(map[string]any)
		assert.Equal(t, "https://app.example.com/return", appCtx["return_url"])

		writeJSON(w, http.StatusCreated, map[string]any{
			"id":     "I-NEW",
			"status": "APPROVAL_PENDING",
			"links": []map[string]string{
				{"rel": "approve", "href": "https://www.paypal.com/webapps/billing/subscriptions?ba_token=BA-1"},
				{"rel": "self", "href": "https://api-m.paypal.com/v1/billing/subscriptions/I-NEW"},
			},
		})
	})
	c := testClient(srv, "client-secret")

	resp, err := c.CreateSubscription(context.Background(), &CreateSubscriptionRequest{
		PlanID:     "P-PRO",
		Subscriber: model.Subscriber{EmailAddress: "owner@example.com"},
		ReturnURL:  "https://app.example.com/return",
		CancelURL:  "https://app.example.com/cancel",
	})
	require.NoError(t, err)

	assert.Equal(t, "I-NEW", resp.SubscriptionID)
	assert.Equal(t, "APPROVAL_PENDING", resp.Status)
	assert.Equal(t, "https://www.paypal.com/webapps/billing/subscriptions?ba_token=BA-1", resp.ApprovalURL)
	assert.Len(t, resp.Links, 2)
}

func TestUpdateAndListSubscriptions(t *testing.T) {
	fake, srv := newFakePaypal(t)
	fake.mux.HandleFunc("/v1/billing/subscriptions/I-SUB1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var ops []PatchOperation
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ops))
		if assert.Len(t, ops, 1) {
			assert.Equal(t, "/plan_id", ops[0].Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	fake.mux.HandleFunc("/v1/billing/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "P-1", r.URL.Query().Get("plan_id"))
		assert.Equal(t, "ACTIVE", r.URL.Query().Get("status"))
		assert.Equal(t, "20", r.URL.Query().Get("page_size"))
		writeJSON(w, http.StatusOK, map[string]any{
			"subscriptions": []map[string]string{{"id": "I-SUB1", "status": "ACTIVE"}},
			"total_items":   1,
			"total_pages":   1,
		})
	})
	c := testClient(srv, "client-secret")

	err := c.UpdateSubscription(context.Background(), "I-SUB1", []PatchOperation{{Op: "replace", Path: "/plan_id", Value: "P-2"}})
	require.NoError(t, err)

	list, err := c.ListSubscriptions(context.Background(), ListSubscriptionsFilter{PlanID: "P-1", Status: "ACTIVE", PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalItems)
	require.Len(t, list.Subscriptions, 1)
	assert.Equal(t, "I-SUB1", list.Subscriptions[0].ID)
}

func TestVerifyWebhookSignature(t *testing.T) {
	fake, srv := newFakePaypal(t)
	fake.mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req VerifySignatureRequest
		assert.NoError(t, json.Unmarshal(raw, &req))
		status := "FAILURE"
		if req.TransmissionSig == "good" {
			status = "SUCCESS"
		}
		assert.JSONEq(t, `{"id":"WH-1"}`, string(req.WebhookEvent))
		writeJSON(w, http.StatusOK, map[string]string{"verification_status": status})
	})
	c := testClient(srv, "client-secret")

	req := &VerifySignatureRequest{TransmissionSig: "good", WebhookEvent: json.RawMessage(`{"id":"WH-1"}`)}
	ok, err := c.VerifyWebhookSignature(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, ok)

	req.TransmissionSig = "bad"
	ok, err = c.VerifyWebhookSignature(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, ok)
}
