package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"paypal-billing-service/internal/config"
	"paypal-billing-service/internal/model"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokens are refreshed this long before PayPal says they expire
const tokenSafetyMargin = 5 * time.Minute

type PaypalClient interface {
	GetAccessToken(ctx context.Context) (string, error)
	CreateSubscription(ctx context.Context, req *CreateSubscriptionRequest) (*CreateSubscriptionResponse, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*model.PaypalSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID, reason string) error
	UpdateSubscription(ctx context.Context, subscriptionID string, ops []PatchOperation) error
	ListSubscriptions(ctx context.Context, filter ListSubscriptionsFilter) (*model.PaypalSubscriptionList, error)
	CreatePlan(ctx context.Context, req *CreatePlanRequest) (*model.PaypalPlan, error)
	GetPlan(ctx context.Context, planID string) (*model.PaypalPlan, error)
	VerifyWebhookSignature(ctx context.Context, req *VerifySignatureRequest) (bool, error)
}

type paypalClientImpl struct {
	httpClient         *http.Client
	baseApiURL         string
	paypalClientID     string
	paypalClientSecret string

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
	refresh     singleflight.Group
	nowFunc     func() time.Time
}

type CreateSubscriptionRequest struct {
	PlanID     string
	CustomID   string
	Subscriber model.Subscriber
	BrandName  string
	ReturnURL  string
	CancelURL  string
}

type CreateSubscriptionResponse struct {
	SubscriptionID string             `json:"subscriptionId"`
	Status         string             `json:"status"`
	ApprovalURL    string             `json:"approvalUrl"`
	Links          []model.PaypalLink `json:"links"`
	CreatedAt      time.Time          `json:"createdAt"`
}

type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

type ListSubscriptionsFilter struct {
	PlanID   string
	Status   string
	PageSize int
	Page     int
}

type CreatePlanRequest struct {
	ProductID          string             `json:"product_id"`
	Name               string             `json:"name"`
	Description        string             `json:"description,omitempty"`
	Status             string             `json:"status,omitempty"`
	BillingCycles      []BillingCycle     `json:"billing_cycles"`
	PaymentPreferences PaymentPreferences `json:"payment_preferences"`
}

type BillingCycle struct {
	Frequency     Frequency     `json:"frequency"`
	TenureType    string        `json:"tenure_type"`
	Sequence      int           `json:"sequence"`
	TotalCycles   int           `json:"total_cycles"`
	PricingScheme PricingScheme `json:"pricing_scheme"`
}

type Frequency struct {
	IntervalUnit  string `json:"interval_unit"`
	IntervalCount int    `json:"interval_count"`
}

type PricingScheme struct {
	FixedPrice model.Amount `json:"fixed_price"`
}

type PaymentPreferences struct {
	AutoBillOutstanding     bool   `json:"auto_bill_outstanding"`
	SetupFeeFailureAction   string `json:"setup_fee_failure_action,omitempty"`
	PaymentFailureThreshold int    `json:"payment_failure_threshold"`
}

type VerifySignatureRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

func NewPaypalClient(paypalCfg *config.Paypal) PaypalClient {
	return newPaypalClient(paypalCfg, &http.Client{Timeout: paypalCfg.HTTPTimeout})
}

func newPaypalClient(paypalCfg *config.Paypal, httpClient *http.Client) *paypalClientImpl {
	if httpClient.Timeout == 0 {
		httpClient.Timeout = 10 * time.Second
	}
	return &paypalClientImpl{
		httpClient:         httpClient,
		baseApiURL:         paypalCfg.ResolveBaseURL(),
		paypalClientID:     paypalCfg.ClientID,
		paypalClientSecret: paypalCfg.ClientSecret,
		nowFunc:            time.Now,
	}
}

func (c *paypalClientImpl) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && c.nowFunc().Before(c.expiresAt.Add(-tokenSafetyMargin)) {
		return c.accessToken, true
	}
	return "", false
}

func (c *paypalClientImpl) invalidateToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == token {
		c.accessToken = ""
		c.expiresAt = time.Time{}
	}
}

// GetAccessToken returns the cached bearer token or exchanges the client
// credentials for a new one. Concurrent refreshes share one request.
func (c *paypalClientImpl) GetAccessToken(ctx context.Context) (string, error) {
	if token, ok := c.cachedToken(); ok {
		return token, nil
	}

	v, err, _ := c.refresh.Do("token", func() (any, error) {
		if token, ok := c.cachedToken(); ok {
			return token, nil
		}
		return c.fetchAccessToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *paypalClientImpl) fetchAccessToken(ctx context.Context) (string, error) {
	auth := base64.StdEncoding.EncodeToString(
		[]byte(c.paypalClientID + ":" + c.paypalClientSecret),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseApiURL+"/v1/oauth2/token",
		bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", &AuthenticationError{Err: fmt.Errorf("http new request: %w", err)}
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &AuthenticationError{Err: fmt.Errorf("http client do: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthenticationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read token response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthenticationError{StatusCode: resp.StatusCode, Err: decodeRemoteError(resp.StatusCode, body)}
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", &AuthenticationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if res.AccessToken == "" {
		return "", &AuthenticationError{StatusCode: resp.StatusCode, Err: errors.New("empty access token")}
	}

	c.mu.Lock()
	c.accessToken = res.AccessToken
	c.expiresAt = c.nowFunc().Add(time.Duration(res.ExpiresIn) * time.Second)
	c.mu.Unlock()

	return res.AccessToken, nil
}

// do sends an authenticated JSON request. A 401 drops the cached token and
// the request is sent once more with a fresh one.
func (c *paypalClientImpl) do(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal req payload: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		accessToken, err := c.GetAccessToken(ctx)
		if err != nil {
			return fmt.Errorf("get paypal access token: %w", err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseApiURL+path, reader)
		if err != nil {
			return fmt.Errorf("http new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if method == http.MethodPost {
			req.Header.Set("Prefer", "return=representation")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &RemoteServiceError{
				StatusCode: http.StatusServiceUnavailable,
				Message:    "paypal request failed",
				Err:        err,
			}
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return &RemoteServiceError{StatusCode: resp.StatusCode, Message: "read response body", Err: err}
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.invalidateToken(accessToken)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return decodeRemoteError(resp.StatusCode, respBody)
		}

		if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode paypal response: %w", err)
			}
		}
		return nil
	}
}

func decodeRemoteError(statusCode int, body []byte) *RemoteServiceError {
	remoteErr := &RemoteServiceError{StatusCode: statusCode}

	var parsed paypalErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		remoteErr.Message = string(body)
		return remoteErr
	}

	remoteErr.Name = parsed.Name
	remoteErr.Message = parsed.Message
	if remoteErr.Message == "" {
		remoteErr.Message = parsed.ErrorDescription
	}
	if remoteErr.Name == "" {
		remoteErr.Name = parsed.Error
	}
	remoteErr.DebugID = parsed.DebugID
	remoteErr.Details = parsed.Details
	return remoteErr
}

func (c *paypalClientImpl) CreateSubscription(ctx context.Context, in *CreateSubscriptionRequest) (*CreateSubscriptionResponse, error) {
	payload := map[string]any{
		"plan_id":    in.PlanID,
		"subscriber": in.Subscriber,
		"application_context": map[string]any{
			"brand_name":          in.BrandName,
			"locale":              "en-US",
			"shipping_preference": "NO_SHIPPING",
			"user_action":         "SUBSCRIBE_NOW",
			"payment_method": map[string]string{
				"payer_selected":  "PAYPAL",
				"payee_preferred": "IMMEDIATE_PAYMENT_REQUIRED",
			},
			"return_url": in.ReturnURL,
			"cancel_url": in.CancelURL,
		},
	}
	if in.CustomID != "" {
		payload["custom_id"] = in.CustomID
	}

	var result model.PaypalSubscription
	if err := c.do(ctx, http.MethodPost, "/v1/billing/subscriptions", payload, &result); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	return &CreateSubscriptionResponse{
		SubscriptionID: result.ID,
		Status:         result.Status,
		ApprovalURL:    _extractApproveURL(result.Links),
		Links:          result.Links,
		CreatedAt:      c.nowFunc(),
	}, nil
}

func (c *paypalClientImpl) GetSubscription(ctx context.Context, subscriptionID string) (*model.PaypalSubscription, error) {
	var result model.PaypalSubscription
	path := "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", subscriptionID, err)
	}
	return &result, nil
}

func (c *paypalClientImpl) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	if reason == "" {
		reason = "Customer requested cancellation"
	}
	path := fmt.Sprintf("/v1/billing/subscriptions/%s/cancel", url.PathEscape(subscriptionID))
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"reason": reason}, nil); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (c *paypalClientImpl) UpdateSubscription(ctx context.Context, subscriptionID string, ops []PatchOperation) error {
	path := "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID)
	if err := c.do(ctx, http.MethodPatch, path, ops, nil); err != nil {
		return fmt.Errorf("update subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (c *paypalClientImpl) ListSubscriptions(ctx context.Context, filter ListSubscriptionsFilter) (*model.PaypalSubscriptionList, error) {
	query := url.Values{}
	if filter.PlanID != "" {
		query.Set("plan_id", filter.PlanID)
	}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(filter.PageSize))
	}
	if filter.Page > 0 {
		query.Set("page", strconv.Itoa(filter.Page))
	}

	path := "/v1/billing/subscriptions"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var result model.PaypalSubscriptionList
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return &result, nil
}

func (c *paypalClientImpl) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*model.PaypalPlan, error) {
	var result model.PaypalPlan
	if err := c.do(ctx, http.MethodPost, "/v1/billing/plans", req, &result); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	return &result, nil
}

func (c *paypalClientImpl) GetPlan(ctx context.Context, planID string) (*model.PaypalPlan, error) {
	var result model.PaypalPlan
	if err := c.do(ctx, http.MethodGet, "/v1/billing/plans/"+url.PathEscape(planID), nil, &result); err != nil {
		return nil, fmt.Errorf("get plan %s: %w", planID, err)
	}
	return &result, nil
}

// VerifyWebhookSignature asks PayPal whether a notification is authentic.
// Only verification_status SUCCESS counts; every failure reports false.
func (c *paypalClientImpl) VerifyWebhookSignature(ctx context.Context, req *VerifySignatureRequest) (bool, error) {
	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req, &result); err != nil {
		return false, fmt.Errorf("verify webhook signature: %w", err)
	}
	return result.VerificationStatus == "SUCCESS", nil
}

func _extractApproveURL(links []model.PaypalLink) string {
	for _, link := range links {
		if link.Rel == "approve" {
			return link.Href
		}
	}
	return ""
}
