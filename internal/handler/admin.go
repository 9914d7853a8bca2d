package handler

import (
	"net/http"
	"paypal-billing-service/internal/dto"
	"paypal-billing-service/internal/service"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// AdminHandler serves the operator routes: retry queue, dead letters,
// status reporting and the customer directory.
type AdminHandler struct {
	retryService        service.RetryService
	processor           service.EventProcessor
	trackerService      service.TrackerService
	customerService     service.CustomerService
	subscriptionService service.SubscriptionService
}

func NewAdminHandler(
	retryService service.RetryService,
	processor service.EventProcessor,
	trackerService service.TrackerService,
	customerService service.CustomerService,
	subscriptionService service.SubscriptionService,
) *AdminHandler {
	return &AdminHandler{
		retryService:        retryService,
		processor:           processor,
		trackerService:      trackerService,
		customerService:     customerService,
		subscriptionService: subscriptionService,
	}
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

func (h *AdminHandler) ListRetries(c echo.Context) error {
	retries, err := h.retryService.GetPendingRetries(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, retries)
}

func (h *AdminHandler) RetryStats(c echo.Context) error {
	stats, err := h.retryService.GetRetryStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *AdminHandler) GetRetry(c echo.Context) error {
	retry, err := h.retryService.GetRetryStatus(c.Request().Context(), c.Param("webhookID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, retry)
}

func (h *AdminHandler) CancelRetry(c echo.Context) error {
	webhookID := c.Param("webhookID")
	cancelled, err := h.retryService.CancelRetry(c.Request().Context(), webhookID)
	if err != nil {
		return err
	}
	if !cancelled {
		return service.ErrRetryNotFound
	}
	return c.JSON(http.StatusOK, map[string]any{
		"webhookId": webhookID,
		"cancelled": true,
	})
}

func (h *AdminHandler) CleanupRetries(c echo.Context) error {
	maxAge := 24 * time.Hour
	if raw := c.QueryParam("maxAge"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid maxAge")
		}
		maxAge = parsed
	}

	removed, err := h.retryService.CleanupOldRetries(c.Request().Context(), maxAge)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"removed": removed})
}

func (h *AdminHandler) ListDeadLetters(c echo.Context) error {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		return err
	}

	deadLetters, err := h.retryService.ListDeadLetters(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deadLetters)
}

func (h *AdminHandler) ReplayDeadLetter(c echo.Context) error {
	result, err := h.retryService.ReplayDeadLetter(c.Request().Context(), c.Param("id"), h.processor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) StatusSummary(c echo.Context) error {
	summary, err := h.trackerService.GetStatusSummary(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *AdminHandler) SubscriptionsByStatus(c echo.Context) error {
	status := c.QueryParam("status")
	if status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}

	ids, err := h.trackerService.GetSubscriptionsByStatus(c.Request().Context(), status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":        status,
		"subscriptions": ids,
	})
}

func (h *AdminHandler) ListCustomers(c echo.Context) error {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}

	result, err := h.customerService.ListCustomers(c.Request().Context(), c.QueryParam("status"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) CreateCustomer(c echo.Context) error {
	var req dto.CreateCustomerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	customer, err := h.customerService.CreateCustomerFromSubscription(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, customer)
}

func (h *AdminHandler) GetCustomer(c echo.Context) error {
	customer, err := h.customerService.GetCustomer(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, customer)
}

func (h *AdminHandler) UpdateCustomer(c echo.Context) error {
	var req dto.CustomerUpdates
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	customer, err := h.customerService.SyncCustomerData(c.Request().Context(), c.Param("id"), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, customer)
}

func (h *AdminHandler) UpdateCustomerStatus(c echo.Context) error {
	var req dto.UpdateCustomerStatusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	customer, err := h.customerService.SetCustomerStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, customer)
}

func (h *AdminHandler) LinkCustomer(c echo.Context) error {
	var req dto.LinkCustomerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	customer, err := h.customerService.LinkPayPalCustomer(c.Request().Context(), c.Param("id"), req.PaypalCustomerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, customer)
}

func (h *AdminHandler) DeleteCustomer(c echo.Context) error {
	if err := h.customerService.DeleteCustomer(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHandler) CreateBillingPlan(c echo.Context) error {
	plan, err := h.subscriptionService.CreateBillingPlan(c.Request().Context(), c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, plan)
}

func (h *AdminHandler) GetBillingPlan(c echo.Context) error {
	plan, err := h.subscriptionService.GetBillingPlan(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plan)
}
