package handler

import (
	"net/http"
	"paypal-billing-service/internal/dto"
	"paypal-billing-service/internal/model"
	"paypal-billing-service/internal/service"

	"github.com/labstack/echo/v4"
)

type SubscriptionHandler struct {
	subscriptionService service.SubscriptionService
	trackerService      service.TrackerService
}

func NewSubscriptionHandler(subscriptionService service.SubscriptionService, trackerService service.TrackerService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		trackerService:      trackerService,
	}
}

func (h *SubscriptionHandler) CreateSubscription(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CreateSubscriptionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.subscriptionService.CreateSubscription(ctx, &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, result)
}

func (h *SubscriptionHandler) GetSubscription(c echo.Context) error {
	subscription, err := h.subscriptionService.GetSubscription(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, subscription)
}

func (h *SubscriptionHandler) ListSubscriptions(c echo.Context) error {
	var req dto.ListSubscriptionsRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.subscriptionService.ListSubscriptions(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *SubscriptionHandler) CancelSubscription(c echo.Context) error {
	var req dto.CancelSubscriptionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.subscriptionService.CancelSubscription(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *SubscriptionHandler) UpdateSubscription(c echo.Context) error {
	var req dto.UpdateSubscriptionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.subscriptionService.UpdateSubscription(c.Request().Context(), c.Param("id"), req.PlanKey)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *SubscriptionHandler) GetStatus(c echo.Context) error {
	ctx := c.Request().Context()
	subscriptionID := c.Param("id")

	status, err := h.trackerService.GetCurrentStatus(ctx, subscriptionID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"subscriptionId": subscriptionID,
		"status":         status,
		"active":         status == model.StatusActive,
	})
}

func (h *SubscriptionHandler) GetHistory(c echo.Context) error {
	timeline, err := h.trackerService.GetStatusTimeline(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, timeline)
}

func (h *SubscriptionHandler) GetMetrics(c echo.Context) error {
	metrics, err := h.trackerService.GetSubscriptionMetrics(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, metrics)
}

func (h *SubscriptionHandler) SyncStatus(c echo.Context) error {
	result, err := h.trackerService.SyncSubscriptionStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *SubscriptionHandler) ListPlans(c echo.Context) error {
	return c.JSON(http.StatusOK, h.subscriptionService.GetAllPlans())
}

func (h *SubscriptionHandler) GetPlan(c echo.Context) error {
	plan, err := h.subscriptionService.GetPlanDetails(c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plan)
}
