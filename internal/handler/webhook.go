package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"paypal-billing-service/internal/service"
	"time"

	"github.com/labstack/echo/v4"
)

const providerPaypal = "paypal"

// max accepted webhook body
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	webhookService service.WebhookService
	webhookID      string
	logger         *slog.Logger
}

func NewWebhookHandler(webhookService service.WebhookService, webhookID string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		webhookID:      webhookID,
		logger:         logger.With("component", "webhook_handler"),
	}
}

// Receive accepts a PayPal notification. The body is read raw because the
// signature covers the exact bytes.
//
//	200 handled or duplicate
//	202 failed and queued for retry
//	400 not a webhook event
//	401 signature rejected
//	422 unusable event parked as a dead letter
//	500 failed and could not be queued
func (h *WebhookHandler) Receive(c echo.Context) error {
	ctx := c.Request().Context()

	if c.Param("provider") != providerPaypal {
		return echo.NewHTTPError(http.StatusNotFound, "unknown webhook provider")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	if !h.webhookService.VerifyWebhookSignature(ctx, c.Request().Header, body, h.webhookID) {
		return echo.NewHTTPError(http.StatusUnauthorized, service.ErrSignatureInvalid.Error())
	}

	event, err := h.webhookService.ParseEvent(body)
	if err != nil {
		var malformed *service.MalformedEventError
		if errors.As(err, &malformed) {
			return echo.NewHTTPError(http.StatusBadRequest, malformed.Error())
		}
		return err
	}

	result := h.webhookService.ProcessWebhookEvent(ctx, event)

	switch {
	case result.Success:
		return c.JSON(http.StatusOK, result)
	case result.QueuedForRetry:
		return c.JSON(http.StatusAccepted, result)
	case result.DeadLettered:
		return c.JSON(http.StatusUnprocessableEntity, result)
	default:
		return c.JSON(http.StatusInternalServerError, result)
	}
}

func (h *WebhookHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"provider":  providerPaypal,
		"timestamp": time.Now().UTC(),
	})
}
