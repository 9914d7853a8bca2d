package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"paypal-billing-service/internal/client"
	"paypal-billing-service/internal/repository"
	"paypal-billing-service/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// RequestValidator plugs go-playground/validator into echo's c.Validate.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

func (v *RequestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(req)
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var httpErr *echo.HTTPError
	var remoteErr *client.RemoteServiceError
	var authErr *client.AuthenticationError

	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, service.ErrCustomerNotFound),
		errors.Is(err, service.ErrRetryNotFound),
		errors.Is(err, service.ErrDeadLetterNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidPlan):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return http.StatusBadGateway
	case errors.As(err, &remoteErr):
		switch {
		case remoteErr.StatusCode == http.StatusNotFound:
			return http.StatusNotFound
		case remoteErr.StatusCode >= 400 && remoteErr.StatusCode < 500 && remoteErr.StatusCode != http.StatusTooManyRequests:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}

// NewHTTPErrorHandler renders every error as {"success":false,"error":...}.
// Internal errors are logged and hidden from the client.
func NewHTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := statusFor(err)
		message := err.Error()

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			if m, ok := httpErr.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(httpErr.Code)
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", status,
				"error", err,
			)
			if status == http.StatusInternalServerError {
				message = http.StatusText(status)
			}
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, map[string]any{
			"success": false,
			"error":   message,
		})
	}
}
