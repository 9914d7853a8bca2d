package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"paypal-billing-service/internal/client"
	"paypal-billing-service/internal/repository"
	"paypal-billing-service/internal/service"
)

func TestStatusFor(t *testing.T) {
	for name, tc := range map[string]struct {
		err  error
		want int
	}{
		"http error":       {echo.NewHTTPError(http.StatusTeapot), http.StatusTeapot},
		"customer missing": {fmt.Errorf("get customer: %w", service.ErrCustomerNotFound), http.StatusNotFound},
		"retry missing":    {service.ErrRetryNotFound, http.StatusNotFound},
		"dead letter":      {service.ErrDeadLetterNotFound, http.StatusNotFound},
		"record missing":   {repository.ErrNotFound, http.StatusNotFound},
		"invalid plan":     {fmt.Errorf("%w: GOLD", service.ErrInvalidPlan), http.StatusBadRequest},
		"paypal auth":      {&client.AuthenticationError{StatusCode: 401, Err: errors.New("invalid_client")}, http.StatusBadGateway},
		"paypal not found": {fmt.Errorf("get: %w", &client.RemoteServiceError{StatusCode: 404}), http.StatusNotFound},
		"paypal rejected":  {&client.RemoteServiceError{StatusCode: 422}, http.StatusUnprocessableEntity},
		"paypal throttled": {&client.RemoteServiceError{StatusCode: 429}, http.StatusBadGateway},
		"paypal down":      {&client.RemoteServiceError{StatusCode: 503}, http.StatusBadGateway},
		"anything else":    {errors.New("boom"), http.StatusInternalServerError},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}
