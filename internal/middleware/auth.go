package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminTokenMiddleware guards operator routes with a shared token. An empty
// configured token locks the routes entirely.
func AdminTokenMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			given := c.Request().Header.Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin token")
			}
			return next(c)
		}
	}
}
