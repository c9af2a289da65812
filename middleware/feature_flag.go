// middleware/feature_flag.go
package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
)

// RequireReferralsEnabled gates every referral endpoint behind the subsystem
// feature flag. When the flag is off the whole surface answers 503.
func RequireReferralsEnabled(cfg config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.ReferralsEnabled {
				return c.JSON(http.StatusServiceUnavailable, models.Response{
					Status:  http.StatusServiceUnavailable,
					Message: "Referral program is currently disabled",
				})
			}
			return next(c)
		}
	}
}
