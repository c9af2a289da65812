// routes/internal_routes.go
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/controllers"
	"github.com/memberly/memberly_backend/middleware"
)

// RegisterInternalRoutes registers the service-to-service attribution
// callbacks fired by the registration and billing services. Authorization
// happens in the handlers with the shared platform secret.
func RegisterInternalRoutes(e *echo.Echo, cfg config.Config, ac *controllers.AttributionController) {
	featureFlag := middleware.RequireReferralsEnabled(cfg)

	e.POST("/api/internal/referrals/signup", ac.RecordSignup, featureFlag)
	e.POST("/api/internal/referrals/conversion", ac.RecordConversion, featureFlag)
}
