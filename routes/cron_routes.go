// routes/cron_routes.go
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/controllers"
	"github.com/memberly/memberly_backend/middleware"
)

// RegisterCronRoutes registers the scheduled job trigger. The platform cron
// fires GET; operators may also POST the same path. Authorization happens in
// the handler, not in middleware, so a missing secret in production can be
// reported as a configuration error.
func RegisterCronRoutes(e *echo.Echo, cfg config.Config, jc *controllers.AffiliateJobController) {
	featureFlag := middleware.RequireReferralsEnabled(cfg)

	e.GET("/api/cron/affiliate-payables", jc.RunAffiliatePayables, featureFlag)
	e.POST("/api/cron/affiliate-payables", jc.RunAffiliatePayables, featureFlag)
}
