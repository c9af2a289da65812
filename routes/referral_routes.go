// routes/referral_routes.go
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/controllers"
	"github.com/memberly/memberly_backend/middleware"
)

// RegisterReferralRoutes registers the member-facing referral routes plus the
// public code check and the shareable click link.
func RegisterReferralRoutes(e *echo.Echo, cfg config.Config, rc *controllers.ReferralController) {
	featureFlag := middleware.RequireReferralsEnabled(cfg)

	// Public: hit during registration before any session exists
	e.GET("/api/referrals/validate", rc.ValidateCode, featureFlag)

	// Public: the shareable link itself
	e.GET("/r/:code", rc.HandleReferralClick, featureFlag)

	referralGroup := e.Group("/api/referrals")
	referralGroup.Use(featureFlag)
	referralGroup.Use(middleware.JWTMiddleware())

	referralGroup.GET("", rc.GetReferralData)
	referralGroup.GET("/slug", rc.GetSlug)
	referralGroup.PUT("/slug", rc.SetSlug)
	referralGroup.GET("/qrcode", rc.GetReferralQRCode)
}
