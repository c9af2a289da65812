// routes/admin_routes.go
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/controllers"
	"github.com/memberly/memberly_backend/middleware"
)

// RegisterAdminRoutes registers the admin settlement surface: the affiliate
// report, payout batches and manual payout schedules.
func RegisterAdminRoutes(e *echo.Echo, cfg config.Config, ac *controllers.AdminPayoutController) {
	adminGroup := e.Group("/api/admin")
	adminGroup.Use(middleware.RequireReferralsEnabled(cfg))
	adminGroup.Use(middleware.JWTMiddleware())
	adminGroup.Use(middleware.RequireUserType("admin"))

	adminGroup.GET("/affiliates", ac.ListAffiliates)
	adminGroup.GET("/affiliates/:id/referrals", ac.ListAffiliateReferrals)
	adminGroup.PUT("/referrals/:id", ac.UpdateReferralDetail)

	adminGroup.GET("/payout-batches", ac.ListPayoutBatches)
	adminGroup.POST("/payout-batches", ac.CreatePayoutBatch)
	adminGroup.POST("/payout-batches/:id/pay", ac.MarkPayoutBatchPaid)
	adminGroup.GET("/payout-batches/:id/csv", ac.ExportPayoutBatchCSV)

	adminGroup.GET("/payout-schedules", ac.ListPayoutSchedules)
	adminGroup.POST("/payout-schedules", ac.CreatePayoutSchedule)
	adminGroup.PUT("/payout-schedules/:id", ac.UpdatePayoutSchedule)
	adminGroup.DELETE("/payout-schedules/:id", ac.DeletePayoutSchedule)
	adminGroup.POST("/payout-schedules/:id/reminder", ac.SendPayoutScheduleReminder)
}
