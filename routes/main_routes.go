package routes

import (
	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/controllers"
	"github.com/memberly/memberly_backend/jobs"
	"github.com/memberly/memberly_backend/repositories"
)

// SetupRoutes wires repositories, the payable job and controllers, then
// registers every route group.
func SetupRoutes(e *echo.Echo, cfg config.Config, db *mongo.Client, redisClient *redis.Client) {
	users := repositories.NewUserRepository(db, cfg)
	referrals := repositories.NewReferralRepository(db, cfg)
	payouts := repositories.NewPayoutRepository(db, cfg)
	schedules := repositories.NewScheduleRepository(db, cfg)
	locks := repositories.NewJobLockRepository(db, cfg)

	payableJob := jobs.NewAffiliatePayableJob(locks, referrals, cfg)

	referralController := controllers.NewReferralController(cfg, users, referrals, redisClient)
	adminController := controllers.NewAdminPayoutController(cfg, referrals, payouts, schedules)
	jobController := controllers.NewAffiliateJobController(cfg, payableJob)
	attributionController := controllers.NewAttributionController(cfg, referrals)

	RegisterReferralRoutes(e, cfg, referralController)
	RegisterAdminRoutes(e, cfg, adminController)
	RegisterCronRoutes(e, cfg, jobController)
	RegisterInternalRoutes(e, cfg, attributionController)
}
