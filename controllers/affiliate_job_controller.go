package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
)

// CronTriggerHeader is set by the platform scheduler on its own invocations.
const CronTriggerHeader = "X-Platform-Cron"

// PayableJobRunner abstracts the affiliate payable job for the handler.
type PayableJobRunner interface {
	Run(ctx context.Context, trigger models.JobTrigger) (*models.PayableJobResult, error)
}

// AffiliateJobController exposes the scheduled payable-promotion job over
// HTTP. The platform offers no in-process scheduler, only an external cron
// that fires this endpoint at-least-once; operators hit the same endpoint
// manually.
type AffiliateJobController struct {
	cfg config.Config
	job PayableJobRunner
}

func NewAffiliateJobController(cfg config.Config, job PayableJobRunner) *AffiliateJobController {
	return &AffiliateJobController{cfg: cfg, job: job}
}

type cronResponse struct {
	Success bool                     `json:"success"`
	Result  *models.PayableJobResult `json:"result,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// RunAffiliatePayables handles GET and POST /api/cron/affiliate-payables.
func (jc *AffiliateJobController) RunAffiliatePayables(c echo.Context) error {
	authorized, configErr := AuthorizeCronRequest(jc.cfg, c.Request().Header.Get(CronTriggerHeader) != "", c.QueryParam("secret"))
	if configErr {
		// Production with no secret configured must never run open; this is
		// a deployment mistake, not an auth failure.
		c.Logger().Error("affiliate payable job refused: cron secret missing in production")
		return c.JSON(http.StatusInternalServerError, cronResponse{Success: false, Error: "cron secret not configured"})
	}
	if !authorized {
		return c.JSON(http.StatusUnauthorized, cronResponse{Success: false, Error: "unauthorized"})
	}

	trigger := models.TriggerManual
	if c.Request().Header.Get(CronTriggerHeader) != "" {
		trigger = models.TriggerCron
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Minute)
	defer cancel()

	result, err := jc.job.Run(ctx, trigger)
	if err != nil {
		c.Logger().Errorf("affiliate payable job failed: %v", err)
		resp := cronResponse{Success: false, Error: "job failed"}
		if !jc.cfg.IsProduction() {
			resp.Error = err.Error()
		}
		return c.JSON(http.StatusInternalServerError, resp)
	}

	return c.JSON(http.StatusOK, cronResponse{Success: true, Result: result})
}

// AuthorizeCronRequest decides whether a job invocation may proceed. A
// request is authorized when the platform cron header is present, when the
// secret matches, or when a non-production environment has no secret
// configured. Production without a configured secret is a configuration
// error (fail closed), reported separately from an ordinary bad secret.
func AuthorizeCronRequest(cfg config.Config, hasCronHeader bool, secret string) (authorized bool, configErr bool) {
	if cfg.CronSecret == "" {
		if cfg.IsProduction() {
			return false, true
		}
		return true, false
	}
	if hasCronHeader {
		return true, false
	}
	return secret == cfg.CronSecret, false
}
