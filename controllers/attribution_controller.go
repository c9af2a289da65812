package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
	"github.com/memberly/memberly_backend/repositories"
)

// PlatformServiceHeader is set by the platform's own services (registration,
// billing) on their attribution callbacks.
const PlatformServiceHeader = "X-Platform-Service"

// ReferralAttributor is the slice of the referral repository the attribution
// callbacks need.
type ReferralAttributor interface {
	AttachSignup(ctx context.Context, code string, referredUserID primitive.ObjectID, email, name string) (*models.Referral, error)
	MarkQualified(ctx context.Context, referredUserID primitive.ObjectID, ev models.ConversionEvent) (*models.Referral, error)
}

// AttributionController receives lifecycle callbacks from the platform's
// registration and billing services: a signup carrying a referral code, and
// a conversion event that qualifies the referral. Both are service-to-service
// calls authorized like the cron trigger, never user-facing.
type AttributionController struct {
	cfg       config.Config
	referrals ReferralAttributor
}

func NewAttributionController(cfg config.Config, referrals ReferralAttributor) *AttributionController {
	return &AttributionController{cfg: cfg, referrals: referrals}
}

// RecordSignup handles POST /api/internal/referrals/signup. The newest
// unclaimed click row for the code is claimed; without one, a SIGNED_UP row
// is created directly.
func (ac *AttributionController) RecordSignup(c echo.Context) error {
	if done, err := ac.authorize(c); done {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var req models.SignupAttributionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
			Data:    err.Error(),
		})
	}

	userID, err := primitive.ObjectIDFromHex(req.UserID)
	if err != nil {
		return respondBadID(c)
	}

	referral, attachErr := ac.referrals.AttachSignup(ctx, req.Code, userID, req.Email, req.Name)
	if attachErr != nil {
		switch {
		case errors.Is(attachErr, repositories.ErrCodeNotFound):
			return respondNotFound(c, "Referral code not found")
		case errors.Is(attachErr, repositories.ErrCodeExpired):
			return c.JSON(http.StatusBadRequest, models.Response{
				Status:  http.StatusBadRequest,
				Message: "Referral code expired",
			})
		}
		return respondStorageError(c, ac.cfg, attachErr)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Signup attributed successfully",
		Data:    referral,
	})
}

// RecordConversion handles POST /api/internal/referrals/conversion. Only a
// SIGNED_UP attribution qualifies; a duplicate billing event or a user with
// no attribution answers 409 and changes nothing.
func (ac *AttributionController) RecordConversion(c echo.Context) error {
	if done, err := ac.authorize(c); done {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var req models.ConversionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
			Data:    err.Error(),
		})
	}

	userID, err := primitive.ObjectIDFromHex(req.UserID)
	if err != nil {
		return respondBadID(c)
	}

	referral, qualifyErr := ac.referrals.MarkQualified(ctx, userID, models.ConversionEvent{
		Kind:     models.ConversionKind(req.Kind),
		PlanTier: req.PlanTier,
		At:       req.At,
	})
	if qualifyErr != nil {
		if errors.Is(qualifyErr, repositories.ErrWrongStatus) {
			return c.JSON(http.StatusConflict, models.Response{
				Status:  http.StatusConflict,
				Message: "No signed-up referral to qualify for this user",
			})
		}
		return respondStorageError(c, ac.cfg, qualifyErr)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Referral qualified successfully",
		Data:    referral,
	})
}

// authorize applies the platform-service policy, the same fail-closed scheme
// as the cron trigger. When done is true the response has been written.
func (ac *AttributionController) authorize(c echo.Context) (done bool, err error) {
	authorized, configErr := AuthorizeCronRequest(ac.cfg, c.Request().Header.Get(PlatformServiceHeader) != "", c.QueryParam("secret"))
	if configErr {
		c.Logger().Error("attribution callback refused: service secret missing in production")
		return true, c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Service secret not configured",
		})
	}
	if !authorized {
		return true, c.JSON(http.StatusUnauthorized, models.Response{
			Status:  http.StatusUnauthorized,
			Message: "Unauthorized",
		})
	}
	return false, nil
}
