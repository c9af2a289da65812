package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/middleware"
	"github.com/memberly/memberly_backend/models"
	"github.com/memberly/memberly_backend/repositories"
	"github.com/memberly/memberly_backend/utils"
)

// AdminPayoutController serves the admin settlement surface: the affiliate
// roll-up, payout batches, CSV export and manual payout schedules.
type AdminPayoutController struct {
	cfg       config.Config
	referrals *repositories.ReferralRepository
	payouts   *repositories.PayoutRepository
	schedules *repositories.ScheduleRepository
}

func NewAdminPayoutController(cfg config.Config, referrals *repositories.ReferralRepository, payouts *repositories.PayoutRepository, schedules *repositories.ScheduleRepository) *AdminPayoutController {
	return &AdminPayoutController{cfg: cfg, referrals: referrals, payouts: payouts, schedules: schedules}
}

// ListAffiliates returns the per-affiliate roll-up, ordered by signups.
func (ac *AdminPayoutController) ListAffiliates(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	rows, err := ac.referrals.ListAttributed(ctx)
	if err != nil {
		return respondStorageError(c, ac.cfg, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Affiliate report fetched successfully",
		Data:    repositories.AggregateAffiliateStats(rows),
	})
}

// ListAffiliateReferrals returns one affiliate's attribution rows.
func (ac *AdminPayoutController) ListAffiliateReferrals(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	referrerID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return respondBadID(c)
	}

	rows, listErr := ac.referrals.ListByReferrer(ctx, referrerID, 0)
	if listErr != nil {
		return respondStorageError(c, ac.cfg, listErr)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Affiliate referrals fetched successfully",
		Data:    rows,
	})
}

// UpdateReferralDetail corrects a referral's contact fields. Status and
// settlement fields are not editable here; they only move through the job
// and the batch settlement paths.
func (ac *AdminPayoutController) UpdateReferralDetail(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	referralID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return respondBadID(c)
	}

	var req models.UpdateReferralDetailRequest
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
			Data:    map[string]string{"referredEmail": "must be a valid email address"},
		})
	}

	updated, updateErr := ac.referrals.UpdateContactDetail(ctx, referralID, req)
	if updateErr != nil {
		if errors.Is(updateErr, repositories.ErrReferralNotFound) {
			return respondNotFound(c, "Referral not found")
		}
		return respondStorageError(c, ac.cfg, updateErr)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Referral updated successfully",
		Data:    updated,
	})
}

// ListPayoutBatches returns batches, optionally filtered by ?status=.
func (ac *AdminPayoutController) ListPayoutBatches(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	status := models.PayoutBatchStatus(c.QueryParam("status"))
	if status != "" && status != models.BatchPending && status != models.BatchPaid {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid status filter",
			Data:    map[string]string{"status": "must be PENDING or PAID"},
		})
	}

	batches, err := ac.payouts.ListBatches(ctx, status)
	if err != nil {
		return respondStorageError(c, ac.cfg, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout batches fetched successfully",
		Data:    batches,
	})
}

// CreatePayoutBatch groups a referrer's payable referrals into a new batch.
func (ac *AdminPayoutController) CreatePayoutBatch(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	var req models.CreateBatchRequest
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
			Data:    map[string]string{"referrerId": "referrerId is required"},
		})
	}

	referrerID, err := primitive.ObjectIDFromHex(req.ReferrerID)
	if err != nil {
		return respondBadID(c)
	}

	batch, createErr := ac.payouts.CreateBatch(ctx, referrerID)
	if createErr != nil {
		if errors.Is(createErr, repositories.ErrNoPayableReferrals) {
			return c.JSON(http.StatusBadRequest, models.Response{
				Status:  http.StatusBadRequest,
				Message: "Referrer has no payable referrals to batch",
			})
		}
		return respondStorageError(c, ac.cfg, createErr)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout batch created successfully",
		Data:    batch,
	})
}

// MarkPayoutBatchPaid settles a batch. Already-settled batches return the
// same success response again.
func (ac *AdminPayoutController) MarkPayoutBatchPaid(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	batchID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return respondBadID(c)
	}

	actorID, err := adminActorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, models.Response{
			Status:  http.StatusUnauthorized,
			Message: "Authentication failed",
		})
	}

	batch, payErr := ac.payouts.MarkPaid(ctx, batchID, actorID)
	if payErr != nil {
		if errors.Is(payErr, repositories.ErrBatchNotFound) {
			return respondNotFound(c, "Payout batch not found")
		}
		c.Logger().Errorf("batch settlement failed: batchId=%s err=%v", batchID.Hex(), payErr)
		return respondStorageError(c, ac.cfg, payErr)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout batch marked as paid",
		Data:    batch,
	})
}

// ExportPayoutBatchCSV streams a batch as a CSV attachment.
func (ac *AdminPayoutController) ExportPayoutBatchCSV(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	batchID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return respondBadID(c)
	}

	batch, getErr := ac.payouts.GetBatch(ctx, batchID)
	if getErr != nil {
		if errors.Is(getErr, repositories.ErrBatchNotFound) {
			return respondNotFound(c, "Payout batch not found")
		}
		return respondStorageError(c, ac.cfg, getErr)
	}

	referrals, listErr := ac.payouts.ListBatchReferrals(ctx, batchID)
	if listErr != nil {
		return respondStorageError(c, ac.cfg, listErr)
	}

	data, csvErr := utils.BuildPayoutBatchCSV(batch, referrals)
	if csvErr != nil {
		return respondStorageError(c, ac.cfg, csvErr)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="affiliate-payout-%s.csv"`, batch.ID.Hex()))
	return c.Blob(http.StatusOK, "text/csv", data)
}

// CreatePayoutSchedule stores a manual payout instruction.
func (ac *AdminPayoutController) CreatePayoutSchedule(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	req, referrerID, actorID, err := ac.bindScheduleRequest(c)
	if err != nil {
		return err // response already written
	}

	schedule := &models.ManualPayoutSchedule{
		ReferrerID:   referrerID,
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
		Schedule:     req.Schedule,
		NextRunAt:    req.NextRunAt,
		SendReminder: req.SendReminder,
		Note:         req.Note,
		CreatedBy:    actorID,
	}

	created, createErr := ac.schedules.Create(ctx, schedule)
	if createErr != nil {
		return respondStorageError(c, ac.cfg, createErr)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout schedule created successfully",
		Data:    created,
	})
}

// ListPayoutSchedules returns all manual payout schedules.
func (ac *AdminPayoutController) ListPayoutSchedules(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	schedules, err := ac.schedules.List(ctx)
	if err != nil {
		return respondStorageError(c, ac.cfg, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout schedules fetched successfully",
		Data:    schedules,
	})
}

// UpdatePayoutSchedule replaces a schedule's fields.
func (ac *AdminPayoutController) UpdatePayoutSchedule(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	scheduleID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return respondBadID(c)
	}

	req, referrerID, _, bindErr := ac.bindScheduleRequest(c)
	if bindErr != nil {
		return bindErr
	}

	updated, updateErr := ac.schedules.Update(ctx, scheduleID, req, referrerID)
	if updateErr != nil {
		if errors.Is(updateErr, repositories.ErrScheduleNotFound) {
			return respondNotFound(c, "Payout schedule not found")
		}
		return respondStorageError(c, ac.cfg, updateErr)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout schedule updated successfully",
		Data:    updated,
	})
}

// DeletePayoutSchedule removes a schedule.
func (ac *AdminPayoutController) DeletePayoutSchedule(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	scheduleID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return respondBadID(c)
	}

	if err := ac.schedules.Delete(ctx, scheduleID); err != nil {
		if errors.Is(err, repositories.ErrScheduleNotFound) {
			return respondNotFound(c, "Payout schedule not found")
		}
		return respondStorageError(c, ac.cfg, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout schedule deleted successfully",
	})
}

// SendPayoutScheduleReminder emails the requesting admin a reminder for a
// schedule. Email happens outside any lock or transaction.
func (ac *AdminPayoutController) SendPayoutScheduleReminder(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	scheduleID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return respondBadID(c)
	}

	schedule, getErr := ac.schedules.GetByID(ctx, scheduleID)
	if getErr != nil {
		if errors.Is(getErr, repositories.ErrScheduleNotFound) {
			return respondNotFound(c, "Payout schedule not found")
		}
		return respondStorageError(c, ac.cfg, getErr)
	}

	if !schedule.SendReminder {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Reminders are disabled for this schedule",
		})
	}

	email, _ := c.Get("email").(string)
	if email == "" {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "No email address on the requesting account",
		})
	}

	if err := utils.SendPayoutReminderEmail(ac.cfg, email, schedule); err != nil {
		return respondStorageError(c, ac.cfg, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Payout reminder sent",
	})
}

// bindScheduleRequest parses and validates the schedule body shared by
// create and update. On failure the 400 response is already written and the
// returned error is non-nil.
func (ac *AdminPayoutController) bindScheduleRequest(c echo.Context) (models.PayoutScheduleRequest, primitive.ObjectID, primitive.ObjectID, error) {
	var req models.PayoutScheduleRequest
	if err := c.Bind(&req); err != nil {
		return req, primitive.NilObjectID, primitive.NilObjectID, c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(&req); err != nil {
		return req, primitive.NilObjectID, primitive.NilObjectID, c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
			Data:    err.Error(),
		})
	}

	referrerID, err := primitive.ObjectIDFromHex(req.ReferrerID)
	if err != nil {
		return req, primitive.NilObjectID, primitive.NilObjectID, respondBadID(c)
	}

	actorID, err := adminActorID(c)
	if err != nil {
		return req, primitive.NilObjectID, primitive.NilObjectID, c.JSON(http.StatusUnauthorized, models.Response{
			Status:  http.StatusUnauthorized,
			Message: "Authentication failed",
		})
	}

	return req, referrerID, actorID, nil
}

func adminActorID(c echo.Context) (primitive.ObjectID, error) {
	userID, err := middleware.ExtractUserID(c)
	if err != nil {
		return primitive.NilObjectID, err
	}
	return primitive.ObjectIDFromHex(userID)
}

func respondBadID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, models.Response{
		Status:  http.StatusBadRequest,
		Message: "Invalid ID format",
	})
}

func respondNotFound(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, models.Response{
		Status:  http.StatusNotFound,
		Message: message,
	})
}
