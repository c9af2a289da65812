package controllers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/url"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/middleware"
	"github.com/memberly/memberly_backend/models"
	"github.com/memberly/memberly_backend/repositories"
	"github.com/memberly/memberly_backend/utils"
)

const validateCacheTTL = 30 * time.Second

// ReferralController serves the member-facing referral surface: owning a
// slug, sharing a link, and checking a code during registration.
type ReferralController struct {
	cfg       config.Config
	users     *repositories.UserRepository
	referrals *repositories.ReferralRepository
	redis     *redis.Client
}

func NewReferralController(cfg config.Config, users *repositories.UserRepository, referrals *repositories.ReferralRepository, redisClient *redis.Client) *ReferralController {
	return &ReferralController{cfg: cfg, users: users, referrals: referrals, redis: redisClient}
}

// recentReferralLimit caps the rows shown on the member dashboard; stats are
// always folded over the complete history.
const recentReferralLimit = 20

// GetReferralData returns the member's slug, link, stats and recent rows.
func (rc *ReferralController) GetReferralData(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	user, err := rc.currentUser(ctx, c)
	if err != nil {
		return respondAuthError(c, err)
	}

	rows, err := rc.referrals.ListByReferrer(ctx, user.ID, 0)
	if err != nil {
		return respondStorageError(c, rc.cfg, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Referral data fetched successfully",
		Data:    buildReferralData(rc.cfg, user, rows),
	})
}

// buildReferralData folds the member's complete attribution history into the
// stats roll-up and keeps only the newest rows for display.
func buildReferralData(cfg config.Config, user *models.User, rows []models.Referral) models.ReferralData {
	stats := models.AffiliateStats{ReferrerID: user.ID}
	if folded := repositories.AggregateAffiliateStats(rows); len(folded) > 0 {
		stats = folded[0]
	}

	recent := rows
	if len(recent) > recentReferralLimit {
		recent = recent[:recentReferralLimit]
	}

	return models.ReferralData{
		Slug:         user.ReferralSlug,
		ReferralLink: utils.ReferralLink(cfg.BaseURL, user.ReferralSlug),
		Stats:        stats,
		Recent:       recent,
	}
}

// GetSlug returns the member's current slug, generating one on first read so
// every member has a shareable link.
func (rc *ReferralController) GetSlug(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	user, err := rc.currentUser(ctx, c)
	if err != nil {
		return respondAuthError(c, err)
	}

	if user.ReferralSlug == "" {
		slug, genErr := generateAndAssignSlug(func(s string) error {
			return rc.assignSlug(ctx, user.ID, s)
		})
		if genErr != nil {
			return respondStorageError(c, rc.cfg, genErr)
		}
		user.ReferralSlug = slug
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Referral slug fetched successfully",
		Data: map[string]string{
			"slug":         user.ReferralSlug,
			"referralLink": utils.ReferralLink(rc.cfg.BaseURL, user.ReferralSlug),
		},
	})
}

// SetSlug lets a member pick or change their slug. Changing migrates the
// master PENDING template row's code in place, so the code's history stays on
// one row. Reserved words and taken slugs are rejected with field detail.
func (rc *ReferralController) SetSlug(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	user, err := rc.currentUser(ctx, c)
	if err != nil {
		return respondAuthError(c, err)
	}

	var req models.SetSlugRequest
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
			Data:    map[string]string{"slug": "slug is required"},
		})
	}

	slug := utils.NormalizeSlug(req.Slug)
	if err := utils.ValidateSlug(slug); err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid referral slug",
			Data:    map[string]string{"slug": err.Error()},
		})
	}

	// Re-assigning one's own current slug is a success and changes nothing.
	if user.ReferralSlug != slug {
		if err := rc.assignSlug(ctx, user.ID, slug); err != nil {
			if errors.Is(err, repositories.ErrSlugTaken) {
				return c.JSON(http.StatusBadRequest, models.Response{
					Status:  http.StatusBadRequest,
					Message: "Invalid referral slug",
					Data:    map[string]string{"slug": "this slug is already taken"},
				})
			}
			return respondStorageError(c, rc.cfg, err)
		}
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Referral slug saved successfully",
		Data: map[string]string{
			"slug":         slug,
			"referralLink": utils.ReferralLink(rc.cfg.BaseURL, slug),
		},
	})
}

// slugGenerateAttempts bounds the retries when a random slug collides on the
// unique index.
const slugGenerateAttempts = 3

// generateAndAssignSlug generates a random slug and assigns it, retrying on
// an index collision. Errors other than a taken slug stop the loop.
func generateAndAssignSlug(assign func(string) error) (string, error) {
	var lastErr error
	for i := 0; i < slugGenerateAttempts; i++ {
		slug, err := utils.GenerateReferralSlug()
		if err != nil {
			return "", err
		}
		err = assign(slug)
		if err == nil {
			return slug, nil
		}
		if !errors.Is(err, repositories.ErrSlugTaken) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// assignSlug writes the slug on the user and creates or migrates the master
// template row for the code.
func (rc *ReferralController) assignSlug(ctx context.Context, userID primitive.ObjectID, slug string) error {
	if err := rc.users.SetReferralSlug(ctx, userID, slug); err != nil {
		return err
	}
	_, err := rc.referrals.EnsureTemplate(ctx, userID, slug)
	return err
}

// ValidateCode is the public registration-flow check. Results are cached in
// Redis for a few seconds; the cache is best-effort and absent Redis the
// check just hits the database.
func (rc *ReferralController) ValidateCode(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	code := utils.NormalizeSlug(c.QueryParam("code"))
	if code == "" {
		return c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Missing code parameter",
			Data:    map[string]string{"code": "code is required"},
		})
	}

	cacheKey := "referral:validate:" + code
	if rc.redis != nil {
		if cached, err := rc.redis.Get(ctx, cacheKey).Result(); err == nil {
			var validity models.CodeValidity
			if json.Unmarshal([]byte(cached), &validity) == nil {
				return c.JSON(http.StatusOK, models.Response{
					Status:  http.StatusOK,
					Message: "Referral code checked",
					Data:    validity,
				})
			}
		}
	}

	validity, err := rc.referrals.ValidateCode(ctx, code)
	if err != nil {
		return respondStorageError(c, rc.cfg, err)
	}

	if rc.redis != nil {
		if encoded, err := json.Marshal(validity); err == nil {
			rc.redis.Set(ctx, cacheKey, encoded, validateCacheTTL)
		}
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Referral code checked",
		Data:    validity,
	})
}

// HandleReferralClick serves the shareable link: it records a CLICKED
// attribution row for valid codes and always forwards the visitor to the
// registration page, carrying the code along when it was usable.
func (rc *ReferralController) HandleReferralClick(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	code := utils.NormalizeSlug(c.Param("code"))
	registerURL := rc.cfg.BaseURL + "/register"

	if code == "" {
		return c.Redirect(http.StatusFound, registerURL)
	}

	if _, err := rc.referrals.RecordClick(ctx, code); err != nil {
		if errors.Is(err, repositories.ErrCodeNotFound) || errors.Is(err, repositories.ErrCodeExpired) {
			return c.Redirect(http.StatusFound, registerURL)
		}
		return respondStorageError(c, rc.cfg, err)
	}

	return c.Redirect(http.StatusFound, registerURL+"?ref="+url.QueryEscape(code))
}

// GetReferralQRCode returns a QR code PNG (as a data URL) for the member's
// referral link.
func (rc *ReferralController) GetReferralQRCode(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	user, err := rc.currentUser(ctx, c)
	if err != nil {
		return respondAuthError(c, err)
	}
	if user.ReferralSlug == "" {
		return c.JSON(http.StatusNotFound, models.Response{
			Status:  http.StatusNotFound,
			Message: "No referral slug assigned yet",
		})
	}

	dataURL, err := generateQRCodeDataURL(utils.ReferralLink(rc.cfg.BaseURL, user.ReferralSlug))
	if err != nil {
		return respondStorageError(c, rc.cfg, err)
	}

	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Referral QR code generated successfully",
		Data: map[string]string{
			"qrCode": dataURL,
			"link":   utils.ReferralLink(rc.cfg.BaseURL, user.ReferralSlug),
		},
	})
}

// generateQRCodeDataURL renders the link as a 300x300 PNG data URL.
func generateQRCodeDataURL(link string) (string, error) {
	qrCode, err := qr.Encode(link, qr.M, qr.Auto)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	qrCode, err = barcode.Scale(qrCode, 300, 300)
	if err != nil {
		return "", fmt.Errorf("failed to scale QR code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qrCode); err != nil {
		return "", fmt.Errorf("failed to render QR code: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// currentUser resolves the authenticated member from the JWT context.
func (rc *ReferralController) currentUser(ctx context.Context, c echo.Context) (*models.User, error) {
	userID, err := middleware.ExtractUserID(c)
	if err != nil {
		return nil, err
	}
	objID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, errors.New("invalid user ID format")
	}
	return rc.users.GetByID(ctx, objID)
}

func respondAuthError(c echo.Context, err error) error {
	if errors.Is(err, repositories.ErrUserNotFound) {
		return c.JSON(http.StatusNotFound, models.Response{
			Status:  http.StatusNotFound,
			Message: "User not found",
		})
	}
	return c.JSON(http.StatusUnauthorized, models.Response{
		Status:  http.StatusUnauthorized,
		Message: "Authentication failed",
	})
}

// respondStorageError hides internal error text in production while keeping
// the detail in server logs.
func respondStorageError(c echo.Context, cfg config.Config, err error) error {
	c.Logger().Errorf("storage error on %s: %v", c.Request().URL.Path, err)
	resp := models.Response{
		Status:  http.StatusInternalServerError,
		Message: "Internal server error",
	}
	if !cfg.IsProduction() {
		resp.Data = err.Error()
	}
	return c.JSON(http.StatusInternalServerError, resp)
}
