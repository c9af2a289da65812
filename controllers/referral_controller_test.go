package controllers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
	"github.com/memberly/memberly_backend/repositories"
)

func TestBuildReferralDataStatsCoverFullHistory(t *testing.T) {
	user := &models.User{ID: primitive.NewObjectID(), ReferralSlug: "jane"}

	// More attribution rows than the dashboard window shows.
	rows := make([]models.Referral, 0, 25)
	for i := 0; i < 25; i++ {
		rows = append(rows, models.Referral{
			ID:                    primitive.NewObjectID(),
			ReferrerID:            user.ID,
			Status:                models.StatusPaid,
			CommissionAmountCents: 1000,
		})
	}

	data := buildReferralData(config.Config{BaseURL: "https://memberly.app"}, user, rows)

	assert.Len(t, data.Recent, recentReferralLimit)
	assert.Equal(t, 25, data.Stats.TotalSignups, "stats must count every row, not just the display window")
	assert.Equal(t, int64(25000), data.Stats.PaidTotalCents)
	assert.Equal(t, "https://memberly.app/r/jane", data.ReferralLink)
}

func TestBuildReferralDataNoRows(t *testing.T) {
	user := &models.User{ID: primitive.NewObjectID()}
	data := buildReferralData(config.Config{BaseURL: "https://memberly.app"}, user, nil)

	assert.Empty(t, data.Recent)
	assert.Equal(t, user.ID, data.Stats.ReferrerID)
	assert.Equal(t, 0, data.Stats.TotalSignups)
}

func TestGenerateAndAssignSlugRetriesOnCollision(t *testing.T) {
	calls := 0
	slug, err := generateAndAssignSlug(func(s string) error {
		calls++
		if calls < 3 {
			return repositories.ErrSlugTaken
		}
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, slug)
	assert.Equal(t, 3, calls)
}

func TestGenerateAndAssignSlugGivesUpAfterBound(t *testing.T) {
	calls := 0
	_, err := generateAndAssignSlug(func(string) error {
		calls++
		return repositories.ErrSlugTaken
	})
	require.ErrorIs(t, err, repositories.ErrSlugTaken)
	assert.Equal(t, slugGenerateAttempts, calls)
}

func TestGenerateAndAssignSlugStopsOnOtherErrors(t *testing.T) {
	calls := 0
	storageErr := errors.New("connection reset")
	_, err := generateAndAssignSlug(func(string) error {
		calls++
		return storageErr
	})
	require.ErrorIs(t, err, storageErr)
	assert.Equal(t, 1, calls)
}

func TestGenerateQRCodeDataURL(t *testing.T) {
	dataURL, err := generateQRCodeDataURL("https://memberly.app/r/jane")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, "data:image/png;base64,"))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())
}
