package utils

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/memberly/memberly_backend/models"
)

func TestFormatCents(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{50, "0.50"},
		{2500, "25.00"},
		{123456, "1234.56"},
		{-2500, "-25.00"},
		{-5, "-0.05"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatCents(tt.cents))
	}
}

func TestBuildPayoutBatchCSV(t *testing.T) {
	signedUp := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	qualified := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	paid := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

	batch := &models.PayoutBatch{
		ID:               primitive.NewObjectID(),
		TotalAmountCents: 7500,
		Currency:         "USD",
		Status:           models.BatchPaid,
		PaidAt:           &paid,
	}
	referrals := []models.Referral{
		{
			ID:                    primitive.NewObjectID(),
			ReferredName:          "O'Brien, Pat",
			ReferredEmail:         "pat@example.com",
			SignedUpAt:            &signedUp,
			QualifiedAt:           &qualified,
			CommissionAmountCents: 5000,
			Currency:              "USD",
			Status:                models.StatusPaid,
			PaidAt:                &paid,
		},
		{
			ID:                    primitive.NewObjectID(),
			ReferredName:          `Ann "Bob" Lee`,
			ReferredEmail:         "ann@example.com",
			SignedUpAt:            &signedUp,
			CommissionAmountCents: 2500,
			Currency:              "USD",
			Status:                models.StatusPaid,
			PaidAt:                &paid,
		},
	}

	data, err := BuildPayoutBatchCSV(batch, referrals)
	require.NoError(t, err)

	// Round-trip through a CSV reader so quoting rules are actually proven.
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4, "header + 2 rows + total")

	assert.Equal(t, []string{"referralId", "referredName", "referredEmail", "signedUpAt", "qualifiedAt", "amount", "currency", "status", "paidAt"}, records[0])

	assert.Equal(t, "O'Brien, Pat", records[1][1])
	assert.Equal(t, "50.00", records[1][5])
	assert.Equal(t, "2026-03-01T10:00:00Z", records[1][3])
	assert.Equal(t, "2026-03-15T10:00:00Z", records[1][4])

	assert.Equal(t, `Ann "Bob" Lee`, records[2][1])
	assert.Equal(t, "", records[2][4], "missing qualifiedAt renders empty")

	total := records[3]
	assert.Equal(t, "total", total[4])
	assert.Equal(t, "75.00", total[5])
	assert.Equal(t, "PAID", total[7])
}

func TestBuildPayoutBatchCSVEmptyBatch(t *testing.T) {
	batch := &models.PayoutBatch{ID: primitive.NewObjectID(), Currency: "USD", Status: models.BatchPending}

	data, err := BuildPayoutBatchCSV(batch, nil)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2, "header + total only")
	assert.Equal(t, "0.00", records[1][5])
}
