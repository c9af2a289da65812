package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestReferralStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ReferralStatus
		to      ReferralStatus
		allowed bool
	}{
		{"pending to clicked", StatusPending, StatusClicked, true},
		{"clicked to signed up", StatusClicked, StatusSignedUp, true},
		{"signed up to qualified", StatusSignedUp, StatusQualified, true},
		{"qualified to payable", StatusQualified, StatusPayable, true},
		{"payable to paid", StatusPayable, StatusPaid, true},
		{"no skipping states", StatusClicked, StatusQualified, false},
		{"no backward moves", StatusQualified, StatusSignedUp, false},
		{"paid is terminal", StatusPaid, StatusPending, false},
		{"no self transition", StatusPayable, StatusPayable, false},
		{"empty status goes nowhere", ReferralStatus(""), StatusClicked, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestAdvanceTo(t *testing.T) {
	r := &Referral{Status: StatusQualified}

	require.NoError(t, r.AdvanceTo(StatusPayable))
	assert.Equal(t, StatusPayable, r.Status)

	err := r.AdvanceTo(StatusClicked)
	require.Error(t, err)
	assert.Equal(t, StatusPayable, r.Status, "failed transition must not change status")
}

func TestStatusRankOrdering(t *testing.T) {
	lifecycle := []ReferralStatus{StatusPending, StatusClicked, StatusSignedUp, StatusQualified, StatusPayable, StatusPaid}
	for i := 1; i < len(lifecycle); i++ {
		assert.Greater(t, lifecycle[i].Rank(), lifecycle[i-1].Rank())
	}
	assert.Equal(t, -1, ReferralStatus("BOGUS").Rank())
}

func TestQualifyFixesCommissionAtEventTime(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	delay := 7 * 24 * time.Hour

	r := &Referral{Status: StatusSignedUp}
	require.NoError(t, r.Qualify(ConversionEvent{Kind: ConversionTrialStart, PlanTier: "premium", At: at}, delay))

	assert.Equal(t, StatusQualified, r.Status)
	assert.Equal(t, int64(5000), r.CommissionAmountCents)
	require.NotNil(t, r.QualifiedAt)
	assert.Equal(t, at, *r.QualifiedAt)
	require.NotNil(t, r.PayableAt)
	assert.Equal(t, at.Add(delay), *r.PayableAt)
	require.NotNil(t, r.TrialStartedAt)
	assert.Equal(t, at, *r.TrialStartedAt)
	assert.Nil(t, r.FirstPaidAt)
}

func TestQualifyDuplicateEventLeavesCommissionUntouched(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	delay := 7 * 24 * time.Hour

	r := &Referral{Status: StatusSignedUp}
	require.NoError(t, r.Qualify(ConversionEvent{Kind: ConversionTrialStart, PlanTier: "premium", At: at}, delay))

	// A later billing event on a cheaper plan must not reopen the amount.
	err := r.Qualify(ConversionEvent{Kind: ConversionFirstPayment, PlanTier: "basic", At: at.Add(time.Hour)}, delay)
	require.Error(t, err)
	assert.Equal(t, int64(5000), r.CommissionAmountCents)
	assert.Equal(t, at, *r.QualifiedAt)
	assert.Equal(t, StatusQualified, r.Status)
}

func TestQualifyFirstPaymentKind(t *testing.T) {
	r := &Referral{Status: StatusSignedUp}
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.Qualify(ConversionEvent{Kind: ConversionFirstPayment, PlanTier: "standard", At: at}, time.Hour))

	assert.Equal(t, int64(2500), r.CommissionAmountCents)
	require.NotNil(t, r.FirstPaidAt)
	assert.Nil(t, r.TrialStartedAt)
}

func TestCommissionForTier(t *testing.T) {
	assert.Equal(t, int64(5000), CommissionForTier("premium"))
	assert.Equal(t, int64(2500), CommissionForTier("standard"))
	assert.Equal(t, int64(1000), CommissionForTier("basic"))
	assert.Equal(t, int64(0), CommissionForTier("free"))
	assert.Equal(t, int64(0), CommissionForTier(""))
}

func TestIsTemplate(t *testing.T) {
	referred := primitive.NewObjectID()

	template := &Referral{Status: StatusPending}
	assert.True(t, template.IsTemplate())

	attributed := &Referral{Status: StatusClicked, ReferredUserID: &referred}
	assert.False(t, attributed.IsTemplate())

	pendingWithSubject := &Referral{Status: StatusPending, ReferredUserID: &referred}
	assert.False(t, pendingWithSubject.IsTemplate())
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, (&Referral{}).IsExpired(now), "no expiry means never expired")
	assert.False(t, (&Referral{ExpiresAt: &future}).IsExpired(now))
	assert.True(t, (&Referral{ExpiresAt: &past}).IsExpired(now))
}
