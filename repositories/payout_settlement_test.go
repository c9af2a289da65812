package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/memberly/memberly_backend/models"
)

// fakeBatchStore is an in-memory batchStore. Counts returned by the mutating
// methods can be overridden to simulate rows diverging mid-transaction, and
// errors can be injected at any step.
type fakeBatchStore struct {
	referrals []models.Referral
	batches   []models.PayoutBatch

	stampOverride  *int64
	settleOverride *int64
	selectErr      error
	insertErr      error
	settleErr      error

	settleBatchCalls   int
	settleMembersCalls int
}

func (f *fakeBatchStore) selectUnbatchedPayable(_ context.Context, referrerID primitive.ObjectID) ([]models.Referral, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	var members []models.Referral
	for _, r := range f.referrals {
		if r.ReferrerID == referrerID && r.Status == models.StatusPayable && r.PayoutBatchID == nil {
			members = append(members, r)
		}
	}
	return members, nil
}

func (f *fakeBatchStore) insertBatch(_ context.Context, batch models.PayoutBatch) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeBatchStore) stampMembers(_ context.Context, ids []primitive.ObjectID, batchID primitive.ObjectID, now time.Time) (int64, error) {
	if f.stampOverride != nil {
		return *f.stampOverride, nil
	}
	var stamped int64
	for i := range f.referrals {
		r := &f.referrals[i]
		for _, id := range ids {
			if r.ID == id && r.Status == models.StatusPayable {
				b := batchID
				r.PayoutBatchID = &b
				r.UpdatedAt = now
				stamped++
			}
		}
	}
	return stamped, nil
}

func (f *fakeBatchStore) findBatch(_ context.Context, batchID primitive.ObjectID) (*models.PayoutBatch, error) {
	for i := range f.batches {
		if f.batches[i].ID == batchID {
			b := f.batches[i]
			return &b, nil
		}
	}
	return nil, ErrBatchNotFound
}

func (f *fakeBatchStore) settleBatch(_ context.Context, batchID, actorID primitive.ObjectID, now time.Time) (int64, error) {
	f.settleBatchCalls++
	for i := range f.batches {
		b := &f.batches[i]
		if b.ID == batchID && b.Status == models.BatchPending {
			b.Status = models.BatchPaid
			b.PaidAt = &now
			b.PaidByUserID = &actorID
			b.UpdatedAt = now
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeBatchStore) settleMembers(_ context.Context, batchID, actorID primitive.ObjectID, now time.Time) (int64, error) {
	f.settleMembersCalls++
	if f.settleErr != nil {
		return 0, f.settleErr
	}
	if f.settleOverride != nil {
		return *f.settleOverride, nil
	}
	var settled int64
	for i := range f.referrals {
		r := &f.referrals[i]
		if r.PayoutBatchID != nil && *r.PayoutBatchID == batchID && r.Status == models.StatusPayable {
			r.Status = models.StatusPaid
			r.PaidAt = &now
			r.PaidByUserID = &actorID
			r.UpdatedAt = now
			settled++
		}
	}
	return settled, nil
}

func payableReferral(referrerID primitive.ObjectID, cents int64) models.Referral {
	return models.Referral{
		ID:                    primitive.NewObjectID(),
		ReferrerID:            referrerID,
		Status:                models.StatusPayable,
		CommissionAmountCents: cents,
		Currency:              DefaultCurrency,
	}
}

func TestCreateBatchTotalsAndDueDate(t *testing.T) {
	referrer := primitive.NewObjectID()
	store := &fakeBatchStore{referrals: []models.Referral{
		payableReferral(referrer, 5000),
		payableReferral(referrer, 2500),
		payableReferral(primitive.NewObjectID(), 9999),
		{ID: primitive.NewObjectID(), ReferrerID: referrer, Status: models.StatusQualified},
	}}

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	batch, err := createBatchIn(context.Background(), store, referrer, now)
	require.NoError(t, err)

	assert.Equal(t, models.BatchPending, batch.Status)
	assert.Equal(t, int64(7500), batch.TotalAmountCents)
	assert.Equal(t, 2, batch.ReferralCount)
	require.NotNil(t, batch.DueAt)
	assert.Equal(t, now.Add(batchDueTerm), *batch.DueAt)

	// Only the referrer's own payable rows were stamped.
	var stamped int
	for _, r := range store.referrals {
		if r.PayoutBatchID != nil && *r.PayoutBatchID == batch.ID {
			stamped++
			assert.Equal(t, referrer, r.ReferrerID)
		}
	}
	assert.Equal(t, 2, stamped)
}

func TestCreateBatchNoPayableReferrals(t *testing.T) {
	store := &fakeBatchStore{}
	_, err := createBatchIn(context.Background(), store, primitive.NewObjectID(), time.Now())
	require.ErrorIs(t, err, ErrNoPayableReferrals)
	assert.Empty(t, store.batches)
}

func TestCreateBatchMemberMismatchAborts(t *testing.T) {
	referrer := primitive.NewObjectID()
	store := &fakeBatchStore{referrals: []models.Referral{
		payableReferral(referrer, 5000),
		payableReferral(referrer, 2500),
	}}
	one := int64(1)
	store.stampOverride = &one

	// The returned error aborts the surrounding Mongo transaction, so the
	// inserted batch and any stamps are discarded together.
	_, err := createBatchIn(context.Background(), store, referrer, time.Now())
	require.ErrorIs(t, err, ErrBatchMemberMismatch)
}

func TestMarkPaidSettlesBatchAndMembers(t *testing.T) {
	referrer := primitive.NewObjectID()
	actor := primitive.NewObjectID()
	store := &fakeBatchStore{referrals: []models.Referral{
		payableReferral(referrer, 5000),
		payableReferral(referrer, 2500),
	}}

	created, err := createBatchIn(context.Background(), store, referrer, time.Now())
	require.NoError(t, err)

	now := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	paid, err := markPaidIn(context.Background(), store, created.ID, actor, now)
	require.NoError(t, err)

	assert.Equal(t, models.BatchPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, now, *paid.PaidAt)

	for _, r := range store.referrals {
		require.Equal(t, models.StatusPaid, r.Status)
		require.NotNil(t, r.PaidAt)
		assert.Equal(t, now, *r.PaidAt, "batch and members share one paidAt")
		require.NotNil(t, r.PaidByUserID)
		assert.Equal(t, actor, *r.PaidByUserID)
	}
}

func TestMarkPaidIdempotentOnPaidBatch(t *testing.T) {
	paidAt := time.Now().Add(-time.Hour)
	batch := models.PayoutBatch{
		ID:     primitive.NewObjectID(),
		Status: models.BatchPaid,
		PaidAt: &paidAt,
	}
	store := &fakeBatchStore{batches: []models.PayoutBatch{batch}}

	result, err := markPaidIn(context.Background(), store, batch.ID, primitive.NewObjectID(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.BatchPaid, result.Status)
	assert.Equal(t, paidAt, *result.PaidAt, "original settlement time is preserved")
	assert.Equal(t, 0, store.settleBatchCalls, "a settled batch must not be written again")
	assert.Equal(t, 0, store.settleMembersCalls)
}

func TestMarkPaidNotFound(t *testing.T) {
	store := &fakeBatchStore{}
	_, err := markPaidIn(context.Background(), store, primitive.NewObjectID(), primitive.NewObjectID(), time.Now())
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestMarkPaidMemberMismatchAborts(t *testing.T) {
	referrer := primitive.NewObjectID()
	store := &fakeBatchStore{referrals: []models.Referral{
		payableReferral(referrer, 5000),
		payableReferral(referrer, 2500),
	}}
	created, err := createBatchIn(context.Background(), store, referrer, time.Now())
	require.NoError(t, err)

	one := int64(1)
	store.settleOverride = &one

	_, err = markPaidIn(context.Background(), store, created.ID, primitive.NewObjectID(), time.Now())
	require.ErrorIs(t, err, ErrBatchMemberMismatch,
		"a member count short of the batch aborts the transaction, leaving no partial settlement")
}

func TestMarkPaidInjectedFailurePropagates(t *testing.T) {
	referrer := primitive.NewObjectID()
	store := &fakeBatchStore{referrals: []models.Referral{payableReferral(referrer, 5000)}}
	created, err := createBatchIn(context.Background(), store, referrer, time.Now())
	require.NoError(t, err)

	store.settleErr = errors.New("write conflict")
	_, err = markPaidIn(context.Background(), store, created.ID, primitive.NewObjectID(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write conflict")
}
