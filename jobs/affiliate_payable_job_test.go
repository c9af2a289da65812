package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
)

// fakeLocker mimics the insert-if-absent semantics of the lock repository,
// including TTL-based staleness.
type fakeLocker struct {
	mu       sync.Mutex
	held     *models.JobLock
	releases int
}

func (f *fakeLocker) Acquire(_ context.Context, key string, ttl time.Duration, payload models.LockPayload) (bool, *models.LockPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	if f.held != nil {
		if !f.held.IsStale(now, ttl) {
			existing := f.held.Payload
			return false, &existing, nil
		}
		payload.Stolen = true
		payload.PreviousRunID = f.held.Payload.RunID
	}
	f.held = &models.JobLock{Key: key, Payload: payload, UpdatedAt: now}
	return true, nil, nil
}

func (f *fakeLocker) Release(_ context.Context, key string, payload models.LockPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	f.held = nil
	return nil
}

// fakePromoter is an in-memory referral store covering only the fields the
// job queries.
type fakePromoter struct {
	mu        sync.Mutex
	referrals []models.Referral
	findErr   error
	updateErr error
}

func (f *fakePromoter) FindDuePayable(_ context.Context, now time.Time) ([]models.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	var due []models.Referral
	for _, r := range f.referrals {
		if r.Status == models.StatusQualified && r.PayableAt != nil && !r.PayableAt.After(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

func (f *fakePromoter) PromotePayable(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	var updated int64
	for i := range f.referrals {
		r := &f.referrals[i]
		if r.Status == models.StatusQualified && r.PayableAt != nil && !r.PayableAt.After(now) {
			r.Status = models.StatusPayable
			updated++
		}
	}
	return updated, nil
}

func testConfig() config.Config {
	return config.Config{JobLockTTL: 30 * time.Minute, PayableDelay: 7 * 24 * time.Hour}
}

func qualifiedReferral(payableAt time.Time) models.Referral {
	return models.Referral{
		ID:         primitive.NewObjectID(),
		ReferrerID: primitive.NewObjectID(),
		Status:     models.StatusQualified,
		PayableAt:  &payableAt,
	}
}

func TestRunPromotesDueReferrals(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	promoter := &fakePromoter{referrals: []models.Referral{
		qualifiedReferral(past),
		qualifiedReferral(past),
		qualifiedReferral(future),
		{ID: primitive.NewObjectID(), Status: models.StatusSignedUp},
	}}
	locker := &fakeLocker{}
	job := NewAffiliatePayableJob(locker, promoter, testConfig())

	result, err := job.Run(context.Background(), models.TriggerCron)
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, 1, locker.releases, "lock released after the run")

	// Only the due QUALIFIED rows moved; the rest are untouched.
	assert.Equal(t, models.StatusPayable, promoter.referrals[0].Status)
	assert.Equal(t, models.StatusPayable, promoter.referrals[1].Status)
	assert.Equal(t, models.StatusQualified, promoter.referrals[2].Status)
	assert.Equal(t, models.StatusSignedUp, promoter.referrals[3].Status)
}

func TestRunIsIdempotent(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	promoter := &fakePromoter{referrals: []models.Referral{qualifiedReferral(past)}}
	job := NewAffiliatePayableJob(&fakeLocker{}, promoter, testConfig())

	first, err := job.Run(context.Background(), models.TriggerCron)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Updated)

	// An at-least-once scheduler can fire again; there is nothing left due.
	second, err := job.Run(context.Background(), models.TriggerCron)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 0, second.Updated)
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	locker := &fakeLocker{held: &models.JobLock{
		Payload:   models.LockPayload{RunID: "other-run"},
		UpdatedAt: time.Now(),
	}}
	promoter := &fakePromoter{referrals: []models.Referral{qualifiedReferral(time.Now().Add(-time.Hour))}}
	job := NewAffiliatePayableJob(locker, promoter, testConfig())

	result, err := job.Run(context.Background(), models.TriggerManual)
	require.NoError(t, err, "a locked-out run is a success, not an error")
	assert.Equal(t, "locked", result.Skipped)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, locker.releases, "a skipped run must not release the other holder's lock")
	assert.Equal(t, models.StatusQualified, promoter.referrals[0].Status)
}

func TestRunStealsStaleLock(t *testing.T) {
	locker := &fakeLocker{held: &models.JobLock{
		Payload:   models.LockPayload{RunID: "crashed-run"},
		UpdatedAt: time.Now().Add(-2 * time.Hour),
	}}
	promoter := &fakePromoter{referrals: []models.Referral{qualifiedReferral(time.Now().Add(-time.Hour))}}
	job := NewAffiliatePayableJob(locker, promoter, testConfig())

	result, err := job.Run(context.Background(), models.TriggerCron)
	require.NoError(t, err)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, locker.releases)
}

func TestRunReleasesLockOnError(t *testing.T) {
	locker := &fakeLocker{}
	promoter := &fakePromoter{updateErr: errors.New("write conflict")}
	job := NewAffiliatePayableJob(locker, promoter, testConfig())

	_, err := job.Run(context.Background(), models.TriggerCron)
	require.Error(t, err)
	assert.Equal(t, 1, locker.releases, "a failed run must still release the lock")
	assert.Nil(t, locker.held)
}

func TestRunPropagatesFindError(t *testing.T) {
	locker := &fakeLocker{}
	promoter := &fakePromoter{findErr: errors.New("network timeout")}
	job := NewAffiliatePayableJob(locker, promoter, testConfig())

	_, err := job.Run(context.Background(), models.TriggerCron)
	require.Error(t, err)
	assert.Equal(t, 1, locker.releases)
}
