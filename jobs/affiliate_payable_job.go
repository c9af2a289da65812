package jobs

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
)

// AffiliatePayableLockKey names the global lock guarding payable promotion.
const AffiliatePayableLockKey = "AFFILIATE_PAYABLE_JOB"

// Locker is the slice of the job-lock repository the job needs.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration, payload models.LockPayload) (bool, *models.LockPayload, error)
	Release(ctx context.Context, key string, payload models.LockPayload) error
}

// ReferralPromoter is the slice of the referral repository the job needs.
type ReferralPromoter interface {
	FindDuePayable(ctx context.Context, now time.Time) ([]models.Referral, error)
	PromotePayable(ctx context.Context, now time.Time) (int64, error)
}

// AffiliatePayableJob promotes QUALIFIED referrals whose clawback window has
// elapsed to PAYABLE. The scheduler fires at-least-once and operators can
// trigger it manually, so every run takes the global lock first; a run that
// finds the lock held reports skipped, which is the expected outcome of an
// overlap, not a failure.
type AffiliatePayableJob struct {
	locks     Locker
	referrals ReferralPromoter
	ttl       time.Duration
	holder    string
}

func NewAffiliatePayableJob(locks Locker, referrals ReferralPromoter, cfg config.Config) *AffiliatePayableJob {
	holder, err := os.Hostname()
	if err != nil || holder == "" {
		holder = "unknown"
	}
	return &AffiliatePayableJob{
		locks:     locks,
		referrals: referrals,
		ttl:       cfg.JobLockTTL,
		holder:    holder,
	}
}

// Run executes one promotion pass. The eligibility query is recomputed fresh
// under the lock and the promotion is one bulk statement, so a repeated or
// stolen-and-rerun invocation only ever picks up rows that are still due:
// the job is idempotent without a persisted queue.
func (j *AffiliatePayableJob) Run(ctx context.Context, trigger models.JobTrigger) (*models.PayableJobResult, error) {
	runID := uuid.New().String()
	payload := models.LockPayload{
		RunID:    runID,
		Trigger:  trigger,
		Holder:   j.holder,
		LockedAt: time.Now(),
	}

	held, prev, err := j.locks.Acquire(ctx, AffiliatePayableLockKey, j.ttl, payload)
	if err != nil {
		return nil, err
	}
	if !held {
		blockedBy := ""
		if prev != nil {
			blockedBy = prev.RunID
		}
		log.Printf("affiliate payable job skipped: runId=%s trigger=%s blockedBy=%s", runID, trigger, blockedBy)
		return &models.PayableJobResult{RunID: runID, Skipped: "locked"}, nil
	}
	// Release no matter how the body exits so a failed run never pins the
	// lock past its TTL-based recovery.
	defer func() {
		if releaseErr := j.locks.Release(context.WithoutCancel(ctx), AffiliatePayableLockKey, payload); releaseErr != nil {
			log.Printf("affiliate payable job lock release failed: runId=%s err=%v", runID, releaseErr)
		}
	}()

	now := time.Now()
	due, err := j.referrals.FindDuePayable(ctx, now)
	if err != nil {
		return nil, err
	}

	updated, err := j.referrals.PromotePayable(ctx, now)
	if err != nil {
		return nil, err
	}

	log.Printf("affiliate payable job finished: runId=%s trigger=%s processed=%d updated=%d",
		runID, trigger, len(due), updated)
	return &models.PayableJobResult{
		RunID:     runID,
		Processed: len(due),
		Updated:   int(updated),
	}, nil
}
