package repositories

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
)

// JobLockScope is the reserved scope value that marks a snapshot document as
// a job lock. The snapshots collection is a generic keyed store; locks
// piggy-back on its (scope, key) unique index instead of a dedicated table.
const JobLockScope = "JOB_LOCK"

// JobLockRepository is the advisory mutual-exclusion primitive for scheduled
// jobs. The execution environment has no native mutex or leader election, so
// the unique index is the only concurrency control available.
type JobLockRepository struct {
	collection *mongo.Collection
}

func NewJobLockRepository(db *mongo.Client, cfg config.Config) *JobLockRepository {
	return &JobLockRepository{
		collection: db.Database(cfg.DBName).Collection("snapshots"),
	}
}

// Acquire attempts to take the lock named by key. It returns held=true when
// the caller owns the lock, either by creating it or by stealing a stale one;
// prev carries the preempted run's payload after a theft. A live lock held by
// another run yields held=false with that run's payload, which is not an
// error. Any storage failure other than a uniqueness conflict propagates and
// the lock is not granted.
func (r *JobLockRepository) Acquire(ctx context.Context, key string, ttl time.Duration, payload models.LockPayload) (bool, *models.LockPayload, error) {
	now := time.Now()
	doc := models.JobLock{
		Scope:     JobLockScope,
		Key:       key,
		Payload:   payload,
		UpdatedAt: now,
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err == nil {
		log.Printf("job lock acquired: key=%s runId=%s trigger=%s holder=%s",
			key, payload.RunID, payload.Trigger, payload.Holder)
		return true, nil, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, nil, fmt.Errorf("failed to create job lock %s: %w", key, err)
	}

	// Somebody holds the lock. Decide between "live, back off" and "stale,
	// steal" from the record's last-modified time.
	var existing models.JobLock
	findErr := r.collection.FindOne(ctx, bson.M{"scope": JobLockScope, "key": key}).Decode(&existing)
	if findErr == mongo.ErrNoDocuments {
		// Released between our insert and read; one more insert attempt.
		if _, retryErr := r.collection.InsertOne(ctx, doc); retryErr == nil {
			log.Printf("job lock acquired on retry: key=%s runId=%s trigger=%s holder=%s",
				key, payload.RunID, payload.Trigger, payload.Holder)
			return true, nil, nil
		} else if !mongo.IsDuplicateKeyError(retryErr) {
			return false, nil, fmt.Errorf("failed to create job lock %s: %w", key, retryErr)
		}
		log.Printf("job lock contended: key=%s runId=%s", key, payload.RunID)
		return false, nil, nil
	}
	if findErr != nil {
		return false, nil, fmt.Errorf("failed to inspect job lock %s: %w", key, findErr)
	}

	if !existing.IsStale(now, ttl) {
		log.Printf("job lock held: key=%s runId=%s blockedBy=%s lockedAt=%s",
			key, payload.RunID, existing.Payload.RunID, existing.Payload.LockedAt.Format(time.RFC3339))
		return false, &existing.Payload, nil
	}

	// Stale lock: the previous run crashed or never released. Overwrite it,
	// recording the preempted runId for later audit. The filter pins the
	// observed updatedAt so two stealers cannot both win.
	stolen := doc
	stolen.Payload.Stolen = true
	stolen.Payload.PreviousRunID = existing.Payload.RunID

	res, replaceErr := r.collection.ReplaceOne(ctx, bson.M{
		"scope":     JobLockScope,
		"key":       key,
		"updatedAt": existing.UpdatedAt,
	}, stolen)
	if replaceErr != nil {
		return false, nil, fmt.Errorf("failed to steal stale job lock %s: %w", key, replaceErr)
	}
	if res.ModifiedCount == 0 {
		// Another run refreshed or stole it first.
		log.Printf("job lock steal lost race: key=%s runId=%s", key, payload.RunID)
		return false, &existing.Payload, nil
	}

	log.Printf("job lock stolen: key=%s runId=%s trigger=%s holder=%s previousRunId=%s staleFor=%s",
		key, payload.RunID, payload.Trigger, payload.Holder, existing.Payload.RunID, now.Sub(existing.UpdatedAt))
	return true, &existing.Payload, nil
}

// Release deletes the lock record unconditionally. A release racing a
// concurrent steal at the TTL boundary can delete the thief's lock; given the
// TTL and the low invocation frequency of guarded jobs this window is
// accepted and documented rather than silently worked around.
func (r *JobLockRepository) Release(ctx context.Context, key string, payload models.LockPayload) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"scope": JobLockScope, "key": key})
	if err != nil {
		return fmt.Errorf("failed to release job lock %s: %w", key, err)
	}
	log.Printf("job lock released: key=%s runId=%s trigger=%s holder=%s",
		key, payload.RunID, payload.Trigger, payload.Holder)
	return nil
}
