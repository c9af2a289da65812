package models

import (
	"time"
)

// JobTrigger records where a job invocation came from.
type JobTrigger string

const (
	TriggerCron   JobTrigger = "cron"
	TriggerManual JobTrigger = "manual"
)

// LockPayload is the audit record written into a job lock. Every write path
// carries runId/trigger/holder so a double-run can be reconstructed from logs
// and the surviving lock document. Stolen/PreviousRunID are set only when a
// stale lock was overwritten.
type LockPayload struct {
	RunID         string     `bson:"runId" json:"runId"`
	Trigger       JobTrigger `bson:"trigger" json:"trigger"`
	Holder        string     `bson:"holder" json:"holder"`
	LockedAt      time.Time  `bson:"lockedAt" json:"lockedAt"`
	Stolen        bool       `bson:"stolen,omitempty" json:"stolen,omitempty"`
	PreviousRunID string     `bson:"previousRunId,omitempty" json:"previousRunId,omitempty"`
}

// JobLock is the advisory lock document. It piggy-backs on the generic
// keyed-snapshot collection: Scope is a reserved job-lock value, Key names
// the guarded resource, and the (scope, key) unique index makes creation an
// atomic insert-if-absent.
type JobLock struct {
	Scope     string      `bson:"scope" json:"scope"`
	Key       string      `bson:"key" json:"key"`
	Payload   LockPayload `bson:"payload" json:"payload"`
	UpdatedAt time.Time   `bson:"updatedAt" json:"updatedAt"`
}

// IsStale reports whether the lock has outlived its TTL and may be stolen by
// a later run.
func (l *JobLock) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.UpdatedAt) > ttl
}

// PayableJobResult is returned by the affiliate payable job. Skipped runs are
// a success, not an error: they are the expected outcome of overlapping
// invocations.
type PayableJobResult struct {
	RunID     string `json:"runId"`
	Processed int    `json:"processed"`
	Updated   int    `json:"updated"`
	Skipped   string `json:"skipped,omitempty"` // "locked" when the lock was held
}
