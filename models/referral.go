package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReferralStatus is the closed set of lifecycle states a referral moves
// through. Transitions are strictly forward; AdvanceTo is the only authorized
// way to change the status of a Referral.
type ReferralStatus string

const (
	StatusPending   ReferralStatus = "PENDING"
	StatusClicked   ReferralStatus = "CLICKED"
	StatusSignedUp  ReferralStatus = "SIGNED_UP"
	StatusQualified ReferralStatus = "QUALIFIED"
	StatusPayable   ReferralStatus = "PAYABLE"
	StatusPaid      ReferralStatus = "PAID"
)

// nextStatus is the single source of truth for the forward-only state
// machine. Every status has exactly one successor; PAID is terminal.
var nextStatus = map[ReferralStatus]ReferralStatus{
	StatusPending:   StatusClicked,
	StatusClicked:   StatusSignedUp,
	StatusSignedUp:  StatusQualified,
	StatusQualified: StatusPayable,
	StatusPayable:   StatusPaid,
}

// IsValid reports whether s is one of the known lifecycle states.
func (s ReferralStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusClicked, StatusSignedUp, StatusQualified, StatusPayable, StatusPaid:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is the immediately adjacent forward
// state. Skipping states or moving backward is never allowed.
func (s ReferralStatus) CanTransitionTo(next ReferralStatus) bool {
	return nextStatus[s] == next && s != ""
}

// Rank orders statuses along the lifecycle; it exists so callers can express
// "at least QUALIFIED" checks without enumerating states.
func (s ReferralStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusClicked:
		return 1
	case StatusSignedUp:
		return 2
	case StatusQualified:
		return 3
	case StatusPayable:
		return 4
	case StatusPaid:
		return 5
	}
	return -1
}

// Referral is one attribution event: somebody used a referrer's code. A
// "master" template row per code sits at PENDING with no referred subject and
// is never itself settled; real attributions are separate rows cloned from
// the template.
type Referral struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ReferrerID   primitive.ObjectID `bson:"referrerId" json:"referrerId"`
	ReferralCode string             `bson:"referralCode" json:"referralCode"`
	SlugUsed     string             `bson:"slugUsed,omitempty" json:"slugUsed,omitempty"`

	ReferredUserID *primitive.ObjectID `bson:"referredUserId,omitempty" json:"referredUserId,omitempty"`
	ReferredEmail  string              `bson:"referredEmail,omitempty" json:"referredEmail,omitempty"`
	ReferredName   string              `bson:"referredName,omitempty" json:"referredName,omitempty"`

	Status ReferralStatus `bson:"status" json:"status"`

	// Lifecycle timestamps, each set exactly once, non-decreasing in
	// wall-clock order of occurrence.
	ClickedAt      *time.Time `bson:"clickedAt,omitempty" json:"clickedAt,omitempty"`
	SignedUpAt     *time.Time `bson:"signedUpAt,omitempty" json:"signedUpAt,omitempty"`
	TrialStartedAt *time.Time `bson:"trialStartedAt,omitempty" json:"trialStartedAt,omitempty"`
	FirstPaidAt    *time.Time `bson:"firstPaidAt,omitempty" json:"firstPaidAt,omitempty"`
	QualifiedAt    *time.Time `bson:"qualifiedAt,omitempty" json:"qualifiedAt,omitempty"`
	PayableAt      *time.Time `bson:"payableAt,omitempty" json:"payableAt,omitempty"`
	PaidAt         *time.Time `bson:"paidAt,omitempty" json:"paidAt,omitempty"`

	// CommissionAmountCents is fixed at the moment of qualification from the
	// referred user's plan tier and never changes afterwards.
	CommissionAmountCents int64  `bson:"commissionAmountCents" json:"commissionAmountCents"`
	Currency              string `bson:"currency,omitempty" json:"currency,omitempty"`

	PayoutBatchID *primitive.ObjectID `bson:"payoutBatchId,omitempty" json:"payoutBatchId,omitempty"`
	PaidByUserID  *primitive.ObjectID `bson:"paidByUserId,omitempty" json:"paidByUserId,omitempty"`

	// ExpiresAt on a template row makes the code unusable for new
	// attribution past that time; already-attributed rows are unaffected.
	ExpiresAt *time.Time `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// IsTemplate reports whether the row is the master PENDING row for a code.
func (r *Referral) IsTemplate() bool {
	return r.Status == StatusPending && r.ReferredUserID == nil
}

// IsExpired reports whether the template code can no longer attribute new
// signups.
func (r *Referral) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// AdvanceTo mutates the status after checking adjacency. Callers that hold a
// Referral in memory must go through this instead of assigning Status
// directly so the forward-only invariant lives in one place.
func (r *Referral) AdvanceTo(next ReferralStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal referral transition %s -> %s", r.Status, next)
	}
	r.Status = next
	return nil
}

// ConversionKind distinguishes which billing event qualified a referral.
type ConversionKind string

const (
	ConversionTrialStart   ConversionKind = "trial_start"
	ConversionFirstPayment ConversionKind = "first_payment"
)

// ConversionEvent is what the billing collaborator reports when a referred
// user converts. PlanTier selects the commission amount at that instant.
type ConversionEvent struct {
	Kind     ConversionKind
	PlanTier string
	At       time.Time
}

// Qualify advances a SIGNED_UP referral when the billing collaborator
// reports a conversion. The commission is computed once here from the plan
// tier at the event instant; nothing may change it afterwards, whatever
// happens to the referred user's plan. payableAt opens the clawback window
// the payable job waits out.
func (r *Referral) Qualify(ev ConversionEvent, payableDelay time.Duration) error {
	if err := r.AdvanceTo(StatusQualified); err != nil {
		return err
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	payableAt := at.Add(payableDelay)

	r.QualifiedAt = &at
	r.PayableAt = &payableAt
	r.CommissionAmountCents = CommissionForTier(ev.PlanTier)
	switch ev.Kind {
	case ConversionTrialStart:
		r.TrialStartedAt = &at
	case ConversionFirstPayment:
		r.FirstPaidAt = &at
	}
	r.UpdatedAt = at
	return nil
}

// CommissionForTier returns the commission fixed at qualification time for
// the referred user's plan tier. Later plan changes never touch an already
// earned commission.
func CommissionForTier(tier string) int64 {
	switch tier {
	case "premium":
		return 5000
	case "standard":
		return 2500
	case "basic":
		return 1000
	}
	return 0
}

// CodeValidity is the structured result of validating an inbound referral
// code on the registration path.
type CodeValidity struct {
	Valid    bool      `json:"valid"`
	Reason   string    `json:"reason,omitempty"` // "not_found", "expired", "reserved"
	Referral *Referral `json:"-"`
}

// AffiliateStats is the per-affiliate reporting roll-up, recomputed on read.
type AffiliateStats struct {
	ReferrerID     primitive.ObjectID `json:"referrerId"`
	TotalSignups   int                `json:"totalSignups"`
	Qualified      int                `json:"qualified"`
	Payable        int                `json:"payable"`
	PaidTotalCents int64              `json:"paidTotalCents"`
}

// SetSlugRequest is the body of PUT /api/referrals/slug.
type SetSlugRequest struct {
	Slug string `json:"slug" validate:"required"`
}

// UpdateReferralDetailRequest limits admin edits to contact fields; status
// and money fields only move through the transactional settlement paths.
type UpdateReferralDetailRequest struct {
	ReferredName  string `json:"referredName,omitempty"`
	ReferredEmail string `json:"referredEmail,omitempty" validate:"omitempty,email"`
}

// SignupAttributionRequest is posted by the registration service when a new
// member registered carrying a referral code.
type SignupAttributionRequest struct {
	Code   string `json:"code" validate:"required"`
	UserID string `json:"userId" validate:"required"`
	Email  string `json:"email" validate:"omitempty,email"`
	Name   string `json:"name"`
}

// ConversionRequest is posted by the billing service when a referred member
// converts (starts a trial or makes a first payment).
type ConversionRequest struct {
	UserID   string    `json:"userId" validate:"required"`
	Kind     string    `json:"kind" validate:"required,oneof=trial_start first_payment"`
	PlanTier string    `json:"planTier" validate:"required"`
	At       time.Time `json:"at"`
}

// ReferralData is the payload of GET /api/referrals.
type ReferralData struct {
	Slug         string         `json:"slug"`
	ReferralLink string         `json:"referralLink"`
	Stats        AffiliateStats `json:"stats"`
	Recent       []Referral     `json:"recent"`
}
