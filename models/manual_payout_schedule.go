package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ManualPayoutSchedule is an admin-entered payout instruction for an
// affiliate paid outside the batch pipeline (e.g. a negotiated flat fee).
// It is data only: nothing here moves money automatically.
type ManualPayoutSchedule struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ReferrerID  primitive.ObjectID `bson:"referrerId" json:"referrerId"`
	AmountCents int64              `bson:"amountCents" json:"amountCents"`
	Currency    string             `bson:"currency" json:"currency"`
	// Schedule is "once" or "monthly"
	Schedule     string             `bson:"schedule" json:"schedule"`
	NextRunAt    time.Time          `bson:"nextRunAt" json:"nextRunAt"`
	SendReminder bool               `bson:"sendReminder" json:"sendReminder"`
	Note         string             `bson:"note,omitempty" json:"note,omitempty"`
	CreatedBy    primitive.ObjectID `bson:"createdBy" json:"createdBy"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// PayoutScheduleRequest is the create/update body for manual payout
// schedules.
type PayoutScheduleRequest struct {
	ReferrerID   string    `json:"referrerId" validate:"required"`
	AmountCents  int64     `json:"amountCents" validate:"required,gt=0"`
	Currency     string    `json:"currency" validate:"required,len=3"`
	Schedule     string    `json:"schedule" validate:"required,oneof=once monthly"`
	NextRunAt    time.Time `json:"nextRunAt" validate:"required"`
	SendReminder bool      `json:"sendReminder"`
	Note         string    `json:"note"`
}
