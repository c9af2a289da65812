package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PayoutBatchStatus has only two states; a batch is settled exactly once.
type PayoutBatchStatus string

const (
	BatchPending PayoutBatchStatus = "PENDING"
	BatchPaid    PayoutBatchStatus = "PAID"
)

// PayoutBatch groups one referrer's PAYABLE referrals for settlement. The
// batch and its member referrals are settled as one atomic unit: no batch is
// PAID while a member referral is not, and vice versa.
type PayoutBatch struct {
	ID               primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	ReferrerID       primitive.ObjectID  `bson:"referrerId" json:"referrerId"`
	Status           PayoutBatchStatus   `bson:"status" json:"status"`
	TotalAmountCents int64               `bson:"totalAmountCents" json:"totalAmountCents"`
	Currency         string              `bson:"currency" json:"currency"`
	ReferralCount    int                 `bson:"referralCount" json:"referralCount"`
	DueAt            *time.Time          `bson:"dueAt,omitempty" json:"dueAt,omitempty"`
	PaidAt           *time.Time          `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
	PaidByUserID     *primitive.ObjectID `bson:"paidByUserId,omitempty" json:"paidByUserId,omitempty"`
	CreatedAt        time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// CreateBatchRequest is the body of POST /api/admin/payout-batches.
type CreateBatchRequest struct {
	ReferrerID string `json:"referrerId" validate:"required"`
}
