package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the portal member. Authentication, profile editing and billing are
// handled by external collaborators; this backend reads users for referral
// attribution and admin authorization only.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"`
	FullName     string             `bson:"fullName" json:"fullName"`
	UserType     string             `bson:"userType" json:"userType"` // "user", "admin"
	PlanTier     string             `bson:"planTier,omitempty" json:"planTier,omitempty"`
	ReferralSlug string             `bson:"referralSlug,omitempty" json:"referralSlug,omitempty"`
	IsActive     bool               `bson:"isActive" json:"isActive"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Response model
type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
