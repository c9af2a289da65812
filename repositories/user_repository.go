package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrSlugTaken    = errors.New("referral slug is already taken")
)

type UserRepository struct {
	collection *mongo.Collection
}

func NewUserRepository(db *mongo.Client, cfg config.Config) *UserRepository {
	return &UserRepository{
		collection: db.Database(cfg.DBName).Collection("users"),
	}
}

// GetByID loads one user.
func (r *UserRepository) GetByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := r.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID.Hex(), err)
	}
	return &user, nil
}

// SetReferralSlug stores a user's slug. Uniqueness rides on the sparse
// unique index on referralSlug: a duplicate key error means someone else owns
// the slug. Re-assigning one's own current slug is a no-op success.
func (r *UserRepository) SetReferralSlug(ctx context.Context, userID primitive.ObjectID, slug string) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{
		"referralSlug": slug,
		"updatedAt":    time.Now(),
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSlugTaken
		}
		return fmt.Errorf("failed to set referral slug for %s: %w", userID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}
