package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
)

var ErrScheduleNotFound = errors.New("payout schedule not found")

// ScheduleRepository stores manual payout schedules. These are data-only
// admin instructions; no job reads them to move money.
type ScheduleRepository struct {
	collection *mongo.Collection
}

func NewScheduleRepository(db *mongo.Client, cfg config.Config) *ScheduleRepository {
	return &ScheduleRepository{
		collection: db.Database(cfg.DBName).Collection("payoutSchedules"),
	}
}

func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.ManualPayoutSchedule) (*models.ManualPayoutSchedule, error) {
	now := time.Now()
	schedule.ID = primitive.NewObjectID()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	if _, err := r.collection.InsertOne(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to create payout schedule: %w", err)
	}
	return schedule, nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.ManualPayoutSchedule, error) {
	var schedule models.ManualPayoutSchedule
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&schedule)
	if err == mongo.ErrNoDocuments {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payout schedule %s: %w", id.Hex(), err)
	}
	return &schedule, nil
}

func (r *ScheduleRepository) List(ctx context.Context) ([]models.ManualPayoutSchedule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "nextRunAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout schedules: %w", err)
	}
	defer cursor.Close(ctx)

	var schedules []models.ManualPayoutSchedule
	if err := cursor.All(ctx, &schedules); err != nil {
		return nil, fmt.Errorf("failed to decode payout schedules: %w", err)
	}
	return schedules, nil
}

func (r *ScheduleRepository) Update(ctx context.Context, id primitive.ObjectID, req models.PayoutScheduleRequest, referrerID primitive.ObjectID) (*models.ManualPayoutSchedule, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	update := bson.M{"$set": bson.M{
		"referrerId":   referrerID,
		"amountCents":  req.AmountCents,
		"currency":     req.Currency,
		"schedule":     req.Schedule,
		"nextRunAt":    req.NextRunAt,
		"sendReminder": req.SendReminder,
		"note":         req.Note,
		"updatedAt":    time.Now(),
	}}

	var schedule models.ManualPayoutSchedule
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&schedule)
	if err == mongo.ErrNoDocuments {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update payout schedule %s: %w", id.Hex(), err)
	}
	return &schedule, nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete payout schedule %s: %w", id.Hex(), err)
	}
	if res.DeletedCount == 0 {
		return ErrScheduleNotFound
	}
	return nil
}
