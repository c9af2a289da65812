package repositories

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
)

var (
	ErrBatchNotFound       = errors.New("payout batch not found")
	ErrNoPayableReferrals  = errors.New("referrer has no payable referrals")
	ErrBatchMemberMismatch = errors.New("batch member count does not match updated referrals")
)

// batchDueTerm is the settlement term stamped on new batches: payment is due
// net-30 from batch creation.
const batchDueTerm = 30 * 24 * time.Hour

// batchStore is the storage slice the settlement logic runs against inside a
// transaction. The production implementation is backed by the Mongo
// collections; tests substitute an in-memory store with injectable failures.
type batchStore interface {
	selectUnbatchedPayable(ctx context.Context, referrerID primitive.ObjectID) ([]models.Referral, error)
	insertBatch(ctx context.Context, batch models.PayoutBatch) error
	stampMembers(ctx context.Context, ids []primitive.ObjectID, batchID primitive.ObjectID, now time.Time) (int64, error)
	findBatch(ctx context.Context, batchID primitive.ObjectID) (*models.PayoutBatch, error)
	settleBatch(ctx context.Context, batchID, actorID primitive.ObjectID, now time.Time) (int64, error)
	settleMembers(ctx context.Context, batchID, actorID primitive.ObjectID, now time.Time) (int64, error)
}

// createBatchIn groups the referrer's unbatched PAYABLE referrals into a new
// PENDING batch. Any returned error aborts the surrounding transaction, so
// the batch document and the member stamps land together or not at all.
func createBatchIn(ctx context.Context, store batchStore, referrerID primitive.ObjectID, now time.Time) (*models.PayoutBatch, error) {
	members, err := store.selectUnbatchedPayable(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, ErrNoPayableReferrals
	}

	var total int64
	ids := make([]primitive.ObjectID, 0, len(members))
	for _, m := range members {
		total += m.CommissionAmountCents
		ids = append(ids, m.ID)
	}

	dueAt := now.Add(batchDueTerm)
	batch := models.PayoutBatch{
		ID:               primitive.NewObjectID(),
		ReferrerID:       referrerID,
		Status:           models.BatchPending,
		TotalAmountCents: total,
		Currency:         DefaultCurrency,
		ReferralCount:    len(members),
		DueAt:            &dueAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := store.insertBatch(ctx, batch); err != nil {
		return nil, err
	}

	stamped, err := store.stampMembers(ctx, ids, batch.ID, now)
	if err != nil {
		return nil, err
	}
	if stamped != int64(len(members)) {
		// A member changed status between select and stamp; abort so the
		// batch total cannot under- or over-count.
		return nil, ErrBatchMemberMismatch
	}
	return &batch, nil
}

// markPaidIn settles a batch and every member referral. Already-PAID batches
// return unchanged without touching the store; a member count that does not
// match the batch aborts the surrounding transaction.
func markPaidIn(ctx context.Context, store batchStore, batchID, actorID primitive.ObjectID, now time.Time) (*models.PayoutBatch, error) {
	batch, err := store.findBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == models.BatchPaid {
		return batch, nil
	}

	settled, err := store.settleBatch(ctx, batchID, actorID, now)
	if err != nil {
		return nil, err
	}
	if settled != 1 {
		return nil, ErrBatchMemberMismatch
	}

	memberCount, err := store.settleMembers(ctx, batchID, actorID, now)
	if err != nil {
		return nil, err
	}
	if memberCount != int64(batch.ReferralCount) {
		// Settling fewer rows than the batch owns means the batch and its
		// members diverged; abort rather than commit partial settlement.
		return nil, ErrBatchMemberMismatch
	}

	batch.Status = models.BatchPaid
	batch.PaidAt = &now
	batch.PaidByUserID = &actorID
	batch.UpdatedAt = now
	return batch, nil
}

// mongoBatchStore runs the settlement statements against the real
// collections; the ctx it receives inside a transaction is the session
// context, so every statement joins that transaction.
type mongoBatchStore struct {
	batches   *mongo.Collection
	referrals *mongo.Collection
}

func (s *mongoBatchStore) selectUnbatchedPayable(ctx context.Context, referrerID primitive.ObjectID) ([]models.Referral, error) {
	cursor, err := s.referrals.Find(ctx, bson.M{
		"referrerId":    referrerID,
		"status":        models.StatusPayable,
		"payoutBatchId": nil,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select payable referrals: %w", err)
	}
	var members []models.Referral
	if err := cursor.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("failed to decode payable referrals: %w", err)
	}
	return members, nil
}

func (s *mongoBatchStore) insertBatch(ctx context.Context, batch models.PayoutBatch) error {
	if _, err := s.batches.InsertOne(ctx, batch); err != nil {
		return fmt.Errorf("failed to insert payout batch: %w", err)
	}
	return nil
}

func (s *mongoBatchStore) stampMembers(ctx context.Context, ids []primitive.ObjectID, batchID primitive.ObjectID, now time.Time) (int64, error) {
	res, err := s.referrals.UpdateMany(ctx, bson.M{
		"_id":    bson.M{"$in": ids},
		"status": models.StatusPayable,
	}, bson.M{"$set": bson.M{
		"payoutBatchId": batchID,
		"updatedAt":     now,
	}})
	if err != nil {
		return 0, fmt.Errorf("failed to stamp batch members: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *mongoBatchStore) findBatch(ctx context.Context, batchID primitive.ObjectID) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch
	err := s.batches.FindOne(ctx, bson.M{"_id": batchID}).Decode(&batch)
	if err == mongo.ErrNoDocuments {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payout batch: %w", err)
	}
	return &batch, nil
}

func (s *mongoBatchStore) settleBatch(ctx context.Context, batchID, actorID primitive.ObjectID, now time.Time) (int64, error) {
	res, err := s.batches.UpdateOne(ctx, bson.M{
		"_id":    batchID,
		"status": models.BatchPending,
	}, bson.M{"$set": bson.M{
		"status":       models.BatchPaid,
		"paidAt":       now,
		"paidByUserId": actorID,
		"updatedAt":    now,
	}})
	if err != nil {
		return 0, fmt.Errorf("failed to mark batch paid: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *mongoBatchStore) settleMembers(ctx context.Context, batchID, actorID primitive.ObjectID, now time.Time) (int64, error) {
	res, err := s.referrals.UpdateMany(ctx, bson.M{
		"payoutBatchId": batchID,
		"status":        models.StatusPayable,
	}, bson.M{"$set": bson.M{
		"status":       models.StatusPaid,
		"paidAt":       now,
		"paidByUserId": actorID,
		"updatedAt":    now,
	}})
	if err != nil {
		return 0, fmt.Errorf("failed to mark batch members paid: %w", err)
	}
	return res.ModifiedCount, nil
}

// PayoutRepository settles commissions. Batch creation and settlement each
// run inside one MongoDB transaction so partial state (a batch paid but its
// referrals not, or referrals pointing at a batch that was never created) is
// structurally impossible.
type PayoutRepository struct {
	client    *mongo.Client
	store     *mongoBatchStore
	batches   *mongo.Collection
	referrals *mongo.Collection
}

func NewPayoutRepository(db *mongo.Client, cfg config.Config) *PayoutRepository {
	batches := db.Database(cfg.DBName).Collection("payoutBatches")
	referrals := db.Database(cfg.DBName).Collection("referrals")
	return &PayoutRepository{
		client:    db,
		store:     &mongoBatchStore{batches: batches, referrals: referrals},
		batches:   batches,
		referrals: referrals,
	}
}

// CreateBatch groups all of a referrer's unbatched PAYABLE referrals into a
// new PENDING batch and stamps each member's payoutBatchId. Creation and
// stamping succeed or fail together.
func (r *PayoutRepository) CreateBatch(ctx context.Context, referrerID primitive.ObjectID) (*models.PayoutBatch, error) {
	session, err := r.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return createBatchIn(sc, r.store, referrerID, time.Now())
	})
	if err != nil {
		return nil, err
	}

	batch := result.(*models.PayoutBatch)
	log.Printf("payout batch created: batchId=%s referrerId=%s members=%d totalCents=%d",
		batch.ID.Hex(), referrerID.Hex(), batch.ReferralCount, batch.TotalAmountCents)
	return batch, nil
}

// MarkPaid settles a batch: the batch document and every member referral move
// to PAID in one transaction. Calling it on an already-PAID batch is an
// idempotent success with no writes.
func (r *PayoutRepository) MarkPaid(ctx context.Context, batchID, actorID primitive.ObjectID) (*models.PayoutBatch, error) {
	session, err := r.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return markPaidIn(sc, r.store, batchID, actorID, time.Now())
	})
	if err != nil {
		return nil, err
	}

	batch := result.(*models.PayoutBatch)
	log.Printf("payout batch settled: batchId=%s actorId=%s members=%d totalCents=%d",
		batch.ID.Hex(), actorID.Hex(), batch.ReferralCount, batch.TotalAmountCents)
	return batch, nil
}

// GetBatch loads one batch.
func (r *PayoutRepository) GetBatch(ctx context.Context, batchID primitive.ObjectID) (*models.PayoutBatch, error) {
	batch, err := r.store.findBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to load payout batch %s: %w", batchID.Hex(), err)
	}
	return batch, nil
}

// ListBatches returns batches, optionally filtered by status, newest first.
func (r *PayoutRepository) ListBatches(ctx context.Context, status models.PayoutBatchStatus) ([]models.PayoutBatch, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.batches.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout batches: %w", err)
	}
	defer cursor.Close(ctx)

	var batches []models.PayoutBatch
	if err := cursor.All(ctx, &batches); err != nil {
		return nil, fmt.Errorf("failed to decode payout batches: %w", err)
	}
	return batches, nil
}

// ListBatchReferrals returns a batch's member rows for export.
func (r *PayoutRepository) ListBatchReferrals(ctx context.Context, batchID primitive.ObjectID) ([]models.Referral, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.referrals.Find(ctx, bson.M{"payoutBatchId": batchID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch referrals: %w", err)
	}
	defer cursor.Close(ctx)

	var referrals []models.Referral
	if err := cursor.All(ctx, &referrals); err != nil {
		return nil, fmt.Errorf("failed to decode batch referrals: %w", err)
	}
	return referrals, nil
}
