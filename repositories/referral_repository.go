package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
	"github.com/memberly/memberly_backend/utils"
)

// DefaultCurrency is the settlement currency for commissions.
const DefaultCurrency = "USD"

var (
	ErrCodeNotFound     = errors.New("referral code not found")
	ErrCodeExpired      = errors.New("referral code expired")
	ErrReferralNotFound = errors.New("referral not found")
	ErrWrongStatus      = errors.New("referral is not in the expected status")
)

// ReferralRepository owns every mutation of referral documents. Status and
// settlement fields never change outside these methods; each update filters
// on the expected prior status so a lost race surfaces as ErrWrongStatus
// instead of a regression.
type ReferralRepository struct {
	collection *mongo.Collection
	cfg        config.Config
}

func NewReferralRepository(db *mongo.Client, cfg config.Config) *ReferralRepository {
	return &ReferralRepository{
		collection: db.Database(cfg.DBName).Collection("referrals"),
		cfg:        cfg,
	}
}

// GetTemplate returns the master PENDING row for a code.
func (r *ReferralRepository) GetTemplate(ctx context.Context, code string) (*models.Referral, error) {
	var template models.Referral
	err := r.collection.FindOne(ctx, bson.M{
		"referralCode":   code,
		"status":         models.StatusPending,
		"referredUserId": nil,
	}).Decode(&template)
	if err == mongo.ErrNoDocuments {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load referral template %s: %w", code, err)
	}
	return &template, nil
}

// EnsureTemplate creates the master PENDING row for a referrer's code, or
// migrates the existing row's code in place when the referrer changes their
// slug. A code change never creates a second template.
func (r *ReferralRepository) EnsureTemplate(ctx context.Context, referrerID primitive.ObjectID, slug string) (*models.Referral, error) {
	now := time.Now()
	filter := bson.M{
		"referrerId":     referrerID,
		"status":         models.StatusPending,
		"referredUserId": nil,
	}
	update := bson.M{
		"$set": bson.M{
			"referralCode": slug,
			"slugUsed":     slug,
			"updatedAt":    now,
		},
		"$setOnInsert": bson.M{
			"referrerId": referrerID,
			"status":     models.StatusPending,
			"createdAt":  now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var template models.Referral
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&template); err != nil {
		return nil, fmt.Errorf("failed to ensure referral template for %s: %w", referrerID.Hex(), err)
	}
	return &template, nil
}

// ValidateCode checks an inbound code on the registration path: the code must
// exist as a template, must not be a reserved word and must not be expired.
// The result is structured so callers can distinguish the reasons without
// string matching.
func (r *ReferralRepository) ValidateCode(ctx context.Context, code string) (*models.CodeValidity, error) {
	code = utils.NormalizeSlug(code)
	if utils.IsReservedSlug(code) {
		return &models.CodeValidity{Valid: false, Reason: "reserved"}, nil
	}

	template, err := r.GetTemplate(ctx, code)
	if errors.Is(err, ErrCodeNotFound) {
		return &models.CodeValidity{Valid: false, Reason: "not_found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if template.IsExpired(time.Now()) {
		return &models.CodeValidity{Valid: false, Reason: "expired"}, nil
	}
	return &models.CodeValidity{Valid: true, Referral: template}, nil
}

// RecordClick creates a CLICKED attribution row for a shared-link visit. The
// template row itself stays PENDING.
func (r *ReferralRepository) RecordClick(ctx context.Context, code string) (*models.Referral, error) {
	validity, err := r.ValidateCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !validity.Valid {
		if validity.Reason == "expired" {
			return nil, ErrCodeExpired
		}
		return nil, ErrCodeNotFound
	}
	template := validity.Referral

	now := time.Now()
	click := models.Referral{
		ID:           primitive.NewObjectID(),
		ReferrerID:   template.ReferrerID,
		ReferralCode: template.ReferralCode,
		SlugUsed:     template.SlugUsed,
		Status:       models.StatusClicked,
		ClickedAt:    &now,
		Currency:     DefaultCurrency,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.collection.InsertOne(ctx, click); err != nil {
		return nil, fmt.Errorf("failed to record referral click for %s: %w", code, err)
	}
	return &click, nil
}

// AttachSignup binds a new member to an attribution row when they register
// with a referral code. A recent unclaimed click row is claimed when one
// exists; otherwise the signup arrived without a tracked click and a row is
// created directly at SIGNED_UP with clickedAt equal to signedUpAt.
func (r *ReferralRepository) AttachSignup(ctx context.Context, code string, referredUserID primitive.ObjectID, email, name string) (*models.Referral, error) {
	validity, err := r.ValidateCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !validity.Valid {
		if validity.Reason == "expired" {
			return nil, ErrCodeExpired
		}
		return nil, ErrCodeNotFound
	}
	template := validity.Referral

	now := time.Now()
	filter := bson.M{
		"referralCode":   template.ReferralCode,
		"status":         models.StatusClicked,
		"referredUserId": nil,
	}
	update := bson.M{"$set": bson.M{
		"status":         models.StatusSignedUp,
		"referredUserId": referredUserID,
		"referredEmail":  email,
		"referredName":   name,
		"signedUpAt":     now,
		"updatedAt":      now,
	}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "clickedAt", Value: -1}}).
		SetReturnDocument(options.After)

	var claimed models.Referral
	claimErr := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&claimed)
	if claimErr == nil {
		return &claimed, nil
	}
	if claimErr != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to claim click row for %s: %w", code, claimErr)
	}

	signup := models.Referral{
		ID:             primitive.NewObjectID(),
		ReferrerID:     template.ReferrerID,
		ReferralCode:   template.ReferralCode,
		SlugUsed:       template.SlugUsed,
		Status:         models.StatusSignedUp,
		ReferredUserID: &referredUserID,
		ReferredEmail:  email,
		ReferredName:   name,
		ClickedAt:      &now,
		SignedUpAt:     &now,
		Currency:       DefaultCurrency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := r.collection.InsertOne(ctx, signup); err != nil {
		return nil, fmt.Errorf("failed to create signup referral for %s: %w", code, err)
	}
	return &signup, nil
}

// MarkQualified advances a SIGNED_UP referral when the billing collaborator
// reports a conversion. The commission amount is computed once here from the
// plan tier at this instant and is immutable afterwards; payableAt opens the
// clawback window the payable job waits out.
func (r *ReferralRepository) MarkQualified(ctx context.Context, referredUserID primitive.ObjectID, ev models.ConversionEvent) (*models.Referral, error) {
	// The qualification fields come from the model's Qualify so the amount
	// and timestamps are fixed by exactly one code path.
	seed := models.Referral{Status: models.StatusSignedUp}
	if err := seed.Qualify(ev, r.cfg.PayableDelay); err != nil {
		return nil, err
	}

	set := bson.M{
		"status":                seed.Status,
		"qualifiedAt":           seed.QualifiedAt,
		"payableAt":             seed.PayableAt,
		"commissionAmountCents": seed.CommissionAmountCents,
		"currency":              DefaultCurrency,
		"updatedAt":             seed.UpdatedAt,
	}
	if seed.TrialStartedAt != nil {
		set["trialStartedAt"] = seed.TrialStartedAt
	}
	if seed.FirstPaidAt != nil {
		set["firstPaidAt"] = seed.FirstPaidAt
	}

	filter := bson.M{
		"referredUserId": referredUserID,
		"status":         models.StatusSignedUp,
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var qualified models.Referral
	err := r.collection.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&qualified)
	if err == mongo.ErrNoDocuments {
		// Either no attribution exists for this user or the row already
		// advanced past SIGNED_UP (duplicate billing event).
		return nil, ErrWrongStatus
	}
	if err != nil {
		return nil, fmt.Errorf("failed to qualify referral for user %s: %w", referredUserID.Hex(), err)
	}
	return &qualified, nil
}

// FindDuePayable returns the entire eligible set for payable promotion:
// QUALIFIED rows whose clawback window has elapsed. The query is recomputed
// fresh on every job run; there is no persisted queue.
func (r *ReferralRepository) FindDuePayable(ctx context.Context, now time.Time) ([]models.Referral, error) {
	cursor, err := r.collection.Find(ctx, bson.M{
		"status":    models.StatusQualified,
		"payableAt": bson.M{"$lte": now},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query due referrals: %w", err)
	}
	defer cursor.Close(ctx)

	var due []models.Referral
	if err := cursor.All(ctx, &due); err != nil {
		return nil, fmt.Errorf("failed to decode due referrals: %w", err)
	}
	return due, nil
}

// PromotePayable bulk-updates the whole eligible set to PAYABLE in a single
// statement. All-or-nothing at the set level: if the update fails nothing was
// promoted and the next run re-selects whatever is still due.
func (r *ReferralRepository) PromotePayable(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.collection.UpdateMany(ctx, bson.M{
		"status":    models.StatusQualified,
		"payableAt": bson.M{"$lte": now},
	}, bson.M{"$set": bson.M{
		"status":    models.StatusPayable,
		"updatedAt": now,
	}})
	if err != nil {
		return 0, fmt.Errorf("failed to promote due referrals: %w", err)
	}
	return res.ModifiedCount, nil
}

// ListByReferrer returns an affiliate's attribution rows, newest first.
// Template rows are excluded.
func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerID primitive.ObjectID, limit int64) ([]models.Referral, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := r.collection.Find(ctx, bson.M{
		"referrerId": referrerID,
		"status":     bson.M{"$ne": models.StatusPending},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals for %s: %w", referrerID.Hex(), err)
	}
	defer cursor.Close(ctx)

	var referrals []models.Referral
	if err := cursor.All(ctx, &referrals); err != nil {
		return nil, fmt.Errorf("failed to decode referrals for %s: %w", referrerID.Hex(), err)
	}
	return referrals, nil
}

// ListAttributed returns every non-template row, in insertion order, for the
// reporting roll-up.
func (r *ReferralRepository) ListAttributed(ctx context.Context) ([]models.Referral, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"status": bson.M{"$ne": models.StatusPending}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer cursor.Close(ctx)

	var referrals []models.Referral
	if err := cursor.All(ctx, &referrals); err != nil {
		return nil, fmt.Errorf("failed to decode referrals: %w", err)
	}
	return referrals, nil
}

// UpdateContactDetail lets an admin correct a referral's contact fields.
// Status, timestamps and money are deliberately not reachable from here.
func (r *ReferralRepository) UpdateContactDetail(ctx context.Context, id primitive.ObjectID, req models.UpdateReferralDetailRequest) (*models.Referral, error) {
	set := bson.M{"updatedAt": time.Now()}
	if req.ReferredName != "" {
		set["referredName"] = req.ReferredName
	}
	if req.ReferredEmail != "" {
		set["referredEmail"] = req.ReferredEmail
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Referral
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&updated)
	if err == mongo.ErrNoDocuments {
		return nil, ErrReferralNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update referral %s: %w", id.Hex(), err)
	}
	return &updated, nil
}

// AggregateAffiliateStats folds attribution rows into per-affiliate counts.
// Pure function over already-loaded rows: recomputed on every read, ordered
// by totalSignups descending with ties kept in input (insertion) order.
func AggregateAffiliateStats(referrals []models.Referral) []models.AffiliateStats {
	byReferrer := make(map[primitive.ObjectID]*models.AffiliateStats)
	var order []primitive.ObjectID

	for _, ref := range referrals {
		stats, ok := byReferrer[ref.ReferrerID]
		if !ok {
			stats = &models.AffiliateStats{ReferrerID: ref.ReferrerID}
			byReferrer[ref.ReferrerID] = stats
			order = append(order, ref.ReferrerID)
		}

		if ref.Status.Rank() >= models.StatusSignedUp.Rank() {
			stats.TotalSignups++
		}
		switch ref.Status {
		case models.StatusQualified:
			stats.Qualified++
		case models.StatusPayable:
			stats.Payable++
		case models.StatusPaid:
			stats.PaidTotalCents += ref.CommissionAmountCents
		}
	}

	result := make([]models.AffiliateStats, 0, len(order))
	for _, id := range order {
		result = append(result, *byReferrer[id])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TotalSignups > result[j].TotalSignups
	})
	return result
}
