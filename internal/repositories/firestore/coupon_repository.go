package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/kalamkart/api/internal/domain"
	pfirestore "github.com/kalamkart/api/internal/platform/firestore"
)

const (
	couponsCollection           = "coupons"
	couponRedemptionsCollection = "couponRedemptions"
)

// CouponRepository stores coupon definitions keyed by their normalised code
// and an append-only redemption ledger keyed by code plus order.
type CouponRepository struct {
	provider    *pfirestore.Provider
	coupons     *pfirestore.BaseRepository[couponDocument]
	redemptions *pfirestore.BaseRepository[redemptionDocument]
}

// NewCouponRepository constructs the Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	coupons := pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil, nil)
	redemptions := pfirestore.NewBaseRepository[redemptionDocument](provider, couponRedemptionsCollection, nil, nil)
	return &CouponRepository{provider: provider, coupons: coupons, redemptions: redemptions}, nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = normaliseCouponCode(code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon lookup: code is required")
	}
	doc, err := r.coupons.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CouponRepository) HasRedemption(ctx context.Context, code string, userID string) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("coupon repository not initialised")
	}
	code = normaliseCouponCode(code)
	userID = strings.TrimSpace(userID)
	if code == "" || userID == "" {
		return false, errors.New("coupon redemption lookup: code and user id are required")
	}

	docs, err := r.redemptions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Where("userId", "==", userID).Limit(1)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// RecordRedemption creates the redemption document and increments the
// coupon's usedCount in one transaction. The redemption document ID embeds
// the order ID, so a retried payment callback hits AlreadyExists and the
// whole transaction collapses to a no-op.
func (r *CouponRepository) RecordRedemption(ctx context.Context, redemption domain.CouponRedemption) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("coupon repository not initialised")
	}
	code := normaliseCouponCode(redemption.Code)
	orderID := strings.TrimSpace(redemption.OrderID)
	if code == "" || orderID == "" {
		return false, errors.New("coupon redemption: code and order id are required")
	}

	docID := redemptionDocID(code, orderID)
	doc := redemptionDocument{
		Code:       code,
		OrderID:    orderID,
		UserID:     strings.TrimSpace(redemption.UserID),
		Discount:   redemption.Discount,
		RedeemedAt: redemption.RedeemedAt.UTC(),
	}

	applied := false
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		redemptionRef, err := r.redemptions.DocumentRef(ctx, docID)
		if err != nil {
			return err
		}
		couponRef, err := r.coupons.DocumentRef(ctx, code)
		if err != nil {
			return err
		}

		if _, err := tx.Get(redemptionRef); err == nil {
			return nil
		} else if status.Code(err) != codes.NotFound {
			return pfirestore.WrapError("couponRedemptions.get", err)
		}
		if _, err := tx.Get(couponRef); err != nil {
			return pfirestore.WrapError("coupons.get", err)
		}

		if err := tx.Create(redemptionRef, doc); err != nil {
			return pfirestore.WrapError("couponRedemptions.create", err)
		}
		if err := tx.Update(couponRef, []firestore.Update{
			{Path: "usedCount", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: doc.RedeemedAt},
		}); err != nil {
			return pfirestore.WrapError("coupons.update", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ListActive reads coupons flagged active, ordered by code for stable pages.
func (r *CouponRepository) ListActive(ctx context.Context, limit int) ([]domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("coupon repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}
	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true).OrderBy(firestore.DocumentID, firestore.Asc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	coupons := make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		coupons = append(coupons, doc.Data.toDomain(doc.ID))
	}
	return coupons, nil
}

func normaliseCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func redemptionDocID(code, orderID string) string {
	return fmt.Sprintf("%s:%s", code, orderID)
}

type couponDocument struct {
	Type           string     `firestore:"type"`
	Value          int64      `firestore:"value"`
	MinOrderValue  int64      `firestore:"minOrderValue"`
	MaxDiscount    int64      `firestore:"maxDiscount"`
	StartsAt       *time.Time `firestore:"startsAt,omitempty"`
	ExpiresAt      *time.Time `firestore:"expiresAt,omitempty"`
	Active         bool       `firestore:"active"`
	FirstOrderOnly bool       `firestore:"firstOrderOnly"`
	AllowedUsers   []string   `firestore:"allowedUsers,omitempty"`
	BlockedUsers   []string   `firestore:"blockedUsers,omitempty"`
	Products       []string   `firestore:"products,omitempty"`
	Categories     []string   `firestore:"categories,omitempty"`
	UsageLimit     int64      `firestore:"usageLimit"`
	UsedCount      int64      `firestore:"usedCount"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

func (d couponDocument) toDomain(code string) domain.Coupon {
	return domain.Coupon{
		Code:           code,
		Type:           domain.DiscountType(d.Type),
		Value:          d.Value,
		MinOrderValue:  d.MinOrderValue,
		MaxDiscount:    d.MaxDiscount,
		StartsAt:       d.StartsAt,
		ExpiresAt:      d.ExpiresAt,
		Active:         d.Active,
		FirstOrderOnly: d.FirstOrderOnly,
		AllowedUsers:   d.AllowedUsers,
		BlockedUsers:   d.BlockedUsers,
		Products:       d.Products,
		Categories:     d.Categories,
		UsageLimit:     d.UsageLimit,
		UsedCount:      d.UsedCount,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type redemptionDocument struct {
	Code       string    `firestore:"code"`
	OrderID    string    `firestore:"orderId"`
	UserID     string    `firestore:"userId"`
	Discount   int64     `firestore:"discount"`
	RedeemedAt time.Time `firestore:"redeemedAt"`
}
