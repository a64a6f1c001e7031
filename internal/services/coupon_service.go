package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalamkart/api/internal/repositories"

	domain "github.com/kalamkart/api/internal/domain"
)

var (
	// ErrCouponDependenciesMissing indicates the validator was constructed without its repositories.
	ErrCouponDependenciesMissing = errors.New("coupon validator: dependencies are not configured")
	// ErrCouponInvalidInput signals missing or malformed validation input.
	ErrCouponInvalidInput = errors.New("coupon validator: invalid input")
	// ErrCouponRejected is the sentinel wrapped by every CouponRejectionError.
	ErrCouponRejected = errors.New("coupon validator: coupon rejected")
	// ErrCouponUnavailable indicates the coupon store could not be reached.
	ErrCouponUnavailable = errors.New("coupon validator: coupon store unavailable")
)

// CouponRejectionCode identifies which ordered check refused the coupon.
type CouponRejectionCode string

const (
	CouponRejectionNotFound           CouponRejectionCode = "not_found"
	CouponRejectionInactive           CouponRejectionCode = "inactive"
	CouponRejectionNotStarted         CouponRejectionCode = "not_started"
	CouponRejectionExpired            CouponRejectionCode = "expired"
	CouponRejectionUsageLimitReached  CouponRejectionCode = "usage_limit_reached"
	CouponRejectionMinOrderValue      CouponRejectionCode = "min_order_value"
	CouponRejectionUserBlocked        CouponRejectionCode = "user_blocked"
	CouponRejectionUserNotAllowed     CouponRejectionCode = "user_not_allowed"
	CouponRejectionFirstOrderOnly     CouponRejectionCode = "first_order_only"
	CouponRejectionAlreadyRedeemed    CouponRejectionCode = "already_redeemed"
	CouponRejectionNotApplicableItems CouponRejectionCode = "not_applicable_items"
)

// CouponRejectionError reports a failed eligibility check with a stable
// reason code. It unwraps to ErrCouponRejected.
type CouponRejectionError struct {
	Code    CouponRejectionCode
	Message string
}

func (e *CouponRejectionError) Error() string {
	return fmt.Sprintf("coupon validator: coupon rejected: %s: %s", e.Code, e.Message)
}

func (e *CouponRejectionError) Unwrap() error { return ErrCouponRejected }

func rejectCoupon(code CouponRejectionCode, message string) error {
	return &CouponRejectionError{Code: code, Message: message}
}

// CouponValidatorDeps bundles dependencies required to construct a CouponValidator.
type CouponValidatorDeps struct {
	Coupons repositories.CouponRepository
	Orders  repositories.OrderRepository
	Clock   func() time.Time
	Logger  Logger
}

type couponValidator struct {
	coupons repositories.CouponRepository
	orders  repositories.OrderRepository
	clock   func() time.Time
	logger  Logger
}

// NewCouponValidator wires a CouponValidator backed by the provided repositories.
func NewCouponValidator(deps CouponValidatorDeps) (CouponValidator, error) {
	if deps.Coupons == nil || deps.Orders == nil {
		return nil, ErrCouponDependenciesMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponValidator{
		coupons: deps.Coupons,
		orders:  deps.Orders,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Validate runs the eligibility checks in a fixed order and short-circuits
// on the first failure so rejection reasons are deterministic.
func (s *couponValidator) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error) {
	if s == nil || s.coupons == nil || s.orders == nil {
		return CouponValidation{}, ErrCouponDependenciesMissing
	}

	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return CouponValidation{}, fmt.Errorf("%w: coupon code is required", ErrCouponInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CouponValidation{}, fmt.Errorf("%w: user id is required", ErrCouponInvalidInput)
	}
	if cmd.OrderAmount <= 0 {
		return CouponValidation{}, fmt.Errorf("%w: order amount must be positive", ErrCouponInvalidInput)
	}

	coupon, err := s.findCoupon(ctx, code)
	if err != nil {
		return CouponValidation{}, err
	}
	if err := s.checkCouponTerms(coupon, code, cmd.OrderAmount); err != nil {
		return CouponValidation{}, err
	}

	if containsString(coupon.BlockedUsers, userID) {
		return CouponValidation{}, rejectCoupon(CouponRejectionUserBlocked, fmt.Sprintf("user is not eligible for coupon %s", code))
	}
	if len(coupon.AllowedUsers) > 0 && !containsString(coupon.AllowedUsers, userID) {
		return CouponValidation{}, rejectCoupon(CouponRejectionUserNotAllowed, fmt.Sprintf("coupon %s is limited to selected users", code))
	}
	if coupon.FirstOrderOnly {
		completed, err := s.orders.CountCompletedByUser(ctx, userID)
		if err != nil {
			return CouponValidation{}, fmt.Errorf("%w: count completed orders: %v", ErrCouponUnavailable, err)
		}
		if completed > 0 {
			return CouponValidation{}, rejectCoupon(CouponRejectionFirstOrderOnly, fmt.Sprintf("coupon %s is for first orders only", code))
		}
	}

	redeemed, err := s.coupons.HasRedemption(ctx, code, userID)
	if err != nil {
		return CouponValidation{}, fmt.Errorf("%w: check redemption: %v", ErrCouponUnavailable, err)
	}
	if redeemed {
		return CouponValidation{}, rejectCoupon(CouponRejectionAlreadyRedeemed, fmt.Sprintf("coupon %s was already used", code))
	}

	if coupon.Restricted() && !anyItemMatchesCoupon(coupon, cmd.Items) {
		return CouponValidation{}, rejectCoupon(CouponRejectionNotApplicableItems,
			fmt.Sprintf("no item in the order qualifies for coupon %s", code))
	}

	discount, err := couponDiscount(coupon, cmd.OrderAmount)
	if err != nil {
		return CouponValidation{}, err
	}

	s.logger(ctx, "coupons.validated", map[string]any{
		"code":     code,
		"userId":   userID,
		"discount": discount,
	})
	return CouponValidation{Coupon: coupon, Discount: discount}, nil
}

// PreviewDiscount runs the coupon's own eligibility checks without any user
// scoping, for carts that have no authenticated user yet. The preview is not
// a reservation; checkout re-validates with the full check order.
func (s *couponValidator) PreviewDiscount(ctx context.Context, cmd PreviewDiscountCommand) (CouponValidation, error) {
	if s == nil || s.coupons == nil {
		return CouponValidation{}, ErrCouponDependenciesMissing
	}

	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return CouponValidation{}, fmt.Errorf("%w: coupon code is required", ErrCouponInvalidInput)
	}
	if cmd.OrderAmount <= 0 {
		return CouponValidation{}, fmt.Errorf("%w: order amount must be positive", ErrCouponInvalidInput)
	}

	coupon, err := s.findCoupon(ctx, code)
	if err != nil {
		return CouponValidation{}, err
	}
	if err := s.checkCouponTerms(coupon, code, cmd.OrderAmount); err != nil {
		return CouponValidation{}, err
	}
	if coupon.Restricted() && !anyItemMatchesCoupon(coupon, cmd.Items) {
		return CouponValidation{}, rejectCoupon(CouponRejectionNotApplicableItems,
			fmt.Sprintf("no item in the order qualifies for coupon %s", code))
	}

	discount, err := couponDiscount(coupon, cmd.OrderAmount)
	if err != nil {
		return CouponValidation{}, err
	}
	return CouponValidation{Coupon: coupon, Discount: discount}, nil
}

const activeCouponListLimit = 100

// ListActiveCoupons returns coupons currently redeemable, for storefront
// display. Coupons outside their window or over their usage limit are
// filtered even when still flagged active.
func (s *couponValidator) ListActiveCoupons(ctx context.Context) ([]domain.Coupon, error) {
	if s == nil || s.coupons == nil {
		return nil, ErrCouponDependenciesMissing
	}
	coupons, err := s.coupons.ListActive(ctx, activeCouponListLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: list coupons: %v", ErrCouponUnavailable, err)
	}
	now := s.clock()
	live := make([]domain.Coupon, 0, len(coupons))
	for _, coupon := range coupons {
		if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
			continue
		}
		if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
			continue
		}
		if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
			continue
		}
		live = append(live, coupon)
	}
	return live, nil
}

func (s *couponValidator) findCoupon(ctx context.Context, code string) (domain.Coupon, error) {
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok {
			switch {
			case repoErr.IsNotFound():
				return domain.Coupon{}, rejectCoupon(CouponRejectionNotFound, fmt.Sprintf("coupon %s does not exist", code))
			case repoErr.IsUnavailable():
				return domain.Coupon{}, fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
			}
		}
		return domain.Coupon{}, err
	}
	return coupon, nil
}

// checkCouponTerms covers the checks that depend only on the coupon and the
// order amount, in the same order Validate reports them.
func (s *couponValidator) checkCouponTerms(coupon domain.Coupon, code string, orderAmount int64) error {
	if !coupon.Active {
		return rejectCoupon(CouponRejectionInactive, fmt.Sprintf("coupon %s is not active", code))
	}

	now := s.clock()
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return rejectCoupon(CouponRejectionNotStarted, fmt.Sprintf("coupon %s is not valid yet", code))
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return rejectCoupon(CouponRejectionExpired, fmt.Sprintf("coupon %s has expired", code))
	}

	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return rejectCoupon(CouponRejectionUsageLimitReached, fmt.Sprintf("coupon %s has reached its usage limit", code))
	}

	if orderAmount < coupon.MinOrderValue {
		return rejectCoupon(CouponRejectionMinOrderValue,
			fmt.Sprintf("order amount %d is below the minimum %d for coupon %s", orderAmount, coupon.MinOrderValue, code))
	}
	return nil
}

// couponDiscount applies the coupon's discount shape to the order amount.
// The result is always within [0, orderAmount].
func couponDiscount(coupon domain.Coupon, orderAmount int64) (int64, error) {
	var discount int64
	switch coupon.Type {
	case domain.DiscountTypePercentage:
		raw, err := roundHalfUpPercent(orderAmount, coupon.Value)
		if err != nil {
			return 0, err
		}
		discount = raw
		if coupon.MaxDiscount > 0 && discount > coupon.MaxDiscount {
			discount = coupon.MaxDiscount
		}
	case domain.DiscountTypeFixed:
		discount = coupon.Value
	default:
		return 0, fmt.Errorf("%w: unsupported discount type %q", ErrCouponInvalidInput, coupon.Type)
	}
	if discount < 0 {
		discount = 0
	}
	if discount > orderAmount {
		discount = orderAmount
	}
	return discount, nil
}

func anyItemMatchesCoupon(coupon domain.Coupon, items []domain.OrderItem) bool {
	for _, item := range items {
		if containsString(coupon.Products, item.ProductID) {
			return true
		}
		if containsString(coupon.Categories, item.Category) {
			return true
		}
	}
	return false
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
