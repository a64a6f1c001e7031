package repositories

import (
	"context"
	"time"

	domain "github.com/kalamkart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Coupons() CouponRepository
	Refunds() RefundRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order aggregates and the atomic mutations the
// lifecycle engine depends on. Status, history and guard flags always move
// together in a single document write.
type OrderRepository interface {
	// Insert creates the order document and fails with a conflict error when
	// the generated ID already exists.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// CountCompletedByUser counts a user's orders excluding cancelled ones,
	// used for first-order coupon eligibility.
	CountCompletedByUser(ctx context.Context, userID string) (int64, error)

	// ApplyTransition writes the new status, appends the history entry and
	// sets any guard flags in one atomic update. The order's status must
	// still equal ExpectedStatus or a conflict error is returned.
	ApplyTransition(ctx context.Context, req OrderTransitionRequest) (domain.Order, error)

	// AttachPayment populates the payment record exactly once. It reports
	// false without error when a verified payment is already attached.
	AttachPayment(ctx context.Context, orderID string, payment domain.PaymentRecord, now time.Time) (bool, error)

	// SetRefundRef links a refund entity to the order.
	SetRefundRef(ctx context.Context, orderID string, refundID string, now time.Time) error

	// MarkConfirmationEffects persists which confirmation side effects have
	// completed so a retried verification does not repeat them.
	MarkConfirmationEffects(ctx context.Context, orderID string, effects ConfirmationEffects, now time.Time) error
}

// ConfirmationEffects names the side effects that run after an order is
// confirmed. Only fields set to true are written.
type ConfirmationEffects struct {
	CouponRedeemed bool
	SaleFinalized  bool
}

// OrderTransitionRequest describes a single atomic status transition write.
type OrderTransitionRequest struct {
	OrderID        string
	ExpectedStatus domain.OrderStatus
	NewStatus      domain.OrderStatus
	HistoryEntry   domain.StatusHistoryEntry
	// MarkInventoryReversed flips the one-shot release guard together with
	// the status so retried cancellations cannot release stock twice.
	MarkInventoryReversed bool
	CancelReason          *string
	Shipment              *domain.Shipment
	Now                   time.Time
}

// OrderListFilter controls user/status scoped order listings.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// ProductRepository reads catalog documents and applies counter deltas.
// Counter mutations are expressed as increments so concurrent writers
// compose instead of overwriting each other.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)

	// ApplyCounterDeltas applies per-product increments to availableQty and
	// unitsSold in a best-effort batch. Partial failure returns the error
	// along with the deltas that were applied so callers can compensate.
	ApplyCounterDeltas(ctx context.Context, deltas []ProductCounterDelta) ([]ProductCounterDelta, error)

	// ReadCounters re-reads the live counters for the given products.
	ReadCounters(ctx context.Context, productIDs []string) (map[string]ProductCounters, error)
}

// ProductCounterDelta is a signed increment against one product's counters.
type ProductCounterDelta struct {
	ProductID    string
	AvailableQty int64
	UnitsSold    int64
}

// ProductCounters is a point-in-time read of one product's counters.
type ProductCounters struct {
	AvailableQty int64
	UnitsSold    int64
}

// CouponRepository stores coupon definitions and their redemption ledger.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)

	// HasRedemption reports whether the user already consumed the coupon on
	// any order.
	HasRedemption(ctx context.Context, code string, userID string) (bool, error)

	// RecordRedemption creates the redemption document keyed by code and
	// order and increments the coupon's usedCount in the same transaction.
	// It reports false without error when the redemption already exists, so
	// retried payment callbacks consume a coupon at most once.
	RecordRedemption(ctx context.Context, redemption domain.CouponRedemption) (bool, error)

	// ListActive returns up to limit coupons flagged active. Validity
	// windows and usage limits are the caller's concern.
	ListActive(ctx context.Context, limit int) ([]domain.Coupon, error)
}

// RefundRepository persists refund entities.
type RefundRepository interface {
	Insert(ctx context.Context, refund domain.Refund) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
