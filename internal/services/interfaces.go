package services

import (
	"context"

	domain "github.com/kalamkart/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	OrderFlags         = domain.OrderFlags
	AppliedCoupon      = domain.AppliedCoupon
	PricingBreakdown   = domain.PricingBreakdown
	PaymentRecord      = domain.PaymentRecord
	StatusHistoryEntry = domain.StatusHistoryEntry
	Shipment           = domain.Shipment
	Address            = domain.Address
	Product            = domain.Product
	Coupon             = domain.Coupon
	CouponRedemption   = domain.CouponRedemption
	Refund             = domain.Refund
	RefundKind         = domain.RefundKind
	SystemHealthReport = domain.SystemHealthReport
)

// Logger is the structured logging contract injected into services.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Actor identifies who is performing an operation and with what privileges.
type Actor struct {
	ID    string
	Staff bool
}

// OrderService governs order state transitions and reads.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error)
	Transition(ctx context.Context, cmd TransitionCommand) (Order, []OrderEvent, error)
}

// OrderListQuery filters order listings for a user or staff view.
type OrderListQuery struct {
	Actor      Actor
	UserID     string
	Status     []OrderStatus
	Pagination Pagination
}

// TransitionCommand requests a single order status transition. Tracking is
// only consulted when the target status is shipped.
type TransitionCommand struct {
	OrderID  string
	Target   OrderStatus
	Actor    Actor
	Note     string
	Reason   string
	Tracking *Shipment
}

// CouponValidator runs the ordered eligibility checks for a coupon code.
type CouponValidator interface {
	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error)

	// PreviewDiscount judges a coupon against a cart without user checks,
	// for carts that are not signed in yet.
	PreviewDiscount(ctx context.Context, cmd PreviewDiscountCommand) (CouponValidation, error)

	// ListActiveCoupons returns the coupons currently open for redemption.
	ListActiveCoupons(ctx context.Context) ([]Coupon, error)
}

// ValidateCouponCommand carries the order context a coupon is judged against.
type ValidateCouponCommand struct {
	Code        string
	UserID      string
	OrderAmount int64
	Items       []OrderItem
}

// PreviewDiscountCommand carries the anonymous cart a discount is previewed
// against.
type PreviewDiscountCommand struct {
	Code        string
	OrderAmount int64
	Items       []OrderItem
}

// CouponValidation is the outcome of a successful validation.
type CouponValidation struct {
	Coupon   Coupon
	Discount int64
}

// InventoryLine pairs a product with the quantity an order holds.
type InventoryLine struct {
	ProductID string
	Quantity  int64
}

// InventoryLedger mutates product availability and sales counters through
// atomic increments.
type InventoryLedger interface {
	// Reserve decrements availability for every line, or none observably:
	// an oversell detected after the fact is compensated and reported.
	Reserve(ctx context.Context, lines []InventoryLine) error
	// Release restores availability previously taken by Reserve.
	Release(ctx context.Context, lines []InventoryLine) error
	// FinalizeSale counts the reserved units as sold.
	FinalizeSale(ctx context.Context, lines []InventoryLine) error
	// ReverseSale undoes FinalizeSale and restores availability.
	ReverseSale(ctx context.Context, lines []InventoryLine) error
}

// PaymentReconciler verifies gateway callbacks and confirms orders.
type PaymentReconciler interface {
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (VerifyPaymentResult, error)
}

// VerifyPaymentCommand carries the client-reported payment callback fields.
// None of them are trusted until the signature checks out and the gateway
// confirms the payment state.
type VerifyPaymentCommand struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// VerifyPaymentResult reports the confirmed order. AlreadyProcessed is true
// when a duplicate callback arrived after the order was confirmed.
type VerifyPaymentResult struct {
	Order            Order
	AlreadyProcessed bool
	Events           []OrderEvent
}

// CheckoutService orchestrates the order lifecycle end to end.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	RefundOrder(ctx context.Context, cmd RefundOrderCommand) (RefundOrderResult, error)
}

// CartLine is one requested product in an order creation request.
type CartLine struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand is the typed order creation request.
type CreateOrderCommand struct {
	UserID          string
	Items           []CartLine
	CouponCode      string
	GiftWrap        bool
	ShippingAddress *Address
	BillingAddress  *Address
	Currency        string
	PaymentProvider string
}

// CreateOrderResult returns the pending order plus the gateway handle the
// client needs to collect payment.
type CreateOrderResult struct {
	Order          Order
	PaymentIntent  string
	GatewayKeyHint string
}

// CancelOrderCommand requests an order cancellation.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// RefundOrderCommand requests a staff refund. A full refund (amount equal
// to the grand total) moves the order to refunded; a partial refund is a
// financial adjustment that leaves the state untouched.
type RefundOrderCommand struct {
	OrderID string
	Actor   Actor
	Amount  int64
	Reason  string
}

// RefundOrderResult reports the recorded refund and the possibly updated order.
type RefundOrderResult struct {
	Order  Order
	Refund Refund
}

// SystemService aggregates operational health for monitoring endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
