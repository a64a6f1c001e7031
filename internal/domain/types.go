package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// OrderStatus enumerates the lifecycle states an order moves through.
type OrderStatus string

const (
	// OrderStatusPending marks an order created but not yet paid.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed marks an order whose payment was captured and verified.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing marks an order being prepared for dispatch.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped marks an order handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered marks an order received by the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled marks an order cancelled before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded marks a delivered order that was fully refunded.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Terminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// Valid reports whether the value is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// Order is the canonical order aggregate persisted in the document store.
// All monetary amounts are integer minor units (paise).
type Order struct {
	ID              string
	UserID          string
	Status          OrderStatus
	Currency        string
	Items           []OrderItem
	Pricing         PricingBreakdown
	Coupon          *AppliedCoupon
	GiftWrap        bool
	ShippingAddress *Address
	BillingAddress  *Address
	Shipment        *Shipment
	Payment         *PaymentRecord
	RefundRef       *string
	StatusHistory   []StatusHistoryEntry
	Flags           OrderFlags
	Notes           map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time
	CancelReason    *string
}

// OrderItem snapshots a purchased product line at order creation time.
type OrderItem struct {
	ProductID string
	Name      string
	Category  string
	UnitPrice int64
	Quantity  int
	Subtotal  int64
}

// AppliedCoupon records the coupon snapshot locked in at order creation.
type AppliedCoupon struct {
	Code     string
	Discount int64
}

// Shipment holds carrier booking details captured during order creation.
type Shipment struct {
	Carrier        string
	TrackingNumber string
	Charge         int64
	EstimatedDays  int
}

// PaymentRecord stores the gateway payment attached to a confirmed order.
// IntentID is set at creation; the remaining fields are populated exactly
// once when the payment callback is verified.
type PaymentRecord struct {
	Provider   string
	IntentID   string
	PaymentID  string
	Method     string
	Amount     int64
	Currency   string
	Status     string
	CapturedAt *time.Time
}

// Populated reports whether the record carries a verified gateway payment.
func (p *PaymentRecord) Populated() bool {
	return p != nil && p.PaymentID != ""
}

// StatusHistoryEntry is an append-only audit record of a status change.
type StatusHistoryEntry struct {
	Status    OrderStatus
	Actor     string
	Note      string
	ChangedAt time.Time
}

// OrderFlags carries idempotency guards persisted alongside the order.
type OrderFlags struct {
	InventoryReversed bool
	CouponRedeemed    bool
	SaleFinalized     bool
}

// Address is a postal address snapshot stored on the order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// Product is the catalog document carrying inventory counters.
// AvailableQty and UnitsSold are only ever mutated through atomic
// increments so concurrent orders never clobber each other.
type Product struct {
	ID           string
	Name         string
	Category     string
	UnitPrice    int64
	Currency     string
	Active       bool
	AvailableQty int64
	UnitsSold    int64
	UpdatedAt    time.Time
}

// DiscountType enumerates supported coupon discount shapes.
type DiscountType string

const (
	// DiscountTypePercentage discounts a percentage of the eligible amount.
	DiscountTypePercentage DiscountType = "percentage"
	// DiscountTypeFixed discounts a fixed amount in minor units.
	DiscountTypeFixed DiscountType = "fixed"
)

// Coupon is a promotional code document.
// Value is a whole percentage for percentage coupons and minor units for
// fixed coupons. Zero-valued limits (MaxDiscount, UsageLimit) mean unlimited.
type Coupon struct {
	Code           string
	Type           DiscountType
	Value          int64
	MinOrderValue  int64
	MaxDiscount    int64
	StartsAt       *time.Time
	ExpiresAt      *time.Time
	Active         bool
	FirstOrderOnly bool
	AllowedUsers   []string
	BlockedUsers   []string
	Products       []string
	Categories     []string
	UsageLimit     int64
	UsedCount      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Restricted reports whether the coupon limits eligible items.
func (c Coupon) Restricted() bool {
	return len(c.Products) > 0 || len(c.Categories) > 0
}

// CouponRedemption records a single consumed coupon use. The document ID is
// derived from code and order so a retried redemption collapses to a no-op.
type CouponRedemption struct {
	Code       string
	OrderID    string
	UserID     string
	Discount   int64
	RedeemedAt time.Time
}

// RefundKind distinguishes full refunds (which move the order to refunded)
// from partial goodwill refunds (financial adjustments only).
type RefundKind string

const (
	// RefundKindFull refunds the entire grand total.
	RefundKindFull RefundKind = "full"
	// RefundKindPartial refunds part of the grand total without a state change.
	RefundKindPartial RefundKind = "partial"
)

// Refund is a persisted refund entity referencing its order.
type Refund struct {
	ID              string
	OrderID         string
	Kind            RefundKind
	Amount          int64
	Currency        string
	Reason          string
	Actor           string
	GatewayRefundID string
	CreatedAt       time.Time
}

// CursorPage is a generic page of results with an opaque continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
