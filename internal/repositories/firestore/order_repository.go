package firestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/kalamkart/api/internal/domain"
	pfirestore "github.com/kalamkart/api/internal/platform/firestore"
	"github.com/kalamkart/api/internal/repositories"
)

const ordersCollection = "orders"

const defaultOrderPageSize = 20

// OrderRepository persists order aggregates in the orders collection.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs the Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: order id is required")
	}
	doc := orderDocumentFromDomain(order)
	if _, err := r.orders.Create(ctx, order.ID, doc); err != nil {
		return err
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}

	cursor, err := decodeOrderPageToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor != nil {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			last := docs[pageSize-1]
			page.NextPageToken = encodeOrderPageToken(orderPageCursor{
				ID:        last.ID,
				CreatedAt: last.Data.CreatedAt,
			})
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

func (r *OrderRepository) CountCompletedByUser(ctx context.Context, userID string) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return 0, errors.New("order count: user id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	query := client.Collection(ordersCollection).
		Where("userId", "==", uid).
		Where("status", "not-in", []string{string(domain.OrderStatusCancelled)})
	result, err := query.NewAggregationQuery().WithCount("orders").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("orders.count", err)
	}
	return aggregationCount(result, "orders")
}

func (r *OrderRepository) ApplyTransition(ctx context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order transition: order id is required")
	}

	now := req.Now.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.transition", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if doc.Status != string(req.ExpectedStatus) {
			return pfirestore.WrapError("orders.transition", status.Error(codes.Aborted,
				fmt.Sprintf("order %s status is %s, expected %s", orderID, doc.Status, req.ExpectedStatus)))
		}

		updates := []firestore.Update{
			{Path: "status", Value: string(req.NewStatus)},
			{Path: "statusHistory", Value: firestore.ArrayUnion(statusHistoryDocumentFromDomain(req.HistoryEntry))},
			{Path: "updatedAt", Value: now},
		}
		if field := statusTimestampField(req.NewStatus); field != "" {
			updates = append(updates, firestore.Update{Path: field, Value: now})
		}
		if req.MarkInventoryReversed {
			updates = append(updates, firestore.Update{Path: "flags.inventoryReversed", Value: true})
		}
		if req.CancelReason != nil {
			updates = append(updates, firestore.Update{Path: "cancelReason", Value: *req.CancelReason})
		}
		if req.Shipment != nil {
			updates = append(updates, firestore.Update{Path: "shipment", Value: shipmentDocument(*req.Shipment)})
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, orderID)
}

func (r *OrderRepository) AttachPayment(ctx context.Context, orderID string, payment domain.PaymentRecord, now time.Time) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, errors.New("order payment: order id is required")
	}

	applied := false
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.payment", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if doc.Payment != nil && doc.Payment.PaymentID != "" {
			return nil
		}
		applied = true
		return tx.Update(ref, []firestore.Update{
			{Path: "payment", Value: paymentDocumentFromDomain(&payment)},
			{Path: "updatedAt", Value: now.UTC()},
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *OrderRepository) SetRefundRef(ctx context.Context, orderID string, refundID string, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	_, err := r.orders.Update(ctx, strings.TrimSpace(orderID), []firestore.Update{
		{Path: "refundRef", Value: refundID},
		{Path: "updatedAt", Value: now.UTC()},
	})
	return err
}

// MarkConfirmationEffects persists which post-confirmation side effects have
// completed so a retried callback skips them.
func (r *OrderRepository) MarkConfirmationEffects(ctx context.Context, orderID string, effects repositories.ConfirmationEffects, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	updates := []firestore.Update{
		{Path: "updatedAt", Value: now.UTC()},
	}
	if effects.CouponRedeemed {
		updates = append(updates, firestore.Update{Path: "flags.couponRedeemed", Value: true})
	}
	if effects.SaleFinalized {
		updates = append(updates, firestore.Update{Path: "flags.saleFinalized", Value: true})
	}
	if len(updates) == 1 {
		return nil
	}
	_, err := r.orders.Update(ctx, strings.TrimSpace(orderID), updates)
	return err
}

func statusTimestampField(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusConfirmed:
		return "confirmedAt"
	case domain.OrderStatusShipped:
		return "shippedAt"
	case domain.OrderStatusDelivered:
		return "deliveredAt"
	case domain.OrderStatusCancelled:
		return "cancelledAt"
	case domain.OrderStatusRefunded:
		return "refundedAt"
	default:
		return ""
	}
}

type orderPageCursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

func encodeOrderPageToken(cursor orderPageCursor) string {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeOrderPageToken(token string) (*orderPageCursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid page token: %w", err)
	}
	var cursor orderPageCursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return nil, fmt.Errorf("invalid page token: %w", err)
	}
	return &cursor, nil
}

// Document mapping -----------------------------------------------------------

type orderDocument struct {
	UserID          string                  `firestore:"userId"`
	Status          string                  `firestore:"status"`
	Currency        string                  `firestore:"currency"`
	Items           []orderItemDocument     `firestore:"items"`
	Pricing         pricingDocument         `firestore:"pricing"`
	Coupon          *appliedCouponDocument  `firestore:"coupon,omitempty"`
	GiftWrap        bool                    `firestore:"giftWrap"`
	ShippingAddress *addressDocument        `firestore:"shippingAddress,omitempty"`
	BillingAddress  *addressDocument        `firestore:"billingAddress,omitempty"`
	Shipment        *shipmentDocument       `firestore:"shipment,omitempty"`
	Payment         *paymentDocument        `firestore:"payment,omitempty"`
	RefundRef       *string                 `firestore:"refundRef,omitempty"`
	StatusHistory   []statusHistoryDocument `firestore:"statusHistory"`
	Flags           orderFlagsDocument      `firestore:"flags"`
	Notes           map[string]any          `firestore:"notes,omitempty"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
	ConfirmedAt     *time.Time              `firestore:"confirmedAt,omitempty"`
	ShippedAt       *time.Time              `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time              `firestore:"cancelledAt,omitempty"`
	RefundedAt      *time.Time              `firestore:"refundedAt,omitempty"`
	CancelReason    *string                 `firestore:"cancelReason,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Category  string `firestore:"category,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	Subtotal  int64  `firestore:"subtotal"`
}

type pricingDocument struct {
	Currency       string `firestore:"currency"`
	Subtotal       int64  `firestore:"subtotal"`
	Discount       int64  `firestore:"discount"`
	GiftWrapCharge int64  `firestore:"giftWrapCharge"`
	Tax            int64  `firestore:"tax"`
	ShippingCharge int64  `firestore:"shippingCharge"`
	GrandTotal     int64  `firestore:"grandTotal"`
}

type appliedCouponDocument struct {
	Code     string `firestore:"code"`
	Discount int64  `firestore:"discount"`
}

type shipmentDocument struct {
	Carrier        string `firestore:"carrier"`
	TrackingNumber string `firestore:"trackingNumber"`
	Charge         int64  `firestore:"charge"`
	EstimatedDays  int    `firestore:"estimatedDays"`
}

type paymentDocument struct {
	Provider   string     `firestore:"provider"`
	IntentID   string     `firestore:"intentId"`
	PaymentID  string     `firestore:"paymentId,omitempty"`
	Method     string     `firestore:"method,omitempty"`
	Amount     int64      `firestore:"amount"`
	Currency   string     `firestore:"currency"`
	Status     string     `firestore:"status"`
	CapturedAt *time.Time `firestore:"capturedAt,omitempty"`
}

type statusHistoryDocument struct {
	Status    string    `firestore:"status"`
	Actor     string    `firestore:"actor"`
	Note      string    `firestore:"note,omitempty"`
	ChangedAt time.Time `firestore:"changedAt"`
}

type orderFlagsDocument struct {
	InventoryReversed bool `firestore:"inventoryReversed"`
	CouponRedeemed    bool `firestore:"couponRedeemed"`
	SaleFinalized     bool `firestore:"saleFinalized"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

func orderDocumentFromDomain(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument(item))
	}
	history := make([]statusHistoryDocument, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, statusHistoryDocumentFromDomain(entry))
	}

	doc := orderDocument{
		UserID:   order.UserID,
		Status:   string(order.Status),
		Currency: order.Currency,
		Items:    items,
		Pricing: pricingDocument{
			Currency:       order.Pricing.Currency,
			Subtotal:       order.Pricing.Subtotal,
			Discount:       order.Pricing.Discount,
			GiftWrapCharge: order.Pricing.GiftWrapCharge,
			Tax:            order.Pricing.Tax,
			ShippingCharge: order.Pricing.ShippingCharge,
			GrandTotal:     order.Pricing.GrandTotal,
		},
		GiftWrap:        order.GiftWrap,
		ShippingAddress: addressDocumentFromDomain(order.ShippingAddress),
		BillingAddress:  addressDocumentFromDomain(order.BillingAddress),
		Payment:         paymentDocumentFromDomain(order.Payment),
		RefundRef:       order.RefundRef,
		StatusHistory:   history,
		Flags:           orderFlagsDocument(order.Flags),
		Notes:           order.Notes,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		ConfirmedAt:     order.ConfirmedAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		RefundedAt:      order.RefundedAt,
		CancelReason:    order.CancelReason,
	}
	if order.Coupon != nil {
		doc.Coupon = &appliedCouponDocument{Code: order.Coupon.Code, Discount: order.Coupon.Discount}
	}
	if order.Shipment != nil {
		shipment := shipmentDocument(*order.Shipment)
		doc.Shipment = &shipment
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem(item))
	}
	history := make([]domain.StatusHistoryEntry, 0, len(d.StatusHistory))
	for _, entry := range d.StatusHistory {
		history = append(history, domain.StatusHistoryEntry{
			Status:    domain.OrderStatus(entry.Status),
			Actor:     entry.Actor,
			Note:      entry.Note,
			ChangedAt: entry.ChangedAt,
		})
	}

	order := domain.Order{
		ID:       id,
		UserID:   d.UserID,
		Status:   domain.OrderStatus(d.Status),
		Currency: d.Currency,
		Items:    items,
		Pricing: domain.PricingBreakdown{
			Currency:       d.Pricing.Currency,
			Subtotal:       d.Pricing.Subtotal,
			Discount:       d.Pricing.Discount,
			GiftWrapCharge: d.Pricing.GiftWrapCharge,
			Tax:            d.Pricing.Tax,
			ShippingCharge: d.Pricing.ShippingCharge,
			GrandTotal:     d.Pricing.GrandTotal,
		},
		GiftWrap:        d.GiftWrap,
		ShippingAddress: addressDocumentToDomain(d.ShippingAddress),
		BillingAddress:  addressDocumentToDomain(d.BillingAddress),
		RefundRef:       d.RefundRef,
		StatusHistory:   history,
		Flags:           domain.OrderFlags(d.Flags),
		Notes:           d.Notes,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ConfirmedAt:     d.ConfirmedAt,
		ShippedAt:       d.ShippedAt,
		DeliveredAt:     d.DeliveredAt,
		CancelledAt:     d.CancelledAt,
		RefundedAt:      d.RefundedAt,
		CancelReason:    d.CancelReason,
	}
	if d.Coupon != nil {
		order.Coupon = &domain.AppliedCoupon{Code: d.Coupon.Code, Discount: d.Coupon.Discount}
	}
	if d.Shipment != nil {
		shipment := domain.Shipment(*d.Shipment)
		order.Shipment = &shipment
	}
	if d.Payment != nil {
		capturedAt := d.Payment.CapturedAt
		order.Payment = &domain.PaymentRecord{
			Provider:   d.Payment.Provider,
			IntentID:   d.Payment.IntentID,
			PaymentID:  d.Payment.PaymentID,
			Method:     d.Payment.Method,
			Amount:     d.Payment.Amount,
			Currency:   d.Payment.Currency,
			Status:     d.Payment.Status,
			CapturedAt: capturedAt,
		}
	}
	return order
}

func statusHistoryDocumentFromDomain(entry domain.StatusHistoryEntry) statusHistoryDocument {
	return statusHistoryDocument{
		Status:    string(entry.Status),
		Actor:     entry.Actor,
		Note:      entry.Note,
		ChangedAt: entry.ChangedAt.UTC(),
	}
}

func paymentDocumentFromDomain(payment *domain.PaymentRecord) *paymentDocument {
	if payment == nil {
		return nil
	}
	return &paymentDocument{
		Provider:   payment.Provider,
		IntentID:   payment.IntentID,
		PaymentID:  payment.PaymentID,
		Method:     payment.Method,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		Status:     payment.Status,
		CapturedAt: payment.CapturedAt,
	}
}

func addressDocumentFromDomain(addr *domain.Address) *addressDocument {
	if addr == nil {
		return nil
	}
	doc := addressDocument(*addr)
	return &doc
}

func addressDocumentToDomain(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	addr := domain.Address(*doc)
	return &addr
}
