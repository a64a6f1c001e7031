package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kalamkart/api/internal/payments"
	"github.com/kalamkart/api/internal/repositories"
	"github.com/kalamkart/api/internal/shipping"

	domain "github.com/kalamkart/api/internal/domain"
)

const (
	orderIDPrefix  = "ord_"
	refundIDPrefix = "rf_"
)

var (
	// ErrCheckoutDependenciesMissing indicates the orchestrator was constructed incompletely.
	ErrCheckoutDependenciesMissing = errors.New("checkout: dependencies are not configured")
	// ErrCheckoutInvalidInput signals a malformed order or refund request.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutProductUnavailable indicates a requested product is unknown or inactive.
	ErrCheckoutProductUnavailable = errors.New("checkout: product unavailable")
	// ErrCheckoutUpstreamUnavailable indicates a gateway or carrier failure; any
	// reservation made in the same call was released before returning.
	ErrCheckoutUpstreamUnavailable = errors.New("checkout: upstream unavailable")
	// ErrCheckoutShipmentRejected indicates the carrier refused the shipment.
	ErrCheckoutShipmentRejected = errors.New("checkout: shipment rejected")
	// ErrRefundNotAllowed indicates the order cannot take the requested refund.
	ErrRefundNotAllowed = errors.New("checkout: refund not allowed")
)

// PaymentOperations is the slice of the payments manager the orchestrator consumes.
type PaymentOperations interface {
	CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error)
}

// CheckoutServiceDeps bundles dependencies required to construct a CheckoutService.
type CheckoutServiceDeps struct {
	Orders         repositories.OrderRepository
	Products       repositories.ProductRepository
	Refunds        repositories.RefundRepository
	Coupons        CouponValidator
	Ledger         InventoryLedger
	OrderService   OrderService
	Gateway        PaymentOperations
	Carrier        shipping.Carrier
	Notifier       *Notifier
	Pricing        PricingConfig
	GatewayKeyHint string
	GatewayTimeout time.Duration
	IDGenerator    func() string
	Clock          func() time.Time
	Logger         Logger
}

type checkoutService struct {
	orders         repositories.OrderRepository
	products       repositories.ProductRepository
	refunds        repositories.RefundRepository
	coupons        CouponValidator
	ledger         InventoryLedger
	orderSvc       OrderService
	gateway        PaymentOperations
	carrier        shipping.Carrier
	notifier       *Notifier
	pricing        PricingConfig
	gatewayKeyHint string
	gatewayTimeout time.Duration
	idGen          func() string
	clock          func() time.Time
	logger         Logger
}

// NewCheckoutService wires the order orchestrator.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil || deps.Products == nil || deps.Refunds == nil ||
		deps.Coupons == nil || deps.Ledger == nil || deps.OrderService == nil ||
		deps.Gateway == nil || deps.Carrier == nil {
		return nil, ErrCheckoutDependenciesMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &checkoutService{
		orders:         deps.Orders,
		products:       deps.Products,
		refunds:        deps.Refunds,
		coupons:        deps.Coupons,
		ledger:         deps.Ledger,
		orderSvc:       deps.OrderService,
		gateway:        deps.Gateway,
		carrier:        deps.Carrier,
		notifier:       deps.Notifier,
		pricing:        deps.Pricing,
		gatewayKeyHint: strings.TrimSpace(deps.GatewayKeyHint),
		gatewayTimeout: timeout,
		idGen:          idGen,
		clock:          func() time.Time { return clock().UTC() },
		logger:         logger,
	}, nil
}

// CreateOrder validates the cart, prices it, reserves stock, persists the
// pending order and asks the gateway for a payment intent. Any failure after
// the reservation releases it before returning, so no holds are orphaned.
func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if s == nil || s.orders == nil {
		return CreateOrderResult{}, ErrCheckoutDependenciesMissing
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: at least one item is required", ErrCheckoutInvalidInput)
	}
	if cmd.ShippingAddress == nil {
		return CreateOrderResult{}, fmt.Errorf("%w: shipping address is required", ErrCheckoutInvalidInput)
	}

	items, err := s.buildOrderItems(ctx, cmd.Items)
	if err != nil {
		return CreateOrderResult{}, err
	}
	var subtotal int64
	for _, item := range items {
		subtotal += item.Subtotal
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.pricing.Currency
	}

	var applied *domain.AppliedCoupon
	var discount int64
	if code := strings.TrimSpace(cmd.CouponCode); code != "" {
		validation, err := s.coupons.Validate(ctx, ValidateCouponCommand{
			Code:        code,
			UserID:      userID,
			OrderAmount: subtotal,
			Items:       items,
		})
		if err != nil {
			return CreateOrderResult{}, err
		}
		discount = validation.Discount
		applied = &domain.AppliedCoupon{Code: validation.Coupon.Code, Discount: discount}
	}

	orderID := orderIDPrefix + s.idGen()

	shipReq := shipping.ShipmentRequest{
		OrderID:    orderID,
		Recipient:  cmd.ShippingAddress.Recipient,
		City:       cmd.ShippingAddress.City,
		PostalCode: cmd.ShippingAddress.PostalCode,
		Country:    cmd.ShippingAddress.Country,
		Reference:  orderID,
	}
	if cmd.ShippingAddress.State != nil {
		shipReq.State = *cmd.ShippingAddress.State
	}
	quote, err := s.carrier.CreateShipment(ctx, shipReq)
	if err != nil {
		if errors.Is(err, shipping.ErrShipmentRejected) {
			return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrCheckoutShipmentRejected, err)
		}
		return CreateOrderResult{}, fmt.Errorf("%w: carrier: %v", ErrCheckoutUpstreamUnavailable, err)
	}

	pricing, err := ComputePricing(PricingInput{
		Items:          items,
		Discount:       discount,
		GiftWrap:       cmd.GiftWrap,
		ShippingCharge: quote.Charge,
	}, PricingConfig{
		Currency:           currency,
		TaxRateBasisPoints: s.pricing.TaxRateBasisPoints,
		GiftWrapCharge:     s.pricing.GiftWrapCharge,
	})
	if err != nil {
		return CreateOrderResult{}, err
	}

	lines := make([]InventoryLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, InventoryLine{ProductID: item.ProductID, Quantity: int64(item.Quantity)})
	}
	if err := s.ledger.Reserve(ctx, lines); err != nil {
		return CreateOrderResult{}, err
	}

	now := s.clock()
	order := domain.Order{
		ID:       orderID,
		UserID:   userID,
		Status:   domain.OrderStatusPending,
		Currency: currency,
		Items:    items,
		Pricing:  pricing,
		Coupon:   applied,
		GiftWrap: cmd.GiftWrap,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.BillingAddress,
		Shipment: &domain.Shipment{
			Carrier:        quote.Carrier,
			TrackingNumber: quote.TrackingNumber,
			Charge:         quote.Charge,
			EstimatedDays:  quote.EstimatedDays,
		},
		StatusHistory: []domain.StatusHistoryEntry{{
			Status:    domain.OrderStatusPending,
			Actor:     "user:" + userID,
			Note:      "order created",
			ChangedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		s.releaseReservation(ctx, lines, order.ID)
		return CreateOrderResult{}, mapOrderRepositoryError(err)
	}

	intent, err := s.createIntent(ctx, order, cmd.PaymentProvider)
	if err != nil {
		s.cancelAfterFailedIntent(ctx, order.ID)
		return CreateOrderResult{}, err
	}

	record := domain.PaymentRecord{
		Provider: intent.Provider,
		IntentID: intent.ID,
		Amount:   pricing.GrandTotal,
		Currency: currency,
		Status:   string(payments.StatusCreated),
	}
	if _, err := s.orders.AttachPayment(ctx, order.ID, record, s.clock()); err != nil {
		s.cancelAfterFailedIntent(ctx, order.ID)
		return CreateOrderResult{}, mapOrderRepositoryError(err)
	}
	order.Payment = &record

	s.logger(ctx, "checkout.order_created", map[string]any{
		"orderId":    order.ID,
		"userId":     userID,
		"grandTotal": pricing.GrandTotal,
		"intentId":   intent.ID,
	})
	s.notifier.Dispatch(ctx, []OrderEvent{{
		Type:       OrderEventCreated,
		OrderID:    order.ID,
		UserID:     userID,
		Status:     order.Status,
		OccurredAt: now,
		Metadata:   map[string]any{"grandTotal": pricing.GrandTotal},
	}})
	return CreateOrderResult{
		Order:          order,
		PaymentIntent:  intent.ID,
		GatewayKeyHint: s.gatewayKeyHint,
	}, nil
}

// CancelOrder moves an order to cancelled. Owners may cancel while the order
// is still pending; anything later is a staff decision.
func (s *checkoutService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrCheckoutDependenciesMissing
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !cmd.Actor.Staff {
		if order.UserID != cmd.Actor.ID {
			return Order{}, ErrOrderForbidden
		}
		if order.Status != domain.OrderStatusPending {
			return Order{}, fmt.Errorf("%w: only pending orders can be cancelled by the customer", ErrOrderForbidden)
		}
	}

	updated, events, err := s.orderSvc.Transition(ctx, TransitionCommand{
		OrderID: orderID,
		Target:  domain.OrderStatusCancelled,
		Actor:   cmd.Actor,
		Reason:  cmd.Reason,
	})
	if err != nil {
		return Order{}, err
	}
	s.notifier.Dispatch(ctx, events)
	return updated, nil
}

// RefundOrder records a staff refund. A full refund moves the order to
// refunded and releases inventory through the transition path; a partial
// refund is financial only and leaves status and stock untouched.
func (s *checkoutService) RefundOrder(ctx context.Context, cmd RefundOrderCommand) (RefundOrderResult, error) {
	if s == nil || s.orders == nil {
		return RefundOrderResult{}, ErrCheckoutDependenciesMissing
	}
	if !cmd.Actor.Staff {
		return RefundOrderResult{}, ErrOrderForbidden
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RefundOrderResult{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}
	if cmd.Amount <= 0 {
		return RefundOrderResult{}, fmt.Errorf("%w: refund amount must be positive", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return RefundOrderResult{}, mapOrderRepositoryError(err)
	}
	if cmd.Amount > order.Pricing.GrandTotal {
		return RefundOrderResult{}, fmt.Errorf("%w: amount %d exceeds grand total %d",
			ErrCheckoutInvalidInput, cmd.Amount, order.Pricing.GrandTotal)
	}
	if order.Payment == nil || !order.Payment.Populated() {
		return RefundOrderResult{}, fmt.Errorf("%w: order has no captured payment", ErrRefundNotAllowed)
	}

	kind := domain.RefundKindPartial
	if cmd.Amount == order.Pricing.GrandTotal {
		kind = domain.RefundKindFull
		if !CanTransition(order.Status, domain.OrderStatusRefunded) {
			return RefundOrderResult{}, fmt.Errorf("%w: %s -> %s", ErrOrderIllegalTransition,
				order.Status, domain.OrderStatusRefunded)
		}
	}

	amount := cmd.Amount
	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	result, err := s.gateway.Refund(gatewayCtx, payments.PaymentContext{
		PreferredProvider: order.Payment.Provider,
		Currency:          order.Currency,
	}, payments.RefundRequest{
		PaymentID:      order.Payment.PaymentID,
		Amount:         &amount,
		Reason:         strings.TrimSpace(cmd.Reason),
		IdempotencyKey: orderID + ":" + string(kind),
	})
	cancel()
	if err != nil {
		return RefundOrderResult{}, fmt.Errorf("%w: gateway refund: %v", ErrCheckoutUpstreamUnavailable, err)
	}

	updated := order
	var events []OrderEvent
	if kind == domain.RefundKindFull {
		updated, events, err = s.orderSvc.Transition(ctx, TransitionCommand{
			OrderID: orderID,
			Target:  domain.OrderStatusRefunded,
			Actor:   cmd.Actor,
			Note:    strings.TrimSpace(cmd.Reason),
		})
		if err != nil {
			return RefundOrderResult{}, err
		}
	}

	now := s.clock()
	refund := domain.Refund{
		ID:              refundIDPrefix + s.idGen(),
		OrderID:         orderID,
		Kind:            kind,
		Amount:          cmd.Amount,
		Currency:        order.Currency,
		Reason:          strings.TrimSpace(cmd.Reason),
		Actor:           actorLabel(cmd.Actor),
		GatewayRefundID: result.RefundID,
		CreatedAt:       now,
	}
	if err := s.refunds.Insert(ctx, refund); err != nil {
		return RefundOrderResult{}, mapOrderRepositoryError(err)
	}
	if err := s.orders.SetRefundRef(ctx, orderID, refund.ID, now); err != nil {
		return RefundOrderResult{}, mapOrderRepositoryError(err)
	}
	refundID := refund.ID
	updated.RefundRef = &refundID

	s.logger(ctx, "checkout.refund_recorded", map[string]any{
		"orderId":  orderID,
		"refundId": refund.ID,
		"kind":     string(kind),
		"amount":   cmd.Amount,
	})
	events = append(events, OrderEvent{
		Type:       OrderEventRefundRecorded,
		OrderID:    orderID,
		UserID:     order.UserID,
		Status:     updated.Status,
		OccurredAt: now,
		Metadata:   map[string]any{"refundId": refund.ID, "amount": cmd.Amount},
	})
	s.notifier.Dispatch(ctx, events)
	return RefundOrderResult{Order: updated, Refund: refund}, nil
}

func (s *checkoutService) buildOrderItems(ctx context.Context, lines []CartLine) ([]domain.OrderItem, error) {
	ids := make([]string, 0, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: item %d product id is required", ErrCheckoutInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d quantity must be positive", ErrCheckoutInvalidInput, i)
		}
		ids = append(ids, productID)
	}
	catalog, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load products: %v", ErrCheckoutUpstreamUnavailable, err)
	}

	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		product, ok := catalog[productID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCheckoutProductUnavailable, productID)
		}
		if !product.Active {
			return nil, fmt.Errorf("%w: %s is inactive", ErrCheckoutProductUnavailable, productID)
		}
		items = append(items, domain.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Category:  product.Category,
			UnitPrice: product.UnitPrice,
			Quantity:  line.Quantity,
			Subtotal:  product.UnitPrice * int64(line.Quantity),
		})
	}
	return items, nil
}

func (s *checkoutService) createIntent(ctx context.Context, order domain.Order, preferredProvider string) (payments.Intent, error) {
	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	intent, err := s.gateway.CreateIntent(gatewayCtx, payments.PaymentContext{
		PreferredProvider: preferredProvider,
		Currency:          order.Currency,
	}, payments.IntentRequest{
		Amount:         order.Pricing.GrandTotal,
		Currency:       order.Currency,
		Reference:      order.ID,
		CustomerID:     order.UserID,
		IdempotencyKey: order.ID,
	})
	if err != nil {
		return payments.Intent{}, fmt.Errorf("%w: create intent: %v", ErrCheckoutUpstreamUnavailable, err)
	}
	return intent, nil
}

// cancelAfterFailedIntent walks the persisted order through the cancel
// transition so the reservation is released exactly once.
func (s *checkoutService) cancelAfterFailedIntent(ctx context.Context, orderID string) {
	if _, _, err := s.orderSvc.Transition(ctx, TransitionCommand{
		OrderID: orderID,
		Target:  domain.OrderStatusCancelled,
		Reason:  "payment intent creation failed",
	}); err != nil {
		s.logger(ctx, "checkout.intent_rollback_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

// releaseReservation compensates a reservation for an order that was never
// persisted, so the transition path cannot do it.
func (s *checkoutService) releaseReservation(ctx context.Context, lines []InventoryLine, orderID string) {
	if err := s.ledger.Release(ctx, lines); err != nil {
		s.logger(ctx, "checkout.reservation_rollback_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}
