package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalamkart/api/internal/payments"
	"github.com/kalamkart/api/internal/repositories"

	domain "github.com/kalamkart/api/internal/domain"
)

var (
	// ErrReconcilerDependenciesMissing indicates the reconciler was constructed incompletely.
	ErrReconcilerDependenciesMissing = errors.New("payment reconciler: dependencies are not configured")
	// ErrReconcilerInvalidInput signals missing callback fields.
	ErrReconcilerInvalidInput = errors.New("payment reconciler: invalid input")
	// ErrSignatureInvalid indicates the callback signature did not verify.
	ErrSignatureInvalid = errors.New("payment reconciler: signature invalid")
	// ErrPaymentNotCaptured indicates the gateway does not report the payment as captured.
	ErrPaymentNotCaptured = errors.New("payment reconciler: payment not captured")
	// ErrAmountMismatch indicates the captured amount differs from the order's grand total.
	ErrAmountMismatch = errors.New("payment reconciler: amount mismatch")
	// ErrPaymentIntentMismatch indicates the callback references a different intent
	// than the one created for the order.
	ErrPaymentIntentMismatch = errors.New("payment reconciler: gateway order does not match")
	// ErrReconcilerUnavailable indicates a transient gateway or store failure; the
	// callback is safe to retry.
	ErrReconcilerUnavailable = errors.New("payment reconciler: upstream unavailable")
)

// PaymentGateway is the slice of the payments manager the reconciler consumes.
type PaymentGateway interface {
	FetchPayment(ctx context.Context, paymentCtx payments.PaymentContext, paymentID string) (payments.PaymentDetails, error)
	VerifyCallbackSignature(ctx context.Context, paymentCtx payments.PaymentContext, intentID, paymentID, signature string) error
}

// PaymentReconcilerDeps bundles dependencies required to construct a PaymentReconciler.
type PaymentReconcilerDeps struct {
	Orders       repositories.OrderRepository
	Coupons      repositories.CouponRepository
	OrderService OrderService
	Ledger       InventoryLedger
	Gateway      PaymentGateway
	Clock        func() time.Time
	Logger       Logger
}

type paymentReconciler struct {
	orders   repositories.OrderRepository
	coupons  repositories.CouponRepository
	orderSvc OrderService
	ledger   InventoryLedger
	gateway  PaymentGateway
	clock    func() time.Time
	logger   Logger
}

// NewPaymentReconciler wires a PaymentReconciler over the order store and gateway.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil || deps.Coupons == nil || deps.OrderService == nil || deps.Ledger == nil || deps.Gateway == nil {
		return nil, ErrReconcilerDependenciesMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentReconciler{
		orders:   deps.Orders,
		coupons:  deps.Coupons,
		orderSvc: deps.OrderService,
		ledger:   deps.Ledger,
		gateway:  deps.Gateway,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// VerifyPayment runs the reconciliation pipeline: signature, authoritative
// gateway state, amount equality, idempotency, then the confirmation side
// effects. Nothing mutates until every check has passed.
func (s *paymentReconciler) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (VerifyPaymentResult, error) {
	if s == nil || s.orders == nil {
		return VerifyPaymentResult{}, ErrReconcilerDependenciesMissing
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	gatewayPaymentID := strings.TrimSpace(cmd.GatewayPaymentID)
	signature := strings.TrimSpace(cmd.Signature)
	if orderID == "" || gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" {
		return VerifyPaymentResult{}, fmt.Errorf("%w: all callback fields are required", ErrReconcilerInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return VerifyPaymentResult{}, mapOrderRepositoryError(err)
	}
	if order.Payment == nil || order.Payment.IntentID == "" {
		return VerifyPaymentResult{}, fmt.Errorf("%w: order %s has no payment intent", ErrReconcilerInvalidInput, orderID)
	}
	if order.Payment.IntentID != gatewayOrderID {
		return VerifyPaymentResult{}, fmt.Errorf("%w: order %s", ErrPaymentIntentMismatch, orderID)
	}

	paymentCtx := payments.PaymentContext{
		PreferredProvider: order.Payment.Provider,
		Currency:          order.Currency,
	}
	// Every callback proves its signature first, duplicates included. A
	// forged replay against an already verified order must still fail.
	if err := s.gateway.VerifyCallbackSignature(ctx, paymentCtx, gatewayOrderID, gatewayPaymentID, signature); err != nil {
		if errors.Is(err, payments.ErrSignatureMismatch) {
			s.logger(ctx, "reconciler.signature_rejected", map[string]any{
				"orderId":   orderID,
				"paymentId": gatewayPaymentID,
			})
			return VerifyPaymentResult{}, fmt.Errorf("%w: order %s", ErrSignatureInvalid, orderID)
		}
		return VerifyPaymentResult{}, fmt.Errorf("%w: verify signature: %v", ErrReconcilerUnavailable, err)
	}

	// duplicate callback after a completed verification
	if order.Payment.Populated() {
		return s.resumeConfirmation(ctx, order)
	}

	details, err := s.gateway.FetchPayment(ctx, paymentCtx, gatewayPaymentID)
	if err != nil {
		return VerifyPaymentResult{}, fmt.Errorf("%w: fetch payment: %v", ErrReconcilerUnavailable, err)
	}
	if !details.Captured || details.Status != payments.StatusCaptured {
		return VerifyPaymentResult{}, fmt.Errorf("%w: gateway reports %q", ErrPaymentNotCaptured, details.Status)
	}
	if details.Amount != order.Pricing.GrandTotal {
		s.logger(ctx, "reconciler.amount_rejected", map[string]any{
			"orderId":  orderID,
			"expected": order.Pricing.GrandTotal,
			"reported": details.Amount,
		})
		return VerifyPaymentResult{}, fmt.Errorf("%w: expected %d, gateway reports %d",
			ErrAmountMismatch, order.Pricing.GrandTotal, details.Amount)
	}

	now := s.clock()
	record := domain.PaymentRecord{
		Provider:   order.Payment.Provider,
		IntentID:   gatewayOrderID,
		PaymentID:  gatewayPaymentID,
		Method:     details.Method,
		Amount:     details.Amount,
		Currency:   order.Currency,
		Status:     string(payments.StatusCaptured),
		CapturedAt: details.CapturedAt,
	}
	applied, err := s.orders.AttachPayment(ctx, orderID, record, now)
	if err != nil {
		return VerifyPaymentResult{}, mapOrderRepositoryError(err)
	}
	if !applied {
		// a concurrent callback attached the record first
		current, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return VerifyPaymentResult{}, mapOrderRepositoryError(err)
		}
		return s.resumeConfirmation(ctx, current)
	}
	order.Payment = &record

	confirmed, events, err := s.confirm(ctx, order)
	if err != nil {
		return VerifyPaymentResult{}, err
	}
	events = append([]OrderEvent{{
		Type:       OrderEventPaymentVerified,
		OrderID:    orderID,
		UserID:     order.UserID,
		Status:     confirmed.Status,
		OccurredAt: now,
		Metadata:   map[string]any{"paymentId": gatewayPaymentID},
	}}, events...)
	return VerifyPaymentResult{Order: confirmed, Events: events}, nil
}

// resumeConfirmation handles duplicate callbacks. A populated record on a
// still-pending order means a prior attempt failed between attaching the
// payment and confirming, so the full confirmation runs now. An already
// confirmed order re-runs only the side effects its flags report as
// outstanding. Either way a legitimate retry sees success.
func (s *paymentReconciler) resumeConfirmation(ctx context.Context, order domain.Order) (VerifyPaymentResult, error) {
	if order.Status == domain.OrderStatusPending {
		confirmed, _, err := s.confirm(ctx, order)
		if err != nil {
			return VerifyPaymentResult{}, err
		}
		return VerifyPaymentResult{Order: confirmed, AlreadyProcessed: true}, nil
	}

	s.logger(ctx, "reconciler.duplicate_callback", map[string]any{
		"orderId": order.ID,
		"status":  string(order.Status),
	})
	// Cancelled or refunded orders have reversed their reservation; their
	// counters must not move again.
	if !order.Flags.InventoryReversed {
		if err := s.applyConfirmationEffects(ctx, &order); err != nil {
			return VerifyPaymentResult{}, err
		}
	}
	return VerifyPaymentResult{Order: order, AlreadyProcessed: true}, nil
}

// confirm moves a paid pending order to confirmed, then consumes the coupon
// and finalizes sold counters.
func (s *paymentReconciler) confirm(ctx context.Context, order domain.Order) (domain.Order, []OrderEvent, error) {
	confirmed, events, err := s.orderSvc.Transition(ctx, TransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusConfirmed,
		Note:    "payment captured",
	})
	if err != nil {
		return domain.Order{}, nil, err
	}
	if err := s.applyConfirmationEffects(ctx, &confirmed); err != nil {
		return domain.Order{}, nil, err
	}
	return confirmed, events, nil
}

// applyConfirmationEffects runs the side effects the order's flags report as
// outstanding and persists completion markers. The coupon redemption is keyed
// by order id so a retry never double-increments usage; the sale finalization
// is guarded by a flag because the counter increments are raw. Failures
// surface as retryable errors with any progress already recorded.
func (s *paymentReconciler) applyConfirmationEffects(ctx context.Context, order *domain.Order) error {
	var completed repositories.ConfirmationEffects

	if order.Coupon != nil && order.Coupon.Code != "" && !order.Flags.CouponRedeemed {
		applied, err := s.coupons.RecordRedemption(ctx, domain.CouponRedemption{
			Code:       order.Coupon.Code,
			OrderID:    order.ID,
			UserID:     order.UserID,
			Discount:   order.Coupon.Discount,
			RedeemedAt: s.clock(),
		})
		if err != nil {
			return fmt.Errorf("%w: record redemption: %v", ErrReconcilerUnavailable, err)
		}
		completed.CouponRedeemed = true
		if applied {
			s.logger(ctx, "reconciler.coupon_redeemed", map[string]any{
				"orderId": order.ID,
				"code":    order.Coupon.Code,
			})
		}
	}

	if !order.Flags.SaleFinalized {
		if err := s.ledger.FinalizeSale(ctx, orderInventoryLines(*order)); err != nil {
			s.markEffects(ctx, order, completed)
			return fmt.Errorf("%w: finalize sale: %v", ErrReconcilerUnavailable, err)
		}
		completed.SaleFinalized = true
	}

	s.markEffects(ctx, order, completed)
	return nil
}

// markEffects writes the completion flags and mirrors them onto the in-memory
// order. A failed write only loses the marker, so it is logged for manual
// reconciliation rather than failing a verification whose effects already ran.
func (s *paymentReconciler) markEffects(ctx context.Context, order *domain.Order, completed repositories.ConfirmationEffects) {
	if !completed.CouponRedeemed && !completed.SaleFinalized {
		return
	}
	if err := s.orders.MarkConfirmationEffects(ctx, order.ID, completed, s.clock()); err != nil {
		s.logger(ctx, "reconciler.mark_effects_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	if completed.CouponRedeemed {
		order.Flags.CouponRedeemed = true
	}
	if completed.SaleFinalized {
		order.Flags.SaleFinalized = true
	}
}
