package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalamkart/api/internal/payments"
	"github.com/kalamkart/api/internal/repositories"

	domain "github.com/kalamkart/api/internal/domain"
)

type stubGateway struct {
	fetchPayment            func(ctx context.Context, paymentCtx payments.PaymentContext, paymentID string) (payments.PaymentDetails, error)
	verifyCallbackSignature func(ctx context.Context, paymentCtx payments.PaymentContext, intentID, paymentID, signature string) error
}

func (s *stubGateway) FetchPayment(ctx context.Context, paymentCtx payments.PaymentContext, paymentID string) (payments.PaymentDetails, error) {
	if s.fetchPayment == nil {
		return payments.PaymentDetails{}, errors.New("fetchPayment not stubbed")
	}
	return s.fetchPayment(ctx, paymentCtx, paymentID)
}

func (s *stubGateway) VerifyCallbackSignature(ctx context.Context, paymentCtx payments.PaymentContext, intentID, paymentID, signature string) error {
	if s.verifyCallbackSignature == nil {
		return nil
	}
	return s.verifyCallbackSignature(ctx, paymentCtx, intentID, paymentID, signature)
}

// memoryOrderStore is a stateful order repository for reconciliation tests.
type memoryOrderStore struct {
	stubOrderRepository

	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemoryOrderStore(orders ...domain.Order) *memoryOrderStore {
	store := &memoryOrderStore{orders: make(map[string]domain.Order)}
	for _, order := range orders {
		store.orders[order.ID] = order
	}
	return store
}

func (m *memoryOrderStore) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepositoryError{notFound: true}
	}
	return order, nil
}

func (m *memoryOrderStore) ApplyTransition(_ context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[req.OrderID]
	if !ok {
		return domain.Order{}, stubRepositoryError{notFound: true}
	}
	if order.Status != req.ExpectedStatus {
		return domain.Order{}, stubRepositoryError{conflict: true, message: "status moved"}
	}
	order.Status = req.NewStatus
	order.StatusHistory = append(order.StatusHistory, req.HistoryEntry)
	if req.MarkInventoryReversed {
		order.Flags.InventoryReversed = true
	}
	if req.CancelReason != nil {
		order.CancelReason = req.CancelReason
	}
	if req.Shipment != nil {
		order.Shipment = req.Shipment
	}
	order.UpdatedAt = req.Now
	m.orders[req.OrderID] = order
	return order, nil
}

func (m *memoryOrderStore) MarkConfirmationEffects(_ context.Context, orderID string, effects repositories.ConfirmationEffects, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return stubRepositoryError{notFound: true}
	}
	if effects.CouponRedeemed {
		order.Flags.CouponRedeemed = true
	}
	if effects.SaleFinalized {
		order.Flags.SaleFinalized = true
	}
	order.UpdatedAt = now
	m.orders[orderID] = order
	return nil
}

func (m *memoryOrderStore) AttachPayment(_ context.Context, orderID string, payment domain.PaymentRecord, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return false, stubRepositoryError{notFound: true}
	}
	if order.Payment != nil && order.Payment.Populated() {
		return false, nil
	}
	order.Payment = &payment
	order.UpdatedAt = now
	m.orders[orderID] = order
	return true, nil
}

type reconcilerFixture struct {
	store       *memoryOrderStore
	gateway     *stubGateway
	ledger      *stubLedger
	coupons     *stubCouponRepository
	redemptions int
	finalized   int
	reconciler  PaymentReconciler
}

func pendingPaidOrder() domain.Order {
	return domain.Order{
		ID:       "ord_1",
		UserID:   "user-1",
		Status:   domain.OrderStatusPending,
		Currency: "INR",
		Items: []domain.OrderItem{
			{ProductID: "prod-1", Quantity: 2, UnitPrice: 500, Subtotal: 1000},
		},
		Pricing: domain.PricingBreakdown{Currency: "INR", Subtotal: 1000, Tax: 180, GrandTotal: 1180},
		Coupon:  &domain.AppliedCoupon{Code: "SAVE20", Discount: 150},
		Payment: &domain.PaymentRecord{Provider: "razorpay", IntentID: "gw_order_1"},
	}
}

func newReconcilerFixture(t *testing.T, order domain.Order) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		store: newMemoryOrderStore(order),
		gateway: &stubGateway{
			fetchPayment: func(_ context.Context, _ payments.PaymentContext, paymentID string) (payments.PaymentDetails, error) {
				return payments.PaymentDetails{
					PaymentID: paymentID,
					Method:    "upi",
					Status:    payments.StatusCaptured,
					Captured:  true,
					Amount:    1180,
					Currency:  "INR",
				}, nil
			},
		},
	}
	f.ledger = &stubLedger{
		finalizeSale: func(context.Context, []InventoryLine) error {
			f.finalized++
			return nil
		},
	}
	f.coupons = &stubCouponRepository{
		recordRedemption: func(_ context.Context, redemption domain.CouponRedemption) (bool, error) {
			if redemption.OrderID != order.ID {
				t.Fatalf("redemption keyed to wrong order: %q", redemption.OrderID)
			}
			f.redemptions++
			return f.redemptions == 1, nil
		},
	}
	orderSvc, err := NewOrderService(OrderServiceDeps{
		Orders: f.store,
		Ledger: f.ledger,
		Clock:  fixedClock(time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	f.reconciler, err = NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:       f.store,
		Coupons:      f.coupons,
		OrderService: orderSvc,
		Ledger:       f.ledger,
		Gateway:      f.gateway,
		Clock:        fixedClock(time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciler returned error: %v", err)
	}
	return f
}

func validCallback() VerifyPaymentCommand {
	return VerifyPaymentCommand{
		OrderID:          "ord_1",
		GatewayOrderID:   "gw_order_1",
		GatewayPaymentID: "gw_pay_1",
		Signature:        "deadbeef",
	}
}

func TestVerifyPaymentConfirmsOrder(t *testing.T) {
	f := newReconcilerFixture(t, pendingPaidOrder())

	result, err := f.reconciler.VerifyPayment(context.Background(), validCallback())
	if err != nil {
		t.Fatalf("VerifyPayment returned error: %v", err)
	}
	if result.AlreadyProcessed {
		t.Fatalf("first verification flagged as duplicate")
	}
	if result.Order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", result.Order.Status)
	}
	if result.Order.Payment == nil || result.Order.Payment.PaymentID != "gw_pay_1" {
		t.Fatalf("payment record not attached: %+v", result.Order.Payment)
	}
	if f.redemptions != 1 {
		t.Fatalf("expected one coupon redemption, got %d", f.redemptions)
	}
	if f.finalized != 1 {
		t.Fatalf("expected one sale finalization, got %d", f.finalized)
	}
	if len(result.Events) == 0 || result.Events[0].Type != OrderEventPaymentVerified {
		t.Fatalf("unexpected events: %+v", result.Events)
	}
}

func TestVerifyPaymentDuplicateCallbackIsIdempotent(t *testing.T) {
	f := newReconcilerFixture(t, pendingPaidOrder())

	first, err := f.reconciler.VerifyPayment(context.Background(), validCallback())
	if err != nil {
		t.Fatalf("first VerifyPayment returned error: %v", err)
	}
	second, err := f.reconciler.VerifyPayment(context.Background(), validCallback())
	if err != nil {
		t.Fatalf("second VerifyPayment returned error: %v", err)
	}
	if !second.AlreadyProcessed {
		t.Fatalf("duplicate callback not reported as already processed")
	}
	if second.Order.Status != first.Order.Status {
		t.Fatalf("duplicate changed order state: %s vs %s", second.Order.Status, first.Order.Status)
	}
	if f.redemptions != 1 {
		t.Fatalf("coupon consumed %d times, expected exactly once", f.redemptions)
	}
	if f.finalized != 1 {
		t.Fatalf("sale finalized %d times, expected exactly once", f.finalized)
	}
}

func TestVerifyPaymentRejectsBadSignature(t *testing.T) {
	f := newReconcilerFixture(t, pendingPaidOrder())
	f.gateway.verifyCallbackSignature = func(_ context.Context, _ payments.PaymentContext, _, _, _ string) error {
		return payments.ErrSignatureMismatch
	}

	_, err := f.reconciler.VerifyPayment(context.Background(), validCallback())
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	order, _ := f.store.FindByID(context.Background(), "ord_1")
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("rejected callback mutated status to %s", order.Status)
	}
	if order.Payment.Populated() {
		t.Fatalf("rejected callback attached a payment record")
	}
}

func TestVerifyPaymentRequiresCapturedState(t *testing.T) {
	f := newReconcilerFixture(t, pendingPaidOrder())
	f.gateway.fetchPayment = func(context.Context, payments.PaymentContext, string) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{Status: payments.StatusPending}, nil
	}

	_, err := f.reconciler.VerifyPayment(context.Background(), validCallback())
	if !errors.Is(err, ErrPaymentNotCaptured) {
		t.Fatalf("expected ErrPaymentNotCaptured, got %v", err)
	}
}

func TestVerifyPaymentRejectsAmountMismatch(t *testing.T) {
	f := newReconcilerFixture(t, pendingPaidOrder())
	f.gateway.fetchPayment = func(context.Context, payments.PaymentContext, string) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{
			Status:   payments.StatusCaptured,
			Captured: true,
			Amount:   1179,
		}, nil
	}

	_, err := f.reconciler.VerifyPayment(context.Background(), validCallback())
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	order, _ := f.store.FindByID(context.Background(), "ord_1")
	if order.Status != domain.OrderStatusPending || order.Payment.Populated() {
		t.Fatalf("amount mismatch mutated the order: %+v", order)
	}
}

func TestVerifyPaymentRejectsForeignIntent(t *testing.T) {
	f := newReconcilerFixture(t, pendingPaidOrder())

	cmd := validCallback()
	cmd.GatewayOrderID = "gw_order_other"
	_, err := f.reconciler.VerifyPayment(context.Background(), cmd)
	if !errors.Is(err, ErrPaymentIntentMismatch) {
		t.Fatalf("expected ErrPaymentIntentMismatch, got %v", err)
	}
}

func TestVerifyPaymentResumesAfterPartialFailure(t *testing.T) {
	// payment record attached but the confirmation never committed
	order := pendingPaidOrder()
	captured := time.Date(2026, time.March, 10, 11, 59, 0, 0, time.UTC)
	order.Payment = &domain.PaymentRecord{
		Provider:   "razorpay",
		IntentID:   "gw_order_1",
		PaymentID:  "gw_pay_1",
		Amount:     1180,
		Status:     "captured",
		CapturedAt: &captured,
	}
	f := newReconcilerFixture(t, order)

	result, err := f.reconciler.VerifyPayment(context.Background(), validCallback())
	if err != nil {
		t.Fatalf("VerifyPayment returned error: %v", err)
	}
	if !result.AlreadyProcessed {
		t.Fatalf("resumed verification should report already processed")
	}
	if result.Order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected resumed confirmation, got %s", result.Order.Status)
	}
	if f.redemptions != 1 || f.finalized != 1 {
		t.Fatalf("resumed side effects ran %d/%d times", f.redemptions, f.finalized)
	}
}

func TestVerifyPaymentRejectsMissingFields(t *testing.T) {
	f := newReconcilerFixture(t, pendingPaidOrder())
	for _, cmd := range []VerifyPaymentCommand{
		{GatewayOrderID: "a", GatewayPaymentID: "b", Signature: "c"},
		{OrderID: "ord_1", GatewayPaymentID: "b", Signature: "c"},
		{OrderID: "ord_1", GatewayOrderID: "a", Signature: "c"},
		{OrderID: "ord_1", GatewayOrderID: "a", GatewayPaymentID: "b"},
	} {
		if _, err := f.reconciler.VerifyPayment(context.Background(), cmd); !errors.Is(err, ErrReconcilerInvalidInput) {
			t.Fatalf("expected ErrReconcilerInvalidInput for %+v, got %v", cmd, err)
		}
	}
}

func TestVerifyPaymentDuplicateRequiresValidSignature(t *testing.T) {
	f := newReconcilerFixture(t, pendingPaidOrder())

	if _, err := f.reconciler.VerifyPayment(context.Background(), validCallback()); err != nil {
		t.Fatalf("first VerifyPayment returned error: %v", err)
	}
	f.gateway.verifyCallbackSignature = func(_ context.Context, _ payments.PaymentContext, _, _, _ string) error {
		return payments.ErrSignatureMismatch
	}

	cmd := validCallback()
	cmd.Signature = "forged"
	if _, err := f.reconciler.VerifyPayment(context.Background(), cmd); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("replay with bad signature should fail, got %v", err)
	}
}

func TestVerifyPaymentRetriesCouponAfterTransientFailure(t *testing.T) {
	f := newReconcilerFixture(t, pendingPaidOrder())
	calls := 0
	f.coupons.recordRedemption = func(_ context.Context, redemption domain.CouponRedemption) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("redemption store unavailable")
		}
		f.redemptions++
		return f.redemptions == 1, nil
	}

	if _, err := f.reconciler.VerifyPayment(context.Background(), validCallback()); !errors.Is(err, ErrReconcilerUnavailable) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	order, _ := f.store.FindByID(context.Background(), "ord_1")
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed after first attempt, got %s", order.Status)
	}
	if f.redemptions != 0 || f.finalized != 0 {
		t.Fatalf("failed attempt committed side effects: %d/%d", f.redemptions, f.finalized)
	}

	result, err := f.reconciler.VerifyPayment(context.Background(), validCallback())
	if err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if !result.AlreadyProcessed {
		t.Fatalf("retry not reported as already processed")
	}
	if f.redemptions != 1 {
		t.Fatalf("coupon consumed %d times, expected exactly once", f.redemptions)
	}
	if f.finalized != 1 {
		t.Fatalf("sale finalized %d times, expected exactly once", f.finalized)
	}

	third, err := f.reconciler.VerifyPayment(context.Background(), validCallback())
	if err != nil || !third.AlreadyProcessed {
		t.Fatalf("settled callback should be a no-op: %v", err)
	}
	if f.redemptions != 1 || f.finalized != 1 {
		t.Fatalf("settled callback re-ran side effects: %d/%d", f.redemptions, f.finalized)
	}
}

func TestVerifyPaymentRetriesSaleFinalizationAfterFailure(t *testing.T) {
	f := newReconcilerFixture(t, pendingPaidOrder())
	failures := 1
	f.ledger.finalizeSale = func(context.Context, []InventoryLine) error {
		if failures > 0 {
			failures--
			return errors.New("counter write failed")
		}
		f.finalized++
		return nil
	}

	if _, err := f.reconciler.VerifyPayment(context.Background(), validCallback()); !errors.Is(err, ErrReconcilerUnavailable) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	order, _ := f.store.FindByID(context.Background(), "ord_1")
	if !order.Flags.CouponRedeemed {
		t.Fatalf("completed redemption not recorded before the failure")
	}
	if order.Flags.SaleFinalized {
		t.Fatalf("failed finalization marked as done")
	}

	result, err := f.reconciler.VerifyPayment(context.Background(), validCallback())
	if err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if !result.AlreadyProcessed {
		t.Fatalf("retry not reported as already processed")
	}
	if f.redemptions != 1 {
		t.Fatalf("coupon consumed %d times, expected exactly once", f.redemptions)
	}
	if f.finalized != 1 {
		t.Fatalf("sale finalized %d times, expected exactly once", f.finalized)
	}
	order, _ = f.store.FindByID(context.Background(), "ord_1")
	if !order.Flags.SaleFinalized {
		t.Fatalf("finalized sale not recorded")
	}
}
