package services

import (
	"context"
	"errors"
	"time"

	"github.com/kalamkart/api/internal/repositories"

	domain "github.com/kalamkart/api/internal/domain"
)

// stubRepositoryError satisfies repositories.RepositoryError for tests.
type stubRepositoryError struct {
	message     string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepositoryError) Error() string {
	if e.message != "" {
		return e.message
	}
	return "stub repository error"
}

func (e stubRepositoryError) IsNotFound() bool    { return e.notFound }
func (e stubRepositoryError) IsConflict() bool    { return e.conflict }
func (e stubRepositoryError) IsUnavailable() bool { return e.unavailable }

type stubOrderRepository struct {
	insert               func(ctx context.Context, order domain.Order) error
	findByID             func(ctx context.Context, orderID string) (domain.Order, error)
	list                 func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	countCompletedByUser func(ctx context.Context, userID string) (int64, error)
	applyTransition      func(ctx context.Context, req repositories.OrderTransitionRequest) (domain.Order, error)
	attachPayment        func(ctx context.Context, orderID string, payment domain.PaymentRecord, now time.Time) (bool, error)
	setRefundRef         func(ctx context.Context, orderID string, refundID string, now time.Time) error

	markConfirmationEffects func(ctx context.Context, orderID string, effects repositories.ConfirmationEffects, now time.Time) error
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insert == nil {
		return errors.New("insert not stubbed")
	}
	return s.insert(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByID == nil {
		return domain.Order{}, errors.New("findByID not stubbed")
	}
	return s.findByID(ctx, orderID)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.list == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("list not stubbed")
	}
	return s.list(ctx, filter)
}

func (s *stubOrderRepository) CountCompletedByUser(ctx context.Context, userID string) (int64, error) {
	if s.countCompletedByUser == nil {
		return 0, nil
	}
	return s.countCompletedByUser(ctx, userID)
}

func (s *stubOrderRepository) ApplyTransition(ctx context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
	if s.applyTransition == nil {
		return domain.Order{}, errors.New("applyTransition not stubbed")
	}
	return s.applyTransition(ctx, req)
}

func (s *stubOrderRepository) AttachPayment(ctx context.Context, orderID string, payment domain.PaymentRecord, now time.Time) (bool, error) {
	if s.attachPayment == nil {
		return false, errors.New("attachPayment not stubbed")
	}
	return s.attachPayment(ctx, orderID, payment, now)
}

func (s *stubOrderRepository) SetRefundRef(ctx context.Context, orderID string, refundID string, now time.Time) error {
	if s.setRefundRef == nil {
		return errors.New("setRefundRef not stubbed")
	}
	return s.setRefundRef(ctx, orderID, refundID, now)
}

func (s *stubOrderRepository) MarkConfirmationEffects(ctx context.Context, orderID string, effects repositories.ConfirmationEffects, now time.Time) error {
	if s.markConfirmationEffects == nil {
		return nil
	}
	return s.markConfirmationEffects(ctx, orderID, effects, now)
}

type stubProductRepository struct {
	findByID           func(ctx context.Context, productID string) (domain.Product, error)
	findByIDs          func(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	applyCounterDeltas func(ctx context.Context, deltas []repositories.ProductCounterDelta) ([]repositories.ProductCounterDelta, error)
	readCounters       func(ctx context.Context, productIDs []string) (map[string]repositories.ProductCounters, error)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findByID == nil {
		return domain.Product{}, errors.New("findByID not stubbed")
	}
	return s.findByID(ctx, productID)
}

func (s *stubProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.findByIDs == nil {
		return nil, errors.New("findByIDs not stubbed")
	}
	return s.findByIDs(ctx, productIDs)
}

func (s *stubProductRepository) ApplyCounterDeltas(ctx context.Context, deltas []repositories.ProductCounterDelta) ([]repositories.ProductCounterDelta, error) {
	if s.applyCounterDeltas == nil {
		return nil, errors.New("applyCounterDeltas not stubbed")
	}
	return s.applyCounterDeltas(ctx, deltas)
}

func (s *stubProductRepository) ReadCounters(ctx context.Context, productIDs []string) (map[string]repositories.ProductCounters, error) {
	if s.readCounters == nil {
		return nil, errors.New("readCounters not stubbed")
	}
	return s.readCounters(ctx, productIDs)
}

type stubCouponRepository struct {
	findByCode       func(ctx context.Context, code string) (domain.Coupon, error)
	hasRedemption    func(ctx context.Context, code string, userID string) (bool, error)
	recordRedemption func(ctx context.Context, redemption domain.CouponRedemption) (bool, error)
	listActive       func(ctx context.Context, limit int) ([]domain.Coupon, error)
}

func (s *stubCouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if s.findByCode == nil {
		return domain.Coupon{}, stubRepositoryError{notFound: true}
	}
	return s.findByCode(ctx, code)
}

func (s *stubCouponRepository) HasRedemption(ctx context.Context, code string, userID string) (bool, error) {
	if s.hasRedemption == nil {
		return false, nil
	}
	return s.hasRedemption(ctx, code, userID)
}

func (s *stubCouponRepository) RecordRedemption(ctx context.Context, redemption domain.CouponRedemption) (bool, error) {
	if s.recordRedemption == nil {
		return false, errors.New("recordRedemption not stubbed")
	}
	return s.recordRedemption(ctx, redemption)
}

func (s *stubCouponRepository) ListActive(ctx context.Context, limit int) ([]domain.Coupon, error) {
	if s.listActive == nil {
		return nil, nil
	}
	return s.listActive(ctx, limit)
}

type stubRefundRepository struct {
	insert      func(ctx context.Context, refund domain.Refund) error
	listByOrder func(ctx context.Context, orderID string) ([]domain.Refund, error)
}

func (s *stubRefundRepository) Insert(ctx context.Context, refund domain.Refund) error {
	if s.insert == nil {
		return errors.New("insert not stubbed")
	}
	return s.insert(ctx, refund)
}

func (s *stubRefundRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	if s.listByOrder == nil {
		return nil, nil
	}
	return s.listByOrder(ctx, orderID)
}

type stubLedger struct {
	reserve      func(ctx context.Context, lines []InventoryLine) error
	release      func(ctx context.Context, lines []InventoryLine) error
	finalizeSale func(ctx context.Context, lines []InventoryLine) error
	reverseSale  func(ctx context.Context, lines []InventoryLine) error
}

func (s *stubLedger) Reserve(ctx context.Context, lines []InventoryLine) error {
	if s.reserve == nil {
		return nil
	}
	return s.reserve(ctx, lines)
}

func (s *stubLedger) Release(ctx context.Context, lines []InventoryLine) error {
	if s.release == nil {
		return nil
	}
	return s.release(ctx, lines)
}

func (s *stubLedger) FinalizeSale(ctx context.Context, lines []InventoryLine) error {
	if s.finalizeSale == nil {
		return nil
	}
	return s.finalizeSale(ctx, lines)
}

func (s *stubLedger) ReverseSale(ctx context.Context, lines []InventoryLine) error {
	if s.reverseSale == nil {
		return nil
	}
	return s.reverseSale(ctx, lines)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
