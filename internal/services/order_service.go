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
	// ErrOrderDependenciesMissing indicates the service was constructed without its repositories.
	ErrOrderDependenciesMissing = errors.New("order service: dependencies are not configured")
	// ErrOrderInvalidInput signals missing or malformed request data.
	ErrOrderInvalidInput = errors.New("order service: invalid input")
	// ErrOrderNotFound indicates no order exists for the given id.
	ErrOrderNotFound = errors.New("order service: order not found")
	// ErrOrderForbidden indicates the actor may not see or mutate the order.
	ErrOrderForbidden = errors.New("order service: forbidden")
	// ErrOrderIllegalTransition indicates the target status is not reachable
	// from the order's current status.
	ErrOrderIllegalTransition = errors.New("order service: illegal transition")
	// ErrOrderConflict indicates a concurrent writer moved the order first.
	ErrOrderConflict = errors.New("order service: concurrent modification")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order service: store unavailable")
	// ErrOrderTrackingRequired indicates a shipped transition without tracking details.
	ErrOrderTrackingRequired = errors.New("order service: tracking details are required")
)

// orderStateTransitions is the allowed-next set per status. Terminal states
// map to an empty set; delivered orders may only move to refunded.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
	domain.OrderStatusCancelled:  {},
	domain.OrderStatusRefunded:   {},
}

// CanTransition reports whether target is directly reachable from current.
func CanTransition(current, target domain.OrderStatus) bool {
	for _, allowed := range orderStateTransitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// OrderServiceDeps bundles dependencies required to construct an OrderService.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Ledger InventoryLedger
	Clock  func() time.Time
	Logger Logger
}

type orderService struct {
	orders repositories.OrderRepository
	ledger InventoryLedger
	clock  func() time.Time
	logger Logger
}

// NewOrderService wires an OrderService backed by the provided repositories.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil || deps.Ledger == nil {
		return nil, ErrOrderDependenciesMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders: deps.Orders,
		ledger: deps.Ledger,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderDependenciesMissing
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !actor.Staff && order.UserID != actor.ID {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderDependenciesMissing
	}
	userID := strings.TrimSpace(query.UserID)
	if !query.Actor.Staff {
		// non-staff callers only ever see their own orders
		userID = query.Actor.ID
	}
	if userID == "" && !query.Actor.Staff {
		return domain.CursorPage[Order]{}, ErrOrderForbidden
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     userID,
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

// Transition applies one status change. The repository write puts the new
// status, the history entry and any guard flag into the document atomically;
// inventory side effects run after the write and are guarded by the
// inventoryReversed flag so retries cannot release stock twice.
func (s *orderService) Transition(ctx context.Context, cmd TransitionCommand) (Order, []OrderEvent, error) {
	if s == nil || s.orders == nil {
		return Order{}, nil, ErrOrderDependenciesMissing
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Target.Valid() {
		return Order{}, nil, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, nil, mapOrderRepositoryError(err)
	}
	if order.Status == cmd.Target {
		// retried call that already landed
		return order, nil, nil
	}
	if !CanTransition(order.Status, cmd.Target) {
		return Order{}, nil, fmt.Errorf("%w: %s -> %s", ErrOrderIllegalTransition, order.Status, cmd.Target)
	}
	if cmd.Target == domain.OrderStatusShipped && cmd.Tracking == nil && (order.Shipment == nil || order.Shipment.TrackingNumber == "") {
		return Order{}, nil, ErrOrderTrackingRequired
	}

	now := s.clock()
	req := repositories.OrderTransitionRequest{
		OrderID:        orderID,
		ExpectedStatus: order.Status,
		NewStatus:      cmd.Target,
		HistoryEntry: domain.StatusHistoryEntry{
			Status:    cmd.Target,
			Actor:     actorLabel(cmd.Actor),
			Note:      strings.TrimSpace(cmd.Note),
			ChangedAt: now,
		},
		Shipment: cmd.Tracking,
		Now:      now,
	}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" && cmd.Target == domain.OrderStatusCancelled {
		req.CancelReason = &reason
	}
	releasing := releasesInventory(cmd.Target) && !order.Flags.InventoryReversed
	req.MarkInventoryReversed = releasing

	updated, err := s.orders.ApplyTransition(ctx, req)
	if err != nil {
		return Order{}, nil, mapOrderRepositoryError(err)
	}

	if releasing {
		s.releaseInventory(ctx, order)
	}

	s.logger(ctx, "orders.transitioned", map[string]any{
		"orderId": orderID,
		"from":    string(order.Status),
		"to":      string(cmd.Target),
		"actor":   actorLabel(cmd.Actor),
	})
	events := []OrderEvent{{
		Type:       OrderEventStatusChanged,
		OrderID:    orderID,
		UserID:     updated.UserID,
		Status:     cmd.Target,
		OccurredAt: now,
		Metadata:   map[string]any{"from": string(order.Status)},
	}}
	return updated, events, nil
}

// releaseInventory undoes the stock effects of an order entering cancelled
// or refunded. A confirmed payment means sold counters were finalized, so
// the reversal must undo those too.
func (s *orderService) releaseInventory(ctx context.Context, order domain.Order) {
	lines := orderInventoryLines(order)
	if len(lines) == 0 {
		return
	}
	var err error
	if order.Payment != nil && order.Payment.Populated() {
		err = s.ledger.ReverseSale(ctx, lines)
	} else {
		err = s.ledger.Release(ctx, lines)
	}
	if err != nil {
		// the reversal flag is already set; surface for manual reconciliation
		s.logger(ctx, "orders.inventory_release_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func orderInventoryLines(order domain.Order) []InventoryLine {
	lines := make([]InventoryLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, InventoryLine{ProductID: item.ProductID, Quantity: int64(item.Quantity)})
	}
	return lines
}

func releasesInventory(target domain.OrderStatus) bool {
	return target == domain.OrderStatusCancelled || target == domain.OrderStatusRefunded
}

func actorLabel(actor Actor) string {
	id := strings.TrimSpace(actor.ID)
	if id == "" {
		return "system"
	}
	if actor.Staff {
		return "staff:" + id
	}
	return "user:" + id
}

func mapOrderRepositoryError(err error) error {
	if repoErr, ok := err.(repositories.RepositoryError); ok {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}
