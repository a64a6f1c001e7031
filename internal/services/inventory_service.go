package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalamkart/api/internal/repositories"
)

var (
	// ErrInventoryDependenciesMissing indicates the ledger was constructed without its repository.
	ErrInventoryDependenciesMissing = errors.New("inventory ledger: dependencies are not configured")
	// ErrInventoryInvalidInput signals malformed ledger input such as non-positive quantities.
	ErrInventoryInvalidInput = errors.New("inventory ledger: invalid input")
	// ErrInventoryProductNotFound indicates a line references an unknown product.
	ErrInventoryProductNotFound = errors.New("inventory ledger: product not found")
	// ErrInsufficientStock is the sentinel wrapped by every InsufficientStockError.
	ErrInsufficientStock = errors.New("inventory ledger: insufficient stock")
	// ErrInventoryUnavailable indicates counter writes failed against the store.
	ErrInventoryUnavailable = errors.New("inventory ledger: store unavailable")
)

// InsufficientStockError identifies the first product whose availability
// could not cover the requested quantity. It unwraps to ErrInsufficientStock.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory ledger: insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InventoryLedgerDeps bundles dependencies required to construct an InventoryLedger.
type InventoryLedgerDeps struct {
	Products repositories.ProductRepository
	Logger   Logger
}

type inventoryLedger struct {
	products repositories.ProductRepository
	logger   Logger
}

// NewInventoryLedger wires an InventoryLedger backed by the product repository.
func NewInventoryLedger(deps InventoryLedgerDeps) (InventoryLedger, error) {
	if deps.Products == nil {
		return nil, ErrInventoryDependenciesMissing
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryLedger{products: deps.Products, logger: logger}, nil
}

// Reserve takes availability for every line or leaves inventory untouched.
// The pre-check read only short-circuits obviously oversold requests; the
// atomic decrements are the source of truth, so a post-commit read re-checks
// for a race and reverses the whole batch on overshoot.
func (s *inventoryLedger) Reserve(ctx context.Context, lines []InventoryLine) error {
	if s == nil || s.products == nil {
		return ErrInventoryDependenciesMissing
	}
	merged, err := mergeInventoryLines(lines)
	if err != nil {
		return err
	}

	counters, err := s.readCounters(ctx, merged)
	if err != nil {
		return err
	}
	for _, line := range merged {
		if available := counters[line.ProductID].AvailableQty; available < line.Quantity {
			return &InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: available,
			}
		}
	}

	deltas := make([]repositories.ProductCounterDelta, 0, len(merged))
	for _, line := range merged {
		deltas = append(deltas, repositories.ProductCounterDelta{ProductID: line.ProductID, AvailableQty: -line.Quantity})
	}
	applied, err := s.products.ApplyCounterDeltas(ctx, deltas)
	if err != nil {
		s.compensate(ctx, applied, "inventory.reserve_compensated")
		return fmt.Errorf("%w: reserve: %v", ErrInventoryUnavailable, err)
	}

	after, err := s.readCounters(ctx, merged)
	if err != nil {
		s.compensate(ctx, deltas, "inventory.reserve_compensated")
		return err
	}
	for _, line := range merged {
		if available := after[line.ProductID].AvailableQty; available < 0 {
			// two pre-checks raced; undo the full reservation
			s.compensate(ctx, deltas, "inventory.reserve_overshoot_reversed")
			return &InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: available + line.Quantity,
			}
		}
	}

	s.logger(ctx, "inventory.reserved", map[string]any{"lines": len(merged)})
	return nil
}

// Release restores availability taken by a reservation.
func (s *inventoryLedger) Release(ctx context.Context, lines []InventoryLine) error {
	return s.applyDeltas(ctx, lines, "inventory.released", func(line InventoryLine) repositories.ProductCounterDelta {
		return repositories.ProductCounterDelta{ProductID: line.ProductID, AvailableQty: line.Quantity}
	})
}

// FinalizeSale counts reserved units as sold. Availability was already
// decremented at reservation time.
func (s *inventoryLedger) FinalizeSale(ctx context.Context, lines []InventoryLine) error {
	return s.applyDeltas(ctx, lines, "inventory.sale_finalized", func(line InventoryLine) repositories.ProductCounterDelta {
		return repositories.ProductCounterDelta{ProductID: line.ProductID, UnitsSold: line.Quantity}
	})
}

// ReverseSale undoes a finalized sale: availability comes back and the sold
// counter is decremented, the exact inverse of reserve plus finalize so
// repeated cycles leave inventory unchanged.
func (s *inventoryLedger) ReverseSale(ctx context.Context, lines []InventoryLine) error {
	return s.applyDeltas(ctx, lines, "inventory.sale_reversed", func(line InventoryLine) repositories.ProductCounterDelta {
		return repositories.ProductCounterDelta{ProductID: line.ProductID, AvailableQty: line.Quantity, UnitsSold: -line.Quantity}
	})
}

func (s *inventoryLedger) applyDeltas(ctx context.Context, lines []InventoryLine, event string, build func(InventoryLine) repositories.ProductCounterDelta) error {
	if s == nil || s.products == nil {
		return ErrInventoryDependenciesMissing
	}
	merged, err := mergeInventoryLines(lines)
	if err != nil {
		return err
	}
	deltas := make([]repositories.ProductCounterDelta, 0, len(merged))
	for _, line := range merged {
		deltas = append(deltas, build(line))
	}
	applied, err := s.products.ApplyCounterDeltas(ctx, deltas)
	if err != nil {
		s.logger(ctx, "inventory.partial_write", map[string]any{
			"event":   event,
			"applied": len(applied),
			"total":   len(deltas),
			"error":   err.Error(),
		})
		return fmt.Errorf("%w: %s: %v", ErrInventoryUnavailable, event, err)
	}
	s.logger(ctx, event, map[string]any{"lines": len(merged)})
	return nil
}

func (s *inventoryLedger) readCounters(ctx context.Context, lines []InventoryLine) (map[string]repositories.ProductCounters, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	counters, err := s.products.ReadCounters(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: read counters: %v", ErrInventoryUnavailable, err)
	}
	for _, id := range ids {
		if _, ok := counters[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrInventoryProductNotFound, id)
		}
	}
	return counters, nil
}

// compensate applies the inverse of the given deltas on a best-effort basis.
// A failure here is logged for manual reconciliation; there is no further
// automated recovery.
func (s *inventoryLedger) compensate(ctx context.Context, applied []repositories.ProductCounterDelta, event string) {
	if len(applied) == 0 {
		return
	}
	inverse := make([]repositories.ProductCounterDelta, 0, len(applied))
	for _, delta := range applied {
		inverse = append(inverse, repositories.ProductCounterDelta{
			ProductID:    delta.ProductID,
			AvailableQty: -delta.AvailableQty,
			UnitsSold:    -delta.UnitsSold,
		})
	}
	if _, err := s.products.ApplyCounterDeltas(context.WithoutCancel(ctx), inverse); err != nil {
		s.logger(ctx, "inventory.compensation_failed", map[string]any{
			"event": event,
			"lines": len(inverse),
			"error": err.Error(),
		})
		return
	}
	s.logger(ctx, event, map[string]any{"lines": len(inverse)})
}

// mergeInventoryLines validates and aggregates duplicate product lines while
// keeping first-seen order.
func mergeInventoryLines(lines []InventoryLine) ([]InventoryLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	index := make(map[string]int, len(lines))
	merged := make([]InventoryLine, 0, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line %d product id is required", ErrInventoryInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrInventoryInvalidInput, i)
		}
		if at, ok := index[productID]; ok {
			merged[at].Quantity += line.Quantity
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, InventoryLine{ProductID: productID, Quantity: line.Quantity})
	}
	return merged, nil
}
