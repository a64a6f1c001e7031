package services

import (
	"context"
	"errors"
	"testing"

	"github.com/kalamkart/api/internal/repositories"
)

// memoryProductStore tracks counters in memory and can be told to fail
// midway through a batch to exercise compensation.
type memoryProductStore struct {
	stubProductRepository

	counters  map[string]repositories.ProductCounters
	failAt    int // fail before applying the delta at this index, -1 disables
	batches   int
	overshoot func(store *memoryProductStore)
}

func newMemoryProductStore(counters map[string]repositories.ProductCounters) *memoryProductStore {
	store := &memoryProductStore{counters: counters, failAt: -1}
	store.stubProductRepository = stubProductRepository{}
	return store
}

func (m *memoryProductStore) ApplyCounterDeltas(_ context.Context, deltas []repositories.ProductCounterDelta) ([]repositories.ProductCounterDelta, error) {
	m.batches++
	applied := make([]repositories.ProductCounterDelta, 0, len(deltas))
	for i, delta := range deltas {
		if m.failAt >= 0 && i == m.failAt {
			return applied, stubRepositoryError{unavailable: true, message: "write failed"}
		}
		current, ok := m.counters[delta.ProductID]
		if !ok {
			return applied, stubRepositoryError{notFound: true, message: "unknown product"}
		}
		current.AvailableQty += delta.AvailableQty
		current.UnitsSold += delta.UnitsSold
		m.counters[delta.ProductID] = current
		applied = append(applied, delta)
	}
	if m.overshoot != nil {
		m.overshoot(m)
		m.overshoot = nil
	}
	return applied, nil
}

func (m *memoryProductStore) ReadCounters(_ context.Context, productIDs []string) (map[string]repositories.ProductCounters, error) {
	out := make(map[string]repositories.ProductCounters, len(productIDs))
	for _, id := range productIDs {
		counters, ok := m.counters[id]
		if !ok {
			continue
		}
		out[id] = counters
	}
	return out, nil
}

func newTestLedger(t *testing.T, store *memoryProductStore) InventoryLedger {
	t.Helper()
	ledger, err := NewInventoryLedger(InventoryLedgerDeps{Products: store})
	if err != nil {
		t.Fatalf("NewInventoryLedger returned error: %v", err)
	}
	return ledger
}

func TestInventoryReserveRejectsInsufficientStock(t *testing.T) {
	store := newMemoryProductStore(map[string]repositories.ProductCounters{
		"prod-1": {AvailableQty: 3},
	})
	ledger := newTestLedger(t, store)

	err := ledger.Reserve(context.Background(), []InventoryLine{{ProductID: "prod-1", Quantity: 5}})
	var stock *InsufficientStockError
	if !errors.As(err, &stock) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stock.ProductID != "prod-1" || stock.Requested != 5 || stock.Available != 3 {
		t.Fatalf("unexpected stock error details: %+v", stock)
	}
	if got := store.counters["prod-1"].AvailableQty; got != 3 {
		t.Fatalf("availability mutated on rejected reservation: %d", got)
	}
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("error does not unwrap to ErrInsufficientStock: %v", err)
	}
}

func TestInventoryReserveAllOrNothingAcrossBatch(t *testing.T) {
	store := newMemoryProductStore(map[string]repositories.ProductCounters{
		"prod-1": {AvailableQty: 10},
		"prod-2": {AvailableQty: 1},
	})
	ledger := newTestLedger(t, store)

	err := ledger.Reserve(context.Background(), []InventoryLine{
		{ProductID: "prod-1", Quantity: 2},
		{ProductID: "prod-2", Quantity: 2},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := store.counters["prod-1"].AvailableQty; got != 10 {
		t.Fatalf("prod-1 availability mutated: %d", got)
	}
	if got := store.counters["prod-2"].AvailableQty; got != 1 {
		t.Fatalf("prod-2 availability mutated: %d", got)
	}
}

func TestInventoryReserveReleaseConservation(t *testing.T) {
	store := newMemoryProductStore(map[string]repositories.ProductCounters{
		"prod-1": {AvailableQty: 8, UnitsSold: 2},
		"prod-2": {AvailableQty: 4},
	})
	ledger := newTestLedger(t, store)
	lines := []InventoryLine{
		{ProductID: "prod-1", Quantity: 3},
		{ProductID: "prod-2", Quantity: 1},
	}

	if err := ledger.Reserve(context.Background(), lines); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if got := store.counters["prod-1"].AvailableQty; got != 5 {
		t.Fatalf("expected prod-1 availability 5 after reserve, got %d", got)
	}
	if err := ledger.Release(context.Background(), lines); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	if got := store.counters["prod-1"]; got.AvailableQty != 8 || got.UnitsSold != 2 {
		t.Fatalf("prod-1 counters not restored: %+v", got)
	}
	if got := store.counters["prod-2"]; got.AvailableQty != 4 {
		t.Fatalf("prod-2 counters not restored: %+v", got)
	}
}

func TestInventoryReserveMergesDuplicateLines(t *testing.T) {
	store := newMemoryProductStore(map[string]repositories.ProductCounters{
		"prod-1": {AvailableQty: 5},
	})
	ledger := newTestLedger(t, store)

	err := ledger.Reserve(context.Background(), []InventoryLine{
		{ProductID: "prod-1", Quantity: 2},
		{ProductID: "prod-1", Quantity: 2},
	})
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if got := store.counters["prod-1"].AvailableQty; got != 1 {
		t.Fatalf("expected availability 1 after merged reserve, got %d", got)
	}
}

func TestInventoryReserveCompensatesPartialFailure(t *testing.T) {
	store := newMemoryProductStore(map[string]repositories.ProductCounters{
		"prod-1": {AvailableQty: 5},
		"prod-2": {AvailableQty: 5},
	})
	store.failAt = 1
	ledger := newTestLedger(t, store)

	err := ledger.Reserve(context.Background(), []InventoryLine{
		{ProductID: "prod-1", Quantity: 2},
		{ProductID: "prod-2", Quantity: 2},
	})
	if !errors.Is(err, ErrInventoryUnavailable) {
		t.Fatalf("expected ErrInventoryUnavailable, got %v", err)
	}
	// the applied prod-1 decrement must have been rolled back
	store.failAt = -1
	if got := store.counters["prod-1"].AvailableQty; got != 5 {
		t.Fatalf("expected prod-1 availability restored to 5, got %d", got)
	}
}

func TestInventoryReserveReversesOvershootAfterRacedPreChecks(t *testing.T) {
	store := newMemoryProductStore(map[string]repositories.ProductCounters{
		"prod-1": {AvailableQty: 3},
	})
	// simulate a concurrent reservation landing between our pre-check and
	// the post-commit read
	store.overshoot = func(s *memoryProductStore) {
		counters := s.counters["prod-1"]
		counters.AvailableQty -= 3
		s.counters["prod-1"] = counters
	}
	ledger := newTestLedger(t, store)

	err := ledger.Reserve(context.Background(), []InventoryLine{{ProductID: "prod-1", Quantity: 2}})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock after overshoot, got %v", err)
	}
	// our own decrement was reversed; the concurrent hold remains
	if got := store.counters["prod-1"].AvailableQty; got != 0 {
		t.Fatalf("expected availability 0 after reversal, got %d", got)
	}
}

func TestInventoryFinalizeAndReverseSale(t *testing.T) {
	store := newMemoryProductStore(map[string]repositories.ProductCounters{
		"prod-1": {AvailableQty: 5, UnitsSold: 10},
	})
	ledger := newTestLedger(t, store)
	lines := []InventoryLine{{ProductID: "prod-1", Quantity: 2}}

	if err := ledger.Reserve(context.Background(), lines); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := ledger.FinalizeSale(context.Background(), lines); err != nil {
		t.Fatalf("FinalizeSale returned error: %v", err)
	}
	if got := store.counters["prod-1"]; got.AvailableQty != 3 || got.UnitsSold != 12 {
		t.Fatalf("unexpected counters after sale: %+v", got)
	}

	if err := ledger.ReverseSale(context.Background(), lines); err != nil {
		t.Fatalf("ReverseSale returned error: %v", err)
	}
	if got := store.counters["prod-1"]; got.AvailableQty != 5 || got.UnitsSold != 10 {
		t.Fatalf("counters not restored after reversal: %+v", got)
	}
}

func TestInventoryRejectsUnknownProduct(t *testing.T) {
	store := newMemoryProductStore(map[string]repositories.ProductCounters{})
	ledger := newTestLedger(t, store)

	err := ledger.Reserve(context.Background(), []InventoryLine{{ProductID: "ghost", Quantity: 1}})
	if !errors.Is(err, ErrInventoryProductNotFound) {
		t.Fatalf("expected ErrInventoryProductNotFound, got %v", err)
	}
}

func TestInventoryRejectsInvalidLines(t *testing.T) {
	store := newMemoryProductStore(map[string]repositories.ProductCounters{
		"prod-1": {AvailableQty: 5},
	})
	ledger := newTestLedger(t, store)

	for _, lines := range [][]InventoryLine{
		nil,
		{{ProductID: "", Quantity: 1}},
		{{ProductID: "prod-1", Quantity: 0}},
		{{ProductID: "prod-1", Quantity: -2}},
	} {
		if err := ledger.Reserve(context.Background(), lines); !errors.Is(err, ErrInventoryInvalidInput) {
			t.Fatalf("expected ErrInventoryInvalidInput for %+v, got %v", lines, err)
		}
	}
}
