package services

import (
	"errors"
	"math"
	"testing"

	domain "github.com/kalamkart/api/internal/domain"
)

func standardPricingConfig() PricingConfig {
	return PricingConfig{
		Currency:           "INR",
		TaxRateBasisPoints: 1800,
		GiftWrapCharge:     2500,
	}
}

func TestComputePricingNoDiscountNoShipping(t *testing.T) {
	breakdown, err := ComputePricing(PricingInput{
		Items: []domain.OrderItem{
			{ProductID: "prod-1", UnitPrice: 500, Quantity: 2},
		},
	}, standardPricingConfig())
	if err != nil {
		t.Fatalf("ComputePricing returned error: %v", err)
	}
	if breakdown.Subtotal != 1000 {
		t.Fatalf("expected subtotal 1000, got %d", breakdown.Subtotal)
	}
	if breakdown.Tax != 180 {
		t.Fatalf("expected tax 180, got %d", breakdown.Tax)
	}
	if breakdown.GrandTotal != 1180 {
		t.Fatalf("expected grand total 1180, got %d", breakdown.GrandTotal)
	}
	if breakdown.Currency != "INR" {
		t.Fatalf("expected currency INR, got %q", breakdown.Currency)
	}
}

func TestComputePricingDiscountShrinksTaxBasis(t *testing.T) {
	breakdown, err := ComputePricing(PricingInput{
		Items: []domain.OrderItem{
			{ProductID: "prod-1", UnitPrice: 1000, Quantity: 1},
		},
		Discount: 200,
	}, standardPricingConfig())
	if err != nil {
		t.Fatalf("ComputePricing returned error: %v", err)
	}
	if breakdown.Discount != 200 {
		t.Fatalf("expected discount 200, got %d", breakdown.Discount)
	}
	if breakdown.Tax != 144 {
		t.Fatalf("expected tax on discounted basis 144, got %d", breakdown.Tax)
	}
	if breakdown.GrandTotal != 944 {
		t.Fatalf("expected grand total 944, got %d", breakdown.GrandTotal)
	}
}

func TestComputePricingGiftWrapIsTaxedShippingIsNot(t *testing.T) {
	breakdown, err := ComputePricing(PricingInput{
		Items: []domain.OrderItem{
			{ProductID: "prod-1", UnitPrice: 1000, Quantity: 1},
		},
		GiftWrap:       true,
		ShippingCharge: 7000,
	}, standardPricingConfig())
	if err != nil {
		t.Fatalf("ComputePricing returned error: %v", err)
	}
	if breakdown.GiftWrapCharge != 2500 {
		t.Fatalf("expected gift wrap charge 2500, got %d", breakdown.GiftWrapCharge)
	}
	// tax applies to 1000 + 2500, never to shipping
	if breakdown.Tax != 630 {
		t.Fatalf("expected tax 630, got %d", breakdown.Tax)
	}
	if breakdown.GrandTotal != 1000+2500+630+7000 {
		t.Fatalf("expected grand total 11130, got %d", breakdown.GrandTotal)
	}
}

func TestComputePricingTaxRoundsHalfUp(t *testing.T) {
	breakdown, err := ComputePricing(PricingInput{
		Items: []domain.OrderItem{
			{ProductID: "prod-1", UnitPrice: 3, Quantity: 1},
		},
	}, PricingConfig{Currency: "INR", TaxRateBasisPoints: 1850})
	if err != nil {
		t.Fatalf("ComputePricing returned error: %v", err)
	}
	// 3 * 18.5% = 0.555, rounds up to 1
	if breakdown.Tax != 1 {
		t.Fatalf("expected tax 1, got %d", breakdown.Tax)
	}
}

func TestComputePricingClampsDiscountToSubtotal(t *testing.T) {
	breakdown, err := ComputePricing(PricingInput{
		Items: []domain.OrderItem{
			{ProductID: "prod-1", UnitPrice: 300, Quantity: 1},
		},
		Discount: 500,
	}, standardPricingConfig())
	if err != nil {
		t.Fatalf("ComputePricing returned error: %v", err)
	}
	if breakdown.Discount != 300 {
		t.Fatalf("expected discount clamped to 300, got %d", breakdown.Discount)
	}
	if breakdown.Tax != 0 {
		t.Fatalf("expected zero tax on empty basis, got %d", breakdown.Tax)
	}
	if breakdown.GrandTotal != 0 {
		t.Fatalf("expected zero grand total, got %d", breakdown.GrandTotal)
	}
}

func TestComputePricingRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		input PricingInput
	}{
		{name: "no items", input: PricingInput{}},
		{name: "zero quantity", input: PricingInput{
			Items: []domain.OrderItem{{ProductID: "prod-1", UnitPrice: 100, Quantity: 0}},
		}},
		{name: "negative unit price", input: PricingInput{
			Items: []domain.OrderItem{{ProductID: "prod-1", UnitPrice: -1, Quantity: 1}},
		}},
		{name: "negative discount", input: PricingInput{
			Items:    []domain.OrderItem{{ProductID: "prod-1", UnitPrice: 100, Quantity: 1}},
			Discount: -5,
		}},
		{name: "negative shipping", input: PricingInput{
			Items:          []domain.OrderItem{{ProductID: "prod-1", UnitPrice: 100, Quantity: 1}},
			ShippingCharge: -1,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ComputePricing(tc.input, standardPricingConfig()); !errors.Is(err, ErrPricingInvalidInput) {
				t.Fatalf("expected ErrPricingInvalidInput, got %v", err)
			}
		})
	}
}

func TestComputePricingDetectsOverflow(t *testing.T) {
	_, err := ComputePricing(PricingInput{
		Items: []domain.OrderItem{
			{ProductID: "prod-1", UnitPrice: math.MaxInt64 / 2, Quantity: 3},
		},
	}, standardPricingConfig())
	if !errors.Is(err, ErrPricingOverflow) {
		t.Fatalf("expected ErrPricingOverflow, got %v", err)
	}
}

func TestComputePricingIsDeterministic(t *testing.T) {
	input := PricingInput{
		Items: []domain.OrderItem{
			{ProductID: "prod-1", UnitPrice: 749, Quantity: 3},
			{ProductID: "prod-2", UnitPrice: 120, Quantity: 1},
		},
		Discount:       150,
		GiftWrap:       true,
		ShippingCharge: 4900,
	}
	first, err := ComputePricing(input, standardPricingConfig())
	if err != nil {
		t.Fatalf("ComputePricing returned error: %v", err)
	}
	second, err := ComputePricing(input, standardPricingConfig())
	if err != nil {
		t.Fatalf("ComputePricing returned error: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical breakdowns, got %+v and %+v", first, second)
	}
}
