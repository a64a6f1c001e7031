package services

import (
	"errors"
	"fmt"
	"math"

	domain "github.com/kalamkart/api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals bad request data such as missing items or negative prices.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingOverflow is returned when an amount would exceed int64 range.
	ErrPricingOverflow = errors.New("pricing: amount overflow")
)

// PricingConfig carries the static rates the calculator applies.
// TaxRateBasisPoints expresses the tax rate in hundredths of a percent
// (1800 = 18%). GiftWrapCharge is integer minor units.
type PricingConfig struct {
	Currency           string
	TaxRateBasisPoints int64
	GiftWrapCharge     int64
}

// PricingInput is everything ComputePricing needs. Discount must already be
// validated against the coupon rules; ShippingCharge comes from the carrier.
type PricingInput struct {
	Items          []domain.OrderItem
	Discount       int64
	GiftWrap       bool
	ShippingCharge int64
}

// ComputePricing derives the full monetary breakdown for an order. It is a
// pure function: identical inputs always produce identical breakdowns, and
// no field is read from anywhere but the arguments.
//
// The tax basis is subtotal minus discount plus the gift wrap charge; the
// shipping charge is never taxed. Tax rounds half up on the basis points
// product. A discount larger than the subtotal is clamped so totals can
// never go negative.
func ComputePricing(input PricingInput, cfg PricingConfig) (domain.PricingBreakdown, error) {
	if len(input.Items) == 0 {
		return domain.PricingBreakdown{}, fmt.Errorf("%w: at least one item is required", ErrPricingInvalidInput)
	}
	if input.Discount < 0 {
		return domain.PricingBreakdown{}, fmt.Errorf("%w: discount must not be negative", ErrPricingInvalidInput)
	}
	if input.ShippingCharge < 0 {
		return domain.PricingBreakdown{}, fmt.Errorf("%w: shipping charge must not be negative", ErrPricingInvalidInput)
	}
	if cfg.TaxRateBasisPoints < 0 {
		return domain.PricingBreakdown{}, fmt.Errorf("%w: tax rate must not be negative", ErrPricingInvalidInput)
	}

	var subtotal int64
	for i, item := range input.Items {
		if item.Quantity <= 0 {
			return domain.PricingBreakdown{}, fmt.Errorf("%w: item %d quantity must be positive", ErrPricingInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return domain.PricingBreakdown{}, fmt.Errorf("%w: item %d unit price must not be negative", ErrPricingInvalidInput, i)
		}
		quantity := int64(item.Quantity)
		if item.UnitPrice > 0 && item.UnitPrice > math.MaxInt64/quantity {
			return domain.PricingBreakdown{}, fmt.Errorf("%w: item %d", ErrPricingOverflow, i)
		}
		lineTotal := item.UnitPrice * quantity
		if subtotal > math.MaxInt64-lineTotal {
			return domain.PricingBreakdown{}, fmt.Errorf("%w: subtotal", ErrPricingOverflow)
		}
		subtotal += lineTotal
	}

	discount := input.Discount
	if discount > subtotal {
		discount = subtotal
	}

	var giftWrapCharge int64
	if input.GiftWrap {
		giftWrapCharge = cfg.GiftWrapCharge
	}

	basis := subtotal - discount + giftWrapCharge
	tax, err := taxOf(basis, cfg.TaxRateBasisPoints)
	if err != nil {
		return domain.PricingBreakdown{}, err
	}

	total := basis
	for _, component := range []int64{tax, input.ShippingCharge} {
		if total > math.MaxInt64-component {
			return domain.PricingBreakdown{}, fmt.Errorf("%w: grand total", ErrPricingOverflow)
		}
		total += component
	}

	return domain.PricingBreakdown{
		Currency:       cfg.Currency,
		Subtotal:       subtotal,
		Discount:       discount,
		GiftWrapCharge: giftWrapCharge,
		Tax:            tax,
		ShippingCharge: input.ShippingCharge,
		GrandTotal:     total,
	}, nil
}

// taxOf applies the basis-point rate with round-half-up semantics.
func taxOf(basis, rateBasisPoints int64) (int64, error) {
	if basis == 0 || rateBasisPoints == 0 {
		return 0, nil
	}
	if basis > math.MaxInt64/rateBasisPoints {
		return 0, fmt.Errorf("%w: tax", ErrPricingOverflow)
	}
	product := basis * rateBasisPoints
	if product > math.MaxInt64-5000 {
		return 0, fmt.Errorf("%w: tax", ErrPricingOverflow)
	}
	return (product + 5000) / 10000, nil
}

// roundHalfUpPercent computes amount*percent/100 rounding half up. Coupon
// percentage discounts share this rounding rule with the tax calculation.
func roundHalfUpPercent(amount, percent int64) (int64, error) {
	if amount == 0 || percent == 0 {
		return 0, nil
	}
	if amount > math.MaxInt64/percent {
		return 0, fmt.Errorf("%w: percentage discount", ErrPricingOverflow)
	}
	product := amount * percent
	if product > math.MaxInt64-50 {
		return 0, fmt.Errorf("%w: percentage discount", ErrPricingOverflow)
	}
	return (product + 50) / 100, nil
}
