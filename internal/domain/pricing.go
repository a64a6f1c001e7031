package domain

// PricingBreakdown captures the monetary components of an order. Every field
// is integer minor units; GrandTotal is the amount charged at the gateway.
type PricingBreakdown struct {
	Currency       string
	Subtotal       int64
	Discount       int64
	GiftWrapCharge int64
	Tax            int64
	ShippingCharge int64
	GrandTotal     int64
}

// TaxableBasis returns the amount tax was computed over.
func (p PricingBreakdown) TaxableBasis() int64 {
	return p.Subtotal - p.Discount + p.GiftWrapCharge
}
