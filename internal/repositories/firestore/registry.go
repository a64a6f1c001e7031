package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/kalamkart/api/internal/platform/firestore"
	"github.com/kalamkart/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	products *ProductRepository
	coupons  *CouponRepository
	refunds  *RefundRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every repository against the shared Firestore provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build product repository: %w", err)
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build coupon repository: %w", err)
	}
	refunds, err := NewRefundRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build refund repository: %w", err)
	}

	return &Registry{
		provider: provider,
		orders:   orders,
		products: products,
		coupons:  coupons,
		refunds:  refunds,
		health:   health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Coupons() repositories.CouponRepository   { return r.coupons }
func (r *Registry) Refunds() repositories.RefundRepository   { return r.refunds }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }
