package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/kalamkart/api/internal/domain"
	pfirestore "github.com/kalamkart/api/internal/platform/firestore"
	"github.com/kalamkart/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads catalog documents and applies inventory counter
// increments. Counter writes never read-modify-write the document; every
// mutation is a Firestore Increment so concurrent orders compose.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs the Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{provider: provider, products: products}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, errors.New("product lookup: product id is required")
		}
		refs = append(refs, client.Collection(productsCollection).Doc(id))
	}
	if len(refs) == 0 {
		return map[string]domain.Product{}, nil
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.getall", err)
	}

	products := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return products, nil
}

// ApplyCounterDeltas issues one increment update per product. The batch is
// best-effort: on the first failure the already applied deltas are returned
// with the error so the caller can issue compensating increments.
func (r *ProductRepository) ApplyCounterDeltas(ctx context.Context, deltas []repositories.ProductCounterDelta) ([]repositories.ProductCounterDelta, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	applied := make([]repositories.ProductCounterDelta, 0, len(deltas))
	for _, delta := range deltas {
		productID := strings.TrimSpace(delta.ProductID)
		if productID == "" {
			return applied, repositories.NewInventoryError(repositories.InventoryErrorUnknown, "counter delta: product id is required", nil)
		}
		if delta.AvailableQty == 0 && delta.UnitsSold == 0 {
			continue
		}

		updates := make([]firestore.Update, 0, 3)
		if delta.AvailableQty != 0 {
			updates = append(updates, firestore.Update{Path: "availableQty", Value: firestore.Increment(delta.AvailableQty)})
		}
		if delta.UnitsSold != 0 {
			updates = append(updates, firestore.Update{Path: "unitsSold", Value: firestore.Increment(delta.UnitsSold)})
		}
		updates = append(updates, firestore.Update{Path: "updatedAt", Value: time.Now().UTC()})

		if _, err := r.products.Update(ctx, productID, updates); err != nil {
			return applied, wrapCounterError(productID, err)
		}
		applied = append(applied, delta)
	}
	return applied, nil
}

func (r *ProductRepository) ReadCounters(ctx context.Context, productIDs []string) (map[string]repositories.ProductCounters, error) {
	products, err := r.FindByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	counters := make(map[string]repositories.ProductCounters, len(products))
	for id, product := range products {
		counters[id] = repositories.ProductCounters{
			AvailableQty: product.AvailableQty,
			UnitsSold:    product.UnitsSold,
		}
	}
	return counters, nil
}

func wrapCounterError(productID string, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
	}
	return repositories.NewInventoryError(repositories.InventoryErrorPartialWrite, fmt.Sprintf("counter update for %s failed", productID), err)
}

type productDocument struct {
	Name         string    `firestore:"name"`
	Category     string    `firestore:"category,omitempty"`
	UnitPrice    int64     `firestore:"unitPrice"`
	Currency     string    `firestore:"currency"`
	Active       bool      `firestore:"active"`
	AvailableQty int64     `firestore:"availableQty"`
	UnitsSold    int64     `firestore:"unitsSold"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:           id,
		Name:         d.Name,
		Category:     d.Category,
		UnitPrice:    d.UnitPrice,
		Currency:     d.Currency,
		Active:       d.Active,
		AvailableQty: d.AvailableQty,
		UnitsSold:    d.UnitsSold,
		UpdatedAt:    d.UpdatedAt,
	}
}
