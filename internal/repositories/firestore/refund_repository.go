package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/kalamkart/api/internal/domain"
	pfirestore "github.com/kalamkart/api/internal/platform/firestore"
)

const refundsCollection = "refunds"

// RefundRepository persists refund entities.
type RefundRepository struct {
	provider *pfirestore.Provider
	refunds  *pfirestore.BaseRepository[refundDocument]
}

// NewRefundRepository constructs the Firestore-backed refund repository.
func NewRefundRepository(provider *pfirestore.Provider) (*RefundRepository, error) {
	if provider == nil {
		return nil, errors.New("refund repository requires firestore provider")
	}
	refunds := pfirestore.NewBaseRepository[refundDocument](provider, refundsCollection, nil, nil)
	return &RefundRepository{provider: provider, refunds: refunds}, nil
}

func (r *RefundRepository) Insert(ctx context.Context, refund domain.Refund) error {
	if r == nil || r.provider == nil {
		return errors.New("refund repository not initialised")
	}
	if strings.TrimSpace(refund.ID) == "" {
		return errors.New("refund insert: refund id is required")
	}
	doc := refundDocument{
		OrderID:         refund.OrderID,
		Kind:            string(refund.Kind),
		Amount:          refund.Amount,
		Currency:        refund.Currency,
		Reason:          refund.Reason,
		Actor:           refund.Actor,
		GatewayRefundID: refund.GatewayRefundID,
		CreatedAt:       refund.CreatedAt.UTC(),
	}
	if _, err := r.refunds.Create(ctx, refund.ID, doc); err != nil {
		return err
	}
	return nil
}

func (r *RefundRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("refund repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("refund list: order id is required")
	}

	docs, err := r.refunds.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	refunds := make([]domain.Refund, 0, len(docs))
	for _, doc := range docs {
		refunds = append(refunds, doc.Data.toDomain(doc.ID))
	}
	return refunds, nil
}

type refundDocument struct {
	OrderID         string    `firestore:"orderId"`
	Kind            string    `firestore:"kind"`
	Amount          int64     `firestore:"amount"`
	Currency        string    `firestore:"currency"`
	Reason          string    `firestore:"reason,omitempty"`
	Actor           string    `firestore:"actor"`
	GatewayRefundID string    `firestore:"gatewayRefundId,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

func (d refundDocument) toDomain(id string) domain.Refund {
	return domain.Refund{
		ID:              id,
		OrderID:         d.OrderID,
		Kind:            domain.RefundKind(d.Kind),
		Amount:          d.Amount,
		Currency:        d.Currency,
		Reason:          d.Reason,
		Actor:           d.Actor,
		GatewayRefundID: d.GatewayRefundID,
		CreatedAt:       d.CreatedAt,
	}
}
