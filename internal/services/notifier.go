package services

import (
	"context"
	"errors"
	"time"
)

// Order event types emitted by the lifecycle services.
const (
	OrderEventCreated         = "order.created"
	OrderEventStatusChanged   = "order.status_changed"
	OrderEventPaymentVerified = "order.payment_verified"
	OrderEventRefundRecorded  = "order.refund_recorded"
)

// OrderEvent describes a lifecycle fact for downstream consumers such as
// notification workers.
type OrderEvent struct {
	Type       string
	OrderID    string
	UserID     string
	Status     OrderStatus
	OccurredAt time.Time
	Metadata   map[string]any
}

// EventPublisher delivers order events to an external channel.
type EventPublisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

// ErrNotifierPublisherMissing indicates the notifier was constructed without a publisher.
var ErrNotifierPublisherMissing = errors.New("notifier: publisher is not configured")

// NotifierDeps bundles dependencies required to construct a Notifier.
type NotifierDeps struct {
	Publisher EventPublisher
	Logger    Logger
	Timeout   time.Duration
}

// Notifier dispatches order events fire-and-forget. Publish failures are
// logged and never surfaced to the caller, so notification outages cannot
// roll back order state.
type Notifier struct {
	publisher EventPublisher
	logger    Logger
	timeout   time.Duration
}

// NewNotifier wires a Notifier over the given publisher.
func NewNotifier(deps NotifierDeps) (*Notifier, error) {
	if deps.Publisher == nil {
		return nil, ErrNotifierPublisherMissing
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{publisher: deps.Publisher, logger: logger, timeout: timeout}, nil
}

// Dispatch publishes each event in order. The request context's cancellation
// is detached so an already-answered request cannot abort delivery.
func (n *Notifier) Dispatch(ctx context.Context, events []OrderEvent) {
	if n == nil || n.publisher == nil || len(events) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, event := range events {
		publishCtx, cancel := context.WithTimeout(base, n.timeout)
		err := n.publisher.Publish(publishCtx, event)
		cancel()
		if err != nil {
			n.logger(ctx, "notifier.publish_failed", map[string]any{
				"type":    event.Type,
				"orderId": event.OrderID,
				"error":   err.Error(),
			})
			continue
		}
		n.logger(ctx, "notifier.published", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
		})
	}
}
