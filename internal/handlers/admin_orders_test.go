package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/kalamkart/api/internal/domain"
	"github.com/kalamkart/api/internal/platform/auth"
	"github.com/kalamkart/api/internal/services"
)

func newAdminRouter(orders services.OrderService, checkout services.CheckoutService) chi.Router {
	handler := NewAdminOrderHandlers(nil, orders, checkout)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func TestAdminOrderHandlersTransitionShipped(t *testing.T) {
	now := time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC)

	var captured services.TransitionCommand
	orders := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.TransitionCommand) (services.Order, []services.OrderEvent, error) {
			captured = cmd
			order := sampleOrder(now)
			order.Status = domain.OrderStatusShipped
			return order, nil, nil
		},
	}
	router := newAdminRouter(orders, nil)

	payload := `{"target": "shipped", "note": "left warehouse", "tracking": {"carrier": "bluedart", "tracking_number": "BD123"}}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01HV2:transition", strings.NewReader(payload)), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_01HV2" || captured.Target != domain.OrderStatusShipped {
		t.Fatalf("unexpected transition command: %+v", captured)
	}
	if captured.Note != "left warehouse" {
		t.Fatalf("unexpected note %q", captured.Note)
	}
	if captured.Tracking == nil || captured.Tracking.Carrier != "bluedart" || captured.Tracking.TrackingNumber != "BD123" {
		t.Fatalf("expected tracking to be forwarded, got %+v", captured.Tracking)
	}
	if !captured.Actor.Staff || captured.Actor.ID != "staff-1" {
		t.Fatalf("unexpected actor %+v", captured.Actor)
	}

	var body struct {
		Order struct {
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Order.Status != "shipped" {
		t.Fatalf("expected shipped order, got %q", body.Order.Status)
	}
}

func TestAdminOrderHandlersTransitionUnknownStatus(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, nil)

	payload := `{"target": "teleported"}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01HV2:transition", strings.NewReader(payload)), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersTransitionRejectsUnknownFields(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, nil)

	payload := `{"target": "confirmed", "force": true}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01HV2:transition", strings.NewReader(payload)), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersTransitionMissingTracking(t *testing.T) {
	orders := &stubOrderService{
		transitionFn: func(context.Context, services.TransitionCommand) (services.Order, []services.OrderEvent, error) {
			return services.Order{}, nil, services.ErrOrderTrackingRequired
		},
	}
	router := newAdminRouter(orders, nil)

	payload := `{"target": "shipped"}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01HV2:transition", strings.NewReader(payload)), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersTransitionIllegal(t *testing.T) {
	orders := &stubOrderService{
		transitionFn: func(context.Context, services.TransitionCommand) (services.Order, []services.OrderEvent, error) {
			return services.Order{}, nil, services.ErrOrderIllegalTransition
		},
	}
	router := newAdminRouter(orders, nil)

	payload := `{"target": "delivered"}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01HV2:transition", strings.NewReader(payload)), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "order_invalid_state" {
		t.Fatalf("expected order_invalid_state, got %v", body["error"])
	}
}

func TestAdminOrderHandlersListOrdersByUser(t *testing.T) {
	now := time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC)

	var captured services.OrderListQuery
	orders := &stubOrderService{
		listFn: func(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
			captured = query
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder(now)}}, nil
		},
	}
	router := newAdminRouter(orders, nil)

	req := withUser(httptest.NewRequest(http.MethodGet, "/admin/orders?user_id=user-9&status=confirmed", nil), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-9" {
		t.Fatalf("expected user filter, got %q", captured.UserID)
	}
	if !captured.Actor.Staff {
		t.Fatalf("expected staff actor")
	}
}

func TestAdminOrderHandlersRefundFull(t *testing.T) {
	now := time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC)

	var captured services.RefundOrderCommand
	checkout := &stubCheckoutService{
		refundFn: func(ctx context.Context, cmd services.RefundOrderCommand) (services.RefundOrderResult, error) {
			captured = cmd
			order := sampleOrder(now)
			order.Status = domain.OrderStatusRefunded
			return services.RefundOrderResult{
				Order: order,
				Refund: services.Refund{
					ID:              "ref_01",
					OrderID:         order.ID,
					Kind:            domain.RefundKindFull,
					Amount:          95580,
					Currency:        "INR",
					Reason:          "damaged in transit",
					GatewayRefundID: "rfnd_789",
					CreatedAt:       now,
				},
			}, nil
		},
	}
	router := newAdminRouter(nil, checkout)

	payload := `{"amount": 95580, "reason": "damaged in transit"}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01HV2:refund", strings.NewReader(payload)), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_01HV2" || captured.Amount != 95580 || captured.Reason != "damaged in transit" {
		t.Fatalf("unexpected refund command: %+v", captured)
	}

	var body struct {
		Order struct {
			Status string `json:"status"`
		} `json:"order"`
		Refund struct {
			ID              string `json:"id"`
			Kind            string `json:"kind"`
			Amount          int64  `json:"amount"`
			GatewayRefundID string `json:"gateway_refund_id"`
		} `json:"refund"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Order.Status != "refunded" {
		t.Fatalf("expected refunded order, got %q", body.Order.Status)
	}
	if body.Refund.ID != "ref_01" || body.Refund.Kind != "full" || body.Refund.Amount != 95580 || body.Refund.GatewayRefundID != "rfnd_789" {
		t.Fatalf("unexpected refund payload: %+v", body.Refund)
	}
}

func TestAdminOrderHandlersRefundRejectsNonPositiveAmount(t *testing.T) {
	router := newAdminRouter(nil, &stubCheckoutService{})

	payload := `{"amount": 0}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01HV2:refund", strings.NewReader(payload)), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersRefundNotAllowed(t *testing.T) {
	checkout := &stubCheckoutService{
		refundFn: func(context.Context, services.RefundOrderCommand) (services.RefundOrderResult, error) {
			return services.RefundOrderResult{}, services.ErrRefundNotAllowed
		},
	}
	router := newAdminRouter(nil, checkout)

	payload := `{"amount": 100}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01HV2:refund", strings.NewReader(payload)), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "refund_not_allowed" {
		t.Fatalf("expected refund_not_allowed, got %v", body["error"])
	}
}
