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

	"github.com/kalamkart/api/internal/services"
)

func newWebhookRouter(payments services.PaymentReconciler) chi.Router {
	handler := NewWebhookHandlers(payments)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func TestWebhookHandlersPaymentCallback(t *testing.T) {
	now := time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC)

	var captured services.VerifyPaymentCommand
	reconciler := &stubPaymentReconciler{
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
			captured = cmd
			return services.VerifyPaymentResult{Order: sampleOrder(now)}, nil
		},
	}
	router := newWebhookRouter(reconciler)

	payload := `{"order_id": "ord_01HV2", "razorpay_order_id": "order_rzp_123", "razorpay_payment_id": "pay_456", "razorpay_signature": "deadbeef"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_01HV2" || captured.GatewayPaymentID != "pay_456" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var body struct {
		Status      string `json:"status"`
		OrderID     string `json:"order_id"`
		OrderStatus string `json:"order_status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Status != "ok" || body.OrderID != "ord_01HV2" || body.OrderStatus != "confirmed" {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestWebhookHandlersPaymentCallbackRejectsUnknownFields(t *testing.T) {
	reconciler := &stubPaymentReconciler{
		verifyFn: func(context.Context, services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
			t.Fatalf("reconciler must not run for an unrecognised payload")
			return services.VerifyPaymentResult{}, nil
		},
	}
	router := newWebhookRouter(reconciler)

	payload := `{"order_id": "ord_01HV2", "razorpay_order_id": "order_rzp_123", "razorpay_payment_id": "pay_456", "razorpay_signature": "deadbeef", "amount": 1180}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersPaymentCallbackAmountMismatch(t *testing.T) {
	reconciler := &stubPaymentReconciler{
		verifyFn: func(context.Context, services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
			return services.VerifyPaymentResult{}, services.ErrAmountMismatch
		},
	}
	router := newWebhookRouter(reconciler)

	payload := `{"order_id": "ord_01HV2", "razorpay_order_id": "order_rzp_123", "razorpay_payment_id": "pay_456", "razorpay_signature": "deadbeef"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "amount_mismatch" {
		t.Fatalf("expected amount_mismatch, got %v", body["error"])
	}
}

func TestWebhookHandlersPaymentCallbackRetryable(t *testing.T) {
	reconciler := &stubPaymentReconciler{
		verifyFn: func(context.Context, services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
			return services.VerifyPaymentResult{}, services.ErrReconcilerUnavailable
		},
	}
	router := newWebhookRouter(reconciler)

	payload := `{"order_id": "ord_01HV2", "razorpay_order_id": "order_rzp_123", "razorpay_payment_id": "pay_456", "razorpay_signature": "deadbeef"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
