package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalamkart/api/internal/platform/httpx"
	"github.com/kalamkart/api/internal/services"
)

const maxWebhookBodySize = 32 * 1024

// WebhookHandlers receives gateway callbacks. Routes mounted here carry no
// user authentication; the reconciler's signature check is the trust anchor,
// and an HMAC middleware can be layered on top through the router options.
type WebhookHandlers struct {
	payments services.PaymentReconciler
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(payments services.PaymentReconciler) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.paymentCallback)
}

type paymentWebhookRequest struct {
	OrderID          string `json:"order_id"`
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}

type paymentWebhookResponse struct {
	Status           string `json:"status"`
	OrderID          string `json:"order_id"`
	OrderStatus      string `json:"order_status"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

func (h *WebhookHandlers) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_unavailable", "payment verification unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req paymentWebhookRequest
	if err := decodeStrictJSON(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	result, err := h.payments.VerifyPayment(ctx, services.VerifyPaymentCommand{
		OrderID:          strings.TrimSpace(req.OrderID),
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentWebhookResponse{
		Status:           "ok",
		OrderID:          strings.TrimSpace(result.Order.ID),
		OrderStatus:      strings.TrimSpace(string(result.Order.Status)),
		AlreadyProcessed: result.AlreadyProcessed,
	})
}
