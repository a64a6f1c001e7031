package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/kalamkart/api/internal/domain"
	"github.com/kalamkart/api/internal/platform/auth"
	"github.com/kalamkart/api/internal/platform/httpx"
	"github.com/kalamkart/api/internal/services"
)

const (
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxOrderBodySize      = 16 * 1024
	maxOrderSmallBodySize = 4 * 1024
)

// OrderHandlers exposes the customer-facing order lifecycle endpoints.
type OrderHandlers struct {
	authn         *auth.Authenticator
	orders        services.OrderService
	checkout      services.CheckoutService
	payments      services.PaymentReconciler
	createLimiter rateLimiter
}

// OrderOption customises OrderHandlers construction.
type OrderOption func(*OrderHandlers)

// WithOrderCreateLimit throttles order creation per caller UID.
func WithOrderCreateLimit(limit int, window time.Duration) OrderOption {
	return func(h *OrderHandlers) {
		h.createLimiter = newFixedWindowLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, checkout services.CheckoutService, payments services.PaymentReconciler, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		orders:   orders,
		checkout: checkout,
		payments: payments,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}/payment:verify", h.verifyPayment)
}

type createOrderRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	CouponCode      string          `json:"coupon_code"`
	GiftWrap        bool            `json:"gift_wrap"`
	ShippingAddress *addressPayload `json:"shipping_address"`
	BillingAddress  *addressPayload `json:"billing_address"`
	Currency        string          `json:"currency"`
	PaymentProvider string          `json:"payment_provider"`
}

type createOrderResponse struct {
	Order   orderPayload         `json:"order"`
	Payment paymentHandlePayload `json:"payment"`
}

type paymentHandlePayload struct {
	IntentID string `json:"intent_id"`
	KeyHint  string `json:"key_hint,omitempty"`
	Provider string `json:"provider,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if h.createLimiter != nil && !h.createLimiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many order attempts; slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := decodeStrictJSON(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one item is required", http.StatusBadRequest))
		return
	}
	if req.ShippingAddress == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipping_address is required", http.StatusBadRequest))
		return
	}

	lines := make([]services.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.CartLine{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	cmd := services.CreateOrderCommand{
		UserID:          identity.UID,
		Items:           lines,
		CouponCode:      strings.TrimSpace(req.CouponCode),
		GiftWrap:        req.GiftWrap,
		ShippingAddress: req.ShippingAddress.toDomain(),
		BillingAddress:  req.BillingAddress.toDomain(),
		Currency:        strings.TrimSpace(req.Currency),
		PaymentProvider: strings.TrimSpace(req.PaymentProvider),
	}

	result, err := h.checkout.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := createOrderResponse{
		Order: buildOrderPayload(result.Order),
		Payment: paymentHandlePayload{
			IntentID: result.PaymentIntent,
			KeyHint:  result.GatewayKeyHint,
			Provider: paymentProviderOf(result.Order),
		},
	}
	writeJSONResponse(w, http.StatusCreated, response)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	statuses, err := parseStatusFilters(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	actor := actorFromIdentity(identity)
	listQuery := services.OrderListQuery{
		Actor:  actor,
		UserID: identity.UID,
		Status: statuses,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if actor.Staff {
		if target := strings.TrimSpace(query.Get("user_id")); target != "" {
			listQuery.UserID = target
		}
	}

	page, err := h.orders.ListOrders(ctx, listQuery)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderSmallBodySize)
	switch {
	case err == nil:
		if err := decodeStrictJSON(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// Cancelling without a reason is allowed.
	default:
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.checkout.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actorFromIdentity(identity),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}

type verifyPaymentResponse struct {
	Order            orderPayload `json:"order"`
	AlreadyProcessed bool         `json:"already_processed"`
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_unavailable", "payment verification unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderSmallBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req verifyPaymentRequest
	if err := decodeStrictJSON(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	// Ownership check before touching the reconciler so callers cannot probe
	// other users' orders through the verification endpoint.
	if h.orders != nil {
		if _, err := h.orders.GetOrder(ctx, orderID, actorFromIdentity(identity)); err != nil {
			writeOrderError(ctx, w, err)
			return
		}
	}

	result, err := h.payments.VerifyPayment(ctx, services.VerifyPaymentCommand{
		OrderID:          orderID,
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, verifyPaymentResponse{
		Order:            buildOrderPayload(result.Order),
		AlreadyProcessed: result.AlreadyProcessed,
	})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Currency   string `json:"currency"`
	GrandTotal int64  `json:"grand_total"`
	ItemCount  int    `json:"item_count"`
	CreatedAt  string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	UserID          string                `json:"user_id"`
	Status          string                `json:"status"`
	Currency        string                `json:"currency"`
	Items           []orderItemPayload    `json:"items"`
	Pricing         pricingPayload        `json:"pricing"`
	Coupon          *appliedCouponPayload `json:"coupon,omitempty"`
	GiftWrap        bool                  `json:"gift_wrap,omitempty"`
	ShippingAddress *addressPayload       `json:"shipping_address,omitempty"`
	BillingAddress  *addressPayload       `json:"billing_address,omitempty"`
	Shipment        *shipmentPayload      `json:"shipment,omitempty"`
	Payment         *paymentPayload       `json:"payment,omitempty"`
	RefundRef       string                `json:"refund_ref,omitempty"`
	StatusHistory   []statusEntryPayload  `json:"status_history,omitempty"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at,omitempty"`
	ConfirmedAt     string                `json:"confirmed_at,omitempty"`
	ShippedAt       string                `json:"shipped_at,omitempty"`
	DeliveredAt     string                `json:"delivered_at,omitempty"`
	CancelledAt     string                `json:"cancelled_at,omitempty"`
	RefundedAt      string                `json:"refunded_at,omitempty"`
	CancelReason    *string               `json:"cancel_reason,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Category  string `json:"category,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type pricingPayload struct {
	Currency       string `json:"currency"`
	Subtotal       int64  `json:"subtotal"`
	Discount       int64  `json:"discount"`
	GiftWrapCharge int64  `json:"gift_wrap_charge"`
	Tax            int64  `json:"tax"`
	ShippingCharge int64  `json:"shipping_charge"`
	GrandTotal     int64  `json:"grand_total"`
}

type appliedCouponPayload struct {
	Code     string `json:"code"`
	Discount int64  `json:"discount"`
}

type shipmentPayload struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Charge         int64  `json:"charge"`
	EstimatedDays  int    `json:"estimated_days,omitempty"`
}

type paymentPayload struct {
	Provider   string `json:"provider"`
	IntentID   string `json:"intent_id"`
	PaymentID  string `json:"payment_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Amount     int64  `json:"amount,omitempty"`
	Currency   string `json:"currency,omitempty"`
	Status     string `json:"status,omitempty"`
	CapturedAt string `json:"captured_at,omitempty"`
}

type statusEntryPayload struct {
	Status    string `json:"status"`
	Actor     string `json:"actor,omitempty"`
	Note      string `json:"note,omitempty"`
	ChangedAt string `json:"changed_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:         strings.TrimSpace(order.ID),
		Status:     strings.TrimSpace(string(order.Status)),
		Currency:   strings.ToUpper(strings.TrimSpace(order.Currency)),
		GrandTotal: order.Pricing.GrandTotal,
		ItemCount:  len(order.Items),
		CreatedAt:  formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:       strings.TrimSpace(order.ID),
		UserID:   strings.TrimSpace(order.UserID),
		Status:   strings.TrimSpace(string(order.Status)),
		Currency: strings.ToUpper(strings.TrimSpace(order.Currency)),
		Items:    make([]orderItemPayload, 0, len(order.Items)),
		Pricing: pricingPayload{
			Currency:       strings.ToUpper(strings.TrimSpace(order.Pricing.Currency)),
			Subtotal:       order.Pricing.Subtotal,
			Discount:       order.Pricing.Discount,
			GiftWrapCharge: order.Pricing.GiftWrapCharge,
			Tax:            order.Pricing.Tax,
			ShippingCharge: order.Pricing.ShippingCharge,
			GrandTotal:     order.Pricing.GrandTotal,
		},
		GiftWrap:     order.GiftWrap,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		ConfirmedAt:  formatTime(pointerTime(order.ConfirmedAt)),
		ShippedAt:    formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:  formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:  formatTime(pointerTime(order.CancelledAt)),
		RefundedAt:   formatTime(pointerTime(order.RefundedAt)),
		CancelReason: cloneStringPointer(order.CancelReason),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Category:  strings.TrimSpace(item.Category),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
		})
	}

	if order.Coupon != nil {
		payload.Coupon = &appliedCouponPayload{
			Code:     strings.ToUpper(strings.TrimSpace(order.Coupon.Code)),
			Discount: order.Coupon.Discount,
		}
	}

	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}
	if order.BillingAddress != nil {
		addr := buildAddressPayload(*order.BillingAddress)
		payload.BillingAddress = &addr
	}

	if order.Shipment != nil {
		payload.Shipment = &shipmentPayload{
			Carrier:        strings.TrimSpace(order.Shipment.Carrier),
			TrackingNumber: strings.TrimSpace(order.Shipment.TrackingNumber),
			Charge:         order.Shipment.Charge,
			EstimatedDays:  order.Shipment.EstimatedDays,
		}
	}

	if order.Payment != nil {
		payload.Payment = &paymentPayload{
			Provider:   strings.TrimSpace(order.Payment.Provider),
			IntentID:   strings.TrimSpace(order.Payment.IntentID),
			PaymentID:  strings.TrimSpace(order.Payment.PaymentID),
			Method:     strings.TrimSpace(order.Payment.Method),
			Amount:     order.Payment.Amount,
			Currency:   strings.ToUpper(strings.TrimSpace(order.Payment.Currency)),
			Status:     strings.TrimSpace(order.Payment.Status),
			CapturedAt: formatTime(pointerTime(order.Payment.CapturedAt)),
		}
	}

	if order.RefundRef != nil {
		payload.RefundRef = strings.TrimSpace(*order.RefundRef)
	}

	if len(order.StatusHistory) > 0 {
		history := make([]statusEntryPayload, 0, len(order.StatusHistory))
		for _, entry := range order.StatusHistory {
			history = append(history, statusEntryPayload{
				Status:    strings.TrimSpace(string(entry.Status)),
				Actor:     strings.TrimSpace(entry.Actor),
				Note:      strings.TrimSpace(entry.Note),
				ChangedAt: formatTime(entry.ChangedAt),
			})
		}
		payload.StatusHistory = history
	}

	return payload
}

func paymentProviderOf(order services.Order) string {
	if order.Payment == nil {
		return ""
	}
	return strings.TrimSpace(order.Payment.Provider)
}

func actorFromIdentity(identity *auth.Identity) services.Actor {
	if identity == nil {
		return services.Actor{}
	}
	return services.Actor{
		ID:    strings.TrimSpace(identity.UID),
		Staff: identity.IsStaff(),
	}
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func parseStatusFilters(values []string) ([]services.OrderStatus, error) {
	filters := parseFilterValues(values)
	if len(filters) == 0 {
		return nil, nil
	}
	statuses := make([]services.OrderStatus, 0, len(filters))
	for _, raw := range filters {
		status := domain.OrderStatus(raw)
		if !status.Valid() {
			return nil, errors.New("status filter contains an unknown order status")
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var rejection *services.CouponRejectionError
	if errors.As(err, &rejection) {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", rejection.Message, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"code": string(rejection.Code)}))
		return
	}

	var insufficient *services.InsufficientStockError
	if errors.As(err, &insufficient) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock to reserve items", http.StatusConflict).
			WithDetails(map[string]any{
				"product_id": insufficient.ProductID,
				"requested":  insufficient.Requested,
				"available":  insufficient.Available,
			}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrReconcilerInvalidInput),
		errors.Is(err, services.ErrCouponInvalidInput),
		errors.Is(err, services.ErrOrderTrackingRequired):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrOrderForbidden):
		// Hide foreign orders behind not-found.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderIllegalTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", "order cannot move to the requested status", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order changed concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock to reserve items", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutShipmentRejected):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_rejected", "shipping address is not serviceable", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrRefundNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError("refund_not_allowed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrSignatureInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "payment signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotCaptured):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_captured", "payment is not captured at the gateway", http.StatusConflict))
	case errors.Is(err, services.ErrAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", "payment amount does not match the order total", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentIntentMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("payment_intent_mismatch", "gateway order does not belong to this order", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUpstreamUnavailable),
		errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrCouponUnavailable),
		errors.Is(err, services.ErrInventoryUnavailable),
		errors.Is(err, services.ErrReconcilerUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", "a dependency is unavailable; retry later", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
