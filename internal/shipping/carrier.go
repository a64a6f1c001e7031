package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrCarrierUnavailable indicates the carrier API failed or timed out.
var ErrCarrierUnavailable = errors.New("shipping: carrier unavailable")

// ErrShipmentRejected indicates the carrier refused the shipment request.
var ErrShipmentRejected = errors.New("shipping: shipment rejected")

// Logger defines the logging contract for carrier operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ShipmentRequest describes the consignment to book with the carrier.
type ShipmentRequest struct {
	OrderID     string
	Recipient   string
	City        string
	State       string
	PostalCode  string
	Country     string
	WeightGrams int
	Reference   string
}

// ShipmentQuote is the carrier's booking response. Charge is integer minor
// units and becomes the order's authoritative shipping charge.
type ShipmentQuote struct {
	TrackingNumber string
	Carrier        string
	Charge         int64
	EstimatedDays  int
}

// Carrier books shipments with an external logistics provider.
type Carrier interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentQuote, error)
}

// HTTPCarrierConfig configures the HTTP carrier client.
type HTTPCarrierConfig struct {
	BaseURL string
	APIKey  string
	Name    string
	Timeout time.Duration
	Client  *http.Client
	Logger  Logger
}

const defaultCarrierTimeout = 5 * time.Second

// HTTPCarrier implements Carrier over the provider's JSON API.
type HTTPCarrier struct {
	baseURL string
	apiKey  string
	name    string
	timeout time.Duration
	client  *http.Client
	logger  Logger
}

// NewHTTPCarrier constructs the carrier client.
func NewHTTPCarrier(cfg HTTPCarrierConfig) (*HTTPCarrier, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("shipping: carrier base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("shipping: invalid carrier base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCarrierTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "carrier"
	}

	return &HTTPCarrier{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		name:    name,
		timeout: timeout,
		client:  client,
		logger:  logger,
	}, nil
}

var _ Carrier = (*HTTPCarrier)(nil)

type createShipmentPayload struct {
	OrderID     string `json:"orderId"`
	Recipient   string `json:"recipient"`
	City        string `json:"city"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postalCode"`
	Country     string `json:"country"`
	WeightGrams int    `json:"weightGrams,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

type createShipmentResponse struct {
	TrackingNumber string `json:"trackingNumber"`
	ShippingCharge int64  `json:"shippingCharge"`
	EstimatedDays  int    `json:"estimatedDays"`
	Error          string `json:"error"`
}

// CreateShipment books a consignment and returns the carrier's quote. The
// call is bounded by the configured timeout even when the caller's context
// carries a longer deadline.
func (c *HTTPCarrier) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentQuote, error) {
	if c == nil {
		return ShipmentQuote{}, errors.New("shipping: carrier not initialised")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return ShipmentQuote{}, errors.New("shipping: order id is required")
	}
	if strings.TrimSpace(req.PostalCode) == "" || strings.TrimSpace(req.Country) == "" {
		return ShipmentQuote{}, errors.New("shipping: destination postal code and country are required")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(createShipmentPayload{
		OrderID:     strings.TrimSpace(req.OrderID),
		Recipient:   strings.TrimSpace(req.Recipient),
		City:        strings.TrimSpace(req.City),
		State:       strings.TrimSpace(req.State),
		PostalCode:  strings.TrimSpace(req.PostalCode),
		Country:     strings.TrimSpace(req.Country),
		WeightGrams: req.WeightGrams,
		Reference:   strings.TrimSpace(req.Reference),
	})
	if err != nil {
		return ShipmentQuote{}, fmt.Errorf("shipping: encode shipment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/shipments", bytes.NewReader(payload))
	if err != nil {
		return ShipmentQuote{}, fmt.Errorf("shipping: build shipment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger(ctx, "shipping.carrier.unreachable", map[string]any{
			"orderId": req.OrderID,
			"error":   err.Error(),
		})
		return ShipmentQuote{}, fmt.Errorf("%w: %v", ErrCarrierUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ShipmentQuote{}, fmt.Errorf("%w: read response: %v", ErrCarrierUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return ShipmentQuote{}, fmt.Errorf("%w: carrier returned %d", ErrCarrierUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var decoded createShipmentResponse
		_ = json.Unmarshal(body, &decoded)
		if decoded.Error != "" {
			return ShipmentQuote{}, fmt.Errorf("%w: %s", ErrShipmentRejected, decoded.Error)
		}
		return ShipmentQuote{}, fmt.Errorf("%w: carrier returned %d", ErrShipmentRejected, resp.StatusCode)
	}

	var decoded createShipmentResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ShipmentQuote{}, fmt.Errorf("%w: decode response: %v", ErrCarrierUnavailable, err)
	}
	if decoded.TrackingNumber == "" {
		return ShipmentQuote{}, fmt.Errorf("%w: response missing tracking number", ErrCarrierUnavailable)
	}
	if decoded.ShippingCharge < 0 {
		return ShipmentQuote{}, fmt.Errorf("%w: negative shipping charge", ErrCarrierUnavailable)
	}

	c.logger(ctx, "shipping.carrier.shipment_created", map[string]any{
		"orderId":        req.OrderID,
		"trackingNumber": decoded.TrackingNumber,
		"shippingCharge": decoded.ShippingCharge,
	})

	return ShipmentQuote{
		TrackingNumber: decoded.TrackingNumber,
		Carrier:        c.name,
		Charge:         decoded.ShippingCharge,
		EstimatedDays:  decoded.EstimatedDays,
	}, nil
}
