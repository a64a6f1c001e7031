package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPCarrierCreateShipment(t *testing.T) {
	var captured createShipmentPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shipments" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(createShipmentResponse{
			TrackingNumber: "TRK123456",
			ShippingCharge: 4900,
			EstimatedDays:  3,
		})
	}))
	defer server.Close()

	carrier, err := NewHTTPCarrier(HTTPCarrierConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Name:    "bluedart",
	})
	if err != nil {
		t.Fatalf("new carrier: %v", err)
	}

	quote, err := carrier.CreateShipment(context.Background(), ShipmentRequest{
		OrderID:    "ord_01ABC",
		Recipient:  "Asha Rao",
		City:       "Bengaluru",
		PostalCode: "560001",
		Country:    "IN",
	})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}

	if quote.TrackingNumber != "TRK123456" {
		t.Fatalf("expected tracking TRK123456, got %q", quote.TrackingNumber)
	}
	if quote.Charge != 4900 {
		t.Fatalf("expected charge 4900, got %d", quote.Charge)
	}
	if quote.Carrier != "bluedart" {
		t.Fatalf("expected carrier name 'bluedart', got %q", quote.Carrier)
	}
	if captured.OrderID != "ord_01ABC" {
		t.Fatalf("expected order id in payload, got %q", captured.OrderID)
	}
}

func TestHTTPCarrierServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	carrier, err := NewHTTPCarrier(HTTPCarrierConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new carrier: %v", err)
	}

	_, err = carrier.CreateShipment(context.Background(), ShipmentRequest{
		OrderID:    "ord_01ABC",
		PostalCode: "560001",
		Country:    "IN",
	})
	if !errors.Is(err, ErrCarrierUnavailable) {
		t.Fatalf("expected ErrCarrierUnavailable, got %v", err)
	}
}

func TestHTTPCarrierRejectionIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(createShipmentResponse{Error: "unserviceable pincode"})
	}))
	defer server.Close()

	carrier, err := NewHTTPCarrier(HTTPCarrierConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new carrier: %v", err)
	}

	_, err = carrier.CreateShipment(context.Background(), ShipmentRequest{
		OrderID:    "ord_01ABC",
		PostalCode: "000000",
		Country:    "IN",
	})
	if !errors.Is(err, ErrShipmentRejected) {
		t.Fatalf("expected ErrShipmentRejected, got %v", err)
	}
}

func TestHTTPCarrierTimesOut(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	carrier, err := NewHTTPCarrier(HTTPCarrierConfig{
		BaseURL: server.URL,
		Timeout: 50 * time.Millisecond,
		Client:  &http.Client{},
	})
	if err != nil {
		t.Fatalf("new carrier: %v", err)
	}

	_, err = carrier.CreateShipment(context.Background(), ShipmentRequest{
		OrderID:    "ord_01ABC",
		PostalCode: "560001",
		Country:    "IN",
	})
	if !errors.Is(err, ErrCarrierUnavailable) {
		t.Fatalf("expected ErrCarrierUnavailable on timeout, got %v", err)
	}
}
