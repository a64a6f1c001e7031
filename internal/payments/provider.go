package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusCreated indicates the intent exists but no payment was attempted.
	StatusCreated Status = "created"
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusCaptured indicates the gateway reports the payment as captured.
	StatusCaptured Status = "captured"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrSignatureMismatch is returned when a callback signature fails verification.
var ErrSignatureMismatch = errors.New("payments: signature mismatch")

// IntentRequest captures the payload required to create a payment intent.
// Amount is integer minor units sized to the order's grand total.
type IntentRequest struct {
	Amount         int64
	Currency       string
	Reference      string
	CustomerID     string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent represents the gateway-side order handle returned to the client.
type Intent struct {
	ID        string
	Provider  string
	Amount    int64
	Currency  string
	CreatedAt time.Time
	Raw       map[string]any
}

// RefundRequest defines a gateway refund attempt against a captured payment.
type RefundRequest struct {
	PaymentID      string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult normalises gateway refund responses.
type RefundResult struct {
	RefundID  string
	PaymentID string
	Amount    int64
	Status    Status
	Raw       map[string]any
}

// PaymentDetails normalises gateway specific payment fields. The reconciler
// treats this as the authoritative record, never the callback payload.
type PaymentDetails struct {
	Provider   string
	IntentID   string
	PaymentID  string
	Method     string
	Status     Status
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
	Raw        map[string]any
}

// Provider defines the contract for payment gateway adapters.
type Provider interface {
	// CreateIntent registers a gateway-side order sized to the given amount.
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	// FetchPayment retrieves the authoritative payment state from the gateway.
	FetchPayment(ctx context.Context, paymentID string) (PaymentDetails, error)
	// Refund issues a full or partial refund against a captured payment.
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	// VerifyCallbackSignature checks the HMAC the gateway attached to a
	// payment callback. Implementations must compare in constant time.
	VerifyCallbackSignature(ctx context.Context, intentID, paymentID, signature string) error
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["razorpay"]; ok {
		m.defaultProvider = "razorpay"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Resolve returns the provider registered under the given hints.
func (m *Manager) Resolve(ctx PaymentContext) (Provider, error) {
	_, provider, err := m.resolveProvider(ctx)
	return provider, err
}

// CreateIntent delegates to the resolved provider.
func (m *Manager) CreateIntent(ctx context.Context, paymentCtx PaymentContext, req IntentRequest) (Intent, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// FetchPayment delegates to the resolved provider.
func (m *Manager) FetchPayment(ctx context.Context, paymentCtx PaymentContext, paymentID string) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.FetchPayment(ctx, paymentID)
	if err != nil {
		return PaymentDetails{}, err
	}
	if details.Provider == "" {
		details.Provider = key
	}
	return details, nil
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (RefundResult, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return RefundResult{}, err
	}
	return provider.Refund(ctx, req)
}

// VerifyCallbackSignature delegates to the resolved provider.
func (m *Manager) VerifyCallbackSignature(ctx context.Context, paymentCtx PaymentContext, intentID, paymentID, signature string) error {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return err
	}
	return provider.VerifyCallbackSignature(ctx, intentID, paymentID, signature)
}
