package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// razorpayAPI abstracts the SDK resource calls so tests can stub the gateway.
type razorpayAPI interface {
	CreateOrder(data map[string]interface{}) (map[string]interface{}, error)
	FetchPayment(paymentID string) (map[string]interface{}, error)
	RefundPayment(paymentID string, amount int64, data map[string]interface{}) (map[string]interface{}, error)
}

type sdkRazorpayClient struct {
	client *razorpay.Client
}

func (c sdkRazorpayClient) CreateOrder(data map[string]interface{}) (map[string]interface{}, error) {
	return c.client.Order.Create(data, nil)
}

func (c sdkRazorpayClient) FetchPayment(paymentID string) (map[string]interface{}, error) {
	return c.client.Payment.Fetch(paymentID, nil, nil)
}

func (c sdkRazorpayClient) RefundPayment(paymentID string, amount int64, data map[string]interface{}) (map[string]interface{}, error) {
	return c.client.Payment.Refund(paymentID, int(amount), data, nil)
}

// RazorpayProvider adapts the Razorpay SDK to the Provider contract.
// The SDK performs blocking HTTP calls without context support, so every
// call runs on a goroutine bounded by the caller's context deadline.
type RazorpayProvider struct {
	credentials *Credentials
	newAPI      func(keyID, keySecret string) razorpayAPI

	mu        sync.Mutex
	cachedKey string
	cachedAPI razorpayAPI
}

// RazorpayOption customises provider construction.
type RazorpayOption func(*RazorpayProvider)

// WithRazorpayAPI overrides the SDK factory, primarily for tests.
func WithRazorpayAPI(factory func(keyID, keySecret string) razorpayAPI) RazorpayOption {
	return func(p *RazorpayProvider) {
		if factory != nil {
			p.newAPI = factory
		}
	}
}

// NewRazorpayProvider constructs a Razorpay-backed Provider.
func NewRazorpayProvider(credentials *Credentials, opts ...RazorpayOption) (*RazorpayProvider, error) {
	if credentials == nil {
		return nil, errors.New("payments: razorpay provider requires credentials")
	}
	provider := &RazorpayProvider{
		credentials: credentials,
		newAPI: func(keyID, keySecret string) razorpayAPI {
			return sdkRazorpayClient{client: razorpay.NewClient(keyID, keySecret)}
		},
	}
	for _, opt := range opts {
		opt(provider)
	}
	return provider, nil
}

var _ Provider = (*RazorpayProvider)(nil)

func (p *RazorpayProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, errors.New("payments: intent amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return Intent{}, errors.New("payments: intent currency is required")
	}

	api, err := p.api(ctx)
	if err != nil {
		return Intent{}, err
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": currency,
	}
	if ref := strings.TrimSpace(req.Reference); ref != "" {
		data["receipt"] = ref
	}
	if len(req.Metadata) > 0 {
		notes := make(map[string]interface{}, len(req.Metadata))
		for k, v := range req.Metadata {
			notes[k] = v
		}
		data["notes"] = notes
	}

	body, err := callBounded(ctx, func() (map[string]interface{}, error) {
		return api.CreateOrder(data)
	})
	if err != nil {
		return Intent{}, fmt.Errorf("payments: razorpay create order: %w", err)
	}

	intentID, _ := body["id"].(string)
	if intentID == "" {
		return Intent{}, errors.New("payments: razorpay order response missing id")
	}
	amount, _ := numberToInt64(body["amount"])
	intent := Intent{
		ID:       intentID,
		Provider: "razorpay",
		Amount:   amount,
		Currency: currency,
		Raw:      body,
	}
	if createdAt, ok := numberToInt64(body["created_at"]); ok {
		intent.CreatedAt = time.Unix(createdAt, 0).UTC()
	}
	return intent, nil
}

func (p *RazorpayProvider) FetchPayment(ctx context.Context, paymentID string) (PaymentDetails, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return PaymentDetails{}, errors.New("payments: payment id is required")
	}

	api, err := p.api(ctx)
	if err != nil {
		return PaymentDetails{}, err
	}

	body, err := callBounded(ctx, func() (map[string]interface{}, error) {
		return api.FetchPayment(paymentID)
	})
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("payments: razorpay fetch payment: %w", err)
	}
	return razorpayPaymentDetails(paymentID, body), nil
}

func (p *RazorpayProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return RefundResult{}, errors.New("payments: refund payment id is required")
	}

	api, err := p.api(ctx)
	if err != nil {
		return RefundResult{}, err
	}

	var amount int64
	if req.Amount != nil {
		if *req.Amount <= 0 {
			return RefundResult{}, errors.New("payments: refund amount must be positive")
		}
		amount = *req.Amount
	}
	data := map[string]interface{}{}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		data["notes"] = map[string]interface{}{"reason": reason}
	}

	body, err := callBounded(ctx, func() (map[string]interface{}, error) {
		return api.RefundPayment(paymentID, amount, data)
	})
	if err != nil {
		return RefundResult{}, fmt.Errorf("payments: razorpay refund: %w", err)
	}

	refundID, _ := body["id"].(string)
	refundedAmount, _ := numberToInt64(body["amount"])
	return RefundResult{
		RefundID:  refundID,
		PaymentID: paymentID,
		Amount:    refundedAmount,
		Status:    StatusRefunded,
		Raw:       body,
	}, nil
}

// VerifyCallbackSignature checks the checkout callback HMAC. Razorpay signs
// the concatenation "<order_id>|<payment_id>" with the key secret using
// HMAC-SHA256 and hex encodes the digest.
func (p *RazorpayProvider) VerifyCallbackSignature(ctx context.Context, intentID, paymentID, signature string) error {
	intentID = strings.TrimSpace(intentID)
	paymentID = strings.TrimSpace(paymentID)
	signature = strings.TrimSpace(signature)
	if intentID == "" || paymentID == "" || signature == "" {
		return ErrSignatureMismatch
	}

	_, keySecret, _, err := p.credentials.Get(ctx)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(keySecret))
	mac.Write([]byte(intentID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}

func (p *RazorpayProvider) api(ctx context.Context) (razorpayAPI, error) {
	keyID, keySecret, _, err := p.credentials.Get(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cachedAPI != nil && p.cachedKey == keyID {
		return p.cachedAPI, nil
	}
	p.cachedAPI = p.newAPI(keyID, keySecret)
	p.cachedKey = keyID
	return p.cachedAPI, nil
}

func razorpayPaymentDetails(paymentID string, body map[string]interface{}) PaymentDetails {
	details := PaymentDetails{
		Provider:  "razorpay",
		PaymentID: paymentID,
		Raw:       body,
	}
	if id, ok := body["id"].(string); ok && id != "" {
		details.PaymentID = id
	}
	if orderID, ok := body["order_id"].(string); ok {
		details.IntentID = orderID
	}
	if method, ok := body["method"].(string); ok {
		details.Method = method
	}
	if currency, ok := body["currency"].(string); ok {
		details.Currency = strings.ToUpper(currency)
	}
	if amount, ok := numberToInt64(body["amount"]); ok {
		details.Amount = amount
	}

	rawStatus, _ := body["status"].(string)
	switch strings.ToLower(rawStatus) {
	case "captured":
		details.Status = StatusCaptured
		details.Captured = true
	case "authorized", "created":
		details.Status = StatusPending
	case "refunded":
		details.Status = StatusRefunded
	case "failed":
		details.Status = StatusFailed
	default:
		details.Status = StatusPending
	}
	if details.Captured {
		if capturedAt, ok := numberToInt64(body["captured_at"]); ok && capturedAt > 0 {
			t := time.Unix(capturedAt, 0).UTC()
			details.CapturedAt = &t
		}
	}
	return details
}

// callBounded runs a blocking SDK call on a goroutine and honours context
// cancellation. The SDK call itself cannot be interrupted; on timeout its
// result is discarded.
func callBounded(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	type outcome struct {
		body map[string]interface{}
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		body, err := fn()
		ch <- outcome{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		return out.body, out.err
	}
}

func numberToInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
