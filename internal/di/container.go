package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kalamkart/api/internal/payments"
	"github.com/kalamkart/api/internal/platform/config"
	"github.com/kalamkart/api/internal/repositories"
	"github.com/kalamkart/api/internal/services"
	"github.com/kalamkart/api/internal/shipping"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Coupons    services.CouponValidator
	Inventory  services.InventoryLedger
	Orders     services.OrderService
	Checkout   services.CheckoutService
	Reconciler services.PaymentReconciler
	Notifier   *services.Notifier
	System     services.SystemService
}

// Dependencies carries the externally constructed collaborators the container
// cannot build itself: gateway credentials resolution, the shipping carrier,
// the event publisher, and observability hooks. Tests substitute fakes here.
type Dependencies struct {
	Secrets   payments.SecretResolver
	Gateway   *payments.Manager
	Carrier   shipping.Carrier
	Publisher services.EventPublisher
	Logger    services.Logger
	Clock     func() time.Time
	Build     services.BuildInfo
}

// Container wires repositories, services, and gateway infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and stub gateways.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	gateway := deps.Gateway
	if gateway == nil {
		built, err := buildGateway(cfg, deps.Secrets, logger)
		if err != nil {
			return Services{}, err
		}
		gateway = built
	}

	carrier := deps.Carrier
	if carrier == nil {
		httpCarrier, err := shipping.NewHTTPCarrier(shipping.HTTPCarrierConfig{
			BaseURL: cfg.Carrier.BaseURL,
			APIKey:  cfg.Carrier.APIKey,
			Timeout: cfg.Carrier.Timeout,
			Logger:  shipping.Logger(logger),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build shipping carrier: %w", err)
		}
		carrier = httpCarrier
	}

	if deps.Publisher != nil {
		notifier, err := services.NewNotifier(services.NotifierDeps{
			Publisher: deps.Publisher,
			Logger:    logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notifier: %w", err)
		}
		svc.Notifier = notifier
	}

	ledger, err := services.NewInventoryLedger(services.InventoryLedgerDeps{
		Products: reg.Products(),
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory ledger: %w", err)
	}
	svc.Inventory = ledger

	coupons, err := services.NewCouponValidator(services.CouponValidatorDeps{
		Coupons: reg.Coupons(),
		Orders:  reg.Orders(),
		Clock:   clock,
		Logger:  logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon validator: %w", err)
	}
	if !cfg.Features.EnableCoupons {
		coupons = disabledCouponValidator{}
	}
	svc.Coupons = coupons

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: reg.Orders(),
		Ledger: ledger,
		Clock:  clock,
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:       reg.Orders(),
		Products:     reg.Products(),
		Refunds:      reg.Refunds(),
		Coupons:      coupons,
		Ledger:       ledger,
		OrderService: orders,
		Gateway:      gateway,
		Carrier:      carrier,
		Notifier:     svc.Notifier,
		Pricing: services.PricingConfig{
			Currency:           cfg.Pricing.Currency,
			TaxRateBasisPoints: cfg.Pricing.TaxRateBasisPoints,
			GiftWrapCharge:     cfg.Pricing.GiftWrapCharge,
		},
		GatewayKeyHint: cfg.Gateway.KeyHint,
		GatewayTimeout: cfg.Gateway.IntentTimeout,
		IDGenerator:    func() string { return ulid.Make().String() },
		Clock:          clock,
		Logger:         logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:       reg.Orders(),
		Coupons:      reg.Coupons(),
		OrderService: orders,
		Ledger:       ledger,
		Gateway:      gateway,
		Clock:        clock,
		Logger:       logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment reconciler: %w", err)
	}
	svc.Reconciler = reconciler

	if healthRepo := reg.Health(); healthRepo != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}

func buildGateway(cfg config.Config, resolver payments.SecretResolver, logger services.Logger) (*payments.Manager, error) {
	if resolver == nil {
		return nil, errors.New("payments secret resolver is required")
	}

	credentials, err := payments.NewCredentials(resolver, payments.CredentialsConfig{
		KeyIDRef:         cfg.Gateway.RazorpayKeyIDRef,
		KeySecretRef:     cfg.Gateway.RazorpayKeySecretRef,
		WebhookSecretRef: cfg.Gateway.RazorpayWebhookSecretRef,
		TTL:              cfg.Gateway.CredentialTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("build gateway credentials: %w", err)
	}

	razorpay, err := payments.NewRazorpayProvider(credentials)
	if err != nil {
		return nil, fmt.Errorf("build razorpay provider: %w", err)
	}

	providers := map[string]payments.Provider{"razorpay": razorpay}
	opts := []payments.ManagerOption{payments.WithDefaultProvider("razorpay")}

	if cfg.Features.EnableStripeFallback && cfg.Gateway.StripeAPIKey != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Gateway.StripeAPIKey,
			Logger: payments.StripeLogger(logger),
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers["stripe"] = stripe
		opts = append(opts, payments.WithCurrencyRoutes(map[string]string{
			"USD": "stripe",
			"EUR": "stripe",
		}))
	}

	return payments.NewManager(providers, opts...)
}

// disabledCouponValidator refuses every code while the coupon feature flag is off.
type disabledCouponValidator struct{}

func (disabledCouponValidator) Validate(_ context.Context, cmd services.ValidateCouponCommand) (services.CouponValidation, error) {
	return services.CouponValidation{}, &services.CouponRejectionError{
		Code:    services.CouponRejectionInactive,
		Message: "coupons are not currently available",
	}
}

func (disabledCouponValidator) PreviewDiscount(_ context.Context, cmd services.PreviewDiscountCommand) (services.CouponValidation, error) {
	return services.CouponValidation{}, &services.CouponRejectionError{
		Code:    services.CouponRejectionInactive,
		Message: "coupons are not currently available",
	}
}

func (disabledCouponValidator) ListActiveCoupons(context.Context) ([]services.Coupon, error) {
	return nil, nil
}
