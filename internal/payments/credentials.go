package payments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// SecretResolver resolves secret references into their current values.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

const defaultCredentialTTL = 10 * time.Minute

// Credentials lazily resolves and caches gateway credentials. Values are
// refreshed after the TTL elapses so rotated secrets are picked up without
// a restart, and every access goes through the holder rather than reading
// environment state directly.
type Credentials struct {
	resolver SecretResolver
	keyRef   string
	secret   string
	webhook  string
	ttl      time.Duration
	clock    func() time.Time

	mu        sync.Mutex
	cached    credentialSet
	expiresAt time.Time
}

type credentialSet struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// CredentialsConfig describes the secret references backing one gateway.
type CredentialsConfig struct {
	KeyIDRef         string
	KeySecretRef     string
	WebhookSecretRef string
	TTL              time.Duration
	Clock            func() time.Time
}

// NewCredentials constructs a credential holder over the given resolver.
func NewCredentials(resolver SecretResolver, cfg CredentialsConfig) (*Credentials, error) {
	if resolver == nil {
		return nil, errors.New("payments: secret resolver is required")
	}
	keyRef := strings.TrimSpace(cfg.KeyIDRef)
	secretRef := strings.TrimSpace(cfg.KeySecretRef)
	if keyRef == "" || secretRef == "" {
		return nil, errors.New("payments: key id and key secret references are required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCredentialTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Credentials{
		resolver: resolver,
		keyRef:   keyRef,
		secret:   secretRef,
		webhook:  strings.TrimSpace(cfg.WebhookSecretRef),
		ttl:      ttl,
		clock:    func() time.Time { return clock().UTC() },
	}, nil
}

// Get returns the cached credential set, refreshing it when stale.
func (c *Credentials) Get(ctx context.Context) (KeyID, KeySecret, WebhookSecret string, err error) {
	if c == nil {
		return "", "", "", errors.New("payments: credentials not initialised")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if now.Before(c.expiresAt) && c.cached.KeyID != "" {
		return c.cached.KeyID, c.cached.KeySecret, c.cached.WebhookSecret, nil
	}

	set, err := c.resolve(ctx)
	if err != nil {
		// Serve the stale set if one exists; a rotation in flight should
		// not take payment processing down with it.
		if c.cached.KeyID != "" {
			return c.cached.KeyID, c.cached.KeySecret, c.cached.WebhookSecret, nil
		}
		return "", "", "", err
	}

	c.cached = set
	c.expiresAt = now.Add(c.ttl)
	return set.KeyID, set.KeySecret, set.WebhookSecret, nil
}

// Invalidate drops the cached set so the next access re-resolves.
func (c *Credentials) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Credentials) resolve(ctx context.Context) (credentialSet, error) {
	keyID, err := c.resolver.Resolve(ctx, c.keyRef)
	if err != nil {
		return credentialSet{}, err
	}
	keySecret, err := c.resolver.Resolve(ctx, c.secret)
	if err != nil {
		return credentialSet{}, err
	}
	set := credentialSet{
		KeyID:     strings.TrimSpace(keyID),
		KeySecret: strings.TrimSpace(keySecret),
	}
	if set.KeyID == "" || set.KeySecret == "" {
		return credentialSet{}, errors.New("payments: resolved credentials are empty")
	}
	if c.webhook != "" {
		webhook, err := c.resolver.Resolve(ctx, c.webhook)
		if err != nil {
			return credentialSet{}, err
		}
		set.WebhookSecret = strings.TrimSpace(webhook)
	}
	return set, nil
}
