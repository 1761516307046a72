// Package devauth provides a config-driven IdentityProvider for local development.
package devauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/ports"
)

// Config controls the dev identity. DisplayName is optional.
type Config struct {
	Subject         string
	Email           string
	DisplayName     string
	SessionDuration time.Duration // default 8h when zero
	Now             func() time.Time
}

// Provider implements ports.IdentityProvider for local development.
// Begin redirects straight back to our own callback and Exchange returns the configured identity.
type Provider struct {
	identity        domainauth.Identity
	sessionDuration time.Duration
	now             func() time.Time

	mu     sync.Mutex
	nonces map[string]string // state -> nonce
}

var _ ports.IdentityProvider = (*Provider)(nil)

// NewProvider constructs a dev auth provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Subject == "" {
		return nil, errors.New("dev auth: Subject is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	dur := cfg.SessionDuration
	if dur == 0 {
		dur = 8 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{
		identity: domainauth.Identity{
			Subject:     cfg.Subject,
			Email:       cfg.Email,
			DisplayName: cfg.DisplayName,
		},
		sessionDuration: dur,
		now:             now,
		nonces:          make(map[string]string),
	}, nil
}

// Begin returns a local callback URL and cryptographically secure state and nonce.
func (p *Provider) Begin(_ context.Context, _ ports.BeginInput) (string, string, string, error) {
	state, err := randomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}

	p.mu.Lock()
	p.nonces[state] = nonce
	p.mu.Unlock()

	q := url.Values{"code": {"dev"}, "state": {state}}
	return "/auth/callback?" + q.Encode(), state, nonce, nil
}

// Exchange returns the dev identity once per Begin. The state must have been issued by
// Begin and the nonce must match it.
func (p *Provider) Exchange(_ context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	p.mu.Lock()
	want, ok := p.nonces[in.State]
	delete(p.nonces, in.State)
	p.mu.Unlock()

	if !ok {
		return domainauth.Identity{}, errors.New("dev auth: unknown state")
	}
	if want != in.Nonce {
		return domainauth.Identity{}, errors.New("dev auth: invalid nonce")
	}

	id := p.identity
	id.ExpiresAt = p.now().Add(p.sessionDuration)
	return id, nil
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	b := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := base64.RawURLEncoding.EncodeToString(b)
	if len(s) < n {
		extra := make([]byte, 1)
		if _, err := rand.Read(extra); err != nil {
			return "", err
		}
		s += base64.RawURLEncoding.EncodeToString(extra)
	}
	return s[:n], nil
}
