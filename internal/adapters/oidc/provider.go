// Package oidc signs actors in through an OpenID Connect provider.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/ports"
)

// Default claim expressions. Each is a JMESPath expression evaluated against the merged
// ID token and UserInfo claims.
const (
	DefaultSubjectClaim = "sub"
	DefaultEmailClaim   = "email || mail"
	DefaultNameClaim    = "name || preferred_username || given_name"
)

// Provider implements ports.IdentityProvider using OIDC/OAuth2.
type Provider struct {
	config     *oauth2.Config
	httpClient *http.Client

	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier

	subject jmespath.JMESPath
	email   jmespath.JMESPath
	name    jmespath.JMESPath
}

var _ ports.IdentityProvider = (*Provider)(nil)

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	DiscoveryURL string
	// SubjectClaim, EmailClaim and NameClaim are JMESPath expressions; empty selects the default.
	SubjectClaim string
	EmailClaim   string
	NameClaim    string
	HTTPClient   *http.Client // Optional, defaults to a client with a 30s timeout
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// NewProvider creates a new OIDC provider. It fetches the discovery document once.
func NewProvider(config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if config.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	p := &Provider{httpClient: config.HTTPClient}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	var err error
	if p.subject, err = compileClaim("subject", config.SubjectClaim, DefaultSubjectClaim); err != nil {
		return nil, err
	}
	if p.email, err = compileClaim("email", config.EmailClaim, DefaultEmailClaim); err != nil {
		return nil, err
	}
	if p.name, err = compileClaim("name", config.NameClaim, DefaultNameClaim); err != nil {
		return nil, err
	}

	ctx := p.clientContext(context.Background())
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	p.oidcProvider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: config.ClientID})

	p.config = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURL,
		Scopes:       strings.Fields(config.Scope),
		Endpoint:     op.Endpoint(),
	}
	if !slices.Contains(p.config.Scopes, gooidc.ScopeOpenID) {
		p.config.Scopes = append([]string{gooidc.ScopeOpenID}, p.config.Scopes...)
	}

	return p, nil
}

func compileClaim(name, expr, fallback string) (jmespath.JMESPath, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = fallback
	}
	compiled, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s claim expression %q: %w", name, expr, err)
	}
	return compiled, nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// Begin returns the provider's authorization URL along with a fresh state and nonce.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (string, string, string, error) {
	if in.RedirectURL == "" {
		return "", "", "", errors.New("redirect URL is required")
	}
	state, err := generateRandomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := generateRandomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}

	authURL := p.config.AuthCodeURL(state,
		gooidc.Nonce(nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	return authURL, state, nonce, nil
}

// Exchange redeems the authorization code, verifies the ID token and its nonce, and maps
// the claims to an Identity. UserInfo fills claims the ID token lacks.
func (p *Provider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if in.Code == "" {
		return domainauth.Identity{}, errors.New("authorization code is required")
	}
	if in.Nonce == "" {
		return domainauth.Identity{}, errors.New("nonce is required")
	}
	ctx = p.clientContext(ctx)

	token, err := p.config.Exchange(ctx, in.Code)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("exchange code for token: %w", err)
	}

	claims, err := p.verifyIDToken(ctx, token, in.Nonce)
	if err != nil {
		return domainauth.Identity{}, err
	}

	id := p.identityFromClaims(claims)
	if id.Email == "" || id.Subject == "" {
		if mergeErr := p.mergeUserInfo(ctx, token, claims); mergeErr != nil {
			return domainauth.Identity{}, fmt.Errorf("get user info: %w", mergeErr)
		}
		id = p.identityFromClaims(claims)
	}
	if id.Email == "" {
		return domainauth.Identity{}, errors.New("identity has no email claim")
	}

	id.ExpiresAt = time.Now().Add(time.Hour)
	if !token.Expiry.IsZero() {
		id.ExpiresAt = token.Expiry
	}
	return id, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, tok *oauth2.Token, nonce string) (map[string]any, error) {
	rawID, err := idTokenFrom(tok)
	if err != nil {
		return nil, err
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	if idTok.Nonce != nonce {
		return nil, errors.New("invalid nonce")
	}
	claims := map[string]any{}
	if err := idTok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id_token claims: %w", err)
	}
	return claims, nil
}

func idTokenFrom(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return "", errors.New("missing id_token in token response")
	}
	return raw, nil
}

// mergeUserInfo adds UserInfo claims that are absent from claims.
func (p *Provider) mergeUserInfo(ctx context.Context, tok *oauth2.Token, claims map[string]any) error {
	ui, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}
	extra := map[string]any{}
	if err := ui.Claims(&extra); err != nil {
		return fmt.Errorf("decode user info: %w", err)
	}
	for k, v := range extra {
		if _, ok := claims[k]; !ok {
			claims[k] = v
		}
	}
	return nil
}

func (p *Provider) identityFromClaims(claims map[string]any) domainauth.Identity {
	return domainauth.Identity{
		Subject:     searchString(p.subject, claims),
		Email:       searchString(p.email, claims),
		DisplayName: searchString(p.name, claims),
	}
}

// searchString evaluates expr and returns its result when it is a non-empty string.
func searchString(expr jmespath.JMESPath, claims map[string]any) string {
	v, err := expr.Search(claims)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// generateRandomString generates a cryptographically secure URL-safe random string of exact length.
func generateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	b := make([]byte, (length*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := base64.RawURLEncoding.EncodeToString(b)
	if len(s) < length {
		extra := make([]byte, 1)
		if _, err := rand.Read(extra); err != nil {
			return "", err
		}
		s += base64.RawURLEncoding.EncodeToString(extra)
	}
	return s[:length], nil
}
