package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims carried by an access token.
type TokenClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 access tokens for sessions.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// TokenIssuerOptions groups settings for TokenIssuer.
type TokenIssuerOptions struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(opts TokenIssuerOptions) (*TokenIssuer, error) {
	if len(opts.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	issuer := opts.Issuer
	if issuer == "" {
		issuer = "puppy"
	}
	return &TokenIssuer{secret: opts.Secret, ttl: opts.TTL, issuer: issuer, now: now}, nil
}

// TTL reports the lifetime of issued tokens.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue mints a token for actorID in sessionID and returns it with its expiry.
func (t *TokenIssuer) Issue(actorID, sessionID string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := TokenClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	// JWT expiry has second precision; report what the token actually carries.
	return signed, claims.ExpiresAt.Time, nil
}

// Verify parses token and checks its signature, issuer and expiry.
func (t *TokenIssuer) Verify(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return claims, nil
}
