package service

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestIssuer(t *testing.T, now func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerOptions{Secret: testSecret, TTL: time.Hour, Now: now})
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer_Validation(t *testing.T) {
	_, err := NewTokenIssuer(TokenIssuerOptions{Secret: []byte("short"), TTL: time.Hour})
	require.Error(t, err)

	_, err = NewTokenIssuer(TokenIssuerOptions{Secret: testSecret})
	require.Error(t, err)
}

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return now })

	token, exp, err := issuer.Issue("actor-1", "sess-1")
	require.NoError(t, err)
	assert.True(t, exp.Equal(now.Add(time.Hour)))

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "actor-1", claims.Subject)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "puppy", claims.Issuer)
}

func TestTokenIssuer_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	issuer := newTestIssuer(t, func() time.Time { return clock })

	token, _, err := issuer.Issue("actor-1", "sess-1")
	require.NoError(t, err)

	clock = now.Add(2 * time.Hour)
	_, err = issuer.Verify(token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenIssuer_RejectsTampering(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	token, _, err := issuer.Issue("actor-1", "sess-1")
	require.NoError(t, err)

	other, err := NewTokenIssuer(TokenIssuerOptions{Secret: []byte(strings.Repeat("x", 32)), TTL: time.Hour})
	require.NoError(t, err)
	_, err = other.Verify(token)
	require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	_, err = issuer.Verify(token + "x")
	require.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "actor-1", "iss": "puppy", "exp": time.Now().Add(time.Hour).Unix()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Verify(unsigned)
	require.Error(t, err)
}
