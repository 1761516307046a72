package devauth

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puppy-social/puppy/internal/ports"
)

func TestNewProvider_Validation(t *testing.T) {
	_, err := NewProvider(Config{Email: "dev@example.com"})
	require.ErrorContains(t, err, "Subject is required")

	_, err = NewProvider(Config{Subject: "dev-user"})
	require.ErrorContains(t, err, "Email is required")
}

func TestProvider_BeginAndExchange(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prov, err := NewProvider(Config{
		Subject:     "dev-user",
		Email:       "dev@example.com",
		DisplayName: "Dev Dog",
		Now:         func() time.Time { return now },
	})
	require.NoError(t, err)

	authURL, state, nonce, err := prov.Begin(context.Background(), ports.BeginInput{RedirectURL: "/"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(authURL, "/auth/callback?"), authURL)
	assert.Len(t, state, 24)
	assert.Len(t, nonce, 24)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "dev", u.Query().Get("code"))
	assert.Equal(t, state, u.Query().Get("state"))

	id, err := prov.Exchange(context.Background(), ports.ExchangeInput{Code: "dev", State: state, Nonce: nonce})
	require.NoError(t, err)
	assert.Equal(t, "dev-user", id.Subject)
	assert.Equal(t, "dev@example.com", id.Email)
	assert.Equal(t, "Dev Dog", id.DisplayName)
	assert.Equal(t, now.Add(8*time.Hour), id.ExpiresAt)

	// States are single use.
	_, err = prov.Exchange(context.Background(), ports.ExchangeInput{Code: "dev", State: state, Nonce: nonce})
	require.ErrorContains(t, err, "unknown state")
}

func TestProvider_ExchangeNonceMismatch(t *testing.T) {
	prov, err := NewProvider(Config{Subject: "dev-user", Email: "dev@example.com"})
	require.NoError(t, err)

	_, state, _, err := prov.Begin(context.Background(), ports.BeginInput{})
	require.NoError(t, err)

	_, err = prov.Exchange(context.Background(), ports.ExchangeInput{Code: "dev", State: state, Nonce: "other"})
	require.ErrorContains(t, err, "invalid nonce")
}
