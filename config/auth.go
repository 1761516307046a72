package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the authentication mode for the application.
type AuthMode string

const (
	// AuthModePassword signs actors in with email and password only.
	AuthModePassword AuthMode = "password"
	// AuthModeOIDC adds single sign-on through an OpenID Connect provider.
	AuthModeOIDC AuthMode = "oidc"
	// AuthModeMock adds single sign-on through a fixed dev identity (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "password", "oidc", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: password, oidc, mock)", v)
	}
}

// SSOEnabled reports whether the mode offers a single sign-on flow.
func (a AuthMode) SSOEnabled() bool {
	return a == AuthModeOIDC || a == AuthModeMock
}

// OIDCConfig contains OpenID Connect configuration.
type OIDCConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"  envDefault:"http://localhost:8080/auth/callback"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email"`
	DiscoveryURL string `env:"DISCOVERY_URL"`

	// Claim expressions are JMESPath evaluated against the ID token and UserInfo claims.
	SubjectClaim string `env:"SUBJECT_CLAIM" envDefault:"sub"`
	EmailClaim   string `env:"EMAIL_CLAIM"   envDefault:"email || mail"`
	NameClaim    string `env:"NAME_CLAIM"    envDefault:"name || preferred_username || given_name"`
}

// DevAuthConfig controls the mock/dev identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	Subject     string `env:"SUBJECT"      envDefault:"dev-user"`
	Email       string `env:"EMAIL"        envDefault:"dev@example.com"`
	DisplayName string `env:"DISPLAY_NAME" envDefault:"Dev Pup"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which sign-in flows are available.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"password"`

	// TokenSecret signs access tokens. Required outside dev mode.
	TokenSecret string `env:"AUTH_TOKEN_SECRET"`

	// TokenTTL is the lifetime of a minted access token.
	TokenTTL time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"1h"`

	// RefreshInterval is how often the token refresher checks the session.
	RefreshInterval time.Duration `env:"AUTH_REFRESH_INTERVAL" envDefault:"5m"`

	// RoleLookupTimeout bounds each role lookup made by the session manager.
	RoleLookupTimeout time.Duration `env:"AUTH_ROLE_LOOKUP_TIMEOUT" envDefault:"10s"`

	// ClientID names this device. Sessions are persisted per client and session events
	// other than USER_UPDATED are only shared between processes with the same client ID.
	ClientID string `env:"AUTH_CLIENT_ID" envDefault:"default"`

	// BcryptCost is the password hashing cost.
	BcryptCost int `env:"AUTH_BCRYPT_COST" envDefault:"10"`

	// OIDC configuration (used when Mode=oidc).
	OIDC OIDCConfig `envPrefix:"OIDC_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`
}

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize() {
	if a.TokenTTL < time.Minute {
		a.TokenTTL = time.Minute
	}
	if a.RefreshInterval < time.Second {
		a.RefreshInterval = time.Second
	}
	if a.RoleLookupTimeout <= 0 {
		a.RoleLookupTimeout = 10 * time.Second
	}
	if a.BcryptCost < 4 {
		a.BcryptCost = 4
	}
	if a.BcryptCost > 31 {
		a.BcryptCost = 31
	}
	a.ClientID = strings.TrimSpace(a.ClientID)
	if a.ClientID == "" {
		a.ClientID = "default"
	}
}

// Validate reports configuration that cannot work. isDev relaxes the token secret requirement.
func (a *AuthConfig) Validate(isDev bool) error {
	var errs []error
	if a.TokenSecret == "" && !isDev {
		errs = append(errs, errors.New("AUTH_TOKEN_SECRET is required"))
	}
	if a.Mode == AuthModeOIDC {
		if a.OIDC.ClientID == "" {
			errs = append(errs, errors.New("OIDC_CLIENT_ID is required when AUTH_MODE=oidc"))
		}
		if a.OIDC.ClientSecret == "" {
			errs = append(errs, errors.New("OIDC_CLIENT_SECRET is required when AUTH_MODE=oidc"))
		}
		if a.OIDC.DiscoveryURL == "" {
			errs = append(errs, errors.New("OIDC_DISCOVERY_URL is required when AUTH_MODE=oidc"))
		}
	}
	if a.Mode == AuthModeMock && !isDev {
		errs = append(errs, errors.New("AUTH_MODE=mock is only allowed in dev mode"))
	}
	return errors.Join(errs...)
}
