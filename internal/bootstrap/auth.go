package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/puppy-social/puppy/config"
	"github.com/puppy-social/puppy/internal/adapters/devauth"
	"github.com/puppy-social/puppy/internal/adapters/oidc"
	"github.com/puppy-social/puppy/internal/ports"
)

// IdentityProviderConfig contains configuration for the single sign-on provider.
type IdentityProviderConfig struct {
	Auth   config.AuthConfig
	IsDev  bool
	Logger *slog.Logger
}

// BuildIdentityProvider creates the single sign-on provider for the configured auth mode.
// It returns nil without error in password mode, where no SSO flow is offered.
//
//nolint:ireturn // callers only need the port; the concrete provider depends on the mode.
func BuildIdentityProvider(cfg IdentityProviderConfig) (ports.IdentityProvider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Auth.Mode {
	case config.AuthModeMock:
		if !cfg.IsDev {
			return nil, fmt.Errorf("auth mode %q requires dev mode", cfg.Auth.Mode)
		}
		prov, err := devauth.NewProvider(devauth.Config{
			Subject:     cfg.Auth.DevAuth.Subject,
			Email:       cfg.Auth.DevAuth.Email,
			DisplayName: cfg.Auth.DevAuth.DisplayName,
			// session duration defaults inside provider
		})
		if err != nil {
			return nil, fmt.Errorf("create dev auth provider: %w", err)
		}
		logger.Warn("dev auth enabled; every SSO sign-in uses the fixed dev identity",
			"email", cfg.Auth.DevAuth.Email)
		return prov, nil

	case config.AuthModeOIDC:
		o := cfg.Auth.OIDC
		prov, err := oidc.NewProvider(oidc.ProviderConfig{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			RedirectURL:  o.RedirectURL,
			Scope:        o.Scope,
			DiscoveryURL: o.DiscoveryURL,
			SubjectClaim: o.SubjectClaim,
			EmailClaim:   o.EmailClaim,
			NameClaim:    o.NameClaim,
		})
		if err != nil {
			return nil, fmt.Errorf("create OIDC provider: %w", err)
		}
		return prov, nil

	default:
		return nil, nil
	}
}
