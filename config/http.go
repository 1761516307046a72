package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to. The default is loopback only;
	// every caller that reaches the listener acts as the process-wide session.
	Addr string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080"`

	// BaseURL is the base URL of the application (e.g., "https://app.example.com").
	// Used to build absolute redirect URLs for single sign-on.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// CookieDomain is the domain for auth flow cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// LoadingRetryAfter is the Retry-After hint sent with the loading placeholder.
	LoadingRetryAfter time.Duration `env:"HTTP_LOADING_RETRY_AFTER" envDefault:"1s"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.BaseURL = strings.TrimRight(strings.TrimSpace(h.BaseURL), "/")
	h.CookieDomain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h.CookieDomain), "."))
	if h.LoadingRetryAfter < time.Second {
		h.LoadingRetryAfter = time.Second
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
}

// Validate checks the base URL and rejects a cookie domain that is a public suffix
// (such as "com" or "co.uk"), where browsers would share cookies across unrelated sites.
func (h *HTTPConfig) Validate() error {
	u, err := url.Parse(h.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("APP_BASE_URL must be an absolute URL: %q", h.BaseURL)
	}
	if h.CookieDomain == "" || h.CookieDomain == "localhost" {
		return nil
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(h.CookieDomain); err != nil {
		return fmt.Errorf("APP_COOKIE_DOMAIN %q is not a registrable domain: %w", h.CookieDomain, err)
	}
	host := strings.ToLower(u.Hostname())
	if host != h.CookieDomain && !strings.HasSuffix(host, "."+h.CookieDomain) {
		return fmt.Errorf("APP_COOKIE_DOMAIN %q does not cover APP_BASE_URL host %q", h.CookieDomain, host)
	}
	return nil
}
