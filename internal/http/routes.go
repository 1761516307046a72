package httpx

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/observability/metrics"
	"github.com/puppy-social/puppy/internal/ports"
	"github.com/puppy-social/puppy/internal/service"
)

// Authenticator signs actors in. Session changes reach the shell through SessionState.
type Authenticator interface {
	SignUp(ctx context.Context, in service.SignUpInput) (*domainauth.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*domainauth.Session, error)
	SignInWithIdentity(ctx context.Context, id domainauth.Identity) (*domainauth.Session, error)
}

// SessionState is the read side of the session manager plus sign-out.
type SessionState interface {
	Snapshot() domainauth.Snapshot
	Subscribe() (<-chan domainauth.Snapshot, func())
	SignOut(ctx context.Context) error
}

// RoleAdmin changes and lists role assignments.
type RoleAdmin interface {
	SetRole(ctx context.Context, in service.SetRoleInput) error
	ListRoles(ctx context.Context) (map[string][]domainauth.Role, error)
}

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Auth     Authenticator
	Session  SessionState
	Roles    RoleAdmin
	Activity ports.ActivityLog
	// Optional: SSO provider. When nil the /auth/sso routes are not registered.
	SSO ports.IdentityProvider

	Renderer *TemplateRenderer
	StaticFS fs.FS // Optional: served under /static/

	// Optional: Prometheus collectors and the gatherer exposed at MetricsPath.
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	MetricsPath string

	BaseURL      string
	CookieDomain string
	// RetryAfter is advertised while the session is still loading.
	RetryAfter time.Duration
	Logger     *slog.Logger
}

// NewRouter creates and configures the application shell router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryAfter := services.RetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}

	mux := http.NewServeMux()

	shell := &ShellHandlers{
		Session:    services.Session,
		Roles:      services.Roles,
		Activity:   services.Activity,
		Renderer:   services.Renderer,
		Metrics:    services.Metrics,
		SSOEnabled: services.SSO != nil,
		RetryAfter: retryAfter,
		Logger:     logger,
	}
	authHandlers := &AuthHandlers{
		Svc:          services.Auth,
		Session:      services.Session,
		SSO:          services.SSO,
		Shell:        shell,
		BaseURL:      services.BaseURL,
		CookieDomain: services.CookieDomain,
		Logger:       logger,
	}
	eventHandlers := &EventHandlers{Session: services.Session, Logger: logger}
	adminHandlers := &AdminHandlers{Roles: services.Roles, Shell: shell, Logger: logger}

	health := healthHandler{session: services.Session}
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	registerAuthRoutes(mux, authHandlers, services.SSO != nil)
	mux.HandleFunc("GET /events", eventHandlers.Stream)
	mux.Handle("POST /admin/roles", RequireAdmin(services.Session)(http.HandlerFunc(adminHandlers.SetRole)))

	if services.Gatherer != nil && services.MetricsPath != "" {
		mux.Handle("GET "+services.MetricsPath, promhttp.HandlerFor(services.Gatherer, promhttp.HandlerOpts{}))
	}
	if services.StaticFS != nil {
		mux.Handle("GET /static/", staticWithCacheHeaders(
			http.StripPrefix("/static/", http.FileServer(http.FS(services.StaticFS)))))
	}

	// Every other GET is a shell location decided by the route guard.
	mux.HandleFunc("GET /", shell.Page)

	var handler http.Handler = mux
	handler = Metrics(services.Metrics)(handler)
	// Outside Metrics: the mux records r.Pattern on the request it receives.
	handler = CSRFProtection(CSRFConfig{CookieDomain: services.CookieDomain})(handler)
	handler = Logging(logger)(handler)
	return Recover(logger)(handler)
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, sso bool) {
	mux.HandleFunc("POST /auth/sign-in", h.SignIn)
	mux.HandleFunc("POST /auth/sign-up", h.SignUp)
	mux.HandleFunc("POST /auth/sign-out", h.SignOut)
	mux.HandleFunc("GET /auth/status", h.Status)
	if sso {
		mux.HandleFunc("GET /auth/sso", h.Login)
		mux.HandleFunc("GET /auth/callback", h.Callback)
	}
}

// staticWithCacheHeaders wraps a static file handler. Assets are not content-hashed, so
// clients revalidate on every load.
func staticWithCacheHeaders(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		handler.ServeHTTP(w, r)
	})
}
