package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/puppy-social/puppy"
	"github.com/puppy-social/puppy/config"
	httpx "github.com/puppy-social/puppy/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// frontendFS returns the template and static asset filesystems. Dev mode reads them from
// disk so edits show up without a rebuild.
func frontendFS(isDev bool) (fs.FS, fs.FS, error) {
	if isDev {
		if _, err := os.Stat(httpx.TemplatePathFromRoot); err == nil {
			return os.DirFS(httpx.TemplatePathFromRoot), os.DirFS("frontend/static"), nil
		}
	}
	templates, err := fs.Sub(puppy.TemplateFS, "frontend/templates")
	if err != nil {
		return nil, nil, fmt.Errorf("templates fs: %w", err)
	}
	static, err := fs.Sub(puppy.StaticFS, "frontend/static")
	if err != nil {
		return nil, nil, fmt.Errorf("static fs: %w", err)
	}
	return templates, static, nil
}

// NewHTTPServer builds the application router and wraps it in an http.Server.
func NewHTTPServer(cfg *HTTPServerConfig) (*http.Server, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, errors.New("http server config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config

	templates, static, err := frontendFS(appCfg.IsDev)
	if err != nil {
		return nil, err
	}
	renderer, err := httpx.NewTemplateRenderer(httpx.TemplateRendererConfig{
		TemplateFS: templates,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	services := httpx.RouterServices{
		Auth:         cfg.Services.Auth,
		Session:      cfg.Services.Session,
		Roles:        cfg.Services.Roles,
		Activity:     cfg.Services.Activity,
		SSO:          cfg.Services.SSO,
		Renderer:     renderer,
		StaticFS:     static,
		Metrics:      cfg.Services.Metrics,
		BaseURL:      appCfg.HTTP.BaseURL,
		CookieDomain: appCfg.HTTP.CookieDomain,
		RetryAfter:   appCfg.HTTP.LoadingRetryAfter,
		Logger:       logger,
	}
	if appCfg.Observability.Metrics.Enabled && cfg.Services.Registry != nil {
		services.Gatherer = cfg.Services.Registry
		services.MetricsPath = appCfg.Observability.Metrics.Path
	}

	addr := appCfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	return &http.Server{
		Addr:              addr,
		Handler:           httpx.NewRouter(services),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}, nil
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down within timeout.
func serveHTTP(ctx context.Context, srv *http.Server, timeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "starting HTTP server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.InfoContext(ctx, "HTTP server stopped")
	return nil
}
