package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/puppy-social/puppy/config"
)

// ServiceOrchestrationConfig contains dependencies for running the enabled services.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// backgroundService is one long-running unit enabled by a service mode.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(ctx context.Context) error
}

func buildBackgroundServices(cfg *ServiceOrchestrationConfig, logger *slog.Logger) ([]backgroundService, error) {
	var services []backgroundService

	if cfg.Config.IsHTTPServerEnabled() {
		srv, err := NewHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		services = append(services, backgroundService{
			mode: config.ServiceModeHTTP,
			name: "http server",
			start: func(ctx context.Context) error {
				return serveHTTP(ctx, srv, cfg.Config.HTTP.ShutdownTimeout, logger)
			},
		})
	}

	if cfg.Config.IsTokenRefresherEnabled() && cfg.Services.Refresher != nil {
		services = append(services, backgroundService{
			mode:  config.ServiceModeTokenRefresher,
			name:  "token refresher",
			start: cfg.Services.Refresher.Run,
		})
	}

	return services, nil
}

// RunServices starts the session manager and every enabled service, and blocks until ctx
// is cancelled or a service fails. The remote change feed is subscribed before the
// manager's initial fetch so no event published in between is missed.
func RunServices(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("orchestration config is required")
	}
	if cfg.Services.Auth == nil || cfg.Services.Session == nil {
		return errors.New("auth service and session manager are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	services, err := buildBackgroundServices(cfg, logger)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	unlisten, err := cfg.Services.Auth.ListenRemote(gctx)
	if err != nil {
		return fmt.Errorf("subscribe to change feed: %w", err)
	}
	defer unlisten()

	if err := cfg.Services.Session.Initialize(gctx); err != nil {
		return fmt.Errorf("initialize session manager: %w", err)
	}
	defer func() {
		if cerr := cfg.Services.Session.Close(); cerr != nil {
			logger.Error("close session manager", "error", cerr)
		}
	}()

	for _, svc := range services {
		g.Go(func() error {
			logger.InfoContext(gctx, "background service started", "service", svc.name, "mode", svc.mode)
			if err := svc.start(gctx); err != nil {
				return fmt.Errorf("%s: %w", svc.name, err)
			}
			logger.InfoContext(gctx, "background service stopped", "service", svc.name)
			return nil
		})
	}

	return g.Wait()
}

// RunServicesWithShutdown runs the enabled services until SIGINT or SIGTERM.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := RunServices(ctx, cfg)
	if err != nil {
		return err
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("shutdown complete")
	}
	return nil
}
