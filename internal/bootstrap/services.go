package bootstrap

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/puppy-social/puppy/config"
	redisadapter "github.com/puppy-social/puppy/internal/adapters/redis"
	"github.com/puppy-social/puppy/internal/data"
	"github.com/puppy-social/puppy/internal/observability/metrics"
	"github.com/puppy-social/puppy/internal/ports"
	"github.com/puppy-social/puppy/internal/service"
	"github.com/puppy-social/puppy/internal/session"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Auth      *service.AuthService
	Roles     *service.RoleAdminService
	Session   *session.Manager
	Refresher *service.TokenRefresher
	SSO       ports.IdentityProvider
	Activity  ports.ActivityLog
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	Users    *data.UserRepo
	Roles    *data.RoleRepo
	Activity *data.ActivityLogRepo
	Sessions *redisadapter.SessionStore
	Feed     *redisadapter.ChangeFeed
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(deps *ServiceDeps, logger *slog.Logger) (*serviceRepositories, error) {
	cfg := deps.Config
	feed, err := redisadapter.NewChangeFeed(redisadapter.ChangeFeedOptions{
		Client:   deps.RedisClient,
		ClientID: cfg.Auth.ClientID,
		Prefix:   cfg.Redis.KeyPrefix + "events:",
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create change feed: %w", err)
	}

	return &serviceRepositories{
		Users:    data.NewUserRepo(deps.DB),
		Roles:    data.NewRoleRepo(deps.DB, logger),
		Activity: data.NewActivityLogRepo(deps.DB),
		Sessions: redisadapter.NewSessionStoreWithPrefix(deps.RedisClient, cfg.Redis.KeyPrefix+"session:", cfg.Auth.ClientID),
		Feed:     feed,
	}, nil
}

// tokenSecret returns the configured signing secret. Dev mode falls back to a random
// per-process secret, so persisted sessions do not survive a restart.
func tokenSecret(cfg *config.AppConfig, logger *slog.Logger) ([]byte, error) {
	if cfg.Auth.TokenSecret != "" {
		return []byte(cfg.Auth.TokenSecret), nil
	}
	if !cfg.IsDev {
		return nil, errors.New("AUTH_TOKEN_SECRET is required")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate dev token secret: %w", err)
	}
	logger.Warn("AUTH_TOKEN_SECRET not set; using a random dev secret")
	return secret, nil
}

// NewServices wires repositories, services and the session manager. The manager is
// returned uninitialized; RunServices starts it.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service config is required")
	}
	if deps.RedisClient == nil {
		return ServiceContainer{}, errors.New("redis client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	repos, err := buildRepositories(deps, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	secret, err := tokenSecret(cfg, logger)
	if err != nil {
		return ServiceContainer{}, err
	}
	tokens, err := service.NewTokenIssuer(service.TokenIssuerOptions{
		Secret: secret,
		TTL:    cfg.Auth.TokenTTL,
		Issuer: cfg.HTTP.BaseURL,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create token issuer: %w", err)
	}

	auth, err := service.NewAuthService(service.AuthServiceOptions{
		Users:      repos.Users,
		Sessions:   repos.Sessions,
		Tokens:     tokens,
		Feed:       repos.Feed,
		Logger:     logger,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create auth service: %w", err)
	}

	roles, err := service.NewRoleAdminService(service.RoleAdminServiceOptions{
		Roles:    repos.Roles,
		Notifier: auth,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create role admin service: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	manager, err := session.NewManager(session.Options{
		Auth:          auth,
		Roles:         repos.Roles,
		Logger:        logger,
		Observer:      m,
		LookupTimeout: cfg.Auth.RoleLookupTimeout,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create session manager: %w", err)
	}

	refresher, err := service.NewTokenRefresher(service.TokenRefresherOptions{
		Auth:     auth,
		Interval: cfg.Auth.RefreshInterval,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create token refresher: %w", err)
	}

	sso, err := BuildIdentityProvider(IdentityProviderConfig{
		Auth:   cfg.Auth,
		IsDev:  cfg.IsDev,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, err
	}

	return ServiceContainer{
		Auth:      auth,
		Roles:     roles,
		Session:   manager,
		Refresher: refresher,
		SSO:       sso,
		Activity:  repos.Activity,
		Metrics:   m,
		Registry:  registry,
	}, nil
}
