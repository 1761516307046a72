package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/puppy-social/puppy/config"
	redisadapter "github.com/puppy-social/puppy/internal/adapters/redis"
	"github.com/puppy-social/puppy/internal/bootstrap"
	"github.com/puppy-social/puppy/internal/data"
	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/ports"
	"github.com/puppy-social/puppy/internal/service"
)

var errRedisNotConfigured = errors.New("redis not configured")

// adminOrigin marks change feed events published by this CLI.
const adminOrigin = "puppy-admin"

// adminDeps holds the connections and services used by role commands.
type adminDeps struct {
	DB    *sql.DB
	Redis redis.UniversalClient
	Users *data.UserRepo
	Roles *service.RoleAdminService
}

func (d *adminDeps) Close() error {
	var closeErr error
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

// openAdminDeps connects to Postgres and, when configured, to Redis so role changes reach
// running servers. Without Redis, servers pick up the change on their next role lookup.
func openAdminDeps(cmdCtx *commandContext) (*adminDeps, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cmdCtx.Config.Postgres, Logger: cmdCtx.Logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	deps := &adminDeps{DB: db, Users: data.NewUserRepo(db)}

	client, err := maybeConnectRedis(cmdCtx.Logger, &cmdCtx.Config.Redis)
	switch {
	case errors.Is(err, errRedisNotConfigured):
		cmdCtx.Logger.Info("no redis configuration detected; role changes will not be broadcast")
	case err != nil:
		cmdCtx.Logger.Warn("redis unavailable; role changes will not be broadcast", "error", err)
	default:
		deps.Redis = client
	}

	roles := data.NewRoleRepo(db, cmdCtx.Logger)
	opts := service.RoleAdminServiceOptions{
		Roles:  roles,
		Logger: cmdCtx.Logger,
	}
	if deps.Redis != nil {
		feed, feedErr := redisadapter.NewChangeFeed(redisadapter.ChangeFeedOptions{
			Client:   deps.Redis,
			ClientID: cmdCtx.Config.Auth.ClientID,
			Prefix:   cmdCtx.Config.Redis.KeyPrefix + "events:",
			Logger:   cmdCtx.Logger,
		})
		if feedErr != nil {
			return nil, errors.Join(feedErr, deps.Close())
		}
		opts.Notifier = feedNotifier{feed: feed}
	}

	deps.Roles, err = service.NewRoleAdminService(opts)
	if err != nil {
		return nil, errors.Join(err, deps.Close())
	}
	return deps, nil
}

// feedNotifier publishes USER_UPDATED events on the change feed.
type feedNotifier struct {
	feed ports.ChangeFeed
	now  func() time.Time
}

func (n feedNotifier) NotifyRolesChanged(ctx context.Context, actorID string) error {
	now := time.Now
	if n.now != nil {
		now = n.now
	}
	return n.feed.Publish(ctx, domainauth.SessionEvent{
		Kind:    domainauth.EventUserUpdated,
		ActorID: actorID,
		Origin:  adminOrigin,
		At:      now().UTC(),
	})
}

// maybeConnectRedis returns a connected client when configuration is present.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func maybeConnectRedis(logger *slog.Logger, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if !hasRedisConfig(cfg) {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: *cfg, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}
