package service

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// sessionRefresher is the slice of AuthService the refresher needs.
type sessionRefresher interface {
	RefreshIfDue(ctx context.Context, window time.Duration) (bool, error)
}

// TokenRefresherOptions groups dependencies for TokenRefresher.
type TokenRefresherOptions struct {
	Auth     sessionRefresher // Required
	Interval time.Duration    // Required: how often to check the session
	// Window is how close to expiry a token must be before it is refreshed.
	// Defaults to twice the interval.
	Window time.Duration
	Logger *slog.Logger // Optional
}

// TokenRefresher keeps the persisted session's token from expiring while the client runs.
type TokenRefresher struct {
	auth     sessionRefresher
	interval time.Duration
	window   time.Duration
	logger   *slog.Logger
}

// NewTokenRefresher constructs a new TokenRefresher.
func NewTokenRefresher(opts TokenRefresherOptions) (*TokenRefresher, error) {
	if opts.Auth == nil {
		return nil, errors.New("Auth is required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("Interval must be positive")
	}
	window := opts.Window
	if window <= 0 {
		window = 2 * opts.Interval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenRefresher{
		auth:     opts.Auth,
		interval: opts.Interval,
		window:   window,
		logger:   logger.With("component", "token_refresher"),
	}, nil
}

// Run checks the session every interval until ctx is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *TokenRefresher) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting token refresher", "interval", r.interval, "window", r.window)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "token refresher stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *TokenRefresher) tick(ctx context.Context) {
	refreshed, err := r.auth.RefreshIfDue(ctx, r.window)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Continue running despite errors
		r.logger.WarnContext(ctx, "token refresh failed", "error", err)
		return
	}
	if refreshed {
		r.logger.DebugContext(ctx, "session token refreshed")
	}
}
