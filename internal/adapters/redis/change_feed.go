package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/ports"
	"github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "puppy:events:"

// ChangeFeedOptions groups dependencies for a ChangeFeed.
type ChangeFeedOptions struct {
	Client   redis.UniversalClient
	ClientID string
	// Prefix namespaces the pub/sub channels. Defaults to "puppy:events:".
	Prefix string
	Logger *slog.Logger
}

// ChangeFeed carries session events over Redis pub/sub.
//
// USER_UPDATED events go to a shared channel because any process may change an actor's
// roles. Sign-in, sign-out and refresh events go to a channel scoped to the client, so
// other clients' sessions are never delivered here.
type ChangeFeed struct {
	client   redis.UniversalClient
	clientID string
	prefix   string
	logger   *slog.Logger
}

// NewChangeFeed creates a Redis-backed ChangeFeed.
func NewChangeFeed(opts ChangeFeedOptions) (*ChangeFeed, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeFeed{
		client:   opts.Client,
		clientID: opts.ClientID,
		prefix:   prefix,
		logger:   logger.With("component", "change_feed"),
	}, nil
}

func (f *ChangeFeed) sharedChannel() string { return f.prefix + "shared" }

func (f *ChangeFeed) clientChannel() string { return f.prefix + "client:" + f.clientID }

func (f *ChangeFeed) channelFor(kind domainauth.EventKind) string {
	if kind == domainauth.EventUserUpdated {
		return f.sharedChannel()
	}
	return f.clientChannel()
}

// Publish sends the event to the channel matching its kind.
func (f *ChangeFeed) Publish(ctx context.Context, event domainauth.SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channelFor(event.Kind), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe delivers events from both channels to fn until the returned function is called
// or ctx is canceled. The subscription is confirmed before Subscribe returns.
func (f *ChangeFeed) Subscribe(ctx context.Context, fn ports.SessionListener) (func(), error) {
	if fn == nil {
		return nil, errors.New("listener is required")
	}

	pubsub := f.client.Subscribe(ctx, f.sharedChannel(), f.clientChannel())
	// One confirmation per channel.
	for range 2 {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("redis subscribe: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.consume(ctx, pubsub.Channel(), fn)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				f.logger.Warn("close pubsub", "error", err)
			}
			<-done
		})
	}, nil
}

func (f *ChangeFeed) consume(ctx context.Context, msgs <-chan *redis.Message, fn ports.SessionListener) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev domainauth.SessionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				f.logger.Warn("discarding malformed session event",
					"channel", msg.Channel,
					"error", err)
				continue
			}
			fn(ev)
		}
	}
}
