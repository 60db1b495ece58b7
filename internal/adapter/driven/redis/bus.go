// Package redis broadcasts credential changes between instances over Redis
// pub/sub so that every instance's resolution cache drops stale entries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ChangeNotifier = (*Bus)(nil)

// Channel is the pub/sub channel credential changes are published on.
const Channel = "syskeys:credential-changed"

type changeMessage struct {
	Provider    model.ProviderID  `json:"provider"`
	Environment model.Environment `json:"environment"`
	Origin      string            `json:"origin"`
}

// Resubscription backoff bounds.
const (
	DefaultRetryBase = 500 * time.Millisecond
	DefaultRetryMax  = 30 * time.Second
)

// Bus publishes and receives credential change notifications.
type Bus struct {
	client    *goredis.Client
	origin    string
	logger    *slog.Logger
	retryBase time.Duration
	retryMax  time.Duration
}

// New connects to the Redis server at url (redis:// or rediss://).
func New(url string, logger *slog.Logger) (*Bus, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithOptions(opts, logger), nil
}

// NewWithOptions creates a Bus from explicit client options.
func NewWithOptions(opts *goredis.Options, logger *slog.Logger) *Bus {
	return &Bus{
		client:    goredis.NewClient(opts),
		origin:    uuid.NewString(),
		logger:    logger,
		retryBase: DefaultRetryBase,
		retryMax:  DefaultRetryMax,
	}
}

// Ping checks connectivity.
func (b *Bus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// CredentialChanged publishes the change to every subscribed instance.
func (b *Bus) CredentialChanged(ctx context.Context, provider model.ProviderID, env model.Environment) error {
	payload, err := json.Marshal(changeMessage{Provider: provider, Environment: env, Origin: b.origin})
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := b.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe forwards changes published by other instances to handler until
// ctx is cancelled. Messages from this instance are skipped, since the local
// store already notified its own cache. A failed or dropped subscription is
// retried with exponential backoff.
func (b *Bus) Subscribe(ctx context.Context, handler driven.ChangeNotifier) {
	attempt := 0
	for {
		subscribed, err := b.subscribeOnce(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			attempt = 0
		}
		delay := b.retryDelay(attempt)
		attempt++
		b.logger.Warn("redis subscription failed, retrying",
			"channel", Channel,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// subscribeOnce runs one subscription until it fails or ctx ends. It reports
// whether the subscription was confirmed by the server.
func (b *Bus) subscribeOnce(ctx context.Context, handler driven.ChangeNotifier) (bool, error) {
	pubsub := b.client.Subscribe(ctx, Channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Debug("failed to close redis subscription", "error", err)
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	b.logger.Info("subscribed to credential changes", "channel", Channel)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return true, errors.New("redis subscription closed")
			}
			change, err := decodeChange(msg.Payload)
			if err != nil {
				b.logger.Warn("ignoring malformed change message", "error", err)
				continue
			}
			if change.Origin == b.origin {
				continue
			}
			if err := handler.CredentialChanged(ctx, change.Provider, change.Environment); err != nil {
				b.logger.Warn("change handler failed", "provider", change.Provider, "error", err)
			}
		}
	}
}

// retryDelay doubles retryBase per attempt up to retryMax.
func (b *Bus) retryDelay(attempt int) time.Duration {
	delay := b.retryBase
	for i := 0; i < attempt && delay < b.retryMax; i++ {
		delay *= 2
	}
	return min(delay, b.retryMax)
}

// Close releases the client's connections.
func (b *Bus) Close() error {
	return b.client.Close()
}

func decodeChange(payload string) (changeMessage, error) {
	var msg changeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return changeMessage{}, fmt.Errorf("decode change: %w", err)
	}
	if !msg.Provider.Valid() {
		return changeMessage{}, fmt.Errorf("decode change: unknown provider %q", msg.Provider)
	}
	if !msg.Environment.Valid() {
		return changeMessage{}, fmt.Errorf("decode change: unknown environment %q", msg.Environment)
	}
	return msg, nil
}
