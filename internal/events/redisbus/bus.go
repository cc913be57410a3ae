// Package redisbus broadcasts guild events over a Redis pub/sub channel so
// that any number of API or websocket processes can relay them.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gymguild/internal/events"
)

// DefaultChannel is used when Options.Channel is empty.
const DefaultChannel = "guild-events"

// Options configures a Bus.
type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Bus publishes events as JSON to a Redis channel and can forward the
// channel's traffic back to a callback.
type Bus struct {
	rdb     *goredis.Client
	channel string
	logger  *zap.Logger
}

// Connect dials Redis and verifies the connection with PING.
//
// Precondition: logger must be non-nil; opts.Addr must be non-empty.
// Postcondition: Returns a ready Bus or an error; no client is leaked on failure.
func Connect(ctx context.Context, opts Options, logger *zap.Logger) (*Bus, error) {
	if opts.Addr == "" {
		return nil, errors.New("redisbus: address must not be empty")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisbus: ping %s: %w", opts.Addr, err)
	}
	return New(rdb, opts.Channel, logger), nil
}

// New wraps an existing client. An empty channel selects DefaultChannel.
func New(rdb *goredis.Client, channel string, logger *zap.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{rdb: rdb, channel: channel, logger: logger}
}

// Channel returns the pub/sub channel name.
func (b *Bus) Channel() string {
	return b.channel
}

// Publish implements events.Publisher. All events go out in one pipeline.
func (b *Bus) Publish(ctx context.Context, evs ...events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	pipe := b.rdb.Pipeline()
	for _, e := range evs {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("redisbus: encoding %s event: %w", e.Kind, err)
		}
		pipe.Publish(ctx, b.channel, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisbus: publishing %d events: %w", len(evs), err)
	}
	return nil
}

// Forward subscribes to the channel and calls onEvent for every decodable
// message until ctx is cancelled. Malformed payloads are logged and skipped.
//
// Precondition: onEvent must be non-nil.
// Postcondition: Returns nil on cancellation, or the subscription error.
func (b *Bus) Forward(ctx context.Context, onEvent func(events.Event)) error {
	if onEvent == nil {
		return errors.New("redisbus: onEvent callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redisbus: subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok || m == nil {
				return nil
			}
			var e events.Event
			if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
				b.logger.Warn("redisbus: bad event payload", zap.Error(err))
				continue
			}
			onEvent(e)
		}
	}
}

// Close releases the Redis client.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
