package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"diffit/internal/config"
	"diffit/internal/diffit"
)

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     *goredis.Client
	channel string
	logger  diffit.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection with a ping.
func NewRedisPublisher(ctx context.Context, cfg config.EventsConfig, logger diffit.Logger) (*RedisPublisher, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("redis events require redis_addr")
	}
	channel := cfg.RedisChannel
	if channel == "" {
		channel = config.DefaultRedisChannel
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.RedisAddr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPublisher{rdb: rdb, channel: channel, logger: logger}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, e diffit.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", e.Type, err)
	}
	return nil
}

// Subscribe calls fn for every event on the channel until ctx is cancelled.
// It blocks; malformed payloads are logged and skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context, fn func(diffit.Event)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var e diffit.Event
			if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
				p.logger.Warn("bad event payload", "channel", p.channel, "error", err)
				continue
			}
			fn(e)
		}
	}
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

var _ diffit.EventPublisher = (*RedisPublisher)(nil)
