package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus publishes events on a Redis Pub/Sub channel for other processes.
type RedisBus struct {
	rdb     *redis.Client
	channel string
}

// NewRedisBus connects and pings the server before returning the async sink.
func NewRedisBus(ctx context.Context, addr, password, channel string, log zerolog.Logger) (*AsyncSink, *RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis: ping: %w", err)
	}
	bus := &RedisBus{rdb: rdb, channel: channel}
	return newAsyncSink("redis", bus, 1024, log), bus, nil
}

func (b *RedisBus) Deliver(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBus) Close() error { return b.rdb.Close() }
