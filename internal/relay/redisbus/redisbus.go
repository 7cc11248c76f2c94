// Package redisbus is a relay transport over Redis pub/sub. Each message is a
// JSON envelope {"event": ..., "data": ...} published on the channel's name.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"resbac/internal/models"
	"resbac/internal/relay"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type Transport struct {
	cfg    Config
	client *redis.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Transport {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 1,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  3 * time.Second,
	})
	return &Transport{cfg: cfg, client: client, logger: logger}
}

// Shutdown releases the client pool. Connections opened from it stop working.
func (t *Transport) Shutdown() error {
	return t.client.Close()
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (t *Transport) Connect(ctx context.Context) (relay.Conn, error) {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w: %w", models.ErrTransientNetwork, err)
	}
	ps := t.client.Subscribe(ctx)
	return &conn{t: t, ps: ps}, nil
}

type conn struct {
	t  *Transport
	ps *redis.PubSub
}

func (c *conn) key(name string) string { return c.t.cfg.Prefix + name }

func (c *conn) Subscribe(ctx context.Context, ch relay.Channel) error {
	if err := c.ps.Subscribe(ctx, c.key(ch.Name)); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", ch.Name, err)
	}
	return nil
}

func (c *conn) Receive(ctx context.Context) (relay.Message, error) {
	for {
		raw, err := c.ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return relay.Message{}, ctx.Err()
			}
			return relay.Message{}, fmt.Errorf("redis subscription lost: %w: %w", models.ErrTransientNetwork, err)
		}
		switch m := raw.(type) {
		case *redis.Message:
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil || env.Event == "" {
				c.t.logger.Warn("Dropping malformed redis message", zap.String("channel", m.Channel))
				continue
			}
			return relay.Message{
				Channel: strings.TrimPrefix(m.Channel, c.t.cfg.Prefix),
				Event:   env.Event,
				Data:    env.Data,
			}, nil
		case *redis.Subscription, *redis.Pong:
		}
	}
}

func (c *conn) Publish(ctx context.Context, ch relay.Channel, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	body, err := json.Marshal(envelope{Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := c.t.client.Publish(ctx, c.key(ch.Name), body).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w: %w", models.ErrTransientNetwork, err)
	}
	return nil
}

func (c *conn) Close() error {
	return c.ps.Close()
}
