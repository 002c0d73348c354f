// Package runevents publishes run phase transitions for external watchers.
package runevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/animus-labs/modelharness/internal/platform/env"
)

type Event struct {
	RunID   string    `json:"runId"`
	ModelID string    `json:"modelId,omitempty"`
	From    string    `json:"from"`
	Phase   string    `json:"phase"`
	State   string    `json:"state,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

type Sink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
func (NopSink) Close() error                         { return nil }

// Pusher is the part of a redis client RedisSink uses.
type Pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

func ConfigFromEnv() (Config, error) {
	db, err := env.Int("HARNESS_REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	ttl, err := env.Duration("HARNESS_REDIS_EVENTS_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Addr:     strings.TrimSpace(env.String("HARNESS_REDIS_ADDR", "")),
		Password: env.String("HARNESS_REDIS_PASSWORD", ""),
		DB:       db,
		Prefix:   env.String("HARNESS_REDIS_PREFIX", "modelharness"),
		TTL:      ttl,
	}
	if cfg.DB < 0 {
		return Config{}, errors.New("HARNESS_REDIS_DB must be >= 0")
	}
	if cfg.TTL < 0 {
		return Config{}, errors.New("HARNESS_REDIS_EVENTS_TTL must be >= 0")
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return c.Addr != ""
}

type RedisSink struct {
	client Pusher
	closer func() error
	prefix string
	ttl    time.Duration
}

// NewRedisSink connects a sink to the configured server. The connection is
// lazy; the first Publish reports an unreachable server.
func NewRedisSink(cfg Config) (*RedisSink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	sink := NewRedisSinkWithClient(client, cfg.Prefix, cfg.TTL)
	sink.closer = client.Close
	return sink, nil
}

func NewRedisSinkWithClient(client Pusher, prefix string, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// Key is the list events for runID are pushed to.
func (s *RedisSink) Key(runID string) string {
	if s.prefix == "" {
		return fmt.Sprintf("%s:events", runID)
	}
	return fmt.Sprintf("%s:%s:events", s.prefix, runID)
}

func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	if ev.RunID == "" {
		return errors.New("run id is required")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := s.Key(ev.RunID)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return nil
}

func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
