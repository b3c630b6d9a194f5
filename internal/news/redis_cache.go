package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"signalbot/internal/config"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ EventCache = (*RedisCache)(nil)

type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, prefix: "signalbot:news:", ttl: ttl}, nil
}

func (c *RedisCache) key(day time.Time) string {
	return c.prefix + day.UTC().Format("2006-01-02")
}

func (c *RedisCache) Get(ctx context.Context, day time.Time) ([]Event, bool, error) {
	data, err := c.client.Get(ctx, c.key(day)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, false, fmt.Errorf("decode cached events: %w", err)
	}
	return events, true, nil
}

func (c *RedisCache) Set(ctx context.Context, day time.Time, events []Event) error {
	if events == nil {
		events = []Event{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	if err := c.client.Set(ctx, c.key(day), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
