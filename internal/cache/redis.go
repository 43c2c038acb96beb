package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/checkin/config"
	"github.com/Domenick1991/checkin/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client   *redis.Client
	eventTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, eventTTL time.Duration) *RedisCache {
	return newRedisCache(
		redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		eventTTL,
	)
}

func newRedisCache(client *redis.Client, eventTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, eventTTL: eventTTL}
}

// GetEvent returns nil without an error on a cache miss.
func (c *RedisCache) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	data, err := c.client.Get(ctx, eventKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode cached event %d: %w", id, err)
	}
	return &event, nil
}

func (c *RedisCache) SetEvent(ctx context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, eventKey(event.ID), payload, c.eventTTL).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func eventKey(id int64) string {
	return fmt.Sprintf("cache:event:%d", id)
}
