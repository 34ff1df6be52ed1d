package versioning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CurrentCache holds the ACTIVE version per event. A cached nil means the event has none.
type CurrentCache interface {
	Get(ctx context.Context, eventNo string) (v *Version, hit bool, err error)
	Set(ctx context.Context, eventNo string, v *Version) error
	Invalidate(ctx context.Context, eventNo string) error
}

// noneMarker is stored for events without an ACTIVE version.
const noneMarker = "none"

type RedisCurrentCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisCurrentCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCurrentCache {
	if prefix == "" {
		prefix = "riskcfg:current:"
	}
	return &RedisCurrentCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCurrentCache) key(eventNo string) string {
	return c.prefix + eventNo
}

func (c *RedisCurrentCache) Get(ctx context.Context, eventNo string) (*Version, bool, error) {
	raw, err := c.client.Get(ctx, c.key(eventNo)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET failed: %w", err)
	}
	if string(raw) == noneMarker {
		return nil, true, nil
	}

	var v Version
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached version: %w", err)
	}
	return &v, true, nil
}

func (c *RedisCurrentCache) Set(ctx context.Context, eventNo string, v *Version) error {
	var value interface{} = noneMarker
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode version: %w", err)
		}
		value = b
	}
	if err := c.client.Set(ctx, c.key(eventNo), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

func (c *RedisCurrentCache) Invalidate(ctx context.Context, eventNo string) error {
	if err := c.client.Del(ctx, c.key(eventNo)).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}
