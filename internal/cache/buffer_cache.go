package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// BufferCache holds the latest buffer text per room. It absorbs every
// keystroke so the durable store is only written on explicit saves; it is
// never authoritative across restarts.
type BufferCache interface {
	Set(ctx context.Context, code, buffer string) error
	Get(ctx context.Context, code string) (string, error)
	Delete(ctx context.Context, code string) error
}

type bufferCache struct {
	client *redis.Client
}

func NewBufferCache(client *redis.Client) BufferCache {
	return &bufferCache{
		client: client,
	}
}

func (c *bufferCache) key(code string) string {
	return fmt.Sprintf("room:%s:buffer", code)
}

func (c *bufferCache) Set(ctx context.Context, code, buffer string) error {
	return c.client.Set(ctx, c.key(code), buffer, 0).Err()
}

// Get returns "" with no error when the key is absent; callers fall back
// to the durable buffer in that case.
func (c *bufferCache) Get(ctx context.Context, code string) (string, error) {
	data, err := c.client.Get(ctx, c.key(code)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return data, nil
}

func (c *bufferCache) Delete(ctx context.Context, code string) error {
	return c.client.Del(ctx, c.key(code)).Err()
}
