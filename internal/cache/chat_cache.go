package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"debugsync/internal/model"

	"github.com/redis/go-redis/v9"
)

// ChatCache mirrors a room's chat log so clients can render history
// without a durable-store round trip. Seeded lazily on join.
type ChatCache interface {
	Set(ctx context.Context, code string, msgs []model.ChatMessage) error
	Get(ctx context.Context, code string) ([]model.ChatMessage, error)
	Append(ctx context.Context, code string, msg model.ChatMessage) error
	Delete(ctx context.Context, code string) error
}

type chatCache struct {
	client *redis.Client
}

func NewChatCache(client *redis.Client) ChatCache {
	return &chatCache{
		client: client,
	}
}

func (c *chatCache) key(code string) string {
	return fmt.Sprintf("room:%s:chat", code)
}

func (c *chatCache) Set(ctx context.Context, code string, msgs []model.ChatMessage) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(code), data, 0).Err()
}

func (c *chatCache) Get(ctx context.Context, code string) ([]model.ChatMessage, error) {
	data, err := c.client.Get(ctx, c.key(code)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []model.ChatMessage
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *chatCache) Append(ctx context.Context, code string, msg model.ChatMessage) error {
	msgs, err := c.Get(ctx, code)
	if err != nil {
		return err
	}
	return c.Set(ctx, code, append(msgs, msg))
}

func (c *chatCache) Delete(ctx context.Context, code string) error {
	return c.client.Del(ctx, c.key(code)).Err()
}
