package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PresenceCache mirrors the in-process presence table into Redis. The
// live table is authoritative for this process; the mirror is the
// extension point for running more than one process behind one room.
type PresenceCache interface {
	Add(ctx context.Context, code, username string) error
	Remove(ctx context.Context, code, username string) error
	Get(ctx context.Context, code string) ([]string, error)
	Delete(ctx context.Context, code string) error
}

type presenceCache struct {
	client *redis.Client
}

func NewPresenceCache(client *redis.Client) PresenceCache {
	return &presenceCache{
		client: client,
	}
}

func (c *presenceCache) key(code string) string {
	return fmt.Sprintf("room:%s:users", code)
}

func (c *presenceCache) Get(ctx context.Context, code string) ([]string, error) {
	data, err := c.client.Get(ctx, c.key(code)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var users []string
	if err := json.Unmarshal([]byte(data), &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *presenceCache) set(ctx context.Context, code string, users []string) error {
	data, err := json.Marshal(users)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(code), data, 0).Err()
}

func (c *presenceCache) Add(ctx context.Context, code, username string) error {
	users, err := c.Get(ctx, code)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u == username {
			return nil
		}
	}
	return c.set(ctx, code, append(users, username))
}

func (c *presenceCache) Remove(ctx context.Context, code, username string) error {
	users, err := c.Get(ctx, code)
	if err != nil {
		return err
	}
	kept := users[:0]
	for _, u := range users {
		if u != username {
			kept = append(kept, u)
		}
	}
	return c.set(ctx, code, kept)
}

func (c *presenceCache) Delete(ctx context.Context, code string) error {
	return c.client.Del(ctx, c.key(code)).Err()
}
