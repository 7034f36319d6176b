package cache

import (
	"context"
	"encoding/json"
	"time"

	"debugsync/internal/model"

	"github.com/redis/go-redis/v9"
)

// sessionTTL bounds the lifetime of session entries so a missed
// disconnect cleanup cannot leak them forever.
const sessionTTL = time.Hour

type SessionCache interface {
	Set(ctx context.Context, session *model.Session) error
	Get(ctx context.Context, connID string) (*model.Session, error)
	Delete(ctx context.Context, connID string) error
}

type sessionCache struct {
	client *redis.Client
}

func NewSessionCache(client *redis.Client) SessionCache {
	return &sessionCache{
		client: client,
	}
}

func (c *sessionCache) Set(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "session:"+session.ConnID, data, sessionTTL).Err()
}

func (c *sessionCache) Get(ctx context.Context, connID string) (*model.Session, error) {
	data, err := c.client.Get(ctx, "session:"+connID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session model.Session
	err = json.Unmarshal([]byte(data), &session)
	return &session, err
}

func (c *sessionCache) Delete(ctx context.Context, connID string) error {
	return c.client.Del(ctx, "session:"+connID).Err()
}
