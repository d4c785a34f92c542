package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"chatsync/internal/models"
	"chatsync/internal/redis"
)

const (
	historyCacheTTL        = 10 * time.Minute
	cacheInvalidateChannel = "chatsync:invalidate"
)

// historyCache keeps each user's full chat-history list in redis and
// broadcasts invalidations so every replica drops stale copies. All methods
// are nil-safe: a nil cache means caching is disabled.
type historyCache struct {
	client *redis.Client
}

func newHistoryCache(client *redis.Client) *historyCache {
	return &historyCache{client: client}
}

func cacheKey(username string) string {
	return "chatsync:histories:" + username
}

// startListener drops local cache entries invalidated by other replicas.
func (c *historyCache) startListener() {
	if c == nil || c.client == nil {
		return
	}
	raw := c.client.Raw()
	if raw == nil {
		return
	}
	go func() {
		ctx := context.Background()
		pubsub := raw.Subscribe(ctx, cacheInvalidateChannel)
		for msg := range pubsub.Channel() {
			if err := c.client.Del(ctx, cacheKey(msg.Payload)); err != nil {
				log.Printf("history cache invalidation failed: %v", err)
			}
		}
	}()
}

func (c *historyCache) get(ctx context.Context, username string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	cached, err := c.client.Get(ctx, cacheKey(username))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			log.Printf("history cache read failed: %v", err)
		}
		return nil, false
	}
	return []byte(cached), true
}

func (c *historyCache) put(ctx context.Context, username string, records []models.ChatHistoryRecord) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{"data": records})
	if err != nil {
		log.Printf("history cache encode failed: %v", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(username), payload, historyCacheTTL); err != nil {
		log.Printf("history cache write failed: %v", err)
	}
}

// invalidate removes the user's cached list before the mutation response is
// sent, and tells other replicas to do the same.
func (c *historyCache) invalidate(ctx context.Context, username string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, cacheKey(username)); err != nil {
		log.Printf("history cache delete failed: %v", err)
	}
	raw := c.client.Raw()
	if raw == nil {
		return
	}
	if err := raw.Publish(ctx, cacheInvalidateChannel, username).Err(); err != nil {
		log.Printf("history cache publish failed: %v", err)
	}
}
