package messenger

import (
	"context"
	"strconv"
	"time"

	"gatekeeper-backend/internal/cache"
)

// ChatCache fronts GetChat with a TTL cache. A Forbidden response (bot
// kicked) invalidates the entry immediately so stale metadata is not served
// while the caller cleans up.
type ChatCache struct {
	api   API
	cache *cache.TTL[*ChatInfo]
}

func NewChatCache(api API, ttl time.Duration) *ChatCache {
	return &ChatCache{
		api:   api,
		cache: cache.NewTTL[*ChatInfo](ttl),
	}
}

func (c *ChatCache) GetChat(ctx context.Context, chatID int64) (*ChatInfo, error) {
	key := strconv.FormatInt(chatID, 10)
	info, err := c.cache.Wrap(key, func() (*ChatInfo, error) {
		return c.api.GetChat(ctx, chatID)
	})
	if err != nil {
		if IsForbidden(err) {
			c.cache.Delete(key)
		}
		return nil, err
	}
	return info, nil
}

// Invalidate drops the cached entry for chatID.
func (c *ChatCache) Invalidate(chatID int64) {
	c.cache.Delete(strconv.FormatInt(chatID, 10))
}
