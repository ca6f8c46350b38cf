package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

const (
	negativeKeyPrefix  = "token_negative:"
	DefaultNegativeTTL = 30 * time.Minute
	DefaultEntryTTL    = 24 * time.Hour
)

// RedisNegativeCache remembers mints that failed to resolve so every swap in
// a popular unresolvable token does not re-hit the providers.
type RedisNegativeCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisNegativeCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisNegativeCache {
	if ttl <= 0 {
		ttl = DefaultNegativeTTL
	}
	return &RedisNegativeCache{client: client, ttl: ttl, logger: logger.Named("negcache")}
}

func (c *RedisNegativeCache) IsNegative(ctx context.Context, mint string) bool {
	n, err := c.client.Exists(ctx, negativeKeyPrefix+mint).Result()
	if err != nil {
		c.logger.Warn("negative cache read failed", zap.String("mint", mint), zap.Error(err))
		return false
	}
	return n > 0
}

func (c *RedisNegativeCache) MarkNegative(ctx context.Context, mint string) {
	if err := c.client.Set(ctx, negativeKeyPrefix+mint, "1", c.ttl).Err(); err != nil {
		c.logger.Warn("negative cache write failed", zap.String("mint", mint), zap.Error(err))
	}
}

// MemoryTokenCache is the in-process layer in front of the durable token
// store. Entries expire after the TTL; Sweep drops expired entries and is
// run periodically by the engine's janitor.
type MemoryTokenCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	backing EntryCache
}

type memoryEntry struct {
	entry   domain.TokenMetadataCacheEntry
	expires time.Time
}

// NewMemoryTokenCache wraps an optional durable backing store. A nil backing
// store keeps everything in memory only.
func NewMemoryTokenCache(backing EntryCache, ttl time.Duration) *MemoryTokenCache {
	if ttl <= 0 {
		ttl = DefaultEntryTTL
	}
	return &MemoryTokenCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		backing: backing,
	}
}

func (c *MemoryTokenCache) GetToken(ctx context.Context, mint string) (*domain.TokenMetadataCacheEntry, bool) {
	c.mu.RLock()
	cached, ok := c.entries[mint]
	c.mu.RUnlock()
	if ok && time.Now().Before(cached.expires) {
		entry := cached.entry
		return &entry, true
	}

	if c.backing == nil {
		return nil, false
	}
	entry, ok := c.backing.GetToken(ctx, mint)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	c.entries[mint] = memoryEntry{entry: *entry, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return entry, true
}

func (c *MemoryTokenCache) PutToken(ctx context.Context, entry domain.TokenMetadataCacheEntry) {
	c.mu.Lock()
	c.entries[entry.Address] = memoryEntry{entry: entry, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	if c.backing != nil {
		c.backing.PutToken(ctx, entry)
	}
}

// Sweep removes expired entries and reports how many survive.
func (c *MemoryTokenCache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for mint, cached := range c.entries {
		if now.After(cached.expires) {
			delete(c.entries, mint)
		}
	}
	return len(c.entries)
}
