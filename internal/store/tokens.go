package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

// TokenCache is the durable backing behind the in-process token-metadata
// cache. Failures degrade to cache misses; they never surface to callers.
type TokenCache struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

func (s *Store) TokenCache() *TokenCache {
	return &TokenCache{
		coll:   s.db.Collection(CollTokens),
		logger: s.logger.Named("tokens"),
	}
}

func (c *TokenCache) GetToken(ctx context.Context, mint string) (*domain.TokenMetadataCacheEntry, bool) {
	var entry domain.TokenMetadataCacheEntry
	err := c.coll.FindOne(ctx, bson.M{"address": mint}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("token cache read failed", zap.String("mint", mint), zap.Error(err))
		return nil, false
	}
	return &entry, true
}

func (c *TokenCache) PutToken(ctx context.Context, entry domain.TokenMetadataCacheEntry) {
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"address": entry.Address},
		bson.M{"$set": entry},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.Warn("token cache write failed", zap.String("mint", entry.Address), zap.Error(err))
	}
}
