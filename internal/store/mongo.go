// Package store is the document-store adapter. Swap records land in two
// kind-specific collections guarded by a compound unique (signature, type)
// index; split pairs commit inside one multi-document transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

// Collection names.
const (
	CollWhaleTrades   = "whaleAllTransactionsV2"
	CollKOLTrades     = "influencerWhaleTransactionsV2"
	CollWhaleHotness  = "hotnessScore"
	CollKOLHotness    = "kolHotnessScore"
	CollWhaleRepeats  = "purchaseRecord"
	CollKOLRepeats    = "kolPurchaseRecord"
	CollWalletLabels  = "whaleWalletLabel"
	CollTrackedWhales = "trackedWhales"
	CollTrackedKOLs   = "trackedInfluencers"
	CollTokens        = "tokens"
)

const connectTimeout = 10 * time.Second

// ErrAlreadyProcessed marks a duplicate (signature, type) insert. Callers
// treat it as a clean no-op, not a failure.
var ErrAlreadyProcessed = errors.New("record already processed")

// Store wraps one Mongo database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

func Connect(ctx context.Context, uri, dbName string, logger *zap.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &Store{
		client: client,
		db:     client.Database(dbName),
		logger: logger.Named("store"),
	}, nil
}

// tradeCollectionFor maps an account kind to its swap collection.
func tradeCollectionFor(kind domain.AccountKind) string {
	if kind == domain.KindKOL {
		return CollKOLTrades
	}
	return CollWhaleTrades
}

func hotnessCollectionFor(kind domain.AccountKind) string {
	if kind == domain.KindKOL {
		return CollKOLHotness
	}
	return CollWhaleHotness
}

func repeatCollectionFor(kind domain.AccountKind) string {
	if kind == domain.KindKOL {
		return CollKOLRepeats
	}
	return CollWhaleRepeats
}

// EnsureIndexes creates the uniqueness and query indexes the pipeline
// relies on. Safe to call on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	for _, coll := range []string{CollWhaleTrades, CollKOLTrades} {
		_, err := s.db.Collection(coll).Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "signature", Value: 1}, {Key: "type", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "trackedAccount.address", Value: 1}, {Key: "timestamps.tx", Value: -1}}},
			{Keys: bson.D{{Key: "tokenOut.address", Value: 1}, {Key: "timestamps.tx", Value: -1}}},
		})
		if err != nil {
			return fmt.Errorf("indexes on %s: %w", coll, err)
		}
	}

	for _, coll := range []string{CollWhaleHotness, CollKOLHotness} {
		_, err := s.db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "tokenAddress", Value: 1}}, Options: unique,
		})
		if err != nil {
			return fmt.Errorf("indexes on %s: %w", coll, err)
		}
	}

	for _, coll := range []string{CollWhaleRepeats, CollKOLRepeats} {
		_, err := s.db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{
				{Key: "tokenAddress", Value: 1},
				{Key: "trackedAccount", Value: 1},
				{Key: "utcDayBucket", Value: 1},
			},
		})
		if err != nil {
			return fmt.Errorf("indexes on %s: %w", coll, err)
		}
	}

	_, err := s.db.Collection(CollTokens).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "address", Value: 1}}, Options: unique,
	})
	if err != nil {
		return fmt.Errorf("indexes on %s: %w", CollTokens, err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
