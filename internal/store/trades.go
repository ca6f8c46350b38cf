package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

// InsertTrade writes one swap record. A duplicate (signature, type) maps to
// ErrAlreadyProcessed.
func (s *Store) InsertTrade(ctx context.Context, kind domain.AccountKind, trade *domain.StoredTrade) error {
	_, err := s.db.Collection(tradeCollectionFor(kind)).InsertOne(ctx, trade)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("insert trade %s/%s: %w", trade.Signature, trade.Type, err)
	}
	return nil
}

// InsertSplitPair writes both records of a split pair in one transaction.
// Consumers never observe a pair with only one record present.
func (s *Store) InsertSplitPair(ctx context.Context, kind domain.AccountKind, sell, buy *domain.StoredTrade) error {
	if sell == nil || buy == nil {
		return fmt.Errorf("split pair requires both records")
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	coll := s.db.Collection(tradeCollectionFor(kind))
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := coll.InsertOne(sc, sell); err != nil {
			return nil, err
		}
		if _, err := coll.InsertOne(sc, buy); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("insert split pair %s: %w", sell.Signature, err)
	}

	s.logger.Debug("split pair persisted",
		zap.String("signature", sell.Signature),
		zap.String("kind", string(kind)))
	return nil
}

// CountBySignature reports how many records already exist for a signature.
// Two means the signature is fully processed.
func (s *Store) CountBySignature(ctx context.Context, kind domain.AccountKind, signature string) (int64, error) {
	n, err := s.db.Collection(tradeCollectionFor(kind)).
		CountDocuments(ctx, bson.M{"signature": signature})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", signature, err)
	}
	return n, nil
}

// PatchHotness rewrites the stored hotness score; the tweet path uses this
// for the promoted-token bonus.
func (s *Store) PatchHotness(ctx context.Context, kind domain.AccountKind, signature string, tradeType domain.TradeType, score int) error {
	_, err := s.db.Collection(tradeCollectionFor(kind)).UpdateOne(ctx,
		bson.M{"signature": signature, "type": tradeType},
		bson.M{"$set": bson.M{"hotnessScore": score}},
	)
	if err != nil {
		return fmt.Errorf("patch hotness %s/%s: %w", signature, tradeType, err)
	}
	return nil
}

// RecentTrades returns the account's swap records since the given time,
// oldest first, for performance scoring.
func (s *Store) RecentTrades(ctx context.Context, kind domain.AccountKind, account string, since time.Time) ([]domain.StoredTrade, error) {
	cursor, err := s.db.Collection(tradeCollectionFor(kind)).Find(ctx,
		bson.M{
			"trackedAccount.address": account,
			"timestamps.tx":          bson.M{"$gte": since},
		},
		options.Find().SetSort(bson.D{{Key: "timestamps.tx", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("recent trades for %s: %w", account, err)
	}
	defer cursor.Close(ctx)

	var trades []domain.StoredTrade
	if err := cursor.All(ctx, &trades); err != nil {
		return nil, fmt.Errorf("decode recent trades: %w", err)
	}
	return trades, nil
}

// BuyVolumeSpike computes the token's last-15-minute BUY inflow over its
// trailing 24 h hourly average. Zero when there is no history.
func (s *Store) BuyVolumeSpike(ctx context.Context, kind domain.AccountKind, tokenAddress string, now time.Time) (float64, error) {
	coll := s.db.Collection(tradeCollectionFor(kind))

	sumSince := func(since time.Time) (float64, error) {
		cursor, err := coll.Aggregate(ctx, mongo.Pipeline{
			{{Key: "$match", Value: bson.M{
				"type":             domain.TradeBuy,
				"tokenOut.address": tokenAddress,
				"timestamps.tx":    bson.M{"$gte": since},
			}}},
			{{Key: "$group", Value: bson.M{
				"_id":   nil,
				"total": bson.M{"$sum": "$usdAmounts.buyAmount"},
			}}},
		})
		if err != nil {
			return 0, err
		}
		defer cursor.Close(ctx)

		var result []struct {
			Total float64 `bson:"total"`
		}
		if err := cursor.All(ctx, &result); err != nil {
			return 0, err
		}
		if len(result) == 0 {
			return 0, nil
		}
		return result[0].Total, nil
	}

	last15, err := sumSince(now.Add(-15 * time.Minute))
	if err != nil {
		return 0, fmt.Errorf("volume spike 15m window: %w", err)
	}
	last24h, err := sumSince(now.Add(-24 * time.Hour))
	if err != nil {
		return 0, fmt.Errorf("volume spike 24h window: %w", err)
	}

	hourlyAvg := last24h / 24
	if hourlyAvg <= 0 {
		return 0, nil
	}
	return last15 / hourlyAvg, nil
}
