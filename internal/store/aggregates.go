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

// BuyerCap returns how many distinct buyers the hotness aggregate tracks
// per token.
func BuyerCap(kind domain.AccountKind) int {
	if kind == domain.KindKOL {
		return 3
	}
	return 5
}

// BuyTiming is what the timing bonus needs: whether this signature opened
// the token and how many distinct tracked buyers existed before this trade.
type BuyTiming struct {
	IsFirstBuy     bool
	DistinctBuyers int
}

// RecordBuy folds one BUY into the token's hotness aggregate and returns
// the timing view. The buyer set is capped; once full, later buyers are
// counted against the cap but not stored.
func (s *Store) RecordBuy(ctx context.Context, kind domain.AccountKind, tokenAddress, account, signature string) (BuyTiming, error) {
	coll := s.db.Collection(hotnessCollectionFor(kind))

	var existing domain.HotnessAggregate
	err := coll.FindOne(ctx, bson.M{"tokenAddress": tokenAddress}).Decode(&existing)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		agg := domain.HotnessAggregate{
			TokenAddress:      tokenAddress,
			FirstBuySignature: signature,
			UniqueBuyers:      []string{account},
			CreatedAt:         time.Now().UTC(),
		}
		if _, err := coll.InsertOne(ctx, agg); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				// Another worker won the race; re-read below.
				return s.recordExistingBuy(ctx, coll, kind, tokenAddress, account)
			}
			return BuyTiming{}, fmt.Errorf("insert hotness aggregate: %w", err)
		}
		return BuyTiming{IsFirstBuy: true, DistinctBuyers: 0}, nil
	case err != nil:
		return BuyTiming{}, fmt.Errorf("read hotness aggregate: %w", err)
	}

	timing := BuyTiming{DistinctBuyers: len(existing.UniqueBuyers)}
	if len(existing.UniqueBuyers) < BuyerCap(kind) {
		_, err := coll.UpdateOne(ctx,
			bson.M{"tokenAddress": tokenAddress},
			bson.M{"$addToSet": bson.M{"uniqueBuyers": account}},
		)
		if err != nil {
			return timing, fmt.Errorf("update hotness aggregate: %w", err)
		}
	}
	return timing, nil
}

func (s *Store) recordExistingBuy(ctx context.Context, coll *mongo.Collection, kind domain.AccountKind, tokenAddress, account string) (BuyTiming, error) {
	var existing domain.HotnessAggregate
	if err := coll.FindOne(ctx, bson.M{"tokenAddress": tokenAddress}).Decode(&existing); err != nil {
		return BuyTiming{}, fmt.Errorf("re-read hotness aggregate: %w", err)
	}
	timing := BuyTiming{DistinctBuyers: len(existing.UniqueBuyers)}
	if len(existing.UniqueBuyers) < BuyerCap(kind) {
		if _, err := coll.UpdateOne(ctx,
			bson.M{"tokenAddress": tokenAddress},
			bson.M{"$addToSet": bson.M{"uniqueBuyers": account}},
		); err != nil {
			return timing, fmt.Errorf("update hotness aggregate: %w", err)
		}
	}
	return timing, nil
}

// DayBucket renders the UTC date key used by repeat-purchase records.
func DayBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

// CountDailyBuys reports how many purchase records the account already has
// for this token in the given UTC day.
func (s *Store) CountDailyBuys(ctx context.Context, kind domain.AccountKind, tokenAddress, account, dayBucket string) (int, error) {
	n, err := s.db.Collection(repeatCollectionFor(kind)).CountDocuments(ctx, bson.M{
		"tokenAddress":   tokenAddress,
		"trackedAccount": account,
		"utcDayBucket":   dayBucket,
	})
	if err != nil {
		return 0, fmt.Errorf("count daily buys: %w", err)
	}
	return int(n), nil
}

// RecordPurchase appends one repeat-purchase record.
func (s *Store) RecordPurchase(ctx context.Context, kind domain.AccountKind, rec domain.RepeatPurchaseRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(repeatCollectionFor(kind)).InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("record purchase: %w", err)
	}
	return nil
}

// LoadTrackedAccounts snapshots the tracked-account list for one kind,
// joining whale labels from the label collection.
func (s *Store) LoadTrackedAccounts(ctx context.Context, kind domain.AccountKind) ([]domain.TrackedAccount, error) {
	coll := CollTrackedWhales
	if kind == domain.KindKOL {
		coll = CollTrackedKOLs
	}

	cursor, err := s.db.Collection(coll).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("load tracked accounts: %w", err)
	}
	defer cursor.Close(ctx)

	var accounts []domain.TrackedAccount
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("decode tracked accounts: %w", err)
	}

	for i := range accounts {
		accounts[i].Kind = kind
		if kind == domain.KindWhale && len(accounts[i].Labels) == 0 {
			labels, err := s.WalletLabels(ctx, accounts[i].Address)
			if err != nil {
				s.logger.Warn("label lookup failed", zap.String("address", accounts[i].Address), zap.Error(err))
				continue
			}
			accounts[i].Labels = labels
		}
	}
	return accounts, nil
}

// WalletLabels returns the label strings attached to one wallet.
func (s *Store) WalletLabels(ctx context.Context, address string) ([]string, error) {
	var doc struct {
		Labels []string `bson:"labels"`
	}
	err := s.db.Collection(CollWalletLabels).
		FindOne(ctx, bson.M{"address": address}, options.FindOne()).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wallet labels for %s: %w", address, err)
	}
	return doc.Labels, nil
}
