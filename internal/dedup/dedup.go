// Package dedup enforces at-most-once processing per (signature, tracked
// account) pair on top of a shared Redis instance: an atomic membership set
// gates enqueue, and short-TTL locks serialize workers on a signature.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

const (
	whaleProcessedSet = "processed_signatures"
	kolProcessedSet   = "processed_signatures_kol"

	lockPrefix      = "processing_lock:"
	latestSigPrefix = "latest_signature:"

	// DefaultLockTTL bounds how long a crashed worker can hold a
	// signature before another picks it up.
	DefaultLockTTL = 5 * time.Minute
)

// pairKey is the JSON-encoded set member for one (signature, account) pair.
type pairKey struct {
	Signature string `json:"signature"`
	Account   string `json:"account"`
}

func encodePair(signature, account string) (string, error) {
	data, err := json.Marshal(pairKey{Signature: signature, Account: account})
	if err != nil {
		return "", fmt.Errorf("encode pair: %w", err)
	}
	return string(data), nil
}

// Deduper wraps the Redis structures of the dedup layer.
type Deduper struct {
	rdb     redis.UniversalClient
	lockTTL time.Duration
	logger  *zap.Logger
}

func New(rdb redis.UniversalClient, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:     rdb,
		lockTTL: DefaultLockTTL,
		logger:  logger.Named("dedup"),
	}
}

func processedSet(kind domain.AccountKind) string {
	if kind == domain.KindKOL {
		return kolProcessedSet
	}
	return whaleProcessedSet
}

// MarkPending atomically records the pair as seen. It returns false when the
// pair was already present, in which case the caller must not enqueue.
func (d *Deduper) MarkPending(ctx context.Context, kind domain.AccountKind, signature, account string) (bool, error) {
	member, err := encodePair(signature, account)
	if err != nil {
		return false, err
	}
	added, err := d.rdb.SAdd(ctx, processedSet(kind), member).Result()
	if err != nil {
		return false, fmt.Errorf("sadd processed: %w", err)
	}
	return added == 1, nil
}

// Unmark removes the pair from the processed set, re-opening it for a later
// notification. Called from the worker's finally path.
func (d *Deduper) Unmark(ctx context.Context, kind domain.AccountKind, signature, account string) error {
	member, err := encodePair(signature, account)
	if err != nil {
		return err
	}
	if err := d.rdb.SRem(ctx, processedSet(kind), member).Err(); err != nil {
		return fmt.Errorf("srem processed: %w", err)
	}
	return nil
}

// AcquireLock takes the per-signature mutex with the configured TTL. A false
// return means another worker holds the signature.
func (d *Deduper) AcquireLock(ctx context.Context, signature string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, lockPrefix+signature, time.Now().UTC().Format(time.RFC3339Nano), d.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock drops the per-signature mutex. Release failures are logged,
// not fatal: the TTL guarantees eventual release.
func (d *Deduper) ReleaseLock(ctx context.Context, signature string) {
	if err := d.rdb.Del(ctx, lockPrefix+signature).Err(); err != nil {
		d.logger.Warn("release lock failed", zap.String("signature", signature), zap.Error(err))
	}
}

// RecordLatestSignature stores the last-seen signature per account. Advisory
// only; read by operational tooling.
func (d *Deduper) RecordLatestSignature(ctx context.Context, account, signature string) {
	if err := d.rdb.Set(ctx, latestSigPrefix+account, signature, 0).Err(); err != nil {
		d.logger.Debug("record latest signature failed", zap.String("account", account), zap.Error(err))
	}
}

// Close releases the underlying connection.
func (d *Deduper) Close() error {
	return d.rdb.Close()
}
