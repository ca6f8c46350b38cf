// Package enrich resolves token symbol, name, image and creation age for
// both sides of a classified swap. Lookups walk a ladder: parsed symbol,
// negative cache, cached entry, primary provider, fallback provider, and
// finally a shortened-address placeholder backed by a negative-cache write.
// Enrichment failures never block persistence.
package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

// MetadataProvider resolves symbol/name/image for a mint.
type MetadataProvider interface {
	TokenMetadata(ctx context.Context, mint string) (*domain.TokenMetadataCacheEntry, error)
}

// AgeProvider resolves a token's creation time; nil time when unknown.
type AgeProvider interface {
	TokenCreationTime(ctx context.Context, mint string) (*time.Time, error)
}

// NegativeCache suppresses repeat lookups of mints that recently failed to
// resolve.
type NegativeCache interface {
	IsNegative(ctx context.Context, mint string) bool
	MarkNegative(ctx context.Context, mint string)
}

// EntryCache is the durable token-metadata cache (the "tokens" collection
// behind a read-through layer).
type EntryCache interface {
	GetToken(ctx context.Context, mint string) (*domain.TokenMetadataCacheEntry, bool)
	PutToken(ctx context.Context, entry domain.TokenMetadataCacheEntry)
}

// ResolvedToken is the enrichment output for one mint.
type ResolvedToken struct {
	Symbol    string
	Name      string
	ImageURL  string
	Shortened bool
}

// Enricher walks the resolution ladder.
type Enricher struct {
	primary  MetadataProvider
	fallback MetadataProvider
	age      AgeProvider
	negative NegativeCache
	cache    EntryCache
	logger   *zap.Logger
}

func New(primary, fallback MetadataProvider, age AgeProvider, negative NegativeCache, cache EntryCache, logger *zap.Logger) *Enricher {
	return &Enricher{
		primary:  primary,
		fallback: fallback,
		age:      age,
		negative: negative,
		cache:    cache,
		logger:   logger.Named("enrich"),
	}
}

// Resolve returns the best available identity for a mint. parsedSymbol is
// the symbol carried by the raw parse, if any.
func (e *Enricher) Resolve(ctx context.Context, mint, parsedSymbol string) ResolvedToken {
	if domain.IsNativeMint(mint) {
		return ResolvedToken{Symbol: "SOL", Name: "Solana"}
	}

	// 1. A valid parsed symbol short-circuits everything.
	if ValidSymbol(parsedSymbol) {
		entry := domain.TokenMetadataCacheEntry{
			Address:   mint,
			Symbol:    parsedSymbol,
			Name:      parsedSymbol,
			Source:    "primary",
			CreatedAt: time.Now().UTC(),
		}
		e.cache.PutToken(ctx, entry)
		return ResolvedToken{Symbol: entry.Symbol, Name: entry.Name}
	}

	// 2. Cached entry.
	if entry, ok := e.cache.GetToken(ctx, mint); ok && entry.Source != "negative" {
		return ResolvedToken{Symbol: entry.Symbol, Name: entry.Name, ImageURL: entry.ImageURL}
	}

	// 3. Fresh negative result suppresses provider calls.
	if e.negative.IsNegative(ctx, mint) {
		return ResolvedToken{Symbol: ShortenAddress(mint), Name: "Unknown", Shortened: true}
	}

	// 4 and 5. Providers in order.
	for _, provider := range []MetadataProvider{e.primary, e.fallback} {
		if provider == nil {
			continue
		}
		entry, err := provider.TokenMetadata(ctx, mint)
		if err != nil {
			e.logger.Debug("metadata provider failed", zap.String("mint", mint), zap.Error(err))
			continue
		}
		if entry == nil || !ValidSymbol(entry.Symbol) {
			continue
		}
		entry.Address = mint
		entry.CreatedAt = time.Now().UTC()
		e.cache.PutToken(ctx, *entry)
		return ResolvedToken{Symbol: entry.Symbol, Name: entry.Name, ImageURL: entry.ImageURL}
	}

	// 6. Give up and remember the failure.
	e.negative.MarkNegative(ctx, mint)
	return ResolvedToken{Symbol: ShortenAddress(mint), Name: "Unknown", Shortened: true}
}

// CreationTime resolves the token's creation timestamp: the chain genesis
// for the native coin and its wrapped form, otherwise the market-data
// provider. Unparseable results come back nil.
func (e *Enricher) CreationTime(ctx context.Context, mint string) *time.Time {
	if domain.IsNativeMint(mint) {
		genesis := domain.SolanaGenesis
		return &genesis
	}
	if e.age == nil {
		return nil
	}
	ts, err := e.age.TokenCreationTime(ctx, mint)
	if err != nil {
		e.logger.Debug("creation time lookup failed", zap.String("mint", mint), zap.Error(err))
		return nil
	}
	return ts
}
