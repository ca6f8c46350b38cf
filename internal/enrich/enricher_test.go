package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

type fakeProvider struct {
	entry *domain.TokenMetadataCacheEntry
	err   error
	calls int
}

func (f *fakeProvider) TokenMetadata(_ context.Context, _ string) (*domain.TokenMetadataCacheEntry, error) {
	f.calls++
	return f.entry, f.err
}

type fakeNegative struct {
	negative map[string]bool
	marked   []string
}

func newFakeNegative() *fakeNegative {
	return &fakeNegative{negative: make(map[string]bool)}
}

func (f *fakeNegative) IsNegative(_ context.Context, mint string) bool { return f.negative[mint] }
func (f *fakeNegative) MarkNegative(_ context.Context, mint string) {
	f.negative[mint] = true
	f.marked = append(f.marked, mint)
}

const testMint = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func newTestEnricher(primary, fallback MetadataProvider, neg NegativeCache) (*Enricher, *MemoryTokenCache) {
	cache := NewMemoryTokenCache(nil, time.Hour)
	return New(primary, fallback, nil, neg, cache, zap.NewNop()), cache
}

func TestResolveNativeMint(t *testing.T) {
	primary := &fakeProvider{err: errors.New("should not be called")}
	e, _ := newTestEnricher(primary, nil, newFakeNegative())

	got := e.Resolve(context.Background(), domain.WrappedNativeMint, "")
	assert.Equal(t, "SOL", got.Symbol)
	assert.Zero(t, primary.calls)
}

func TestResolveParsedSymbolWins(t *testing.T) {
	primary := &fakeProvider{err: errors.New("down")}
	e, cache := newTestEnricher(primary, nil, newFakeNegative())

	got := e.Resolve(context.Background(), testMint, "BONK")
	assert.Equal(t, "BONK", got.Symbol)
	assert.Zero(t, primary.calls)

	entry, ok := cache.GetToken(context.Background(), testMint)
	require.True(t, ok)
	assert.Equal(t, "BONK", entry.Symbol)
}

func TestResolveFallsBackThroughProviders(t *testing.T) {
	primary := &fakeProvider{err: errors.New("rate limited")}
	fallback := &fakeProvider{entry: &domain.TokenMetadataCacheEntry{Symbol: "WIF", Name: "dogwifhat", Source: "fallback"}}
	e, _ := newTestEnricher(primary, fallback, newFakeNegative())

	got := e.Resolve(context.Background(), testMint, "")
	assert.Equal(t, "WIF", got.Symbol)
	assert.False(t, got.Shortened)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestResolveInvalidProviderSymbolSkipped(t *testing.T) {
	primary := &fakeProvider{entry: &domain.TokenMetadataCacheEntry{Symbol: "Unknown"}}
	fallback := &fakeProvider{entry: &domain.TokenMetadataCacheEntry{Symbol: "REAL"}}
	e, _ := newTestEnricher(primary, fallback, newFakeNegative())

	got := e.Resolve(context.Background(), testMint, "")
	assert.Equal(t, "REAL", got.Symbol)
}

func TestResolveAllFailedShortensAndMarksNegative(t *testing.T) {
	neg := newFakeNegative()
	primary := &fakeProvider{err: errors.New("down")}
	e, _ := newTestEnricher(primary, nil, neg)

	got := e.Resolve(context.Background(), testMint, "")
	assert.True(t, got.Shortened)
	assert.Equal(t, "7xKX...gAsU", got.Symbol)
	assert.Equal(t, []string{testMint}, neg.marked)
}

func TestResolveNegativeCacheSuppressesProviders(t *testing.T) {
	neg := newFakeNegative()
	neg.negative[testMint] = true
	primary := &fakeProvider{entry: &domain.TokenMetadataCacheEntry{Symbol: "LATE"}}
	e, _ := newTestEnricher(primary, nil, neg)

	got := e.Resolve(context.Background(), testMint, "")
	assert.True(t, got.Shortened)
	assert.Zero(t, primary.calls)
}

func TestResolveUsesCacheBeforeProviders(t *testing.T) {
	primary := &fakeProvider{err: errors.New("down")}
	e, cache := newTestEnricher(primary, nil, newFakeNegative())
	cache.PutToken(context.Background(), domain.TokenMetadataCacheEntry{
		Address: testMint, Symbol: "CACHED", Name: "Cached Token", Source: "primary",
	})

	got := e.Resolve(context.Background(), testMint, "")
	assert.Equal(t, "CACHED", got.Symbol)
	assert.Zero(t, primary.calls)
}

func TestCreationTimeNative(t *testing.T) {
	e, _ := newTestEnricher(nil, nil, newFakeNegative())
	ts := e.CreationTime(context.Background(), domain.NativeMint)
	require.NotNil(t, ts)
	assert.Equal(t, domain.SolanaGenesis, *ts)
}

func TestValidSymbol(t *testing.T) {
	cases := []struct {
		symbol string
		want   bool
	}{
		{"BONK", true},
		{" WIF ", true},
		{"", false},
		{"unknown", false},
		{"Token", false},
		{"7xKX...gAsU", false},
		{"bad\x00sym", false},
		{"waytoolongsymbolwaytoolongsymbolxx", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ValidSymbol(tc.symbol), tc.symbol)
	}
}

func TestShortenAddress(t *testing.T) {
	assert.Equal(t, "7xKX...gAsU", ShortenAddress(testMint))
	assert.Equal(t, "short", ShortenAddress("short"))
}

func TestMemoryCacheSweep(t *testing.T) {
	cache := NewMemoryTokenCache(nil, time.Millisecond)
	cache.PutToken(context.Background(), domain.TokenMetadataCacheEntry{Address: "a", Symbol: "A"})
	cache.PutToken(context.Background(), domain.TokenMetadataCacheEntry{Address: "b", Symbol: "B"})
	time.Sleep(5 * time.Millisecond)
	assert.Zero(t, cache.Sweep())
	_, ok := cache.GetToken(context.Background(), "a")
	assert.False(t, ok)
}
