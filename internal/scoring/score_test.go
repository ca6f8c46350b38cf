package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/solwatch/swapfeed/internal/domain"
)

func TestScoreClampsHigh(t *testing.T) {
	got := Score(Inputs{
		Kind:           domain.KindWhale,
		Labels:         []string{"SMART MONEY", "EARLY BUYER"},
		USDAmount:      25_000,
		MarketCap:      500_000,
		IsFirstBuy:     true,
		DistinctBuyers: 0,
	})
	assert.Equal(t, MaxScore, got)
}

func TestScoreClampsLow(t *testing.T) {
	got := Score(Inputs{
		Kind:           domain.KindWhale,
		USDAmount:      100,
		DistinctBuyers: 10,
		DailyBuyCount:  2,
	})
	assert.Equal(t, 0, got)
}

func TestScoreKOLUsesFollowerTier(t *testing.T) {
	base := Inputs{
		Kind:           domain.KindKOL,
		USDAmount:      2_000,
		DistinctBuyers: 10,
	}

	low := base
	low.Followers = 500
	high := base
	high.Followers = 150_000

	assert.Equal(t, Score(low)+3, Score(high))
}

func TestScoreWhaleIgnoresFollowers(t *testing.T) {
	in := Inputs{
		Kind:           domain.KindWhale,
		Followers:      1_000_000,
		USDAmount:      2_000,
		DistinctBuyers: 10,
	}
	assert.Equal(t, 1, Score(in))
}

func TestSizeTiers(t *testing.T) {
	cases := []struct {
		usd  float64
		want int
	}{
		{25_000, 3},
		{20_000, 2},
		{5_000, 2},
		{1_000, 1},
		{700, 0},
		{400, -2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sizeTier(tc.usd), "usd=%v", tc.usd)
	}
}

func TestMarketCapTiers(t *testing.T) {
	assert.Equal(t, 3, marketCapTier(900_000))
	assert.Equal(t, 2, marketCapTier(3_000_000))
	assert.Equal(t, 1, marketCapTier(15_000_000))
	assert.Equal(t, 0, marketCapTier(50_000_000))
	assert.Equal(t, 0, marketCapTier(0))
}

func TestVolumeSpikeWhaleNegativeBranch(t *testing.T) {
	assert.Equal(t, -1, volumeSpikeTier(6, domain.KindWhale))
	assert.Equal(t, 2, volumeSpikeTier(6, domain.KindKOL))
	assert.Equal(t, 2, volumeSpikeTier(3, domain.KindWhale))
	assert.Equal(t, 1, volumeSpikeTier(2.5, domain.KindWhale))
	assert.Equal(t, 0, volumeSpikeTier(1.5, domain.KindWhale))
}

func TestTimingBonusCaps(t *testing.T) {
	whale := Inputs{Kind: domain.KindWhale, IsFirstBuy: true, DistinctBuyers: 5}
	assert.Equal(t, 3, timingBonus(whale))

	kol := Inputs{Kind: domain.KindKOL, DistinctBuyers: 5}
	assert.Equal(t, 0, timingBonus(kol))
}

func TestSmallBuyThrottled(t *testing.T) {
	assert.True(t, SmallBuyThrottled(100, 2))
	assert.False(t, SmallBuyThrottled(100, 1))
	assert.False(t, SmallBuyThrottled(200, 3))
}

func TestComputePerformanceWinningToken(t *testing.T) {
	now := time.Now().UTC()
	events := []TradeEvent{
		{Token: "A", Type: domain.TradeBuy, TokenAmount: 100, USDAmount: 100, At: now.Add(-48 * time.Hour)},
		{Token: "A", Type: domain.TradeSell, TokenAmount: 60, USDAmount: 120, At: now.Add(-24 * time.Hour)},
	}

	got := ComputePerformance(events, now)
	assert.Equal(t, 1, got.Completed)
	assert.InDelta(t, 1.0, got.WinRate, 1e-9)
	assert.InDelta(t, 1.0, got.ROI, 1e-9)
}

func TestComputePerformanceLosingToken(t *testing.T) {
	now := time.Now().UTC()
	events := []TradeEvent{
		{Token: "B", Type: domain.TradeBuy, TokenAmount: 100, USDAmount: 100, At: now.Add(-2 * time.Hour)},
		{Token: "B", Type: domain.TradeSell, TokenAmount: 50, USDAmount: 25, At: now.Add(-time.Hour)},
	}

	got := ComputePerformance(events, now)
	assert.Equal(t, 1, got.Completed)
	assert.Zero(t, got.WinRate)
	assert.InDelta(t, -0.5, got.ROI, 1e-9)
	assert.Equal(t, -1, performanceTier(got))
}

func TestComputePerformanceIgnoresPartialExits(t *testing.T) {
	now := time.Now().UTC()
	events := []TradeEvent{
		{Token: "C", Type: domain.TradeBuy, TokenAmount: 100, USDAmount: 100, At: now.Add(-time.Hour)},
		{Token: "C", Type: domain.TradeSell, TokenAmount: 10, USDAmount: 50, At: now.Add(-time.Minute)},
	}
	assert.Zero(t, ComputePerformance(events, now).Completed)
}

func TestComputePerformanceIgnoresOldTrades(t *testing.T) {
	now := time.Now().UTC()
	events := []TradeEvent{
		{Token: "D", Type: domain.TradeBuy, TokenAmount: 100, USDAmount: 100, At: now.Add(-40 * 24 * time.Hour)},
		{Token: "D", Type: domain.TradeSell, TokenAmount: 100, USDAmount: 500, At: now.Add(-39 * 24 * time.Hour)},
	}
	assert.Zero(t, ComputePerformance(events, now).Completed)
}

func TestComputePerformanceFIFOAcrossLots(t *testing.T) {
	now := time.Now().UTC()
	events := []TradeEvent{
		{Token: "E", Type: domain.TradeBuy, TokenAmount: 50, USDAmount: 50, At: now.Add(-3 * time.Hour)},
		{Token: "E", Type: domain.TradeBuy, TokenAmount: 50, USDAmount: 150, At: now.Add(-2 * time.Hour)},
		{Token: "E", Type: domain.TradeSell, TokenAmount: 75, USDAmount: 150, At: now.Add(-time.Hour)},
	}

	// 50 units at cost $1 then 25 units at cost $3, proceeds $2/unit.
	got := ComputePerformance(events, now)
	assert.Equal(t, 1, got.Completed)
	assert.InDelta(t, 0.2, got.ROI, 1e-9)
	assert.InDelta(t, 1.0, got.WinRate, 1e-9)
}
