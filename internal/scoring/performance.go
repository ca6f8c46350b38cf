package scoring

import (
	"sort"
	"time"

	"github.com/solwatch/swapfeed/internal/domain"
)

// PerformanceWindow is the lookback over which completed trades count.
const PerformanceWindow = 30 * 24 * time.Hour

// completionExitFraction is how much of the bought position must be sold
// before a token counts as a completed trade.
const completionExitFraction = 0.5

// TradeEvent is the slim trade view the performance computation consumes.
type TradeEvent struct {
	Token       string
	Type        domain.TradeType
	TokenAmount float64
	USDAmount   float64
	At          time.Time
}

// Performance summarizes an account's recent completed trades.
type Performance struct {
	// WinRate is completed tokens with positive realized PnL over all
	// completed tokens, in [0,1].
	WinRate float64
	// ROI is total realized PnL over total matched cost, e.g. 2.0 means
	// the account tripled the capital it exited.
	ROI       float64
	Completed int
}

type lot struct {
	amount float64
	cost   float64
}

type position struct {
	lots         []lot
	boughtAmount float64
	soldAmount   float64
	realizedPnL  float64
	matchedCost  float64
}

// ComputePerformance runs FIFO lot-matching over the account's trades in
// the lookback window. Sells are matched against the oldest open buy lots;
// a token completes once at least half of the bought amount has exited.
func ComputePerformance(events []TradeEvent, now time.Time) Performance {
	cutoff := now.Add(-PerformanceWindow)

	sorted := make([]TradeEvent, 0, len(events))
	for _, ev := range events {
		if ev.At.Before(cutoff) || ev.TokenAmount <= 0 {
			continue
		}
		sorted = append(sorted, ev)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	positions := make(map[string]*position)
	for _, ev := range sorted {
		pos := positions[ev.Token]
		if pos == nil {
			pos = &position{}
			positions[ev.Token] = pos
		}
		switch ev.Type {
		case domain.TradeBuy:
			pos.lots = append(pos.lots, lot{amount: ev.TokenAmount, cost: ev.USDAmount})
			pos.boughtAmount += ev.TokenAmount
		case domain.TradeSell:
			pos.sell(ev.TokenAmount, ev.USDAmount)
		}
	}

	var out Performance
	var totalPnL, totalCost float64
	for _, pos := range positions {
		if pos.boughtAmount <= 0 || pos.soldAmount < pos.boughtAmount*completionExitFraction {
			continue
		}
		out.Completed++
		if pos.realizedPnL > 0 {
			out.WinRate++
		}
		totalPnL += pos.realizedPnL
		totalCost += pos.matchedCost
	}

	if out.Completed > 0 {
		out.WinRate /= float64(out.Completed)
	}
	if totalCost > 0 {
		out.ROI = totalPnL / totalCost
	}
	return out
}

// sell consumes FIFO lots. Proceeds beyond the open position are ignored;
// tokens acquired outside the window have no cost basis here.
func (p *position) sell(amount, usd float64) {
	if amount <= 0 {
		return
	}
	unitProceeds := usd / amount

	for amount > 0 && len(p.lots) > 0 {
		head := &p.lots[0]
		matched := amount
		if matched > head.amount {
			matched = head.amount
		}
		unitCost := head.cost / head.amount

		p.realizedPnL += matched * (unitProceeds - unitCost)
		p.matchedCost += matched * unitCost
		p.soldAmount += matched

		head.amount -= matched
		head.cost -= matched * unitCost
		amount -= matched
		if head.amount <= 1e-12 {
			p.lots = p.lots[1:]
		}
	}
}
