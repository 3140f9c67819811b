package orderbook

import (
	"sort"

	"github.com/shopspring/decimal"
)

// TopBids returns up to n bid levels sorted by price descending. n <= 0
// returns every level.
func (b *Book) TopBids(n int) []Level {
	b.mu.RLock()
	out := levelsOf(b.bids)
	b.mu.RUnlock()
	sortDesc(out)
	return trim(out, n)
}

// TopAsks returns up to n ask levels sorted by price ascending. n <= 0
// returns every level.
func (b *Book) TopAsks(n int) []Level {
	b.mu.RLock()
	out := levelsOf(b.asks)
	b.mu.RUnlock()
	sortAsc(out)
	return trim(out, n)
}

// View copies both sides under one lock, so the two halves belong to the
// same instant even while updates keep arriving.
func (b *Book) View(n int) L2 {
	b.mu.RLock()
	bids := levelsOf(b.bids)
	asks := levelsOf(b.asks)
	b.mu.RUnlock()
	sortDesc(bids)
	sortAsc(asks)
	return L2{Bids: trim(bids, n), Asks: trim(asks, n)}
}

// ExecutionVWAP walks the book to fill qty at market: "buy" consumes asks
// from the best price up, "sell" consumes bids from the best price down.
// Returns the volume-weighted average fill price; ok is false when the
// resting depth cannot cover qty.
func (b *Book) ExecutionVWAP(side string, qty decimal.Decimal) (decimal.Decimal, bool) {
	if !qty.IsPositive() {
		return decimal.Decimal{}, false
	}
	var levels []Level
	switch side {
	case "buy":
		levels = b.TopAsks(0)
	case "sell":
		levels = b.TopBids(0)
	default:
		return decimal.Decimal{}, false
	}
	var cost, filled decimal.Decimal
	for _, lvl := range levels {
		use := decimal.Min(qty.Sub(filled), lvl.Qty)
		if !use.IsPositive() {
			break
		}
		cost = cost.Add(use.Mul(lvl.Price))
		filled = filled.Add(use)
		if filled.GreaterThanOrEqual(qty) {
			break
		}
	}
	if filled.LessThan(qty) {
		return decimal.Decimal{}, false
	}
	return cost.Div(qty), true
}

// Imbalance reports (bidVol - askVol) / (bidVol + askVol) over the top n
// levels of each side: +1 is all-bid liquidity, -1 all-ask. ok is false
// when both windows are empty.
func (b *Book) Imbalance(n int) (decimal.Decimal, bool) {
	view := b.View(n)
	var bidVol, askVol decimal.Decimal
	for _, lvl := range view.Bids {
		bidVol = bidVol.Add(lvl.Qty)
	}
	for _, lvl := range view.Asks {
		askVol = askVol.Add(lvl.Qty)
	}
	total := bidVol.Add(askVol)
	if total.IsZero() {
		return decimal.Decimal{}, false
	}
	return bidVol.Sub(askVol).Div(total), true
}

func levelsOf(side map[string]Level) []Level {
	out := make([]Level, 0, len(side))
	for _, lvl := range side {
		out = append(out, lvl)
	}
	return out
}

func sortDesc(levels []Level) {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price.GreaterThan(levels[j].Price) })
}

func sortAsc(levels []Level) {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price.LessThan(levels[j].Price) })
}

func trim(levels []Level, n int) []Level {
	if n > 0 && len(levels) > n {
		return levels[:n]
	}
	return levels
}
