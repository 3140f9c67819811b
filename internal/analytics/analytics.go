// Package analytics derives cross-venue signals from a set of live books:
// the global best quote, the unified spread, arbitrage gaps between venue
// pairs, and best-execution routing for a given order size.
//
// All functions read point-in-time copies, so results are internally
// consistent even while books keep updating.
package analytics

import (
	"github.com/shopspring/decimal"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/orderbook"
)

// Quote is a price level attributed to the venue quoting it.
type Quote struct {
	Exchange string          `json:"exchange"`
	Price    decimal.Decimal `json:"price"`
	Qty      decimal.Decimal `json:"qty"`
}

// Execution is the outcome of routing an order to a single venue.
type Execution struct {
	Exchange string          `json:"exchange"`
	VWAP     decimal.Decimal `json:"vwap"`
}

// GlobalBestBid returns the highest bid across all initialized books.
func GlobalBestBid(books []*orderbook.Book) (Quote, bool) {
	var best Quote
	found := false
	for _, b := range books {
		lvl, ok := b.BestBid()
		if !ok {
			continue
		}
		if !found || lvl.Price.GreaterThan(best.Price) {
			best = Quote{Exchange: b.Exchange(), Price: lvl.Price, Qty: lvl.Qty}
			found = true
		}
	}
	return best, found
}

// GlobalBestAsk returns the lowest ask across all initialized books.
func GlobalBestAsk(books []*orderbook.Book) (Quote, bool) {
	var best Quote
	found := false
	for _, b := range books {
		lvl, ok := b.BestAsk()
		if !ok {
			continue
		}
		if !found || lvl.Price.LessThan(best.Price) {
			best = Quote{Exchange: b.Exchange(), Price: lvl.Price, Qty: lvl.Qty}
			found = true
		}
	}
	return best, found
}

// UnifiedSpread is the spread of the combined book: global best ask minus
// global best bid, rounded to two decimals. A negative value means the
// venues are crossed, which is exactly the arbitrage signal, so it is
// reported rather than clamped.
func UnifiedSpread(books []*orderbook.Book) (decimal.Decimal, bool) {
	bid, ok := GlobalBestBid(books)
	if !ok {
		return decimal.Decimal{}, false
	}
	ask, ok := GlobalBestAsk(books)
	if !ok {
		return decimal.Decimal{}, false
	}
	return ask.Price.Sub(bid.Price).Round(2), true
}

// ArbitrageGap is the gross profit per unit of buying at buy's best ask and
// selling at sell's best bid. Positive means the legs are profitable before
// fees; callers decide what threshold makes it actionable.
func ArbitrageGap(buy, sell *orderbook.Book) (decimal.Decimal, bool) {
	ask, ok := buy.BestAsk()
	if !ok {
		return decimal.Decimal{}, false
	}
	bid, ok := sell.BestBid()
	if !ok {
		return decimal.Decimal{}, false
	}
	return bid.Price.Sub(ask.Price), true
}

// BestExecution routes an order of size qty to the venue with the best
// walk-the-book VWAP: lowest for a buy, highest for a sell. Venues without
// enough depth for the full size are skipped; ok is false when no venue
// can fill it.
func BestExecution(books []*orderbook.Book, side string, qty decimal.Decimal) (Execution, bool) {
	var best Execution
	found := false
	for _, b := range books {
		vwap, ok := b.ExecutionVWAP(side, qty)
		if !ok {
			continue
		}
		if !found {
			best = Execution{Exchange: b.Exchange(), VWAP: vwap}
			found = true
			continue
		}
		better := vwap.LessThan(best.VWAP)
		if side == "sell" {
			better = vwap.GreaterThan(best.VWAP)
		}
		if better {
			best = Execution{Exchange: b.Exchange(), VWAP: vwap}
		}
	}
	return best, found
}
