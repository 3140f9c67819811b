package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/orderbook"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// twoVenueBooks builds a crossed market: the binance bid (100.80) sits
// above the coinbase ask (100.50).
func twoVenueBooks() (cb, bn *orderbook.Book) {
	cb = orderbook.New("coinbase", "BTC-USD")
	cb.ApplySnapshot([]orderbook.Entry{
		{Side: orderbook.SideBid, Price: d("100.00"), Qty: d("5.0")},
		{Side: orderbook.SideBid, Price: d("99.50"), Qty: d("3.0")},
		{Side: orderbook.SideAsk, Price: d("100.50"), Qty: d("4.0")},
		{Side: orderbook.SideAsk, Price: d("101.00"), Qty: d("2.0")},
	}, time.Time{})

	bn = orderbook.New("binance", "BTC-USD")
	bn.ApplySnapshot([]orderbook.Entry{
		{Side: orderbook.SideBid, Price: d("100.80"), Qty: d("2.0")},
		{Side: orderbook.SideBid, Price: d("100.10"), Qty: d("6.0")},
		{Side: orderbook.SideAsk, Price: d("101.20"), Qty: d("1.0")},
	}, time.Time{})
	return cb, bn
}

func TestGlobalBestQuotesWithAttribution(t *testing.T) {
	cb, bn := twoVenueBooks()
	books := []*orderbook.Book{cb, bn}

	bid, ok := GlobalBestBid(books)
	if !ok || bid.Exchange != "binance" || !bid.Price.Equal(d("100.80")) {
		t.Fatalf("global best bid wrong: %+v (ok=%v)", bid, ok)
	}

	ask, ok := GlobalBestAsk(books)
	if !ok || ask.Exchange != "coinbase" || !ask.Price.Equal(d("100.50")) {
		t.Fatalf("global best ask wrong: %+v (ok=%v)", ask, ok)
	}
}

func TestGlobalBestSkipsEmptyBooks(t *testing.T) {
	cb, _ := twoVenueBooks()
	empty := orderbook.New("binance", "BTC-USD")
	books := []*orderbook.Book{cb, empty}

	bid, ok := GlobalBestBid(books)
	if !ok || bid.Exchange != "coinbase" {
		t.Fatalf("empty book should be skipped: %+v (ok=%v)", bid, ok)
	}

	if _, ok := GlobalBestBid([]*orderbook.Book{empty}); ok {
		t.Fatal("all-empty set must report no quote")
	}
}

func TestUnifiedSpreadCanBeNegative(t *testing.T) {
	cb, bn := twoVenueBooks()

	spread, ok := UnifiedSpread([]*orderbook.Book{cb, bn})
	if !ok {
		t.Fatal("expected unified spread")
	}
	// Crossed venues: best ask 100.50 below best bid 100.80.
	if !spread.Equal(d("-0.30")) {
		t.Fatalf("expected -0.30, got %s", spread)
	}
}

func TestArbitrageGap(t *testing.T) {
	cb, bn := twoVenueBooks()

	// Buy at coinbase 100.50, sell at binance 100.80.
	gap, ok := ArbitrageGap(cb, bn)
	if !ok || !gap.Equal(d("0.30")) {
		t.Fatalf("expected gap 0.30, got %s (ok=%v)", gap, ok)
	}

	// The reverse legs lose money.
	gap, ok = ArbitrageGap(bn, cb)
	if !ok || !gap.Equal(d("-1.20")) {
		t.Fatalf("expected gap -1.20, got %s (ok=%v)", gap, ok)
	}
}

func TestArbitrageGapNeedsBothSides(t *testing.T) {
	cb, _ := twoVenueBooks()
	empty := orderbook.New("binance", "BTC-USD")

	if _, ok := ArbitrageGap(cb, empty); ok {
		t.Fatal("gap needs a bid on the sell venue")
	}
	if _, ok := ArbitrageGap(empty, cb); ok {
		t.Fatal("gap needs an ask on the buy venue")
	}
}

func TestBestExecutionBuyPrefersCheapestFill(t *testing.T) {
	cb, bn := twoVenueBooks()
	books := []*orderbook.Book{cb, bn}

	// binance has only 1.0 of ask depth, so a 3.0 buy can only fill on
	// coinbase.
	ex, ok := BestExecution(books, "buy", d("3.0"))
	if !ok || ex.Exchange != "coinbase" || !ex.VWAP.Equal(d("100.50")) {
		t.Fatalf("unexpected routing: %+v (ok=%v)", ex, ok)
	}

	// A 1.0 buy fills on either venue; coinbase at 100.50 beats binance
	// at 101.20.
	ex, ok = BestExecution(books, "buy", d("1.0"))
	if !ok || ex.Exchange != "coinbase" {
		t.Fatalf("unexpected routing: %+v (ok=%v)", ex, ok)
	}
}

func TestBestExecutionSellPrefersRichestFill(t *testing.T) {
	cb, bn := twoVenueBooks()
	books := []*orderbook.Book{cb, bn}

	ex, ok := BestExecution(books, "sell", d("2.0"))
	if !ok || ex.Exchange != "binance" || !ex.VWAP.Equal(d("100.80")) {
		t.Fatalf("unexpected routing: %+v (ok=%v)", ex, ok)
	}
}

func TestBestExecutionInsufficientEverywhere(t *testing.T) {
	cb, bn := twoVenueBooks()
	if _, ok := BestExecution([]*orderbook.Book{cb, bn}, "buy", d("1000")); ok {
		t.Fatal("no venue can fill 1000, ok must be false")
	}
}
