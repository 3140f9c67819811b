// Package orderbook maintains per-exchange L2 books reconstructed from
// snapshot and incremental update events, and derives top-of-book and
// depth metrics from them.
package orderbook

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which half of the book a level belongs to.
type Side uint8

const (
	SideBid Side = iota + 1
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	}
	return "unknown"
}

// ParseSide maps wire-level side labels onto book sides. Coinbase labels
// its halves "bid" and "offer".
func ParseSide(s string) (Side, bool) {
	switch s {
	case "bid", "buy":
		return SideBid, true
	case "offer", "ask", "sell":
		return SideAsk, true
	}
	return 0, false
}

// Entry is a single level mutation: Qty replaces whatever rests at Price,
// and a zero Qty removes the level.
type Entry struct {
	Side  Side
	Price decimal.Decimal
	Qty   decimal.Decimal
}

type Level struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

type L2 struct {
	Bids []Level `json:"bids"` // sorted desc by price
	Asks []Level `json:"asks"` // sorted asc by price
}

// Book reconstructs one exchange's L2 order book for a single product.
// A single writer (the event processor) mutates it; any number of readers
// may take point-in-time copies concurrently.
type Book struct {
	exchange string
	product  string

	mu          sync.RWMutex
	bids        map[string]Level // keyed by normalized price string
	asks        map[string]Level
	seq         int64 // -1 until the first tracked message
	initialized bool
	lastUpdate  time.Time
}

func New(exchange, product string) *Book {
	return &Book{
		exchange: exchange,
		product:  product,
		bids:     make(map[string]Level),
		asks:     make(map[string]Level),
		seq:      -1,
	}
}

func (b *Book) Exchange() string { return b.exchange }
func (b *Book) Product() string  { return b.product }

// ApplySnapshot replaces the whole book. Entries with non-positive
// quantities are skipped. Marks the book initialized.
func (b *Book) ApplySnapshot(entries []Entry, eventTime time.Time) {
	bids := make(map[string]Level, len(entries)/2)
	asks := make(map[string]Level, len(entries)/2)
	for _, e := range entries {
		if !e.Qty.IsPositive() {
			continue
		}
		lvl := Level{Price: e.Price, Qty: e.Qty}
		switch e.Side {
		case SideBid:
			bids[e.Price.String()] = lvl
		case SideAsk:
			asks[e.Price.String()] = lvl
		}
	}
	b.mu.Lock()
	b.bids = bids
	b.asks = asks
	b.initialized = true
	if !eventTime.IsZero() {
		b.lastUpdate = eventTime
	}
	b.mu.Unlock()
}

// ApplyUpdate applies incremental level changes. A non-positive quantity
// deletes the level; deleting an absent level is a no-op.
func (b *Book) ApplyUpdate(entries []Entry, eventTime time.Time) {
	b.mu.Lock()
	for _, e := range entries {
		var side map[string]Level
		switch e.Side {
		case SideBid:
			side = b.bids
		case SideAsk:
			side = b.asks
		default:
			continue
		}
		key := e.Price.String()
		if e.Qty.IsPositive() {
			side[key] = Level{Price: e.Price, Qty: e.Qty}
		} else {
			delete(side, key)
		}
	}
	if !eventTime.IsZero() {
		b.lastUpdate = eventTime
	}
	b.mu.Unlock()
}

// UpdateSequence records seq as the new watermark and reports whether it
// was contiguous with the previous one. The first observation (watermark
// -1) always passes. The watermark advances even on a gap so a single
// discontinuity is reported once, not on every following message.
func (b *Book) UpdateSequence(seq int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seq == -1 {
		b.seq = seq
		return true
	}
	expected := b.seq + 1
	b.seq = seq
	return seq == expected
}

// SetSequence overwrites the watermark without a continuity check. Binance
// partial frames carry non-contiguous update ids.
func (b *Book) SetSequence(seq int64) {
	b.mu.Lock()
	b.seq = seq
	b.mu.Unlock()
}

func (b *Book) Sequence() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

func (b *Book) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// LastUpdate is the exchange-reported time of the most recent applied
// snapshot or update.
func (b *Book) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

func (b *Book) BidCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bids)
}

func (b *Book) AskCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.asks)
}

// QtyAt reports the quantity resting at price on the given side.
func (b *Book) QtyAt(side Side, price decimal.Decimal) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var m map[string]Level
	switch side {
	case SideBid:
		m = b.bids
	case SideAsk:
		m = b.asks
	default:
		return decimal.Decimal{}, false
	}
	lvl, ok := m[price.String()]
	if !ok {
		return decimal.Decimal{}, false
	}
	return lvl.Qty, true
}

// BestBid returns the highest-priced bid level.
func (b *Book) BestBid() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.bids, true)
}

// BestAsk returns the lowest-priced ask level.
func (b *Book) BestAsk() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.asks, false)
}

// Spread is best ask minus best bid, rounded to 2 decimal places. ok is
// false while either side is empty.
func (b *Book) Spread() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.spreadLocked()
}

// MidPrice is (best ask + best bid) / 2, rounded to 2 decimal places. ok
// is false while either side is empty.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.midLocked()
}

func (b *Book) spreadLocked() (decimal.Decimal, bool) {
	bid, okB := bestOf(b.bids, true)
	ask, okA := bestOf(b.asks, false)
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return ask.Price.Sub(bid.Price).Round(2), true
}

func (b *Book) midLocked() (decimal.Decimal, bool) {
	bid, okB := bestOf(b.bids, true)
	ask, okA := bestOf(b.asks, false)
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return ask.Price.Add(bid.Price).Div(decimal.NewFromInt(2)).Round(2), true
}

func bestOf(side map[string]Level, highest bool) (Level, bool) {
	var best Level
	found := false
	for _, lvl := range side {
		if !found {
			best = lvl
			found = true
			continue
		}
		if highest {
			if lvl.Price.GreaterThan(best.Price) {
				best = lvl
			}
		} else if lvl.Price.LessThan(best.Price) {
			best = lvl
		}
	}
	return best, found
}

// Summary is a consistent snapshot of the book's headline state, taken
// under a single lock.
type Summary struct {
	Exchange    string           `json:"exchange"`
	Product     string           `json:"product"`
	BestBid     *Level           `json:"best_bid,omitempty"`
	BestAsk     *Level           `json:"best_ask,omitempty"`
	Spread      *decimal.Decimal `json:"spread,omitempty"`
	MidPrice    *decimal.Decimal `json:"mid_price,omitempty"`
	BidCount    int              `json:"bid_count"`
	AskCount    int              `json:"ask_count"`
	Sequence    int64            `json:"sequence"`
	Initialized bool             `json:"initialized"`
	LastUpdate  time.Time        `json:"last_update"`
}

func (b *Book) Summary() Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Summary{
		Exchange:    b.exchange,
		Product:     b.product,
		BidCount:    len(b.bids),
		AskCount:    len(b.asks),
		Sequence:    b.seq,
		Initialized: b.initialized,
		LastUpdate:  b.lastUpdate,
	}
	if bid, ok := bestOf(b.bids, true); ok {
		s.BestBid = &bid
	}
	if ask, ok := bestOf(b.asks, false); ok {
		s.BestAsk = &ask
	}
	if sp, ok := b.spreadLocked(); ok {
		s.Spread = &sp
	}
	if mid, ok := b.midLocked(); ok {
		s.MidPrice = &mid
	}
	return s
}

func (b *Book) String() string {
	s := b.Summary()
	spread, mid := "-", "-"
	if s.Spread != nil {
		spread = s.Spread.String()
	}
	if s.MidPrice != nil {
		mid = s.MidPrice.String()
	}
	return fmt.Sprintf("OrderBook(%s@%s, bids=%d, asks=%d, spread=%s, mid=%s)",
		s.Product, s.Exchange, s.BidCount, s.AskCount, spread, mid)
}
