// Package pipeline connects exchange feeds to order books: a single
// consumer drains the shared event channel, applies book mutations, and
// periodically hands comparative quotes to the history recorder. One
// goroutine owns all book writes, so books never need write contention
// handling beyond their own read locks.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/analytics"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/exchange/common"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/history"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/metrics"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/orderbook"
)

const defaultHousekeepInterval = time.Second

// Recorder receives one comparative point per housekeeping tick once both
// venues have a book.
type Recorder interface {
	Record(p history.Point)
}

// Processor is the single consumer of the feed event channel.
type Processor struct {
	// Tick is the housekeeping cadence: staleness gauges and history
	// points are produced at this interval, not per event.
	Tick time.Duration

	product string
	books   map[string]*orderbook.Book
	events  <-chan common.Event
	board   *StatusBoard
	rec     Recorder
	logger  zerolog.Logger
}

func NewProcessor(product string, books map[string]*orderbook.Book, events <-chan common.Event, board *StatusBoard, rec Recorder, logger zerolog.Logger) *Processor {
	return &Processor{
		Tick:    defaultHousekeepInterval,
		product: product,
		books:   books,
		events:  events,
		board:   board,
		rec:     rec,
		logger:  logger.With().Str("component", "processor").Str("product", product).Logger(),
	}
}

// Run consumes events until ctx is canceled or the channel closes.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-p.events:
			if !ok {
				return nil
			}
			p.handle(ev)
		case <-ticker.C:
			p.housekeep()
		}
	}
}

func (p *Processor) handle(ev common.Event) {
	switch ev := ev.(type) {
	case common.StatusEvent:
		p.board.Set(ev.Exchange, ev.Status, ev.At)
		metrics.EventsProcessedTotal.WithLabelValues(ev.Exchange, "status").Inc()
		p.logger.Info().Str("exchange", ev.Exchange).Str("status", ev.Status.String()).Msg("feed status")

	case common.SnapshotEvent:
		book := p.books[ev.Exchange]
		if book == nil {
			return
		}
		book.ApplySnapshot(ev.Entries, ev.Time)
		p.checkSequence(book, ev.Exchange, ev.Sequence)
		metrics.SnapshotsAppliedTotal.WithLabelValues(ev.Exchange).Inc()
		metrics.EventsProcessedTotal.WithLabelValues(ev.Exchange, "snapshot").Inc()
		p.logger.Info().
			Str("exchange", ev.Exchange).
			Int("bids", book.BidCount()).
			Int("asks", book.AskCount()).
			Msg("snapshot applied")

	case common.UpdateEvent:
		book := p.books[ev.Exchange]
		if book == nil {
			return
		}
		if !book.Initialized() {
			metrics.UpdatesDroppedTotal.WithLabelValues(ev.Exchange, "no_snapshot").Inc()
			p.logger.Warn().Str("exchange", ev.Exchange).Int64("seq", ev.Sequence).Msg("update before snapshot dropped")
			return
		}
		p.checkSequence(book, ev.Exchange, ev.Sequence)
		book.ApplyUpdate(ev.Entries, ev.Time)
		metrics.EventsProcessedTotal.WithLabelValues(ev.Exchange, "update").Inc()

	case common.PartialDepthEvent:
		book := p.books[ev.Exchange]
		if book == nil {
			return
		}
		// Partial depth is a full top-N replacement; lastUpdateId jumps
		// by many per tick, so it seeds the watermark unchecked.
		book.ApplySnapshot(ev.Entries, ev.Time)
		book.SetSequence(ev.UpdateID)
		metrics.EventsProcessedTotal.WithLabelValues(ev.Exchange, "partial_depth").Inc()
	}
}

// checkSequence warns on a gap and counts it. The book has already advanced
// its watermark, so one gap produces one warning, not a warning per frame.
func (p *Processor) checkSequence(book *orderbook.Book, exchange string, seq int64) {
	prev := book.Sequence()
	if book.UpdateSequence(seq) {
		return
	}
	metrics.SequenceGapsTotal.WithLabelValues(exchange).Inc()
	p.logger.Warn().
		Str("exchange", exchange).
		Int64("expected", prev+1).
		Int64("got", seq).
		Msg("sequence gap detected")
}

// housekeep refreshes gauges and, when both venues have live books, emits
// one comparative point to the recorder.
func (p *Processor) housekeep() {
	now := time.Now().UTC()
	metrics.EventQueueDepth.Set(float64(len(p.events)))
	for ex, book := range p.books {
		if !book.Initialized() {
			continue
		}
		metrics.BookLevels.WithLabelValues(ex, "bid").Set(float64(book.BidCount()))
		metrics.BookLevels.WithLabelValues(ex, "ask").Set(float64(book.AskCount()))
		if lu := book.LastUpdate(); !lu.IsZero() {
			metrics.BookStalenessMs.WithLabelValues(ex).Set(float64(now.Sub(lu).Milliseconds()))
		}
	}

	cb := p.books[common.ExchangeCoinbase]
	bn := p.books[common.ExchangeBinance]
	if cb == nil || bn == nil || !cb.Initialized() || !bn.Initialized() {
		return
	}

	point := history.Point{Product: p.product}
	if lvl, ok := cb.BestBid(); ok {
		point.CbBid = lvl.Price
	}
	if lvl, ok := cb.BestAsk(); ok {
		point.CbAsk = lvl.Price
	}
	if lvl, ok := bn.BestBid(); ok {
		point.BnBid = lvl.Price
	}
	if lvl, ok := bn.BestAsk(); ok {
		point.BnAsk = lvl.Price
	}
	if p.rec != nil {
		p.rec.Record(point)
	}

	if gap, ok := analytics.ArbitrageGap(cb, bn); ok {
		metrics.ArbGap.WithLabelValues(common.ExchangeCoinbase, common.ExchangeBinance).Set(gap.InexactFloat64())
	}
	if gap, ok := analytics.ArbitrageGap(bn, cb); ok {
		metrics.ArbGap.WithLabelValues(common.ExchangeBinance, common.ExchangeCoinbase).Set(gap.InexactFloat64())
	}
}
