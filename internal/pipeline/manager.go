package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/config"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/exchange/binance"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/exchange/coinbase"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/exchange/common"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/metrics"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/runner"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/orderbook"
)

// Manager owns the per-instrument pipeline: two feed workers, one bounded
// event channel, one processor. Selecting an instrument tears down the
// previous pipeline and starts a fresh one with empty books, so state from
// one instrument never leaks into the next.
type Manager struct {
	cfg    config.Config
	rec    Recorder
	logger zerolog.Logger
	base   context.Context

	mu      sync.Mutex
	product string
	cancel  context.CancelFunc
	done    chan struct{}
	books   map[string]*orderbook.Book
	board   *StatusBoard
	events  chan common.Event
}

// NewManager builds a stopped manager. Pipelines started by Select inherit
// from base, so canceling base shuts everything down.
func NewManager(base context.Context, cfg config.Config, rec Recorder, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		rec:    rec,
		logger: logger.With().Str("component", "manager").Logger(),
		base:   base,
	}
}

// Known reports whether product is in the configured catalog. An empty
// catalog accepts anything.
func (m *Manager) Known(product string) bool {
	if len(m.cfg.Market.Products) == 0 {
		return true
	}
	for _, p := range m.cfg.Market.Products {
		if strings.EqualFold(p, product) {
			return true
		}
	}
	return false
}

// Catalog returns the configured instrument list.
func (m *Manager) Catalog() []string {
	out := make([]string, len(m.cfg.Market.Products))
	copy(out, m.cfg.Market.Products)
	return out
}

// Select switches the pipeline to product. Selecting the already running
// product is a no-op that keeps the feeds connected.
func (m *Manager) Select(product string) error {
	product = strings.ToUpper(strings.TrimSpace(product))
	if product == "" {
		return fmt.Errorf("empty product")
	}
	if !m.Known(product) {
		return fmt.Errorf("unknown product %q", product)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if product == m.product {
		m.logger.Debug().Str("product", product).Msg("product already selected")
		return nil
	}
	m.stopLocked()
	m.startLocked(product)
	metrics.PipelineSelectsTotal.Inc()
	m.logger.Info().Str("product", product).Msg("instrument selected")
	return nil
}

// Stop tears down the running pipeline, leaving no instrument selected.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	product := m.product
	m.stopLocked()
	m.logger.Info().Str("product", product).Msg("instrument stopped")
}

func (m *Manager) startLocked(product string) {
	cfg := m.cfg
	books := map[string]*orderbook.Book{
		common.ExchangeCoinbase: orderbook.New(common.ExchangeCoinbase, product),
		common.ExchangeBinance:  orderbook.New(common.ExchangeBinance, product),
	}
	board := NewStatusBoard(common.ExchangeCoinbase, common.ExchangeBinance)
	events := make(chan common.Event, cfg.Market.EventBuffer)

	dialTimeout := time.Duration(cfg.Feeds.DialTimeoutSeconds) * time.Second

	cb := coinbase.New(cfg.Feeds.Coinbase.WSURL, product, events, m.logger)
	if dialTimeout > 0 {
		cb.SetDialTimeout(dialTimeout)
	}
	if cfg.Feeds.PingSeconds > 0 {
		cb.PingInterval = time.Duration(cfg.Feeds.PingSeconds) * time.Second
	}
	if cfg.Feeds.PongWaitSeconds > 0 {
		cb.PongWait = time.Duration(cfg.Feeds.PongWaitSeconds) * time.Second
	}

	bn := binance.New(cfg.Feeds.Binance.WSURL, cfg.Feeds.Binance.USWSURL, product, events, m.logger)
	if dialTimeout > 0 {
		bn.SetDialTimeout(dialTimeout)
	}
	if cfg.Feeds.Binance.Depth > 0 {
		bn.Depth = cfg.Feeds.Binance.Depth
	}
	if cfg.Feeds.Binance.IntervalMS > 0 {
		bn.IntervalMS = cfg.Feeds.Binance.IntervalMS
	}
	if cfg.Feeds.PongWaitSeconds > 0 {
		bn.ReadTimeout = time.Duration(cfg.Feeds.PongWaitSeconds) * time.Second
	}

	proc := NewProcessor(product, books, events, board, m.rec, m.logger)
	if cfg.Market.HousekeepIntervalMS > 0 {
		proc.Tick = time.Duration(cfg.Market.HousekeepIntervalMS) * time.Millisecond
	}

	ctx, cancel := context.WithCancel(m.base)
	done := make(chan struct{})
	g := &runner.Group{}
	workers := map[string]<-chan error{
		cb.Name():   g.Go(ctx, cb.Run),
		bn.Name():   g.Go(ctx, bn.Run),
		"processor": g.Go(ctx, proc.Run),
	}
	for name, ch := range workers {
		go func(name string, ch <-chan error) {
			if err := <-ch; err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error().Err(err).Str("worker", name).Msg("pipeline worker failed")
			}
		}(name, ch)
	}
	go func() {
		g.Wait()
		close(done)
	}()

	m.product = product
	m.cancel = cancel
	m.done = done
	m.books = books
	m.board = board
	m.events = events
}

// stopLocked cancels the pipeline and waits for its workers, bounded by the
// configured grace period. Feeds blocked in a read notice the cancellation
// when the watchdog closes their connection.
func (m *Manager) stopLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	grace := time.Duration(m.cfg.Market.StopGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 3 * time.Second
	}
	select {
	case <-m.done:
	case <-time.After(grace):
		m.logger.Warn().Str("product", m.product).Msg("pipeline workers did not stop within grace period")
	}
	m.cancel = nil
	m.done = nil
	m.product = ""
	m.books = nil
	m.board = nil
	m.events = nil
	metrics.PipelineStopsTotal.Inc()
}

// Product returns the currently selected instrument, empty when stopped.
func (m *Manager) Product() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.product
}

// Book returns the live book for exchange, nil when no pipeline runs.
func (m *Manager) Book(exchange string) *orderbook.Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.books == nil {
		return nil
	}
	return m.books[exchange]
}

// Books returns the running pipeline's books in stable venue order.
func (m *Manager) Books() []*orderbook.Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*orderbook.Book
	for _, ex := range []string{common.ExchangeCoinbase, common.ExchangeBinance} {
		if b := m.books[ex]; b != nil {
			out = append(out, b)
		}
	}
	return out
}

// StatusAll returns every feed's connection state, nil when stopped.
func (m *Manager) StatusAll() map[string]ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.board == nil {
		return nil
	}
	return m.board.All()
}
