// Package binance streams Binance partial book depth and translates it into
// book events. The <symbol>@depth<N>@<interval>ms stream pushes a full
// replacement of the top N levels on every tick, so no incremental merge or
// sequence recovery is needed; lastUpdateId only orders the frames.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/exchange/common"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/metrics"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/orderbook"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultReadTimeout = 60 * time.Second
	defaultDepth       = 20
	defaultIntervalMS  = 100

	readLimit = 10 << 20
)

// errRestricted marks a dial rejected with HTTP 451, which binance.com
// returns for US-originated traffic.
var errRestricted = errors.New("endpoint restricted (451)")

// Feed maintains one partial-depth subscription for one product.
type Feed struct {
	URL     string // primary endpoint, e.g. wss://stream.binance.com:9443/ws
	USURL   string // binance.us endpoint used after a 451 rejection
	Product string

	Depth       int
	IntervalMS  int
	ReadTimeout time.Duration

	// useUS sticks for the rest of the run once the primary endpoint
	// rejects us; retrying binance.com would only 451 again.
	useUS bool

	out    chan<- common.Event
	dialer *websocket.Dialer
	logger zerolog.Logger
}

func New(url, usURL, product string, out chan<- common.Event, logger zerolog.Logger) *Feed {
	return &Feed{
		URL:         url,
		USURL:       usURL,
		Product:     product,
		Depth:       defaultDepth,
		IntervalMS:  defaultIntervalMS,
		ReadTimeout: defaultReadTimeout,
		out:         out,
		dialer:      &websocket.Dialer{HandshakeTimeout: defaultDialTimeout},
		logger:      logger.With().Str("exchange", common.ExchangeBinance).Str("product", product).Logger(),
	}
}

// SetDialTimeout adjusts the websocket handshake timeout.
func (f *Feed) SetDialTimeout(d time.Duration) { f.dialer.HandshakeTimeout = d }

func (f *Feed) Name() string { return "binance-feed" }

// StreamSymbol maps a product id to the Binance stream symbol: strip the
// dash, lower-case, and append "t" to a bare usd quote so BTC-USD trades
// against the USDT book. Products already quoted in usdt pass through.
func StreamSymbol(product string) string {
	s := strings.ToLower(strings.ReplaceAll(product, "-", ""))
	if strings.HasSuffix(s, "usd") {
		s += "t"
	}
	return s
}

func (f *Feed) streamURL() string {
	base := f.URL
	if f.useUS {
		base = f.USURL
	}
	return fmt.Sprintf("%s/%s@depth%d@%dms", base, StreamSymbol(f.Product), f.Depth, f.IntervalMS)
}

// Run drives the connect/stream/backoff cycle. A 451 rejection switches to
// the US endpoint and retries immediately; every other failure backs off.
func (f *Feed) Run(ctx context.Context) error {
	retry := 0
	for {
		connected, err := f.stream(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			retry = 0
		}
		if errors.Is(err, errRestricted) && !f.useUS {
			f.useUS = true
			metrics.WSReconnectsTotal.WithLabelValues(common.ExchangeBinance, "restricted").Inc()
			f.logger.Warn().Str("endpoint", f.USURL).Msg("primary endpoint returned 451, switching to binance.us")
			continue
		}
		if err != nil {
			reason := "connect"
			if connected {
				reason = "stream"
			}
			metrics.WSReconnectsTotal.WithLabelValues(common.ExchangeBinance, reason).Inc()
			f.logger.Warn().Err(err).Int("retry", retry).Msg("binance stream interrupted")
		}
		common.Publish(ctx, f.out, common.StatusEvent{
			Base:   f.base(),
			Status: common.StatusDisconnected,
			At:     time.Now().UTC(),
		})

		delay := common.Backoff(retry)
		retry++
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (f *Feed) stream(ctx context.Context) (bool, error) {
	url := f.streamURL()
	conn, resp, err := f.dialer.DialContext(ctx, url, nil)
	if err != nil {
		restricted := strings.Contains(err.Error(), "451")
		if resp != nil {
			restricted = restricted || resp.StatusCode == 451
			resp.Body.Close()
		}
		if restricted {
			return false, fmt.Errorf("dial %s: %w", url, errRestricted)
		}
		return false, fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	conn.SetReadLimit(readLimit)

	f.logger.Info().Str("url", url).Msg("depth stream open")
	if !common.Publish(ctx, f.out, common.StatusEvent{
		Base:   f.base(),
		Status: common.StatusConnected,
		At:     time.Now().UTC(),
	}) {
		return true, nil
	}
	metrics.WSConnected.WithLabelValues(common.ExchangeBinance).Set(1)
	defer metrics.WSConnected.WithLabelValues(common.ExchangeBinance).Set(0)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		// Depth ticks arrive every IntervalMS; a silent connection is dead.
		conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read: %w", err)
		}
		metrics.FeedMessagesTotal.WithLabelValues(common.ExchangeBinance).Inc()

		ev, err := f.parseDepth(data)
		if err != nil {
			metrics.FeedParseErrsTotal.WithLabelValues(common.ExchangeBinance).Inc()
			f.logger.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		if ev == nil {
			continue
		}
		if !common.Publish(ctx, f.out, ev) {
			return true, nil
		}
	}
}

func (f *Feed) base() common.Base {
	return common.Base{Exchange: common.ExchangeBinance, Product: f.Product}
}

type depthFrame struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// parseDepth maps one depth tick to a PartialDepthEvent. Frames without
// depth payload (stream control responses) map to nil. The frame timestamp
// is receive time; partial depth carries no exchange timestamp.
func (f *Feed) parseDepth(data []byte) (common.Event, error) {
	var frame depthFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if frame.LastUpdateID == 0 && len(frame.Bids) == 0 && len(frame.Asks) == 0 {
		return nil, nil
	}

	entries := make([]orderbook.Entry, 0, len(frame.Bids)+len(frame.Asks))
	var err error
	if entries, err = appendLevels(entries, orderbook.SideBid, frame.Bids); err != nil {
		return nil, err
	}
	if entries, err = appendLevels(entries, orderbook.SideAsk, frame.Asks); err != nil {
		return nil, err
	}

	return common.PartialDepthEvent{
		Base:     f.base(),
		UpdateID: frame.LastUpdateID,
		Time:     time.Now().UTC(),
		Entries:  entries,
	}, nil
}

func appendLevels(entries []orderbook.Entry, side orderbook.Side, levels [][]string) ([]orderbook.Entry, error) {
	for _, lvl := range levels {
		if len(lvl) < 2 {
			return nil, fmt.Errorf("level %v: want [price qty]", lvl)
		}
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", lvl[0], err)
		}
		qty, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("quantity %q: %w", lvl[1], err)
		}
		entries = append(entries, orderbook.Entry{Side: side, Price: price, Qty: qty})
	}
	return entries, nil
}
