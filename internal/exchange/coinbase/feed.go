// Package coinbase streams the Coinbase Advanced Trade level2 channel and
// translates its frames into book events. The level2 channel delivers one
// snapshot per subscription followed by incremental updates, each frame
// carrying a monotonically increasing sequence_num.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/exchange/common"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/metrics"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/orderbook"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultPingInterval = 20 * time.Second
	defaultPongWait     = 60 * time.Second
	writeControlWait    = 5 * time.Second

	// Snapshot frames for deep books are large; match the venue's own limit.
	readLimit = 10 << 20
)

// Feed maintains one level2 subscription for one product, reconnecting with
// exponential backoff until its context is canceled.
type Feed struct {
	URL     string
	Product string

	PingInterval time.Duration
	PongWait     time.Duration

	out    chan<- common.Event
	dialer *websocket.Dialer
	logger zerolog.Logger
}

func New(url, product string, out chan<- common.Event, logger zerolog.Logger) *Feed {
	return &Feed{
		URL:          url,
		Product:      product,
		PingInterval: defaultPingInterval,
		PongWait:     defaultPongWait,
		out:          out,
		dialer:       &websocket.Dialer{HandshakeTimeout: defaultDialTimeout},
		logger:       logger.With().Str("exchange", common.ExchangeCoinbase).Str("product", product).Logger(),
	}
}

// SetDialTimeout adjusts the websocket handshake timeout.
func (f *Feed) SetDialTimeout(d time.Duration) { f.dialer.HandshakeTimeout = d }

func (f *Feed) Name() string { return "coinbase-feed" }

// Run drives the connect/stream/backoff cycle. It returns nil once ctx is
// canceled; transport errors are absorbed and retried.
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
		if err != nil {
			reason := "connect"
			if connected {
				reason = "stream"
			}
			metrics.WSReconnectsTotal.WithLabelValues(common.ExchangeCoinbase, reason).Inc()
			f.logger.Warn().Err(err).Int("retry", retry).Msg("coinbase stream interrupted")
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

// stream runs a single connection cycle. The returned bool reports whether
// the subscription was established, which resets the backoff schedule.
func (f *Feed) stream(ctx context.Context) (bool, error) {
	conn, resp, err := f.dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return false, fmt.Errorf("dial %s: %w", f.URL, err)
	}
	defer conn.Close()
	conn.SetReadLimit(readLimit)

	sub := subscribeRequest{
		Type:       "subscribe",
		ProductIDs: []string{f.Product},
		Channel:    "level2",
	}
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info().Str("channel", "level2").Msg("subscribed")

	if !common.Publish(ctx, f.out, common.StatusEvent{
		Base:   f.base(),
		Status: common.StatusConnected,
		At:     time.Now().UTC(),
	}) {
		return true, nil
	}
	metrics.WSConnected.WithLabelValues(common.ExchangeCoinbase).Set(1)
	defer metrics.WSConnected.WithLabelValues(common.ExchangeCoinbase).Set(0)

	// ReadMessage has no context form; closing the conn is what unblocks it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(f.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.PongWait))
	})
	go f.pingLoop(ctx, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read: %w", err)
		}
		metrics.FeedMessagesTotal.WithLabelValues(common.ExchangeCoinbase).Inc()

		ev, err := f.parseMessage(data)
		if err != nil {
			metrics.FeedParseErrsTotal.WithLabelValues(common.ExchangeCoinbase).Inc()
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

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeControlWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (f *Feed) base() common.Base {
	return common.Base{Exchange: common.ExchangeCoinbase, Product: f.Product}
}

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

type wsFrame struct {
	Channel     string    `json:"channel"`
	Timestamp   string    `json:"timestamp"`
	SequenceNum int64     `json:"sequence_num"`
	Events      []wsEvent `json:"events"`
}

type wsEvent struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Updates   []wsChange `json:"updates"`
}

type wsChange struct {
	Side     string `json:"side"`
	Price    string `json:"price_level"`
	Quantity string `json:"new_quantity"`
}

// parseMessage maps one wire frame to an event. Frames on other channels
// (subscription acks, heartbeats) map to nil. A frame with any unparsable
// level is rejected whole rather than half-applied.
func (f *Feed) parseMessage(data []byte) (common.Event, error) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Channel != "l2_data" || len(frame.Events) == 0 {
		return nil, nil
	}

	first := frame.Events[0]
	if first.Type != "snapshot" && first.Type != "update" {
		return nil, nil
	}

	entries := make([]orderbook.Entry, 0, len(first.Updates))
	for _, ch := range first.Updates {
		side, ok := orderbook.ParseSide(ch.Side)
		if !ok {
			return nil, fmt.Errorf("side %q", ch.Side)
		}
		price, err := decimal.NewFromString(ch.Price)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", ch.Price, err)
		}
		qty, err := decimal.NewFromString(ch.Quantity)
		if err != nil {
			return nil, fmt.Errorf("quantity %q: %w", ch.Quantity, err)
		}
		entries = append(entries, orderbook.Entry{Side: side, Price: price, Qty: qty})
	}

	product := first.ProductID
	if product == "" {
		product = f.Product
	}
	base := common.Base{Exchange: common.ExchangeCoinbase, Product: product}
	ts := parseTimestamp(frame.Timestamp)

	if first.Type == "snapshot" {
		return common.SnapshotEvent{Base: base, Sequence: frame.SequenceNum, Time: ts, Entries: entries}, nil
	}
	return common.UpdateEvent{Base: base, Sequence: frame.SequenceNum, Time: ts, Entries: entries}, nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}
