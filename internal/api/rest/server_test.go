package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/config"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/history"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/pipeline"
)

// mockVenueConfig spins up fake websocket venues and returns a config
// pointing the feeds at them.
func mockVenueConfig(t *testing.T) config.Config {
	t.Helper()
	hold := make(chan struct{})
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	cb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		frame := `{"channel":"l2_data","timestamp":"2024-06-15T12:30:00Z","sequence_num":1,` +
			`"events":[{"type":"snapshot","product_id":"BTC-USD","updates":[` +
			`{"side":"bid","price_level":"100.00","new_quantity":"5.0"},` +
			`{"side":"offer","price_level":"100.50","new_quantity":"4.0"}]}]}`
		conn.WriteMessage(websocket.TextMessage, []byte(frame))
		<-hold
	}))

	bn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		tick := `{"lastUpdateId":160,"bids":[["100.80","2.0"]],"asks":[["101.20","1.0"]]}`
		conn.WriteMessage(websocket.TextMessage, []byte(tick))
		<-hold
	}))

	t.Cleanup(func() {
		close(hold)
		cb.Close()
		bn.Close()
	})

	var cfg config.Config
	cfg.Market.Products = []string{"BTC-USD", "ETH-USD"}
	cfg.Market.EventBuffer = 256
	cfg.Market.HousekeepIntervalMS = 20
	cfg.Market.StopGraceSeconds = 3
	cfg.Feeds.DialTimeoutSeconds = 2
	cfg.Feeds.PingSeconds = 20
	cfg.Feeds.PongWaitSeconds = 60
	cfg.Feeds.Coinbase.WSURL = strings.Replace(cb.URL, "http://", "ws://", 1)
	cfg.Feeds.Binance.WSURL = strings.Replace(bn.URL, "http://", "ws://", 1)
	cfg.Feeds.Binance.USWSURL = cfg.Feeds.Binance.WSURL
	cfg.Feeds.Binance.Depth = 20
	cfg.Feeds.Binance.IntervalMS = 100
	return cfg
}

func newTestServer(t *testing.T, hist *history.Store) (*Server, *pipeline.Manager) {
	t.Helper()
	cfg := mockVenueConfig(t)
	mgr := pipeline.NewManager(context.Background(), cfg, nil, zerolog.Nop())
	t.Cleanup(mgr.Stop)
	return New(mgr, hist, 10, zerolog.Nop()), mgr
}

func doJSON(t *testing.T, srv *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	fields := map[string]json.RawMessage{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &fields)
	}
	return rec, fields
}

func TestStatusWhileStopped(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec, fields := doJSON(t, srv, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	var product string
	_ = json.Unmarshal(fields["product"], &product)
	if product != "" {
		t.Fatalf("expected no product, got %q", product)
	}
	var products []string
	_ = json.Unmarshal(fields["products"], &products)
	if len(products) != 2 || products[0] != "BTC-USD" {
		t.Fatalf("catalog missing: %v", products)
	}
}

func TestMethodGuards(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	cases := []struct{ method, target string }{
		{http.MethodPost, "/status"},
		{http.MethodPost, "/books"},
		{http.MethodPost, "/history"},
		{http.MethodGet, "/history/clear"},
		{http.MethodGet, "/select"},
		{http.MethodGet, "/stop"},
	}
	for _, tc := range cases {
		rec, _ := doJSON(t, srv, tc.method, tc.target, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.target, rec.Code)
		}
	}
}

func TestBooksDepthValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for _, target := range []string{"/books?depth=x", "/books?depth=0", "/books?depth=-3"} {
		rec, _ := doJSON(t, srv, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestSelectValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec, _ := doJSON(t, srv, http.MethodPost, "/select", `{broken`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("broken body: expected 400, got %d", rec.Code)
	}
	rec, _ = doJSON(t, srv, http.MethodPost, "/select", `{"product":"FAKE-USD"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown product: expected 400, got %d", rec.Code)
	}
}

func TestSelectBooksStopFlow(t *testing.T) {
	srv, mgr := newTestServer(t, nil)

	rec, fields := doJSON(t, srv, http.MethodPost, "/select", `{"product":"btc-usd"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("select: %d %s", rec.Code, rec.Body.String())
	}
	var product string
	_ = json.Unmarshal(fields["product"], &product)
	if product != "BTC-USD" {
		t.Fatalf("selected product %q", product)
	}

	deadline := time.After(5 * time.Second)
	for {
		books := mgr.Books()
		ready := len(books) == 2 && books[0].Initialized() && books[1].Initialized()
		if ready {
			break
		}
		select {
		case <-deadline:
			t.Fatal("books never initialized")
		case <-time.After(20 * time.Millisecond):
		}
	}

	rec, _ = doJSON(t, srv, http.MethodGet, "/books?depth=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("books: %d", rec.Code)
	}
	var booksResp struct {
		Product string `json:"product"`
		Books   []struct {
			Exchange string `json:"exchange"`
			BidCount int    `json:"bid_count"`
		} `json:"books"`
		Cross struct {
			BestBid *struct {
				Exchange string          `json:"exchange"`
				Price    decimal.Decimal `json:"price"`
			} `json:"best_bid"`
			UnifiedSpread *decimal.Decimal `json:"unified_spread"`
			ArbGap        *decimal.Decimal `json:"arb_gap"`
		} `json:"cross"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &booksResp); err != nil {
		t.Fatalf("decode books: %v", err)
	}
	if booksResp.Product != "BTC-USD" || len(booksResp.Books) != 2 {
		t.Fatalf("unexpected books payload: %+v", booksResp)
	}
	if booksResp.Cross.BestBid == nil || booksResp.Cross.BestBid.Exchange != "binance" {
		t.Fatalf("global best bid should come from binance: %+v", booksResp.Cross.BestBid)
	}
	// Crossed venues: ask 100.50 on coinbase under bid 100.80 on binance.
	if booksResp.Cross.UnifiedSpread == nil || !booksResp.Cross.UnifiedSpread.Equal(decimal.RequireFromString("-0.30")) {
		t.Fatalf("unified spread wrong: %v", booksResp.Cross.UnifiedSpread)
	}
	if booksResp.Cross.ArbGap == nil || !booksResp.Cross.ArbGap.Equal(decimal.RequireFromString("0.30")) {
		t.Fatalf("arb gap wrong: %v", booksResp.Cross.ArbGap)
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: %d", rec.Code)
	}
	if mgr.Product() != "" {
		t.Fatal("stop did not clear the selection")
	}
}

func TestControlEndpointsThrottled(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// Stop is idempotent, so hammering it only exercises the bucket.
	var ok, limited int
	for i := 0; i < controlBurst+3; i++ {
		rec, _ := doJSON(t, srv, http.MethodPost, "/stop", "")
		switch rec.Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	if limited == 0 {
		t.Fatal("burst should exhaust the control bucket")
	}
	if ok < controlBurst {
		t.Fatalf("only %d calls passed, want at least %d", ok, controlBurst)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), 8, zerolog.Nop())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()

	store.Record(history.Point{
		Product: "BTC-USD",
		CbBid:   decimal.RequireFromString("100.00"),
		CbAsk:   decimal.RequireFromString("100.50"),
		BnBid:   decimal.RequireFromString("100.80"),
		BnAsk:   decimal.RequireFromString("101.20"),
	})
	flushCtx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = store.Run(flushCtx)

	srv, _ := newTestServer(t, store)

	rec, _ := doJSON(t, srv, http.MethodGet, "/history?product=BTC-USD&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d %s", rec.Code, rec.Body.String())
	}
	var histResp struct {
		Samples []history.Sample `json:"samples"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &histResp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(histResp.Samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(histResp.Samples))
	}

	rec, _ = doJSON(t, srv, http.MethodGet, "/history?limit=bad&product=BTC-USD", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", rec.Code)
	}

	// No product selected and none given.
	rec, _ = doJSON(t, srv, http.MethodGet, "/history", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no product: expected 400, got %d", rec.Code)
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/history/clear", `{"product":"BTC-USD"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear: %d", rec.Code)
	}
	rec, _ = doJSON(t, srv, http.MethodGet, "/history?product=BTC-USD", "")
	var cleared struct {
		Samples []history.Sample `json:"samples"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &cleared)
	if len(cleared.Samples) != 0 {
		t.Fatalf("history not cleared: %d samples", len(cleared.Samples))
	}
}

func TestHistoryDisabled(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec, _ := doJSON(t, srv, http.MethodGet, "/history?product=BTC-USD", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	rec, _ = doJSON(t, srv, http.MethodPost, "/history/clear", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
