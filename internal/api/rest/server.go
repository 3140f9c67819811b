// Package rest is the read-only consumer API: poll books and analytics,
// query gap history, and drive instrument selection. It is mounted under
// /api/ next to the operational endpoints.
package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/analytics"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/exchange/common"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/history"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/netutil"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/orderbook"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/pipeline"
)

const defaultHistoryLimit = 100

// Select, stop and clear tear down connections or delete rows; a shared
// bucket keeps scripted clients from flapping the pipeline.
const (
	controlBurst = 10
	controlRate  = 1.0 // tokens per second
)

type Server struct {
	mux      *http.ServeMux
	mgr      *pipeline.Manager
	hist     *history.Store
	topDepth int
	control  *netutil.TokenBucket
	logger   zerolog.Logger
}

// New wires the API routes. hist may be nil when history is disabled; the
// history routes then answer 503.
func New(mgr *pipeline.Manager, hist *history.Store, topDepth int, logger zerolog.Logger) *Server {
	if topDepth <= 0 {
		topDepth = 10
	}
	s := &Server{
		mgr:      mgr,
		hist:     hist,
		topDepth: topDepth,
		control:  netutil.NewTokenBucket(controlBurst, controlRate),
		logger:   logger.With().Str("component", "rest").Logger(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/books", s.handleBooks)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/history/clear", s.handleHistoryClear)
	mux.HandleFunc("/select", s.handleSelect)
	mux.HandleFunc("/stop", s.handleStop)
	s.mux = mux
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

type statusResponse struct {
	Product  string                        `json:"product"`
	Products []string                      `json:"products"`
	Feeds    map[string]pipeline.ConnState `json:"feeds,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Product:  s.mgr.Product(),
		Products: s.mgr.Catalog(),
		Feeds:    s.mgr.StatusAll(),
	})
}

type bookView struct {
	orderbook.Summary
	Depth orderbook.L2 `json:"depth"`
}

type crossView struct {
	BestBid       *analytics.Quote `json:"best_bid,omitempty"`
	BestAsk       *analytics.Quote `json:"best_ask,omitempty"`
	UnifiedSpread *decimal.Decimal `json:"unified_spread,omitempty"`
	// arb_gap is the buy-coinbase/sell-binance direction, matching the
	// column persisted to history; reverse is the other leg pair.
	ArbGap        *decimal.Decimal `json:"arb_gap,omitempty"`
	ArbGapReverse *decimal.Decimal `json:"arb_gap_reverse,omitempty"`
}

type booksResponse struct {
	Product string     `json:"product"`
	Books   []bookView `json:"books"`
	Cross   *crossView `json:"cross,omitempty"`
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	depth := s.topDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid depth", http.StatusBadRequest)
			return
		}
		depth = n
	}

	resp := booksResponse{Product: s.mgr.Product()}
	books := s.mgr.Books()
	for _, b := range books {
		resp.Books = append(resp.Books, bookView{
			Summary: b.Summary(),
			Depth:   b.View(depth),
		})
	}

	if len(books) > 0 {
		cross := &crossView{}
		if q, ok := analytics.GlobalBestBid(books); ok {
			cross.BestBid = &q
		}
		if q, ok := analytics.GlobalBestAsk(books); ok {
			cross.BestAsk = &q
		}
		if sp, ok := analytics.UnifiedSpread(books); ok {
			cross.UnifiedSpread = &sp
		}
		cb := s.mgr.Book(common.ExchangeCoinbase)
		bn := s.mgr.Book(common.ExchangeBinance)
		if cb != nil && bn != nil {
			if gap, ok := analytics.ArbitrageGap(cb, bn); ok {
				cross.ArbGap = &gap
			}
			if gap, ok := analytics.ArbitrageGap(bn, cb); ok {
				cross.ArbGapReverse = &gap
			}
		}
		resp.Cross = cross
	}
	writeJSON(w, http.StatusOK, resp)
}

type historyResponse struct {
	Product string           `json:"product"`
	Samples []history.Sample `json:"samples"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.hist == nil {
		http.Error(w, "history disabled", http.StatusServiceUnavailable)
		return
	}
	product := r.URL.Query().Get("product")
	if product == "" {
		product = s.mgr.Product()
	}
	if product == "" {
		http.Error(w, "no product selected", http.StatusBadRequest)
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	samples, err := s.hist.Recent(r.Context(), strings.ToUpper(product), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("history query failed")
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Product: strings.ToUpper(product), Samples: samples})
}

// allowControl admits one control call per token; rejected calls get 429.
func (s *Server) allowControl(w http.ResponseWriter) bool {
	if s.control.Allow(time.Now()) {
		return true
	}
	http.Error(w, "too many control requests", http.StatusTooManyRequests)
	return false
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowControl(w) {
		return
	}
	if s.hist == nil {
		http.Error(w, "history disabled", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Product string `json:"product"`
	}
	if r.Body != nil {
		// An empty or absent body clears everything.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := s.hist.Clear(r.Context(), strings.ToUpper(req.Product)); err != nil {
		s.logger.Error().Err(err).Msg("history clear failed")
		http.Error(w, "history clear failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowControl(w) {
		return
	}
	var req struct {
		Product string `json:"product"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.mgr.Select(req.Product); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"product": s.mgr.Product()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowControl(w) {
		return
	}
	s.mgr.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
