// Package history persists side-by-side venue quotes to SQLite so arbitrage
// gaps can be charted and replayed after the fact.
//
// Writes go through a bounded queue drained by a single writer goroutine.
// The hot path never blocks on the database: when the queue is full the
// tick is dropped and counted.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/metrics"
)

// Point is one comparative observation of both venues' top of book.
// A zero value means the venue had no quote on that side.
type Point struct {
	Product string
	CbBid   decimal.Decimal
	CbAsk   decimal.Decimal
	BnBid   decimal.Decimal
	BnAsk   decimal.Decimal
}

// Sample is one stored row, returned in chronological order.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	CbBid     float64   `json:"cb_bid"`
	CbAsk     float64   `json:"cb_ask"`
	BnBid     float64   `json:"bn_bid"`
	BnAsk     float64   `json:"bn_ask"`
	ArbGap    float64   `json:"arb_gap"`
}

// Store owns the SQLite handle and the write queue.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	queue  chan Point
}

// Open creates or opens the history database at path with WAL mode enabled.
func Open(path string, buffer int, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS arbitrage_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			product_id TEXT NOT NULL,
			cb_bid REAL,
			cb_ask REAL,
			bn_bid REAL,
			bn_ask REAL,
			arb_gap REAL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_product_ts ON arbitrage_history(product_id, timestamp);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history index: %w", err)
	}

	if buffer <= 0 {
		buffer = 256
	}
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
		queue:  make(chan Point, buffer),
	}, nil
}

// Record queues a point for persistence without blocking. Full queue means
// the writer is behind; the tick is dropped and counted.
func (s *Store) Record(p Point) {
	select {
	case s.queue <- p:
	default:
		metrics.HistoryTicksSkippedTotal.Inc()
	}
}

// Run drains the queue until ctx is canceled, then flushes whatever is
// already queued before returning.
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case p := <-s.queue:
					s.insert(p)
				default:
					return nil
				}
			}
		case p := <-s.queue:
			s.insert(p)
		}
	}
}

func (s *Store) insert(p Point) {
	// The gap is only meaningful when both legs are quoted.
	gap := decimal.Decimal{}
	if p.BnBid.IsPositive() && p.CbAsk.IsPositive() {
		gap = p.BnBid.Sub(p.CbAsk)
	}

	_, err := s.db.Exec(
		`INSERT INTO arbitrage_history (product_id, cb_bid, cb_ask, bn_bid, bn_ask, arb_gap) VALUES (?, ?, ?, ?, ?, ?)`,
		p.Product,
		p.CbBid.InexactFloat64(),
		p.CbAsk.InexactFloat64(),
		p.BnBid.InexactFloat64(),
		p.BnAsk.InexactFloat64(),
		gap.InexactFloat64(),
	)
	if err != nil {
		metrics.HistoryWriteErrorsTotal.Inc()
		s.logger.Warn().Err(err).Str("product", p.Product).Msg("history insert failed")
		return
	}
	metrics.HistoryPointsTotal.Inc()
}

// Recent returns up to limit samples for product in chronological order.
func (s *Store) Recent(ctx context.Context, product string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	// CURRENT_TIMESTAMP has second resolution; id breaks ties between
	// rows written inside the same second.
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, cb_bid, cb_ask, bn_bid, bn_ask, arb_gap
		 FROM arbitrage_history
		 WHERE product_id = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		product, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var ts string
		var sm Sample
		if err := rows.Scan(&ts, &sm.CbBid, &sm.CbAsk, &sm.BnBid, &sm.BnAsk, &sm.ArbGap); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		sm.Timestamp = parseDBTime(ts)
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	// Newest-first from the index, oldest-first for the caller.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// Clear deletes stored history, all of it or one product's.
func (s *Store) Clear(ctx context.Context, product string) error {
	var err error
	if product == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM arbitrage_history`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM arbitrage_history WHERE product_id = ?`, product)
	}
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func parseDBTime(s string) time.Time {
	// CURRENT_TIMESTAMP stores "2006-01-02 15:04:05" in UTC.
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
