// Package backtest is an offline harness over recorded history: it replays
// stored gap samples and reports how often the venues crossed.
package backtest

import (
	"context"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/history"
)

const defaultReportLimit = 10000

// Stats aggregates the arb_gap column of a sample run.
type Stats struct {
	Samples  int
	Mean     float64
	Min      float64
	Max      float64
	Positive int
}

// Summarize folds samples into gap statistics. ok is false for an empty set.
func Summarize(samples []history.Sample) (Stats, bool) {
	if len(samples) == 0 {
		return Stats{}, false
	}
	st := Stats{Samples: len(samples), Min: samples[0].ArbGap, Max: samples[0].ArbGap}
	sum := 0.0
	for _, sm := range samples {
		sum += sm.ArbGap
		if sm.ArbGap < st.Min {
			st.Min = sm.ArbGap
		}
		if sm.ArbGap > st.Max {
			st.Max = sm.ArbGap
		}
		if sm.ArbGap > 0 {
			st.Positive++
		}
	}
	st.Mean = sum / float64(len(samples))
	return st, true
}

// RunGapReport logs aggregate gap statistics for product when
// CLE_GAP_REPORT is set; unset, it is a no-op. CLE_GAP_REPORT_LIMIT bounds
// how many recent samples enter the report.
func RunGapReport(ctx context.Context, store *history.Store, product string, logger zerolog.Logger) error {
	if os.Getenv("CLE_GAP_REPORT") == "" {
		return nil
	}
	limit := defaultReportLimit
	if v := os.Getenv("CLE_GAP_REPORT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	samples, err := store.Recent(ctx, product, limit)
	if err != nil {
		return err
	}
	st, ok := Summarize(samples)
	if !ok {
		logger.Info().Str("product", product).Msg("gap report: no history recorded yet")
		return nil
	}
	logger.Info().
		Str("product", product).
		Int("samples", st.Samples).
		Float64("mean_gap", st.Mean).
		Float64("min_gap", st.Min).
		Float64("max_gap", st.Max).
		Float64("positive_ratio", float64(st.Positive)/float64(st.Samples)).
		Msg("gap report")
	return nil
}
