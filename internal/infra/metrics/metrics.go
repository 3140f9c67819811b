package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Feed health
	WSReconnectsTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ws_reconnects_total", Help: "WS reconnects by exchange and reason"}, []string{"exchange", "reason"})
	WSConnected        = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ws_connected", Help: "1 while the exchange stream is connected"}, []string{"exchange"})
	FeedMessagesTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "feed_messages_total", Help: "Raw feed messages by exchange"}, []string{"exchange"})
	FeedParseErrsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "feed_parse_errors_total", Help: "Dropped unparsable feed messages by exchange"}, []string{"exchange"})

	// Event pipeline
	EventsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "events_processed_total", Help: "Events consumed by exchange and kind"}, []string{"exchange", "kind"})
	EventQueueDepth      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "event_queue_depth", Help: "Events waiting in the shared channel"})
	UpdatesDroppedTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "updates_dropped_total", Help: "Updates dropped by exchange and reason"}, []string{"exchange", "reason"})

	// Book health
	SequenceGapsTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sequence_gaps_total", Help: "Sequence discontinuities by exchange"}, []string{"exchange"})
	SnapshotsAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "snapshots_applied_total", Help: "Full book replacements by exchange"}, []string{"exchange"})
	BookLevels            = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "book_levels", Help: "Resting levels per book side"}, []string{"exchange", "side"})
	BookStalenessMs       = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "book_staleness_ms", Help: "WS book staleness in ms by exchange"}, []string{"exchange"})

	// Cross-exchange
	ArbGap = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "arbitrage_gap", Help: "sell-side best bid minus buy-side best ask by direction"}, []string{"buy", "sell"})

	// History persistence
	HistoryPointsTotal       = prometheus.NewCounter(prometheus.CounterOpts{Name: "history_points_total", Help: "Comparative points persisted"})
	HistoryWriteErrorsTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "history_write_errors_total", Help: "Failed history inserts"})
	HistoryTicksSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "history_ticks_skipped_total", Help: "Housekeeping points dropped because the writer queue was full"})

	// Lifecycle
	PipelineSelectsTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_selects_total", Help: "Instrument pipeline starts"})
	PipelineStopsTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_stops_total", Help: "Instrument pipeline stops"})
)

func Init(logger zerolog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		WSReconnectsTotal, WSConnected, FeedMessagesTotal, FeedParseErrsTotal,
		EventsProcessedTotal, EventQueueDepth, UpdatesDroppedTotal,
		SequenceGapsTotal, SnapshotsAppliedTotal, BookLevels, BookStalenessMs,
		ArbGap,
		HistoryPointsTotal, HistoryWriteErrorsTotal, HistoryTicksSkippedTotal,
		PipelineSelectsTotal, PipelineStopsTotal,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		_ = reg.Register(c)
	}
	logger.Info().Msg("Prometheus metrics initialized")
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
