package main

import (
	"context"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/api/rest"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/backtest"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/config"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/history"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/health"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/http/middleware"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/log"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/metrics"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/netutil"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/runner"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/infra/version"
	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/pipeline"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()
	logger := log.NewLogger(cfg)

	registry := metrics.Init(logger)

	g := &runner.Group{}

	// History persistence is optional; the engine runs without it.
	var hist *history.Store
	var rec pipeline.Recorder
	var histErrCh <-chan error
	if cfg.History.Enabled {
		h, err := history.Open(cfg.History.Path, cfg.History.Buffer, logger)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.History.Path).Msg("history store unavailable, continuing without persistence")
		} else {
			hist = h
			rec = h
			histErrCh = g.Go(ctx, h.Run)
		}
	}

	if hist != nil {
		if err := backtest.RunGapReport(ctx, hist, cfg.Market.Product, logger); err != nil {
			logger.Error().Err(err).Msg("gap report failed")
		}
	}

	manager := pipeline.NewManager(ctx, cfg, rec, logger)
	api := rest.New(manager, hist, cfg.Market.TopDepth, logger)

	mux := http.NewServeMux()
	// admin endpoints (metrics, pprof) behind IP allowlist gate
	adminCIDRs := netutil.MustParseCIDRs(cfg.Server.AdminAllowCIDRs)
	mux.Handle("/metrics", middleware.AdminGate(adminCIDRs, metrics.Handler(registry)))
	mux.HandleFunc("/healthz", health.Healthz)
	mux.HandleFunc("/readyz", health.Readyz)
	mux.HandleFunc("/version", version.Handler)
	mux.Handle("/api/", http.StripPrefix("/api", api.Handler()))
	if cfg.Server.Pprof {
		mux.Handle("/debug/pprof/", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Index)))
		mux.Handle("/debug/pprof/cmdline", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Profile)))
		mux.Handle("/debug/pprof/symbol", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Symbol)))
		mux.Handle("/debug/pprof/trace", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Trace)))
	}

	// wrap mux with middlewares (request id and logging)
	handler := middleware.RequestID(middleware.Logger(logger)(mux))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	logger.Info().Str("addr", cfg.Server.Addr).Str("product", cfg.Market.Product).Msg("Liquidity engine started")

	if err := manager.Select(cfg.Market.Product); err != nil {
		logger.Error().Err(err).Str("product", cfg.Market.Product).Msg("initial instrument selection failed")
	}

	// mark ready after initialization completes
	health.SetReady(true)

	// Wait for termination signals or worker error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case s := <-sigCh:
		logger.Info().Str("signal", s.String()).Msg("shutdown signal received")
	case err := <-histErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("history writer error")
			health.SetNotReady("history writer failed")
		}
	}

	// mark not ready before shutdown
	health.SetReady(false)
	manager.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	// stop the history writer after the pipeline, so queued points flush
	cancel()
	g.Wait()
	if hist != nil {
		_ = hist.Close()
	}
	logger.Info().Msg("shutdown complete")
}
