package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boohpay/vatcore/internal/config"
	"github.com/boohpay/vatcore/internal/database"
	"github.com/boohpay/vatcore/internal/events"
	"github.com/boohpay/vatcore/internal/logger"
	"github.com/boohpay/vatcore/internal/middleware"
	"github.com/boohpay/vatcore/internal/reversement"
	"github.com/boohpay/vatcore/internal/telemetry"
	"github.com/boohpay/vatcore/internal/vat"
)

func main() {
	cfg := config.LoadDev()

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Errorw("vatcore stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx := context.Background()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Infow("database connected")

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	log.Infow("migrations complete")

	regions := vat.DefaultRegionTable()
	if cfg.VAT.RegionTablePath != "" {
		if regions, err = vat.LoadRegionTable(cfg.VAT.RegionTablePath); err != nil {
			return err
		}
	}
	log.Infow("region table loaded", "version", regions.Version())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewVATMetrics("vatcore", registry)

	// Initialize VAT engine
	store := vat.NewPostgresStore(pool)
	rates := vat.NewRateLookup(store, vat.NewRateCache(cfg.VAT.RateCacheTTL), cfg.VAT.DefaultCategory, metrics, log)
	auditor := vat.NewAuditor(store, cfg.VAT.AuditBuffer, cfg.VAT.AuditWorkers, metrics, log)

	opts := vat.DefaultOptions()
	opts.EngineVersion = cfg.VAT.EngineVersion
	opts.DefaultCategory = cfg.VAT.DefaultCategory
	opts.FailOpenUnknownCountry = cfg.VAT.FailOpenUnknownCountry
	opts.ZeroVATWhenRateMissing = cfg.VAT.ZeroVATWhenRateMissing
	svc := vat.NewService(store, rates, vat.NewResolver(regions), auditor, metrics, log, opts)

	// Event transport
	nc, err := events.Connect(cfg.NATS, log)
	if err != nil {
		return err
	}
	providers := reversement.ParseProviders(cfg.PayoutProviders)
	consumer := events.NewConsumer(svc, metrics, log, cfg.NATS, providers)
	if _, err := consumer.Subscribe(nc); err != nil {
		nc.Close()
		return err
	}

	// Ops server: health and metrics only
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil || !nc.IsConnected() {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":       status,
			"engine":       cfg.VAT.EngineVersion,
			"region_table": regions.Version(),
		})
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.RequestLogger(log), middleware.Recover(log)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("ops server starting", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "ops server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// In-flight handlers must finish before the audit queue closes.
	if err := events.Drain(shutdownCtx, nc); err != nil {
		log.Warnw("nats drain incomplete", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnw("ops server shutdown error", "error", err)
	}
	if err := auditor.Close(shutdownCtx); err != nil {
		log.Errorw("audit queue not fully flushed", "error", err)
	}

	log.Infow("vatcore stopped")
	return runErr
}
