package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/orderdesk/internal/adapter/amqp"
	"github.com/neomorfeo/orderdesk/internal/adapter/authz"
	"github.com/neomorfeo/orderdesk/internal/adapter/fsm"
	"github.com/neomorfeo/orderdesk/internal/adapter/metrics"
	oteladapter "github.com/neomorfeo/orderdesk/internal/adapter/otel"
	riveradapter "github.com/neomorfeo/orderdesk/internal/adapter/river"
	"github.com/neomorfeo/orderdesk/internal/adapter/sqlite"
	"github.com/neomorfeo/orderdesk/internal/app"
	"github.com/neomorfeo/orderdesk/internal/config"
	"github.com/neomorfeo/orderdesk/internal/dispatch"

	handler "github.com/neomorfeo/orderdesk/internal/adapter/http"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("orderdesk stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	otelCfg, err := oteladapter.ConfigFromEnv()
	if err != nil {
		return err
	}
	providers, err := oteladapter.Setup(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := oteladapter.OpenDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	orders, err := sqlite.NewFromDB(db)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	results := sqlite.NewResultStore(db)

	authorizer, err := authz.New(cfg.AuthzPolicyPath)
	if err != nil {
		return fmt.Errorf("authz: %w", err)
	}

	channels := map[string]dispatch.Sink{}
	if cfg.AMQP.Enabled() {
		publisher, err := amqp.Dial(ctx, amqp.Config{
			URL:           cfg.AMQP.URL,
			Exchange:      cfg.AMQP.Exchange,
			RoutingPrefix: cfg.AMQP.RoutingPrefix,
			DialTimeout:   cfg.AMQP.DialTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		defer publisher.Close()
		channels["amqp"] = publisher
	}

	// --- Application ---
	svc := app.NewOrderService(
		oteladapter.NewTracingRepository(orders),
		fsm.New(),
		authorizer,
		app.WithLogger(logger),
	)

	registry, err := dispatch.NewRegistry(
		dispatch.OrderOperations(svc, cfg.Task.RetryPolicy(), cfg.Task.Timeout)...,
	)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := dispatch.NewRouter(results, channels, logger)
	sink, err := metrics.NewSink(oteladapter.NewTracingSink(router), reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	dispatcher := dispatch.NewDispatcher(registry, sink, logger)

	// --- Task queue ---
	client, err := riveradapter.Setup(ctx, db, dispatcher, riveradapter.Options{
		Workers: cfg.Task.Workers,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}
	// Workers outlive the signal context so in-flight tasks can finish on Stop.
	if err := client.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting river: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			logger.Error("river shutdown", "error", err)
		}
	}()

	submitter := riveradapter.NewSubmitter(client, db, registry, results, riveradapter.WithReplyChannels(router.Channels))
	tracker := riveradapter.NewTracker(client, results)

	// --- Adapters (in) ---
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(otelchi.Middleware(otelCfg.ServiceName, otelchi.WithChiRoutes(mux)))

	api := humachi.New(mux, huma.DefaultConfig(otelCfg.ServiceName, otelCfg.ServiceVersion))
	handler.Register(api, submitter, tracker)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("orderdesk listening", "addr", srv.Addr, "docs", "http://localhost:"+cfg.Port+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	logger.Info("stopped")
	return nil
}
