package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/rtr-relay/internal/config"
	"github.com/dgnsrekt/rtr-relay/internal/manager"
	"github.com/dgnsrekt/rtr-relay/internal/metrics"
	"github.com/dgnsrekt/rtr-relay/internal/notify"
	"github.com/dgnsrekt/rtr-relay/internal/server"
	"github.com/dgnsrekt/rtr-relay/internal/store"
	"github.com/dgnsrekt/rtr-relay/internal/ws"
)

const shutdownTimeout = 30 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the configured RTR servers and serve their payloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logger.Sync()
			return runRelay(cmd.Context(), cfg, logger)
		},
	}
}

func runRelay(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("configuration loaded",
		zap.String("listen", cfg.Server.Listen),
		zap.Int("units", len(cfg.Units)),
		zap.Int("queue", cfg.Gate.Queue),
		zap.Int("ratePerSecond", cfg.Server.RatePerSecond),
		zap.Bool("notify", cfg.Notify.Enabled),
	)

	collection := metrics.NewCollection()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collection,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mgr, err := manager.New(cfg.Units, cfg.Gate.Queue, collection, logger)
	if err != nil {
		return fmt.Errorf("creating units: %w", err)
	}

	st := store.New(logger)

	encoder, err := ws.NewEncoder()
	if err != nil {
		return fmt.Errorf("creating encoder: %w", err)
	}
	defer encoder.Close()

	hub := ws.NewHub(encoder, logger,
		ws.WithSnapshots(st),
		ws.WithGroupFilter(mgr.Has),
		ws.WithInterest(mgr.SetInterest),
	)
	mgr.SetNotifier(notify.New(&cfg.Notify, logger))
	mgr.AddConsumer(st)
	mgr.AddConsumer(ws.NewStreamer(hub, encoder, logger))

	names := make([]string, 0, len(cfg.Units))
	for _, u := range cfg.Units {
		names = append(names, u.Name)
	}

	router, err := server.NewRouter(server.NewServer(mgr, st, logger), server.Routes{
		Hub:       hub,
		Negotiate: ws.NewNegotiateHandler(hub, func() []string { return names }, logger),
		Metrics:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{ErrorLog: zap.NewStdLog(logger)}),
		Limiter:   rate.NewLimiter(cfg.Server.Limit(), cfg.Server.BurstSize()),
	}, logger)
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return mgr.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("relay stopped")
	return nil
}
