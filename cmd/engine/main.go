package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"market-fusion/internal/config"
	"market-fusion/internal/engine"
	"market-fusion/internal/feed"
	"market-fusion/internal/logging"
	"market-fusion/internal/metrics"
	"market-fusion/internal/state/sqlite"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	log.Info("config loaded", zap.String("path", *configPath))

	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		log.Error("failed to create state dir", zap.Error(err))
		os.Exit(1)
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		log.Error("failed to open state store", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	met := metrics.NewNoop()
	if cfg.Metrics.ListenAddr != "" {
		prom := metrics.NewPrometheus()
		met = prom.Metrics
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", prom.Handler())
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	eng := engine.New(cfg, store, met, log, nil)

	producer := feed.NewProducer(cfg.Feed, cfg.Instruments, cfg.Engine.WhaleThresholdUSD, log)
	poller := feed.NewAltPoller(cfg.Feed, cfg.Exchanges, cfg.Instruments, log)
	eng.SetSources(producer, poller)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := producer.StreamTrades(ctx, eng.PushTrades); err != nil && ctx.Err() == nil {
			log.Error("trade stream terminated", zap.Error(err))
		}
	}()

	log.Info("engine starting",
		zap.Strings("instruments", cfg.Instruments),
		zap.Strings("exchanges", cfg.ActiveExchanges()))
	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		log.Error("engine terminated", zap.Error(err))
		os.Exit(1)
	}
}
