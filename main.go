package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"whalewatch/clients"
	"whalewatch/config"
	"whalewatch/internal/cluster"
	"whalewatch/internal/ingest"
	"whalewatch/internal/marketstore"
	"whalewatch/internal/walletstore"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	envConfig := config.Load()
	logger.Info("starting whalewatch", zap.Bool("isProd", envConfig.IsProd))

	liveConfig := config.NewLiveConfig(envConfig)
	cfg := liveConfig.Get()

	clts := clients.New(logger, cfg)

	wallets := walletstore.New(logger, cfg.Wallets)
	markets := marketstore.New(logger)
	stats := marketstore.NewStatsStore()
	clusterEngine := cluster.New(logger, cfg.Cluster)

	controller := ingest.New(
		logger,
		cfg.Ingest,
		cfg.Detectors,
		cfg.Consolidator,
		clts.Adapters,
		wallets,
		markets,
		stats,
		clusterEngine,
		clts.Sink,
		clts.Store,
	)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	if err := controller.Run(ctx); err != nil {
		logger.Fatal("ingestion controller stopped", zap.Error(err))
	}
}
