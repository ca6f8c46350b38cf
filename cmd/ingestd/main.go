package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/config"
	"github.com/solwatch/swapfeed/internal/domain"
	"github.com/solwatch/swapfeed/internal/engine"
	"github.com/solwatch/swapfeed/internal/logger"
)

const shutdownDeadline = 25 * time.Second

func main() {
	configPath := flag.String("config", "", "optional config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Debug = cfg.Debug
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting swap ingestion pipeline")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := engine.NewShutdownHandler(shutdownDeadline, log)

	for _, kind := range []domain.AccountKind{domain.KindWhale, domain.KindKOL} {
		monitor, err := engine.NewMonitor(ctx, cfg, kind, engine.Downstream{}, log)
		if err != nil {
			log.Error("monitor init failed", zap.String("kind", string(kind)), zap.Error(err))
			os.Exit(1)
		}
		if err := monitor.Start(ctx); err != nil {
			log.Error("monitor start failed", zap.String("kind", string(kind)), zap.Error(err))
			os.Exit(1)
		}
		shutdown.Add(string(kind)+" monitor", monitor)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	if !shutdown.Shutdown() {
		os.Exit(1)
	}
}
