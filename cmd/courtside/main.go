package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courtside/internal/config"
	"courtside/internal/gateway/rest"
	"courtside/internal/gateway/ws"
	"courtside/internal/logging"
	"courtside/internal/realtime"
)

func main() {
	configDir := flag.String("config", ".", "Directory containing config.yml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		slog.Error("failed to initialize logging", "error", err)
		os.Exit(1)
	}
	logger := slog.Default()

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	service, err := realtime.NewService(initCtx, cfg.Realtime, logger)
	initCancel()
	if err != nil {
		logger.Error("failed to build realtime service", "error", err)
		os.Exit(1)
	}
	if err := service.Start(); err != nil {
		logger.Error("failed to start realtime service", "error", err)
		os.Exit(1)
	}
	logger.Info("realtime service started",
		"store", cfg.Realtime.Store.Backend,
		"transport", cfg.Realtime.Transport.Backend)

	restServer := rest.NewServer(service, cfg.REST, logger)
	wsServer := ws.NewServer(service, cfg.WS, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	errCh := make(chan error, 2)
	go func() { errCh <- restServer.Start() }()
	go func() { errCh <- wsServer.Start(bgCtx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("gateway failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	bgCancel()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket gateway shutdown failed", "error", err)
	}
	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rest gateway shutdown failed", "error", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Warn("realtime service shutdown failed", "error", err)
	}
	if err := logging.Shutdown(); err != nil {
		slog.Warn("log shutdown failed", "error", err)
	}
	logger.Info("stopped")
}
