package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/radiolens/radiolens/internal/app"
	"github.com/radiolens/radiolens/internal/config"
	"github.com/radiolens/radiolens/internal/server"
	radtls "github.com/radiolens/radiolens/internal/tls"
)

func main() {
	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := server.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(cfg, logger)
	if err != nil {
		logger.Error("failed to build app", "err", err)
		os.Exit(1)
	}

	if cfg.Server.WarmModels {
		// Failed models are retried on first request.
		go a.Warm(ctx)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      a.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0, // model calls and WebSocket streams have no fixed bound
		IdleTimeout:  120 * time.Second,
	}
	srv.RegisterOnShutdown(a.Streams.CloseAll)

	listen := srv.ListenAndServe
	if cfg.Server.TLSDomain != "" {
		cm, err := radtls.NewCertManager(cfg.Server, logger)
		if err != nil {
			logger.Error("failed to configure TLS", "err", err)
			os.Exit(1)
		}
		ln, err := cm.Listen(ctx)
		if err != nil {
			logger.Error("failed to start TLS listener", "err", err)
			os.Exit(1)
		}
		listen = func() error { return srv.Serve(ln) }
	} else {
		logger.Info("server starting", "port", cfg.Server.Port)
	}

	if err := server.Serve(ctx, srv, listen, logger); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
