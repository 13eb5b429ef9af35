package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bridgewatch/bridgewatch/internal/alert"
	"github.com/bridgewatch/bridgewatch/internal/api"
	"github.com/bridgewatch/bridgewatch/internal/config"
	"github.com/bridgewatch/bridgewatch/internal/monitor"
	"github.com/bridgewatch/bridgewatch/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("bridgewatch starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"detection_window", cfg.Detector.Window,
		"rules", len(cfg.Rules),
		"channels", len(cfg.Channels),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mon, err := monitor.New(cfg)
	if err != nil {
		slog.Error("failed to wire monitor", "err", err)
		os.Exit(1)
	}

	// WebSocket hub — pushes the dashboard every 5 seconds plus immediate
	// alert frames.
	hub := ws.New(func() any { return api.BuildDashboard(mon) }, 5*time.Second)
	mon.SetAlertListener(func(a alert.Alert) { hub.Publish("alert", a) })
	go hub.Run(ctx)

	mon.Start(ctx)
	defer mon.Stop()

	// Hot reload: rule and channel changes apply without a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(next *config.Config) {
			if err := mon.ApplyConfig(next); err != nil {
				slog.Error("reloaded config rejected", "err", err)
			}
		}); err != nil {
			slog.Error("config watch unavailable", "err", err)
		}
	}()

	// Combined HTTP server: REST API, WebSocket stream and Prometheus
	// exposition on one port.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(mon))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", promhttp.HandlerFor(mon.Collectors().Registry(), promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("bridgewatch shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
