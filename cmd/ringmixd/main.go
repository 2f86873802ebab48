// ABOUTME: Main entry point for the ringmix daemon
// ABOUTME: Loads config, starts mixers and outputs, runs HTTP server
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/harper/ringmix/internal/application/config"
	"github.com/harper/ringmix/internal/application/manager"
	"github.com/harper/ringmix/internal/infrastructure/http"
	"github.com/harper/ringmix/internal/infrastructure/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return errors.Wrap(err, "setup logging")
	}
	slog.SetDefault(logger)

	// Create mixer manager
	mgr, err := manager.NewFromConfig(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "create manager")
	}

	// Start mixers and their outputs
	if err := mgr.Start(); err != nil {
		mgr.Shutdown()
		return errors.Wrap(err, "start mixers")
	}

	// Setup HTTP routes
	mux := nethttp.NewServeMux()
	mux.Handle("/mixers", http.NewMixersHandler(mgr))
	mux.HandleFunc("/healthz", http.HealthzHandler)

	// Mixer-specific routes
	streamHandler := http.NewStreamHandler(mgr)
	statsHandler := http.NewStatsHandler(mgr)
	controlHandler := http.NewControlHandler(mgr)

	mux.HandleFunc("/", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/stream"):
			streamHandler.ServeHTTP(w, r)
		case strings.HasSuffix(r.URL.Path, "/stats"):
			statsHandler.ServeHTTP(w, r)
		case strings.HasSuffix(r.URL.Path, "/stop"), strings.HasSuffix(r.URL.Path, "/resume"):
			controlHandler.ServeHTTP(w, r)
		default:
			nethttp.NotFound(w, r)
		}
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Listen.Host, cfg.Listen.Port)
	srv := &nethttp.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Streaming
		IdleTimeout:  0, // Streaming
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	// Graceful shutdown
	shutdown := make(chan error, 1)
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		shutdown <- srv.Shutdown(ctx)
	}()

	// Start server
	logger.Info("listening", "addr", "http://"+addr, "hint", "/mixers")
	if err := srv.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
		mgr.Shutdown()
		return errors.Wrap(err, "http server")
	}

	// Wait for shutdown
	if err := <-shutdown; err != nil {
		return errors.Wrap(err, "shutdown")
	}

	// Shutdown mixers
	if err := mgr.Shutdown(); err != nil {
		return errors.Wrap(err, "shutdown mixers")
	}

	logger.Info("shutdown complete")
	return nil
}
