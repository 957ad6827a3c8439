// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/rjcorwin/mew-protocol-sub009/pkg/audit"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/envelope"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/gateway"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/logger"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/space"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway for one space",
	Long: `Start the gateway for the space described by the configuration file.
The gateway listens for WebSocket connections on /ws, answers health probes
on /healthz, and optionally exposes Prometheus metrics on a separate address.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	// Only the header read is bounded: WebSocket connections are long-lived,
	// so read and write timeouts on the server would sever healthy sessions.
	serverReadHeaderTimeout = 10 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("space-config", "space.yaml", "Path to the space configuration file")
	serveCmd.Flags().String("audit-dir", "logs", "Directory for the JSONL audit logs")
	serveCmd.Flags().String("metrics-address", "", "Address for Prometheus metrics (empty disables)")
	serveCmd.Flags().Duration("heartbeat-interval", gateway.DefaultHeartbeatInterval, "WebSocket ping cadence")
	serveCmd.Flags().Int("max-envelope-bytes", envelope.DefaultMaxBytes, "Envelope size ceiling in bytes")

	for _, flag := range []string{
		"address", "space-config", "audit-dir", "metrics-address",
		"heartbeat-interval", "max-envelope-bytes",
	} {
		if err := viper.BindPFlag(flag, serveCmd.Flags().Lookup(flag)); err != nil {
			logger.Fatalf("Failed to bind %s flag: %v", flag, err)
		}
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	address := viper.GetString("address")
	metricsAddress := viper.GetString("metrics-address")

	cfg, err := space.Load(viper.GetString("space-config"))
	if err != nil {
		return err
	}

	auditor, err := audit.New(viper.GetString("audit-dir"))
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	gw := gateway.New(cfg, auditor, metrics, gateway.Options{
		HeartbeatInterval: viper.GetDuration("heartbeat-interval"),
		MaxEnvelopeBytes:  viper.GetInt("max-envelope-bytes"),
	})

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	router.Handle("/metrics", metrics.Handler())
	router.Mount("/", gw.Handler())

	server := &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: serverReadHeaderTimeout,
	}

	// Metrics are always on the main mux; a dedicated address is for setups
	// that keep the scrape endpoint off the participant-facing listener.
	var metricsServer *http.Server
	if metricsAddress != "" {
		mr := chi.NewRouter()
		mr.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:              metricsAddress,
			Handler:           mr,
			ReadHeaderTimeout: serverReadHeaderTimeout,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infow("gateway listening", "address", address, "space", cfg.Space.ID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server failed: %w", err)
		}
		return nil
	})
	if metricsServer != nil {
		group.Go(func() error {
			logger.Infow("metrics listening", "address", metricsAddress)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()

		if err := gw.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("gateway shutdown failed", "error", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Errorw("metrics shutdown failed", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	if closeErr := auditor.Close(); closeErr != nil {
		logger.Errorw("failed to close audit logs", "error", closeErr)
	}
	if err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}
