// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/succinct-tracker/succinct"
	"github.com/succinct-tracker/succinct/internal/config"
)

func Run(cfg *config.Config, logger *slog.Logger) error {
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()
	return run(signalCtx, cfg, logger, prometheus.DefaultRegisterer)
}

// run serves until ctx is cancelled or the node fails
func run(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry prometheus.Registerer,
) error {
	logger.Debug(fmt.Sprintf("config: %+v", redacted(cfg)), "component", "node")
	n, err := succinct.New(
		succinct.NewConfig(
			succinct.WithLogger(logger),
			succinct.WithPrometheusRegistry(registry),
			succinct.WithDatabasePlugin(cfg.DatabasePlugin),
			succinct.WithListenAddress(cfg.ListenAddress()),
			succinct.WithJSONDir(cfg.JSONDir),
			succinct.WithSpoolDir(cfg.SpoolDir),
			succinct.WithDecodeDir(cfg.DecodeDir),
			succinct.WithAuthSecret(cfg.AuthSecret),
			succinct.WithAuthTimeout(cfg.AuthTimeout),
			succinct.WithPushDelay(cfg.PushDelay),
			succinct.WithMaxPayload(cfg.MaxPayload),
			succinct.WithMaxConnectionsPerIP(cfg.MaxConnectionsPerIP),
			succinct.WithMaxChatBytes(cfg.MaxChatBytes),
			succinct.WithPageSize(cfg.PageSize),
			succinct.WithShutdownTimeout(cfg.ShutdownTimeout),
			succinct.WithTracing(cfg.Tracing),
			succinct.WithTracingStdout(cfg.TracingStdout),
		),
	)
	if err != nil {
		return err
	}
	errChan := make(chan error, 2)
	// Metrics listener
	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr: fmt.Sprintf(
				"%s:%d",
				cfg.BindAddr,
				cfg.MetricsPort,
			),
			Handler:           mux,
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		logger.Info(
			"serving prometheus metrics on "+metricsServer.Addr,
			"component",
			"node",
		)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("failed to start metrics listener: %w", err)
			}
		}()
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		errChan <- n.Run(runCtx)
	}()

	shutdownMetrics := func() {
		if metricsServer == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			cfg.ShutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Wait for signal or error
	select {
	case <-ctx.Done():
		logger.Info("signal received, initiating graceful shutdown")
		shutdownMetrics()
		// Run stops the node once its context is done
		if err := <-errChan; err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil
	case err := <-errChan:
		shutdownMetrics()
		runCancel()
		if stopErr := n.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error",
				stopErr,
			)
		}
		if err != nil {
			logger.Error("node error", "error", err)
			return err
		}
		logger.Info("node stopped")
		return nil
	}
}

// redacted returns a copy of the config safe to log
func redacted(cfg *config.Config) config.Config {
	ret := *cfg
	if ret.AuthSecret != "" {
		ret.AuthSecret = "<redacted>"
	}
	ret.Database = nil
	return ret
}
