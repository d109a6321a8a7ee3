// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/aggtree/cmd/aggtree/config"
	"github.com/AleutianAI/aggtree/services/api"
	"github.com/AleutianAI/aggtree/services/tasks"
	"github.com/AleutianAI/aggtree/services/telemetry"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tcfg := appConfig.Telemetry
	tcfg.ServiceVersion = version
	providers, err := telemetry.Setup(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			appLogger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	logger := appLogger.Slog()
	opts := []api.Option{
		api.WithLogger(logger),
		api.WithTaskGraph(tasks.NewGraph(tasks.WithLogger(logger))),
	}
	if h := providers.MetricsHandler(); h != nil {
		opts = append(opts, api.WithMetricsHandler(h))
	}
	if appConfig.History.Enabled {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, api.WithStore(store))
	}

	srvCfg := appConfig.Server
	srvCfg.Version = version
	if serveAddr != "" {
		srvCfg.Addr = serveAddr
	}
	server := api.NewServer(srvCfg, opts...)

	watchConfig(ctx, server)
	return server.Run(ctx)
}

// watchConfig applies log level and rate limit changes from the config file
// while the server runs. Other settings need a restart.
func watchConfig(ctx context.Context, server *api.Server) {
	path, err := resolvedConfigPath()
	if err != nil {
		appLogger.Warn("config watch disabled", "error", err)
		return
	}
	w, err := config.NewWatcher(path, func(cfg *config.Config) {
		if logLevel == "" {
			appLogger.SetLevel(cfg.LogLevel())
		}
		server.SetRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst)
		appLogger.Info("runtime settings updated",
			"log_level", cfg.Logging.Level,
			"rate_limit", cfg.Server.RateLimit,
			"rate_burst", cfg.Server.RateBurst,
		)
	}, 0, appLogger.Slog())
	if err != nil {
		appLogger.Warn("config watch disabled", "error", err)
		return
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		appLogger.Warn("config watch disabled", "path", path, "error", err)
		return
	}
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
}
