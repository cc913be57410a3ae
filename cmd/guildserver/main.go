// Package main runs the guild engine's background work: the raid status
// sweeper and, when Redis is enabled, a relay that logs the event stream.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gymguild/internal/app"
	"github.com/cory-johannsen/gymguild/internal/config"
	"github.com/cory-johannsen/gymguild/internal/events"
	"github.com/cory-johannsen/gymguild/internal/guild"
	"github.com/cory-johannsen/gymguild/internal/observability"
	"github.com/cory-johannsen/gymguild/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "guildserver")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("starting guild service", zap.Error(err))
	}
	defer a.Close()

	lc := server.NewLifecycle(logger)
	lc.Add("raid-sweeper", guild.NewSweeper(a.Service, cfg.Sweeper.Interval, cfg.Sweeper.Timeout, logger))
	lc.Add("db-health", server.ServiceFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.Sweeper.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := a.Pool.Health(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		}
	}))
	if a.Bus != nil {
		lc.Add("event-relay", server.ServiceFunc(func(ctx context.Context) error {
			return a.Bus.Forward(ctx, func(e events.Event) {
				logger.Debug("event",
					zap.String("kind", string(e.Kind)),
					zap.Stringer("subject", e.Subject),
					zap.Time("occurred_at", e.OccurredAt),
				)
			})
		}))
	}

	logger.Info("guild server started",
		zap.Duration("sweep_interval", cfg.Sweeper.Interval),
		zap.Bool("event_bus", a.Bus != nil),
		zap.Duration("startup", time.Since(start)),
	)
	if err := lc.Run(ctx); err != nil {
		logger.Error("guild server stopped with error", zap.Error(err))
		return
	}
	logger.Info("guild server stopped")
}
