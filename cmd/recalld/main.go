package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/studymesh/recall/internal/config"
	"github.com/studymesh/recall/internal/infra/postgres"
	"github.com/studymesh/recall/internal/infra/progressapi"
	"github.com/studymesh/recall/internal/logger"
	"github.com/studymesh/recall/internal/pipeline"
	"github.com/studymesh/recall/internal/repository"
)

// recalld runs the progress batching pipeline as a long-lived process.
// The review scheduler itself is a library invoked synchronously by the
// host application; only the asynchronous flush loop needs a daemon.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zl, err := logger.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn, err := cfg.DB.DSN()
	if err != nil {
		log.Fatal(err)
	}

	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolConfig{
		MaxConns:        cfg.DB.MaxConnections,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	// Coalesced progress goes to the external bulk endpoint when one is
	// configured, otherwise straight into our own store.
	var sink pipeline.Sink
	if cfg.ProgressAPI.URL != "" {
		sink = progressapi.NewClient(cfg.ProgressAPI.URL, cfg.ProgressAPI.Timeout)
		zl.Info("progress sink: bulk endpoint", zap.String("url", cfg.ProgressAPI.URL))
	} else {
		sink = repository.NewProgressRepository(pool)
		zl.Info("progress sink: database")
	}

	batcher := pipeline.NewBatcher(sink, zl, pipeline.Config{
		Window:       cfg.Pipeline.Window,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		InitialDelay: cfg.Pipeline.InitialDelay,
		WriteTimeout: cfg.Pipeline.WriteTimeout,
	})

	zl.Info("progress batcher running",
		zap.Duration("window", cfg.Pipeline.Window),
		zap.String("env", cfg.Env),
	)

	// Blocks until the shutdown signal, then makes a final flush.
	batcher.Run(ctx)
}
