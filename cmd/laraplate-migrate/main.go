// Command laraplate-migrate applies the laraplate schema migrations to the database
// named by LARAPLATE_DATABASE_URL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fernandezvara/dbkit"
	"go.uber.org/zap"

	laraplate "github.com/swolley/laraplate-core-sub003"
)

func main() {
	cfg, err := laraplate.LoadConfig()
	if err != nil {
		// No logger yet, the level comes from the same config.
		logger, _ := zap.NewProduction()
		logger.Fatal("loading config", zap.Error(err))
	}

	logger, err := laraplate.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // Make sure the buffer is flushed before the program exits

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("migration failed", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *laraplate.Config, logger *zap.Logger) error {
	db, err := dbkit.New(dbkit.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	applied, err := laraplate.Migrate(ctx, db)
	if err != nil {
		return err
	}

	if len(applied) == 0 {
		logger.Info("schema up to date")
		return nil
	}
	for _, id := range applied {
		logger.Info("applied migration", zap.String("id", id))
	}
	return nil
}
