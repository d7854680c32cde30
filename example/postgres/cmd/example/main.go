package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/sqltag-go/example/postgres/internal/config"
	"github.com/kroma-labs/sqltag-go/example/postgres/internal/database"
	"github.com/kroma-labs/sqltag-go/tagger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	if cfg.Tagger.CodeRoot == "" {
		if cfg.Tagger.CodeRoot, err = os.Getwd(); err != nil {
			logger.Fatal().Err(err).Msg("failed to resolve code root")
		}
	}

	// Every tagged statement is logged at debug level with its comment.
	tg, err := tagger.NewFromConfig(cfg.Tagger, tagger.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create tagger")
	}

	db, err := database.New(ctx, cfg, tg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.CreateSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to create schema")
	}

	if err := run(ctx, db); err != nil {
		logger.Error().Err(err).Msg("example failed")
		return
	}
	logger.Info().Msg("example completed")
}

// run issues the same lookup outside any scope, inside a scope, inside two
// nested scopes and inside a tagged scope. With debug logging each
// statement is printed with its comment.
func run(ctx context.Context, db *database.DB) error {
	if _, err := db.FirstWebsite(ctx); err != nil {
		return err
	}

	err := db.Atomic().Do(ctx, func(ctx context.Context) error {
		_, err := db.FirstWebsite(ctx)
		return err
	})
	if err != nil {
		return err
	}

	err = db.Atomic().Do(ctx, func(ctx context.Context) error {
		return db.Atomic().Do(ctx, func(ctx context.Context) error {
			_, err := db.FirstWebsite(ctx)
			return err
		})
	})
	if err != nil {
		return err
	}

	return db.Atomic(tagger.WithTag("xxx")).Do(ctx, func(ctx context.Context) error {
		_, err := db.FirstWebsite(ctx)
		return err
	})
}
