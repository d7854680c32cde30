package database

import (
	"context"

	_ "github.com/lib/pq" // Register postgres driver

	"github.com/kroma-labs/sqltag-go/example/postgres/internal/config"
	sqltagsqlx "github.com/kroma-labs/sqltag-go/sqlx"
	"github.com/kroma-labs/sqltag-go/tagger"
)

// DB is the example database. Its methods stand for a repository layer and
// are registered as data-access code, so statements are attributed to
// their callers.
type DB struct {
	*sqltagsqlx.DB
}

// New connects to the database described by cfg.
func New(ctx context.Context, cfg config.Config, tg *tagger.Tagger) (*DB, error) {
	db, err := sqltagsqlx.Connect(ctx, "postgres", cfg.DSN,
		sqltagsqlx.WithTagger(tg.With(tagger.WithDataAccessTypes(DB{}))),
		sqltagsqlx.WithDBSystem(cfg.DBSystem),
		sqltagsqlx.WithDBName(cfg.DBName),
		sqltagsqlx.WithInstanceName(cfg.Instance),
	)
	if err != nil {
		return nil, err
	}
	return &DB{DB: db}, nil
}
