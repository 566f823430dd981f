package cabbage

import (
	"context"
	_ "embed"

	"github.com/cabbagequeue/cabbage/adapter"
)

//go:embed sql/schema.sql
var schemaSQL string

//go:embed sql/procedures.sql
var proceduresSQL string

// Migrate applies the schema and stored procedures to the database
// behind pool, in a single transaction. It is idempotent: schema.sql
// uses CREATE TABLE/TYPE IF NOT EXISTS-equivalent guards where
// Postgres supports them, and every procedure is declared with CREATE
// OR REPLACE, so running Migrate again against an already-migrated
// database is a no-op beyond redefining the procedures verbatim.
func Migrate(ctx context.Context, pool adapter.ConnPool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		return mapError(err)
	}
	if _, err := tx.Exec(ctx, proceduresSQL); err != nil {
		return mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}
