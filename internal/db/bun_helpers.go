package db

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
)

// rawRunner is satisfied by both *bun.DB and bun.Tx.
type rawRunner interface {
	NewRaw(query string, args ...interface{}) *bun.RawQuery
}

// ExecRaw runs a statement that has no bun model.
func ExecRaw(ctx context.Context, r rawRunner, query string, args ...interface{}) (sql.Result, error) {
	return r.NewRaw(query, args...).Exec(ctx)
}

// WithTx runs fn inside a transaction that is committed when fn returns nil
// and rolled back otherwise.
func WithTx(ctx context.Context, bdb *bun.DB, fn func(ctx context.Context, tx bun.Tx) error) error {
	return bdb.RunInTx(ctx, nil, fn)
}
