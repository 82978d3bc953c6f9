package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// TableEnsurer is implemented by repos that can create their own tables.
type TableEnsurer interface {
	EnsureTable(ctx context.Context) error
}

// EnsureSchema runs EnsureTable for each repo in order. Order matters when
// tables reference each other.
func EnsureSchema(ctx context.Context, ensurers ...TableEnsurer) error {
	for _, e := range ensurers {
		if err := e.EnsureTable(ctx); err != nil {
			return fmt.Errorf("ensure table %T: %w", e, err)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise (including on panic, which is re-raised).
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
