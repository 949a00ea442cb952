package sqlutil

import (
	"context"
	"database/sql"
	"fmt"
)

// Run executes fn inside a *sql.Tx at the given isolation level.
// If fn returns an error the tx rolls back, else it commits.
// Serialization conflicts commit-side or in-flight are normalized to
// ErrTxConflict so callers can retry the whole unit of work.
func Run[T any](
	ctx context.Context,
	db *sql.DB,
	iso sql.IsolationLevel,
	bind func(DBTX) T,
	fn func(q T) error,
) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: iso})
	if err != nil {
		return err
	}
	q := bind(tx)
	if err := fn(q); err != nil {
		_ = tx.Rollback()
		if IsSerializationFailure(err) {
			return fmt.Errorf("%w: %w", ErrTxConflict, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if IsSerializationFailure(err) {
			return fmt.Errorf("%w: %w", ErrTxConflict, err)
		}
		return err
	}
	return nil
}

// DBTX is the subset of database/sql both *sql.DB and *sql.Tx satisfy.
// Repositories bind to it so they work inside and outside transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
