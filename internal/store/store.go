// Package store binds the SQL repositories into transactional units of
// work for the draft engine.
package store

import (
	"context"
	"database/sql"

	"github.com/soras/labdraft/internal/drafts"
	"github.com/soras/labdraft/internal/engine"
	"github.com/soras/labdraft/internal/labs"
	"github.com/soras/labdraft/internal/ledger"
	"github.com/soras/labdraft/internal/outbox"
	"github.com/soras/labdraft/internal/ranks"
	"github.com/soras/labdraft/internal/sqlutil"
)

// SQLStore runs engine units of work against Postgres.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Serializable(ctx context.Context, fn func(engine.UnitOfWork) error) error {
	return s.run(ctx, sql.LevelSerializable, fn)
}

func (s *SQLStore) RepeatableRead(ctx context.Context, fn func(engine.UnitOfWork) error) error {
	return s.run(ctx, sql.LevelRepeatableRead, fn)
}

func (s *SQLStore) run(ctx context.Context, iso sql.IsolationLevel, fn func(engine.UnitOfWork) error) error {
	return sqlutil.Run(ctx, s.db, iso,
		func(tx sqlutil.DBTX) engine.UnitOfWork { return newUnitOfWork(tx) },
		fn,
	)
}

type unitOfWork struct {
	drafts *drafts.Repository
	labs   *labs.Repository
	ranks  *ranks.Repository
	ledger *ledger.Repository
	outbox *outbox.Repository
}

func newUnitOfWork(tx sqlutil.DBTX) *unitOfWork {
	return &unitOfWork{
		drafts: drafts.NewRepository(tx),
		labs:   labs.NewRepository(tx),
		ranks:  ranks.NewRepository(tx),
		ledger: ledger.NewRepository(tx),
		outbox: outbox.NewRepository(tx),
	}
}

func (u *unitOfWork) Drafts() engine.DraftStore  { return u.drafts }
func (u *unitOfWork) Labs() engine.LabStore      { return u.labs }
func (u *unitOfWork) Ranks() engine.RankStore    { return u.ranks }
func (u *unitOfWork) Ledger() engine.LedgerStore { return u.ledger }
func (u *unitOfWork) Outbox() engine.OutboxStore { return u.outbox }
