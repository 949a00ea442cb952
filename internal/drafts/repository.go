package drafts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soras/labdraft/internal/engine"
	"github.com/soras/labdraft/internal/models"
	"github.com/soras/labdraft/internal/sqlutil"
)

// Repository persists draft rows.
type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

const draftColumns = `id, max_rounds, curr_round, registration_closes_at, active_from, active_until, created_at, updated_at`

func (r *Repository) CreateDraft(ctx context.Context, req engine.CreateDraftRequest) (*models.Draft, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO drafts (id, max_rounds, curr_round, registration_closes_at, active_from)
		VALUES ($1, $2, 0, $3, $4)
		RETURNING `+draftColumns,
		req.ID, req.MaxRounds, req.RegistrationClosesAt, req.ActiveFrom,
	)
	draft, err := scanDraft(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}
	return draft, nil
}

func (r *Repository) GetDraft(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = $1`, id)
	return scanDraft(row)
}

func (r *Repository) GetDraftForUpdate(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = $1 FOR UPDATE`, id)
	return scanDraft(row)
}

func (r *Repository) GetActiveDraft(ctx context.Context) (*models.Draft, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE active_until IS NULL`)
	return scanDraft(row)
}

func (r *Repository) HasActiveDraft(ctx context.Context) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM drafts WHERE active_until IS NULL)`,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active draft: %w", err)
	}
	return exists, nil
}

func (r *Repository) SetCurrentRound(ctx context.Context, id uuid.UUID, round *int) error {
	var value sql.NullInt32
	if round != nil {
		value = sql.NullInt32{Int32: int32(*round), Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE drafts SET curr_round = $2, updated_at = now() WHERE id = $1`,
		id, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set current round: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *Repository) CloseActivePeriod(ctx context.Context, id uuid.UUID, closedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE drafts SET active_until = $2, updated_at = now()
		 WHERE id = $1 AND active_until IS NULL`,
		id, closedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to close active period: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("draft %s is already concluded or does not exist", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (*models.Draft, error) {
	var (
		draft       models.Draft
		currRound   sql.NullInt32
		activeUntil sql.NullTime
	)
	err := row.Scan(
		&draft.ID,
		&draft.MaxRounds,
		&currRound,
		&draft.RegistrationClosesAt,
		&draft.ActiveFrom,
		&activeUntil,
		&draft.CreatedAt,
		&draft.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if currRound.Valid {
		n := int(currRound.Int32)
		draft.CurrRound = &n
	}
	if activeUntil.Valid {
		t := activeUntil.Time
		draft.ActiveUntil = &t
	}
	return &draft, nil
}
