package labs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/soras/labdraft/internal/models"
	"github.com/soras/labdraft/internal/sqlutil"
)

// Repository persists lab rows.
type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

const labColumns = `id, name, quota, lottery_quota, archived, created_at, updated_at`

func (r *Repository) CreateLab(ctx context.Context, req CreateLabRequest) (*models.Lab, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO labs (id, name, quota, lottery_quota)
		VALUES ($1, $2, $3, $4)
		RETURNING `+labColumns,
		req.ID, req.Name, req.Quota, req.LotteryQuota,
	)
	lab, err := scanLab(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create lab: %w", err)
	}
	return lab, nil
}

func (r *Repository) GetLab(ctx context.Context, id uuid.UUID) (*models.Lab, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+labColumns+` FROM labs WHERE id = $1`, id)
	return scanLab(row)
}

func (r *Repository) ListLabs(ctx context.Context) ([]models.Lab, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+labColumns+` FROM labs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}
	defer rows.Close()

	var labs []models.Lab
	for rows.Next() {
		lab, err := scanLab(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lab: %w", err)
		}
		labs = append(labs, *lab)
	}
	return labs, rows.Err()
}

func (r *Repository) TotalActiveQuota(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quota), 0) FROM labs WHERE NOT archived`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total active quota: %w", err)
	}
	return total, nil
}

func (r *Repository) UpdateQuota(ctx context.Context, id uuid.UUID, quota int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE labs SET quota = $2, updated_at = now() WHERE id = $1`,
		id, quota,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update quota: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) UpdateLotteryQuota(ctx context.Context, id uuid.UUID, quota int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE labs SET lottery_quota = $2, updated_at = now() WHERE id = $1`,
		id, quota,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update lottery quota: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) ArchiveLab(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE labs SET archived = true, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to archive lab: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLab(row rowScanner) (*models.Lab, error) {
	var lab models.Lab
	err := row.Scan(
		&lab.ID,
		&lab.Name,
		&lab.Quota,
		&lab.LotteryQuota,
		&lab.Archived,
		&lab.CreatedAt,
		&lab.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lab, nil
}
