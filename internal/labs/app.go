package labs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/soras/labdraft/internal/models"
)

// DraftState is what the lab app needs to know about the active draft
// to guard capacity changes.
type DraftState interface {
	GetActiveDraft(ctx context.Context) (*models.Draft, error)
}

// LabRepository defines what the app layer needs from the lab repository.
type LabRepository interface {
	CreateLab(ctx context.Context, req CreateLabRequest) (*models.Lab, error)
	GetLab(ctx context.Context, id uuid.UUID) (*models.Lab, error)
	ListLabs(ctx context.Context) ([]models.Lab, error)
	UpdateQuota(ctx context.Context, id uuid.UUID, quota int) (bool, error)
	ArchiveLab(ctx context.Context, id uuid.UUID) (bool, error)
}

// CreateLabRequest carries the fields for a new lab.
type CreateLabRequest struct {
	ID           uuid.UUID
	Name         string
	Quota        int
	LotteryQuota int
}

// ErrQuotaLocked is returned for regular-quota changes while a draft is
// in flight past registration; in-flight round computations depend on
// a stable capacity snapshot.
var ErrQuotaLocked = errors.New("lab quota is locked while a draft is in progress")

// ErrLabNotFound is returned when the lab id is unknown.
var ErrLabNotFound = errors.New("lab not found")

// App handles administrator lab management.
type App struct {
	repo   LabRepository
	drafts DraftState
}

// NewApp creates a lab management app.
func NewApp(repo LabRepository, drafts DraftState) *App {
	return &App{repo: repo, drafts: drafts}
}

// CreateLab registers a new lab.
func (a *App) CreateLab(ctx context.Context, req CreateLabRequest) (*models.Lab, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("lab name is required")
	}
	if req.Quota < 0 || req.LotteryQuota < 0 {
		return nil, fmt.Errorf("lab quotas must be non-negative")
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	lab, err := a.repo.CreateLab(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create lab: %w", err)
	}
	return lab, nil
}

// GetLab retrieves a lab by ID.
func (a *App) GetLab(ctx context.Context, id uuid.UUID) (*models.Lab, error) {
	lab, err := a.repo.GetLab(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get lab: %w", err)
	}
	return lab, nil
}

// ListLabs lists all labs, archived included.
func (a *App) ListLabs(ctx context.Context) ([]models.Lab, error) {
	return a.repo.ListLabs(ctx)
}

// UpdateQuota changes a lab's regular-round quota. Rejected with
// ErrQuotaLocked once the active draft has left registration.
func (a *App) UpdateQuota(ctx context.Context, id uuid.UUID, quota int) error {
	if quota < 0 {
		return fmt.Errorf("quota must be non-negative, got %d", quota)
	}

	if err := a.ensureQuotaUnlocked(ctx); err != nil {
		return err
	}

	found, err := a.repo.UpdateQuota(ctx, id, quota)
	if err != nil {
		return fmt.Errorf("failed to update quota: %w", err)
	}
	if !found {
		return ErrLabNotFound
	}
	return nil
}

// ArchiveLab soft-deletes a lab. Existing student rankings keep their
// positions; the archived lab simply carries zero effective quota from
// here on and auto-acknowledges every remaining round.
func (a *App) ArchiveLab(ctx context.Context, id uuid.UUID) error {
	found, err := a.repo.ArchiveLab(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to archive lab: %w", err)
	}
	if !found {
		return ErrLabNotFound
	}
	return nil
}

func (a *App) ensureQuotaUnlocked(ctx context.Context) error {
	draft, err := a.drafts.GetActiveDraft(ctx)
	if err != nil {
		if errors.Is(err, ErrNoActiveDraft) || errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to check active draft: %w", err)
	}
	if draft.Phase() != models.PhaseRegistration {
		return ErrQuotaLocked
	}
	return nil
}

// ErrNoActiveDraft is returned by DraftState implementations when no
// draft is currently open.
var ErrNoActiveDraft = errors.New("no active draft")
