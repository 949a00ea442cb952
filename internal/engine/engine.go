// Package engine implements the draft lifecycle: the round-advancement
// state machine, the auto-acknowledgment rule, the lottery scheduler
// and the transactional protocol that lets concurrent faculty and
// admin actors safely mutate shared draft state.
//
// Every exported operation runs as one unit of work: either the whole
// sequence (ledger writes, round advancement, event enqueueing)
// commits, or none of it is visible. The engine never retries
// conflicts internally; callers retry on sqlutil.ErrTxConflict.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/soras/labdraft/internal/models"
	"github.com/soras/labdraft/internal/sqlutil"
)

// Engine orchestrates the draft lifecycle. Advancement is driven
// synchronously by caller actions; there is no background scheduler.
type Engine struct {
	tx      TxRunner
	clock   clockwork.Clock
	shuffle func(n int, swap func(i, j int))
	logger  zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, e.g. with a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithShuffle replaces the lottery shuffle, e.g. with a seeded
// rand.Rand for deterministic tests.
func WithShuffle(fn func(n int, swap func(i, j int))) Option {
	return func(e *Engine) { e.shuffle = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a draft lifecycle engine.
func NewEngine(tx TxRunner, opts ...Option) *Engine {
	e := &Engine{
		tx:      tx,
		clock:   clockwork.NewRealClock(),
		shuffle: rand.Shuffle,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitDraftRequest carries the parameters for a new draft.
type InitDraftRequest struct {
	MaxRounds            int
	RegistrationClosesAt time.Time
}

// InitDraft opens a new draft for registration. Fails with
// ErrActiveDraftExists while an unconcluded draft exists.
func (e *Engine) InitDraft(ctx context.Context, req InitDraftRequest) (uuid.UUID, error) {
	if req.MaxRounds <= 0 {
		return uuid.Nil, fmt.Errorf("max rounds must be positive, got %d", req.MaxRounds)
	}

	id := uuid.New()
	err := e.tx.RepeatableRead(ctx, func(uow UnitOfWork) error {
		active, err := uow.Drafts().HasActiveDraft(ctx)
		if err != nil {
			return fmt.Errorf("check active draft: %w", err)
		}
		if active {
			return ErrActiveDraftExists
		}

		_, err = uow.Drafts().CreateDraft(ctx, CreateDraftRequest{
			ID:                   id,
			MaxRounds:            req.MaxRounds,
			RegistrationClosesAt: req.RegistrationClosesAt,
			ActiveFrom:           e.clock.Now(),
		})
		if err != nil {
			// The partial unique index on open drafts backstops two
			// concurrent InitDraft calls.
			if sqlutil.IsUniqueViolation(err) {
				return ErrActiveDraftExists
			}
			return fmt.Errorf("create draft: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	e.logger.Info().
		Str("draft_id", id.String()).
		Int("max_rounds", req.MaxRounds).
		Time("registration_closes_at", req.RegistrationClosesAt).
		Msg("draft initialized")
	return id, nil
}

// SubmitRankingRequest carries one student's ordered lab choices.
// Remarks is keyed by 1-indexed choice position.
type SubmitRankingRequest struct {
	DraftID   uuid.UUID
	StudentID uuid.UUID
	LabIDs    []uuid.UUID
	Remarks   map[int]string
}

// SubmitStudentRanking records a student's preference list. Insert-only:
// fails with ErrDuplicateSubmission on resubmission, and with
// ErrRegistrationClosed once the deadline passed or the draft started.
func (e *Engine) SubmitStudentRanking(ctx context.Context, req SubmitRankingRequest) error {
	if len(req.LabIDs) == 0 {
		return fmt.Errorf("ranking must contain at least one lab")
	}
	seen := make(map[uuid.UUID]struct{}, len(req.LabIDs))
	for _, labID := range req.LabIDs {
		if _, dup := seen[labID]; dup {
			return fmt.Errorf("ranking lists lab %s twice", labID)
		}
		seen[labID] = struct{}{}
	}

	return e.tx.RepeatableRead(ctx, func(uow UnitOfWork) error {
		draft, err := e.getDraft(ctx, uow, req.DraftID)
		if err != nil {
			return err
		}
		if draft.Phase() != models.PhaseRegistration {
			return ErrRegistrationClosed
		}
		if e.clock.Now().After(draft.RegistrationClosesAt) {
			return ErrRegistrationClosed
		}

		for _, labID := range req.LabIDs {
			if _, err := uow.Labs().GetLab(ctx, labID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return &UnknownLabError{LabID: labID}
				}
				return fmt.Errorf("get lab %s: %w", labID, err)
			}
		}

		choices := make([]models.RankChoice, len(req.LabIDs))
		for i, labID := range req.LabIDs {
			choices[i] = models.RankChoice{
				Position: i + 1,
				LabID:    labID,
				Remark:   req.Remarks[i+1],
			}
		}

		err = uow.Ranks().CreateStudentRank(ctx, CreateRankRequest{
			ID:        uuid.New(),
			DraftID:   req.DraftID,
			StudentID: req.StudentID,
			Choices:   choices,
		})
		if err != nil {
			if sqlutil.IsUniqueViolation(err) {
				return ErrDuplicateSubmission
			}
			return fmt.Errorf("create student rank: %w", err)
		}
		return nil
	})
}

// StartDraft moves the draft out of registration and drives the
// round-advance loop to its first pause (or straight to the lottery
// phase). Fails with InvalidQuotaError when no lab has positive
// effective quota and NoStudentsError when nobody registered.
func (e *Engine) StartDraft(ctx context.Context, draftID uuid.UUID) error {
	err := e.tx.Serializable(ctx, func(uow UnitOfWork) error {
		draft, err := e.getDraftForUpdate(ctx, uow, draftID)
		if err != nil {
			return err
		}
		if draft.Phase() != models.PhaseRegistration {
			return ErrDraftNotStartable
		}

		total, err := uow.Labs().TotalActiveQuota(ctx)
		if err != nil {
			return fmt.Errorf("total active quota: %w", err)
		}
		if total <= 0 {
			return &InvalidQuotaError{TotalQuota: total}
		}

		registered, err := uow.Ranks().CountStudentRanks(ctx, draftID)
		if err != nil {
			return fmt.Errorf("count student ranks: %w", err)
		}
		if registered == 0 {
			return &NoStudentsError{DraftID: draftID}
		}

		return e.advanceRounds(ctx, uow, draft)
	})
	if err != nil {
		return err
	}

	e.logger.Info().Str("draft_id", draftID.String()).Msg("draft started")
	return nil
}

// LabQuota is one (lab, lottery quota) adjustment.
type LabQuota struct {
	LabID uuid.UUID
	Quota int
}

// UpdateLotteryQuota adjusts per-lab lottery quotas during the lottery
// phase, ahead of a (re)attempted conclusion.
func (e *Engine) UpdateLotteryQuota(ctx context.Context, draftID uuid.UUID, quotas []LabQuota) error {
	for _, q := range quotas {
		if q.Quota < 0 {
			return fmt.Errorf("lottery quota for lab %s must be non-negative, got %d", q.LabID, q.Quota)
		}
	}

	return e.tx.RepeatableRead(ctx, func(uow UnitOfWork) error {
		draft, err := e.getDraftForUpdate(ctx, uow, draftID)
		if err != nil {
			return err
		}
		if draft.Phase() != models.PhaseLottery {
			return ErrNotInLotteryPhase
		}

		for _, q := range quotas {
			found, err := uow.Labs().UpdateLotteryQuota(ctx, q.LabID, q.Quota)
			if err != nil {
				return fmt.Errorf("update lottery quota for lab %s: %w", q.LabID, err)
			}
			if !found {
				return &UnknownLabError{LabID: q.LabID}
			}
		}
		return nil
	})
}

func (e *Engine) getDraft(ctx context.Context, uow UnitOfWork, id uuid.UUID) (*models.Draft, error) {
	draft, err := uow.Drafts().GetDraft(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDraftNotFound
		}
		return nil, fmt.Errorf("get draft: %w", err)
	}
	return draft, nil
}

func (e *Engine) getDraftForUpdate(ctx context.Context, uow UnitOfWork, id uuid.UUID) (*models.Draft, error) {
	draft, err := uow.Drafts().GetDraftForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDraftNotFound
		}
		return nil, fmt.Errorf("get draft for update: %w", err)
	}
	return draft, nil
}
