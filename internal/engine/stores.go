package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/soras/labdraft/internal/models"
)

// The engine defines what it needs from the storage layer. The SQL
// implementations live in internal/labs, internal/ranks,
// internal/ledger, internal/drafts and internal/outbox; tests supply
// in-memory fakes.

// CreateDraftRequest carries the fields for a new draft row.
type CreateDraftRequest struct {
	ID                   uuid.UUID
	MaxRounds            int
	RegistrationClosesAt time.Time
	ActiveFrom           time.Time
}

// DraftStore reads and mutates draft rows.
type DraftStore interface {
	CreateDraft(ctx context.Context, req CreateDraftRequest) (*models.Draft, error)
	GetDraft(ctx context.Context, id uuid.UUID) (*models.Draft, error)
	// GetDraftForUpdate locks the draft row for the rest of the
	// transaction. Every mutating engine operation goes through it so
	// concurrent callers serialize on the draft.
	GetDraftForUpdate(ctx context.Context, id uuid.UUID) (*models.Draft, error)
	HasActiveDraft(ctx context.Context) (bool, error)
	// SetCurrentRound writes the round counter; nil marks the lottery phase.
	SetCurrentRound(ctx context.Context, id uuid.UUID, round *int) error
	// CloseActivePeriod sets the active-period upper bound, concluding
	// the draft. It must fail if the draft is already concluded.
	CloseActivePeriod(ctx context.Context, id uuid.UUID, closedAt time.Time) error
}

// LabStore reads lab capacity state and mutates lottery quotas.
type LabStore interface {
	ListLabs(ctx context.Context) ([]models.Lab, error)
	GetLab(ctx context.Context, id uuid.UUID) (*models.Lab, error)
	TotalActiveQuota(ctx context.Context) (int, error)
	// UpdateLotteryQuota returns false when the lab id is unknown.
	UpdateLotteryQuota(ctx context.Context, labID uuid.UUID, quota int) (bool, error)
}

// CreateRankRequest carries one student's ranked submission.
type CreateRankRequest struct {
	ID        uuid.UUID
	DraftID   uuid.UUID
	StudentID uuid.UUID
	Choices   []models.RankChoice
}

// RankStore persists student preference submissions.
type RankStore interface {
	// CreateStudentRank inserts a submission; a second submission for
	// the same (draft, student) surfaces a unique violation.
	CreateStudentRank(ctx context.Context, req CreateRankRequest) error
	CountStudentRanks(ctx context.Context, draftID uuid.UUID) (int, error)
}

// RecordChoiceRequest carries one round-ledger entry.
type RecordChoiceRequest struct {
	ID      uuid.UUID
	DraftID uuid.UUID
	// Round is nil for lottery-phase entries.
	Round *int
	LabID uuid.UUID
	// ChosenBy is nil for system (auto-acknowledged) entries.
	ChosenBy *uuid.UUID
}

// LedgerStore accumulates round-ledger facts and answers the queries
// the state machine and auto-acknowledgment rule decide on.
type LedgerStore interface {
	// RecordChoice inserts a ledger entry; a duplicate (draft, round,
	// lab) surfaces a unique violation.
	RecordChoice(ctx context.Context, req RecordChoiceRequest) error
	// RecordAutoChoice inserts a system entry, reporting false when the
	// (draft, round, lab) entry already exists. Never an error on
	// duplicates: two racing round transitions must both succeed.
	RecordAutoChoice(ctx context.Context, id uuid.UUID, draftID uuid.UUID, round int, labID uuid.UUID) (bool, error)
	// ClaimStudents attaches students to a ledger entry; a student
	// already claimed anywhere in the draft surfaces a unique violation.
	ClaimStudents(ctx context.Context, choiceID, draftID uuid.UUID, studentIDs []uuid.UUID) error
	CountClaimedByLab(ctx context.Context, draftID, labID uuid.UUID) (int, error)
	// PendingLabs lists labs without a ledger entry for the round.
	PendingLabs(ctx context.Context, draftID uuid.UUID, round int) ([]uuid.UUID, error)
	UnclaimedStudents(ctx context.Context, draftID uuid.UUID) ([]uuid.UUID, error)
	CountUnclaimedPreferring(ctx context.Context, draftID, labID uuid.UUID, position int) (int, error)
	// StudentsPreferring backs eligibility checks and the faculty-facing
	// "who picked us" view: unclaimed students ranking the lab at position.
	StudentsPreferring(ctx context.Context, draftID, labID uuid.UUID, position int) ([]uuid.UUID, error)
	// SyncAssignments materializes every claimed student's lab onto the
	// student profile. Idempotent, keyed by draft.
	SyncAssignments(ctx context.Context, draftID uuid.UUID, assignedAt time.Time) (int64, error)
}

// OutboxStore enqueues notification events inside the business
// transaction; the relay worker delivers them after commit.
type OutboxStore interface {
	InsertRoundStarted(ctx context.Context, draftID uuid.UUID, payload []byte) error
	InsertRoundSubmitted(ctx context.Context, draftID uuid.UUID, payload []byte) error
	InsertLotteryIntervened(ctx context.Context, draftID uuid.UUID, payload []byte) error
	InsertDraftConcluded(ctx context.Context, draftID uuid.UUID, payload []byte) error
	InsertStudentAssigned(ctx context.Context, draftID uuid.UUID, payload []byte) error
}

// UnitOfWork bundles the stores bound to one transaction.
type UnitOfWork interface {
	Drafts() DraftStore
	Labs() LabStore
	Ranks() RankStore
	Ledger() LedgerStore
	Outbox() OutboxStore
}

// TxRunner executes a function against a unit of work at the isolation
// level the operation requires. Implementations map storage-level
// serialization conflicts to sqlutil.ErrTxConflict.
type TxRunner interface {
	Serializable(ctx context.Context, fn func(UnitOfWork) error) error
	RepeatableRead(ctx context.Context, fn func(UnitOfWork) error) error
}
