package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Precondition failures are expected, recoverable outcomes reported to
// the caller with enough detail to correct and retry. Anything else
// escaping an engine operation is an internal error.

var (
	// ErrActiveDraftExists is returned by InitDraft while an unconcluded
	// draft exists.
	ErrActiveDraftExists = errors.New("an active draft already exists")

	// ErrDraftNotFound is returned when the draft id is unknown.
	ErrDraftNotFound = errors.New("draft not found")

	// ErrRegistrationClosed is returned for ranking submissions after the
	// registration deadline or once the draft left round 0.
	ErrRegistrationClosed = errors.New("registration is closed")

	// ErrDuplicateSubmission is returned for a second ranking submission
	// by the same student in the same draft.
	ErrDuplicateSubmission = errors.New("student already submitted a ranking for this draft")

	// ErrChoiceAlreadyRecorded is returned when a lab already has a
	// ledger entry for the current round.
	ErrChoiceAlreadyRecorded = errors.New("lab already recorded a choice for this round")

	// ErrDraftNotStartable is returned by StartDraft outside round 0.
	ErrDraftNotStartable = errors.New("draft is not in the registration phase")

	// ErrDraftNotInProgress is returned for faculty submissions outside
	// a regular round.
	ErrDraftNotInProgress = errors.New("draft has no round in progress")

	// ErrNotInLotteryPhase is returned for lottery-phase operations
	// (intervention, lottery quota update, conclusion) outside it.
	ErrNotInLotteryPhase = errors.New("draft is not in the lottery phase")

	// ErrRoundLoopOverrun means the advance loop exceeded its hard
	// iteration cap. This indicates a bug, never a user mistake.
	ErrRoundLoopOverrun = errors.New("internal: round-advance loop exceeded max iterations")
)

// InvalidQuotaError is returned by StartDraft when no lab has positive
// effective quota.
type InvalidQuotaError struct {
	TotalQuota int
}

func (e *InvalidQuotaError) Error() string {
	return fmt.Sprintf("cannot start draft: total active lab quota is %d", e.TotalQuota)
}

// NoStudentsError is returned by StartDraft when no student registered.
type NoStudentsError struct {
	DraftID uuid.UUID
}

func (e *NoStudentsError) Error() string {
	return fmt.Sprintf("cannot start draft %s: no students registered", e.DraftID)
}

// QuotaExceededError is returned when a faculty submission would push a
// lab past its effective quota.
type QuotaExceededError struct {
	LabID     uuid.UUID
	Quota     int
	Claimed   int
	Requested int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("lab %s quota exceeded: quota %d, already claimed %d, requested %d",
		e.LabID, e.Quota, e.Claimed, e.Requested)
}

// QuotaMismatchError is returned by ConcludeDraft when the lottery
// schedule length differs from the unclaimed-student count. The draft
// stays open so the operator can reconcile quotas and retry.
type QuotaMismatchError struct {
	Unclaimed int
	Capacity  int
}

func (e *QuotaMismatchError) Error() string {
	return fmt.Sprintf("lottery quota mismatch: %d unclaimed students, %d lottery seats",
		e.Unclaimed, e.Capacity)
}

// UnknownLabError is returned when a referenced lab id is not part of
// the draft's quota snapshot.
type UnknownLabError struct {
	LabID uuid.UUID
}

func (e *UnknownLabError) Error() string {
	return fmt.Sprintf("unknown lab: %s", e.LabID)
}

// StudentAlreadyClaimedError is returned when a claim would assign a
// student a second time within the draft. StudentID is Nil when the
// conflict was detected by the storage constraint after a concurrent
// claim; the aborted transaction cannot identify the student.
type StudentAlreadyClaimedError struct {
	StudentID uuid.UUID
}

func (e *StudentAlreadyClaimedError) Error() string {
	if e.StudentID == uuid.Nil {
		return "a requested student is already claimed in this draft"
	}
	return fmt.Sprintf("student %s is already claimed in this draft", e.StudentID)
}

// StudentNotEligibleError is returned when a faculty submission names a
// student who did not rank the lab at the current round or is already
// claimed.
type StudentNotEligibleError struct {
	StudentID uuid.UUID
	LabID     uuid.UUID
	Round     int
}

func (e *StudentNotEligibleError) Error() string {
	return fmt.Sprintf("student %s is not eligible for lab %s at round %d",
		e.StudentID, e.LabID, e.Round)
}
