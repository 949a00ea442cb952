package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/soras/labdraft/internal/models"
	"github.com/soras/labdraft/internal/sqlutil"
)

// FacultyChoiceRequest carries a lab representative's claim of students
// for the current round.
type FacultyChoiceRequest struct {
	DraftID    uuid.UUID
	LabID      uuid.UUID
	FacultyID  uuid.UUID
	StudentIDs []uuid.UUID
}

// SubmitFacultyChoice records a lab's decision for the current round,
// claims the named students and drives the round-advance loop when the
// lab was the last one pending. The whole sequence is one transaction:
// concurrent submitters serialize on the locked draft row, and the
// per-draft claim uniqueness constraint backstops double-assignment.
func (e *Engine) SubmitFacultyChoice(ctx context.Context, req FacultyChoiceRequest) error {
	if len(req.StudentIDs) == 0 {
		return fmt.Errorf("faculty choice must claim at least one student")
	}

	err := e.tx.RepeatableRead(ctx, func(uow UnitOfWork) error {
		draft, err := e.getDraftForUpdate(ctx, uow, req.DraftID)
		if err != nil {
			return err
		}
		if draft.Phase() != models.PhaseRound {
			return ErrDraftNotInProgress
		}
		round := *draft.CurrRound

		lab, err := uow.Labs().GetLab(ctx, req.LabID)
		if err != nil {
			return &UnknownLabError{LabID: req.LabID}
		}

		claimed, err := uow.Ledger().CountClaimedByLab(ctx, req.DraftID, req.LabID)
		if err != nil {
			return fmt.Errorf("count claimed: %w", err)
		}
		if claimed+len(req.StudentIDs) > lab.EffectiveQuota() {
			return &QuotaExceededError{
				LabID:     req.LabID,
				Quota:     lab.EffectiveQuota(),
				Claimed:   claimed,
				Requested: len(req.StudentIDs),
			}
		}

		// A faculty member picks among the unclaimed students who ranked
		// the lab at this round, the same set the "who picked us" view
		// presents.
		eligible, err := uow.Ledger().StudentsPreferring(ctx, req.DraftID, req.LabID, round)
		if err != nil {
			return fmt.Errorf("students preferring: %w", err)
		}
		eligibleSet := make(map[uuid.UUID]struct{}, len(eligible))
		for _, id := range eligible {
			eligibleSet[id] = struct{}{}
		}
		for _, studentID := range req.StudentIDs {
			if _, ok := eligibleSet[studentID]; !ok {
				return &StudentNotEligibleError{StudentID: studentID, LabID: req.LabID, Round: round}
			}
		}

		choiceID := uuid.New()
		facultyID := req.FacultyID
		err = uow.Ledger().RecordChoice(ctx, RecordChoiceRequest{
			ID:       choiceID,
			DraftID:  req.DraftID,
			Round:    &round,
			LabID:    req.LabID,
			ChosenBy: &facultyID,
		})
		if err != nil {
			if sqlutil.IsUniqueViolation(err) {
				return ErrChoiceAlreadyRecorded
			}
			return fmt.Errorf("record choice: %w", err)
		}

		if err := e.claimStudents(ctx, uow, choiceID, req.DraftID, req.StudentIDs); err != nil {
			return err
		}

		if err := e.emitRoundSubmitted(ctx, uow, req.DraftID, round, req.LabID, req.FacultyID, req.StudentIDs); err != nil {
			return err
		}

		pending, err := uow.Ledger().PendingLabs(ctx, req.DraftID, round)
		if err != nil {
			return fmt.Errorf("pending labs: %w", err)
		}
		if len(pending) > 0 {
			return nil
		}
		// Last pending lab for this round: advance.
		return e.advanceRounds(ctx, uow, draft)
	})
	if err != nil {
		return err
	}

	e.logger.Info().
		Str("draft_id", req.DraftID.String()).
		Str("lab_id", req.LabID.String()).
		Int("students", len(req.StudentIDs)).
		Msg("faculty choice submitted")
	return nil
}

// claimStudents attaches claims to a ledger entry. The requested ids
// are checked against the unclaimed set up front, while the transaction
// is still healthy, so the typed error can name the offending student.
// The per-draft uniqueness constraint still backstops a claim committed
// by a concurrent transaction; that violation aborts the transaction,
// so it is reported without naming a student.
func (e *Engine) claimStudents(ctx context.Context, uow UnitOfWork, choiceID, draftID uuid.UUID, studentIDs []uuid.UUID) error {
	unclaimed, err := uow.Ledger().UnclaimedStudents(ctx, draftID)
	if err != nil {
		return fmt.Errorf("unclaimed students: %w", err)
	}
	unclaimedSet := make(map[uuid.UUID]struct{}, len(unclaimed))
	for _, id := range unclaimed {
		unclaimedSet[id] = struct{}{}
	}
	for _, id := range studentIDs {
		if _, ok := unclaimedSet[id]; !ok {
			return &StudentAlreadyClaimedError{StudentID: id}
		}
	}

	if err := uow.Ledger().ClaimStudents(ctx, choiceID, draftID, studentIDs); err != nil {
		if sqlutil.IsUniqueViolation(err) {
			return &StudentAlreadyClaimedError{}
		}
		return fmt.Errorf("claim students: %w", err)
	}
	return nil
}
