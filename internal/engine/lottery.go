package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/soras/labdraft/internal/models"
	"github.com/soras/labdraft/internal/sqlutil"
)

// Assignment is one (student, lab) pair produced by the lottery or a
// manual intervention.
type Assignment struct {
	StudentID uuid.UUID
	LabID     uuid.UUID
}

// InterventionRequest carries manual lottery-phase assignments.
type InterventionRequest struct {
	DraftID     uuid.UUID
	AdminID     uuid.UUID
	Assignments []Assignment
}

// Intervene assigns specific unclaimed students to specific labs during
// the lottery phase, bypassing the random schedule. The same per-draft
// claim uniqueness invariant applies as in regular rounds.
func (e *Engine) Intervene(ctx context.Context, req InterventionRequest) error {
	if len(req.Assignments) == 0 {
		return fmt.Errorf("intervention must contain at least one assignment")
	}

	err := e.tx.RepeatableRead(ctx, func(uow UnitOfWork) error {
		draft, err := e.getDraftForUpdate(ctx, uow, req.DraftID)
		if err != nil {
			return err
		}
		if draft.Phase() != models.PhaseLottery {
			return ErrNotInLotteryPhase
		}

		labs, err := uow.Labs().ListLabs(ctx)
		if err != nil {
			return fmt.Errorf("list labs: %w", err)
		}
		known := make(map[uuid.UUID]struct{}, len(labs))
		for _, lab := range labs {
			known[lab.ID] = struct{}{}
		}
		for _, a := range req.Assignments {
			if _, ok := known[a.LabID]; !ok {
				return &UnknownLabError{LabID: a.LabID}
			}
		}

		adminID := req.AdminID
		for _, a := range req.Assignments {
			choiceID := uuid.New()
			err := uow.Ledger().RecordChoice(ctx, RecordChoiceRequest{
				ID:       choiceID,
				DraftID:  req.DraftID,
				Round:    nil,
				LabID:    a.LabID,
				ChosenBy: &adminID,
			})
			if err != nil {
				return fmt.Errorf("record intervention choice: %w", err)
			}
			if err := e.claimStudents(ctx, uow, choiceID, req.DraftID, []uuid.UUID{a.StudentID}); err != nil {
				return err
			}
		}

		return e.emitLotteryIntervened(ctx, uow, req.DraftID, req.AdminID, req.Assignments)
	})
	if err != nil {
		return err
	}

	e.logger.Info().
		Str("draft_id", req.DraftID.String()).
		Str("admin_id", req.AdminID.String()).
		Int("assignments", len(req.Assignments)).
		Msg("lottery intervention recorded")
	return nil
}

// ConcludeDraft runs the terminal lottery and closes the draft:
// unclaimed students are shuffled uniformly and zipped against the
// capacity-proportional schedule, the active period is closed and
// every claimed student's assignment is materialized onto their
// profile. Fails with QuotaMismatchError, leaving the draft open, when
// the schedule length differs from the unclaimed-student count.
func (e *Engine) ConcludeDraft(ctx context.Context, draftID, adminID uuid.UUID) error {
	var assigned int
	err := e.tx.RepeatableRead(ctx, func(uow UnitOfWork) error {
		draft, err := e.getDraftForUpdate(ctx, uow, draftID)
		if err != nil {
			return err
		}
		if draft.Phase() != models.PhaseLottery {
			return ErrNotInLotteryPhase
		}

		labs, err := uow.Labs().ListLabs(ctx)
		if err != nil {
			return fmt.Errorf("list labs: %w", err)
		}
		schedule := buildLotterySchedule(labs)

		students, err := uow.Ledger().UnclaimedStudents(ctx, draftID)
		if err != nil {
			return fmt.Errorf("unclaimed students: %w", err)
		}

		// The system refuses to conclude with unseated students or
		// unused lottery capacity; the operator reconciles quotas first.
		if len(students) != len(schedule) {
			return &QuotaMismatchError{Unclaimed: len(students), Capacity: len(schedule)}
		}

		e.shuffle(len(students), func(i, j int) {
			students[i], students[j] = students[j], students[i]
		})

		assignments := make([]Assignment, len(students))
		for i, studentID := range students {
			assignments[i] = Assignment{StudentID: studentID, LabID: schedule[i]}
		}

		if err := e.recordLotteryAssignments(ctx, uow, draftID, adminID, assignments); err != nil {
			return err
		}
		assigned = len(assignments)

		now := e.clock.Now()
		if err := uow.Drafts().CloseActivePeriod(ctx, draftID, now); err != nil {
			return fmt.Errorf("close active period: %w", err)
		}

		if _, err := uow.Ledger().SyncAssignments(ctx, draftID, now); err != nil {
			return fmt.Errorf("sync assignments: %w", err)
		}

		return e.emitConclusion(ctx, uow, draft, adminID, assignments, now)
	})
	if err != nil {
		return err
	}

	e.logger.Info().
		Str("draft_id", draftID.String()).
		Int("lottery_assigned", assigned).
		Msg("draft concluded")
	return nil
}

// recordLotteryAssignments groups the (student, lab) pairs per lab into
// one ledger entry each, attributed to the concluding administrator.
func (e *Engine) recordLotteryAssignments(ctx context.Context, uow UnitOfWork, draftID, adminID uuid.UUID, assignments []Assignment) error {
	byLab := make(map[uuid.UUID][]uuid.UUID)
	for _, a := range assignments {
		byLab[a.LabID] = append(byLab[a.LabID], a.StudentID)
	}

	for labID, studentIDs := range byLab {
		choiceID := uuid.New()
		err := uow.Ledger().RecordChoice(ctx, RecordChoiceRequest{
			ID:       choiceID,
			DraftID:  draftID,
			Round:    nil,
			LabID:    labID,
			ChosenBy: &adminID,
		})
		if err != nil {
			return fmt.Errorf("record lottery choice for lab %s: %w", labID, err)
		}
		if err := uow.Ledger().ClaimStudents(ctx, choiceID, draftID, studentIDs); err != nil {
			// The students were read as unclaimed in this transaction, so a
			// violation means a concurrent claim won; the aborted transaction
			// cannot name the student.
			if sqlutil.IsUniqueViolation(err) {
				return &StudentAlreadyClaimedError{}
			}
			return fmt.Errorf("claim lottery students for lab %s: %w", labID, err)
		}
	}
	return nil
}

// buildLotterySchedule produces the round-robin repeat schedule: each
// lab's id repeated up to its effective lottery quota, interleaved
// across labs so allocation spreads evenly instead of filling one lab
// first. Labs are walked in name order so the schedule is deterministic
// for a given quota state; randomness comes solely from the student
// shuffle.
func buildLotterySchedule(labs []models.Lab) []uuid.UUID {
	ordered := make([]models.Lab, len(labs))
	copy(ordered, labs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	total := 0
	maxQuota := 0
	for _, lab := range ordered {
		q := lab.EffectiveLotteryQuota()
		total += q
		if q > maxQuota {
			maxQuota = q
		}
	}

	schedule := make([]uuid.UUID, 0, total)
	for pass := 0; pass < maxQuota; pass++ {
		for _, lab := range ordered {
			if pass < lab.EffectiveLotteryQuota() {
				schedule = append(schedule, lab.ID)
			}
		}
	}
	return schedule
}
