package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/soras/labdraft/internal/models"
)

// advanceRounds drives the state machine forward until a round has labs
// awaiting a human decision or the lottery phase is reached. Called
// with the draft row already locked, inside the caller's transaction.
//
// Each iteration increments the round, runs the auto-acknowledgment
// rule once for the new round, and pauses when any lab is still
// pending. Rounds in which no lab needs a human decision are skipped
// transparently by looping again.
func (e *Engine) advanceRounds(ctx context.Context, uow UnitOfWork, draft *models.Draft) error {
	if draft.CurrRound == nil {
		return ErrDraftNotInProgress
	}

	// currRound is monotonically non-decreasing and bounded by
	// maxRounds, so maxRounds+1 iterations always suffice. Overrun
	// means a bug, not a retryable condition.
	maxIterations := draft.MaxRounds + 1
	for iter := 0; ; iter++ {
		if iter >= maxIterations {
			return fmt.Errorf("%w: draft %s stuck after %d iterations",
				ErrRoundLoopOverrun, draft.ID, iter)
		}

		var next *int
		if *draft.CurrRound < draft.MaxRounds {
			n := *draft.CurrRound + 1
			next = &n
		}
		if err := uow.Drafts().SetCurrentRound(ctx, draft.ID, next); err != nil {
			return fmt.Errorf("set current round: %w", err)
		}
		draft.CurrRound = next

		if next == nil {
			// Rounds exhausted: the terminal lottery phase begins.
			return e.emitRoundStarted(ctx, uow, draft.ID, nil, 0, 0)
		}

		acked, err := e.autoAcknowledge(ctx, uow, draft.ID, *next)
		if err != nil {
			return err
		}

		pending, err := uow.Ledger().PendingLabs(ctx, draft.ID, *next)
		if err != nil {
			return fmt.Errorf("pending labs for round %d: %w", *next, err)
		}

		if err := e.emitRoundStarted(ctx, uow, draft.ID, next, len(pending), acked); err != nil {
			return err
		}

		if len(pending) > 0 {
			// Human submissions are awaited for this round.
			e.logger.Debug().
				Str("draft_id", draft.ID.String()).
				Int("round", *next).
				Int("pending_labs", len(pending)).
				Msg("round paused awaiting faculty submissions")
			return nil
		}
	}
}

// autoAcknowledge records a system ledger entry for every lab that
// needs no human action in the round: labs whose cumulative claims
// reached their effective quota (archived labs always qualify) and
// labs no unclaimed student ranked at this round's position.
//
// Runs exactly once per round transition, inside the transition's
// transaction. The (draft, round, lab) uniqueness constraint makes a
// racing second run a no-op rather than an error.
func (e *Engine) autoAcknowledge(ctx context.Context, uow UnitOfWork, draftID uuid.UUID, round int) (int, error) {
	labs, err := uow.Labs().ListLabs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list labs: %w", err)
	}

	acked := 0
	for _, lab := range labs {
		needsAck, err := e.labNeedsNoAction(ctx, uow, draftID, lab, round)
		if err != nil {
			return acked, err
		}
		if !needsAck {
			continue
		}

		inserted, err := uow.Ledger().RecordAutoChoice(ctx, uuid.New(), draftID, round, lab.ID)
		if err != nil {
			return acked, fmt.Errorf("auto-acknowledge lab %s round %d: %w", lab.ID, round, err)
		}
		if inserted {
			acked++
		}
	}
	return acked, nil
}

func (e *Engine) labNeedsNoAction(ctx context.Context, uow UnitOfWork, draftID uuid.UUID, lab models.Lab, round int) (bool, error) {
	claimed, err := uow.Ledger().CountClaimedByLab(ctx, draftID, lab.ID)
	if err != nil {
		return false, fmt.Errorf("count claimed for lab %s: %w", lab.ID, err)
	}
	if claimed >= lab.EffectiveQuota() {
		return true, nil
	}

	preferring, err := uow.Ledger().CountUnclaimedPreferring(ctx, draftID, lab.ID, round)
	if err != nil {
		return false, fmt.Errorf("count preferring for lab %s round %d: %w", lab.ID, round, err)
	}
	return preferring == 0, nil
}
