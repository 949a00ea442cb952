package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soras/labdraft/internal/events"
	"github.com/soras/labdraft/internal/models"
)

// Notification events are enqueued on the outbox inside the business
// transaction; the relay worker delivers them after commit. A failed
// delivery never rolls back committed draft state.

func (e *Engine) emitRoundStarted(ctx context.Context, uow UnitOfWork, draftID uuid.UUID, round *int, pending, acked int) error {
	payload := events.RoundStartedPayload{
		DraftID:          draftID.String(),
		Round:            round,
		Lottery:          round == nil,
		PendingLabs:      pending,
		AutoAcknowledged: acked,
		StartedAt:        e.clock.Now(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal RoundStarted payload: %w", err)
	}
	return uow.Outbox().InsertRoundStarted(ctx, draftID, data)
}

func (e *Engine) emitRoundSubmitted(ctx context.Context, uow UnitOfWork, draftID uuid.UUID, round int, labID, facultyID uuid.UUID, studentIDs []uuid.UUID) error {
	ids := make([]string, len(studentIDs))
	for i, id := range studentIDs {
		ids[i] = id.String()
	}
	payload := events.RoundSubmittedPayload{
		DraftID:     draftID.String(),
		Round:       round,
		LabID:       labID.String(),
		FacultyID:   facultyID.String(),
		StudentIDs:  ids,
		SubmittedAt: e.clock.Now(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal RoundSubmitted payload: %w", err)
	}
	return uow.Outbox().InsertRoundSubmitted(ctx, draftID, data)
}

func (e *Engine) emitLotteryIntervened(ctx context.Context, uow UnitOfWork, draftID, adminID uuid.UUID, assignments []Assignment) error {
	payload := events.LotteryIntervenedPayload{
		DraftID:      draftID.String(),
		AdminID:      adminID.String(),
		Assignments:  toEventAssignments(assignments),
		IntervenedAt: e.clock.Now(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal LotteryIntervened payload: %w", err)
	}
	return uow.Outbox().InsertLotteryIntervened(ctx, draftID, data)
}

func (e *Engine) emitConclusion(ctx context.Context, uow UnitOfWork, draft *models.Draft, adminID uuid.UUID, lottery []Assignment, concludedAt time.Time) error {
	payload := events.DraftConcludedPayload{
		DraftID:         draft.ID.String(),
		ConcludedAt:     concludedAt,
		LotteryAssigned: len(lottery),
		Duration:        concludedAt.Sub(draft.ActiveFrom).String(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal DraftConcluded payload: %w", err)
	}
	if err := uow.Outbox().InsertDraftConcluded(ctx, draft.ID, data); err != nil {
		return err
	}

	for _, a := range lottery {
		assigned := events.StudentAssignedPayload{
			DraftID:    draft.ID.String(),
			StudentID:  a.StudentID.String(),
			LabID:      a.LabID.String(),
			AssignedAt: concludedAt,
		}
		data, err := json.Marshal(assigned)
		if err != nil {
			return fmt.Errorf("marshal StudentAssigned payload: %w", err)
		}
		if err := uow.Outbox().InsertStudentAssigned(ctx, draft.ID, data); err != nil {
			return err
		}
	}
	return nil
}

func toEventAssignments(assignments []Assignment) []events.Assignment {
	out := make([]events.Assignment, len(assignments))
	for i, a := range assignments {
		out[i] = events.Assignment{
			StudentID: a.StudentID.String(),
			LabID:     a.LabID.String(),
		}
	}
	return out
}
