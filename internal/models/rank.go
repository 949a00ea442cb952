package models

import (
	"time"

	"github.com/google/uuid"
)

// RankChoice is one ranked lab in a student's submission. Position is
// 1-indexed and doubles as the round at which the choice is considered.
type RankChoice struct {
	Position int       `json:"position"`
	LabID    uuid.UUID `json:"lab_id"`
	Remark   string    `json:"remark,omitempty"`
}

// StudentRank is one student's ordered lab preference list for a draft.
// Insert-only: a student submits at most once per draft.
type StudentRank struct {
	ID        uuid.UUID    `json:"id"`
	DraftID   uuid.UUID    `json:"draft_id"`
	StudentID uuid.UUID    `json:"student_id"`
	Choices   []RankChoice `json:"choices"`
	CreatedAt time.Time    `json:"created_at"`
}
