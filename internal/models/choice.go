package models

import (
	"time"

	"github.com/google/uuid"
)

// FacultyChoice is one round-ledger entry: the decision a lab recorded
// for a (draft, round) pair together with the students it claimed.
// Round is nil for lottery-phase entries. ChosenBy is nil when the
// entry was auto-acknowledged by the system.
type FacultyChoice struct {
	ID        uuid.UUID   `json:"id"`
	DraftID   uuid.UUID   `json:"draft_id"`
	Round     *int        `json:"round,omitempty"`
	LabID     uuid.UUID   `json:"lab_id"`
	ChosenBy  *uuid.UUID  `json:"chosen_by,omitempty"`
	Students  []uuid.UUID `json:"students,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsAuto reports whether the entry was recorded by the system rather
// than a faculty member or administrator.
func (c FacultyChoice) IsAuto() bool {
	return c.ChosenBy == nil
}
