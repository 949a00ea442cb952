package models

import (
	"time"

	"github.com/google/uuid"
)

// DraftPhase is the lifecycle phase derived from a draft row.
type DraftPhase string

const (
	PhaseRegistration DraftPhase = "REGISTRATION"
	PhaseRound        DraftPhase = "ROUND"
	PhaseLottery      DraftPhase = "LOTTERY"
	PhaseConcluded    DraftPhase = "CONCLUDED"
)

// Draft represents one multi-round assignment cycle from registration
// to conclusion. CurrRound is 0 while registration is open, 1..MaxRounds
// during regular rounds and nil once the lottery phase is reached.
type Draft struct {
	ID                   uuid.UUID  `json:"id"`
	MaxRounds            int        `json:"max_rounds"`
	CurrRound            *int       `json:"curr_round,omitempty"`
	RegistrationClosesAt time.Time  `json:"registration_closes_at"`
	ActiveFrom           time.Time  `json:"active_from"`
	ActiveUntil          *time.Time `json:"active_until,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Phase derives the lifecycle phase. A set ActiveUntil always means
// concluded; otherwise the current round decides.
func (d Draft) Phase() DraftPhase {
	if d.ActiveUntil != nil {
		return PhaseConcluded
	}
	if d.CurrRound == nil {
		return PhaseLottery
	}
	if *d.CurrRound == 0 {
		return PhaseRegistration
	}
	return PhaseRound
}
