package events

import (
	"time"
)

// Event payload types shared between the engine and the outbox relay.

// Event type identifiers as stored in the outbox and used as JetStream
// subject suffixes.
const (
	TypeRoundStarted      = "RoundStarted"
	TypeRoundSubmitted    = "RoundSubmitted"
	TypeLotteryIntervened = "LotteryIntervened"
	TypeDraftConcluded    = "DraftConcluded"
	TypeStudentAssigned   = "StudentAssigned"
)

// RoundStartedPayload is recorded every time the draft enters a new
// round. Round is nil when the terminal lottery phase begins.
type RoundStartedPayload struct {
	DraftID          string    `json:"draft_id"`
	Round            *int      `json:"round"`
	Lottery          bool      `json:"lottery"`
	PendingLabs      int       `json:"pending_labs"`
	AutoAcknowledged int       `json:"auto_acknowledged"`
	StartedAt        time.Time `json:"started_at"`
}

// RoundSubmittedPayload is recorded when a faculty member claims
// students for their lab in the current round.
type RoundSubmittedPayload struct {
	DraftID     string    `json:"draft_id"`
	Round       int       `json:"round"`
	LabID       string    `json:"lab_id"`
	FacultyID   string    `json:"faculty_id"`
	StudentIDs  []string  `json:"student_ids"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// LotteryIntervenedPayload is recorded for a manual lottery-phase
// assignment by an administrator.
type LotteryIntervenedPayload struct {
	DraftID      string       `json:"draft_id"`
	AdminID      string       `json:"admin_id"`
	Assignments  []Assignment `json:"assignments"`
	IntervenedAt time.Time    `json:"intervened_at"`
}

// Assignment is one (student, lab) pair inside an intervention or
// conclusion payload.
type Assignment struct {
	StudentID string `json:"student_id"`
	LabID     string `json:"lab_id"`
}

// DraftConcludedPayload is recorded once when the draft closes.
type DraftConcludedPayload struct {
	DraftID         string    `json:"draft_id"`
	ConcludedAt     time.Time `json:"concluded_at"`
	LotteryAssigned int       `json:"lottery_assigned"`
	Duration        string    `json:"duration"`
}

// StudentAssignedPayload is recorded per student whose final lab
// assignment was materialized at conclusion.
type StudentAssignedPayload struct {
	DraftID    string    `json:"draft_id"`
	StudentID  string    `json:"student_id"`
	LabID      string    `json:"lab_id"`
	AssignedAt time.Time `json:"assigned_at"`
}
