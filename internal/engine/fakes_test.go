package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/soras/labdraft/internal/models"
	"github.com/soras/labdraft/internal/sqlutil"
)

// memStore is an in-memory UnitOfWork and TxRunner. It enforces the
// same uniqueness rules the schema does, surfacing them as
// sqlutil.ErrUniqueViolation so the engine's typed-error mapping is
// exercised the way it is against Postgres. There is no rollback: a
// failed operation may leave partial state, which the tests account
// for by asserting on the returned errors first.
type memStore struct {
	draft    *models.Draft
	labs     []models.Lab
	ranks    []CreateRankRequest
	choices  []memChoice
	claims   map[uuid.UUID]uuid.UUID // studentID -> choiceID
	profiles map[uuid.UUID]uuid.UUID // studentID -> labID
	outbox   []memEvent
}

type memChoice struct {
	req  RecordChoiceRequest
	auto bool
}

type memEvent struct {
	eventType string
	payload   []byte
}

func newMemStore(labs ...models.Lab) *memStore {
	return &memStore{
		labs:     labs,
		claims:   make(map[uuid.UUID]uuid.UUID),
		profiles: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *memStore) Serializable(ctx context.Context, fn func(UnitOfWork) error) error {
	return fn(s)
}

func (s *memStore) RepeatableRead(ctx context.Context, fn func(UnitOfWork) error) error {
	return fn(s)
}

func (s *memStore) Drafts() DraftStore  { return s }
func (s *memStore) Labs() LabStore      { return s }
func (s *memStore) Ranks() RankStore    { return s }
func (s *memStore) Ledger() LedgerStore { return s }
func (s *memStore) Outbox() OutboxStore { return s }

// DraftStore

func (s *memStore) CreateDraft(ctx context.Context, req CreateDraftRequest) (*models.Draft, error) {
	if s.draft != nil && s.draft.ActiveUntil == nil {
		return nil, sqlutil.ErrUniqueViolation
	}
	zero := 0
	s.draft = &models.Draft{
		ID:                   req.ID,
		MaxRounds:            req.MaxRounds,
		CurrRound:            &zero,
		RegistrationClosesAt: req.RegistrationClosesAt,
		ActiveFrom:           req.ActiveFrom,
		CreatedAt:            req.ActiveFrom,
		UpdatedAt:            req.ActiveFrom,
	}
	return s.draftCopy(), nil
}

func (s *memStore) GetDraft(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	if s.draft == nil || s.draft.ID != id {
		return nil, sql.ErrNoRows
	}
	return s.draftCopy(), nil
}

func (s *memStore) GetDraftForUpdate(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	return s.GetDraft(ctx, id)
}

func (s *memStore) HasActiveDraft(ctx context.Context) (bool, error) {
	return s.draft != nil && s.draft.ActiveUntil == nil, nil
}

func (s *memStore) SetCurrentRound(ctx context.Context, id uuid.UUID, round *int) error {
	if s.draft == nil || s.draft.ID != id {
		return sql.ErrNoRows
	}
	if round == nil {
		s.draft.CurrRound = nil
		return nil
	}
	r := *round
	s.draft.CurrRound = &r
	return nil
}

func (s *memStore) CloseActivePeriod(ctx context.Context, id uuid.UUID, closedAt time.Time) error {
	if s.draft == nil || s.draft.ID != id {
		return sql.ErrNoRows
	}
	if s.draft.ActiveUntil != nil {
		return fmt.Errorf("draft %s already concluded", id)
	}
	t := closedAt
	s.draft.ActiveUntil = &t
	return nil
}

func (s *memStore) draftCopy() *models.Draft {
	d := *s.draft
	if s.draft.CurrRound != nil {
		r := *s.draft.CurrRound
		d.CurrRound = &r
	}
	if s.draft.ActiveUntil != nil {
		t := *s.draft.ActiveUntil
		d.ActiveUntil = &t
	}
	return &d
}

// LabStore

func (s *memStore) ListLabs(ctx context.Context) ([]models.Lab, error) {
	out := make([]models.Lab, len(s.labs))
	copy(out, s.labs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) GetLab(ctx context.Context, id uuid.UUID) (*models.Lab, error) {
	for _, lab := range s.labs {
		if lab.ID == id {
			l := lab
			return &l, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memStore) TotalActiveQuota(ctx context.Context) (int, error) {
	total := 0
	for _, lab := range s.labs {
		if !lab.Archived {
			total += lab.Quota
		}
	}
	return total, nil
}

func (s *memStore) UpdateLotteryQuota(ctx context.Context, labID uuid.UUID, quota int) (bool, error) {
	for i := range s.labs {
		if s.labs[i].ID == labID {
			s.labs[i].LotteryQuota = quota
			return true, nil
		}
	}
	return false, nil
}

// RankStore

func (s *memStore) CreateStudentRank(ctx context.Context, req CreateRankRequest) error {
	for _, r := range s.ranks {
		if r.DraftID == req.DraftID && r.StudentID == req.StudentID {
			return sqlutil.ErrUniqueViolation
		}
	}
	s.ranks = append(s.ranks, req)
	return nil
}

func (s *memStore) CountStudentRanks(ctx context.Context, draftID uuid.UUID) (int, error) {
	count := 0
	for _, r := range s.ranks {
		if r.DraftID == draftID {
			count++
		}
	}
	return count, nil
}

// LedgerStore

func (s *memStore) RecordChoice(ctx context.Context, req RecordChoiceRequest) error {
	if req.Round != nil {
		for _, c := range s.choices {
			if c.req.DraftID == req.DraftID && c.req.Round != nil &&
				*c.req.Round == *req.Round && c.req.LabID == req.LabID {
				return sqlutil.ErrUniqueViolation
			}
		}
	}
	s.choices = append(s.choices, memChoice{req: req})
	return nil
}

func (s *memStore) RecordAutoChoice(ctx context.Context, id, draftID uuid.UUID, round int, labID uuid.UUID) (bool, error) {
	for _, c := range s.choices {
		if c.req.DraftID == draftID && c.req.Round != nil &&
			*c.req.Round == round && c.req.LabID == labID {
			return false, nil
		}
	}
	s.choices = append(s.choices, memChoice{
		req:  RecordChoiceRequest{ID: id, DraftID: draftID, Round: &round, LabID: labID},
		auto: true,
	})
	return true, nil
}

func (s *memStore) ClaimStudents(ctx context.Context, choiceID, draftID uuid.UUID, studentIDs []uuid.UUID) error {
	for _, id := range studentIDs {
		if _, taken := s.claims[id]; taken {
			return sqlutil.ErrUniqueViolation
		}
	}
	for _, id := range studentIDs {
		s.claims[id] = choiceID
	}
	return nil
}

func (s *memStore) CountClaimedByLab(ctx context.Context, draftID, labID uuid.UUID) (int, error) {
	count := 0
	for _, choiceID := range s.claims {
		if c := s.choiceByID(choiceID); c != nil && c.req.LabID == labID {
			count++
		}
	}
	return count, nil
}

func (s *memStore) PendingLabs(ctx context.Context, draftID uuid.UUID, round int) ([]uuid.UUID, error) {
	var pending []uuid.UUID
	labs, _ := s.ListLabs(ctx)
	for _, lab := range labs {
		recorded := false
		for _, c := range s.choices {
			if c.req.DraftID == draftID && c.req.Round != nil &&
				*c.req.Round == round && c.req.LabID == lab.ID {
				recorded = true
				break
			}
		}
		if !recorded {
			pending = append(pending, lab.ID)
		}
	}
	return pending, nil
}

func (s *memStore) UnclaimedStudents(ctx context.Context, draftID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, r := range s.ranks {
		if r.DraftID != draftID {
			continue
		}
		if _, taken := s.claims[r.StudentID]; !taken {
			out = append(out, r.StudentID)
		}
	}
	return out, nil
}

func (s *memStore) CountUnclaimedPreferring(ctx context.Context, draftID, labID uuid.UUID, position int) (int, error) {
	students, err := s.StudentsPreferring(ctx, draftID, labID, position)
	return len(students), err
}

func (s *memStore) StudentsPreferring(ctx context.Context, draftID, labID uuid.UUID, position int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, r := range s.ranks {
		if r.DraftID != draftID {
			continue
		}
		if _, taken := s.claims[r.StudentID]; taken {
			continue
		}
		for _, c := range r.Choices {
			if c.Position == position && c.LabID == labID {
				out = append(out, r.StudentID)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) SyncAssignments(ctx context.Context, draftID uuid.UUID, assignedAt time.Time) (int64, error) {
	var n int64
	for studentID, choiceID := range s.claims {
		c := s.choiceByID(choiceID)
		if c == nil || c.req.DraftID != draftID {
			continue
		}
		s.profiles[studentID] = c.req.LabID
		n++
	}
	return n, nil
}

func (s *memStore) choiceByID(id uuid.UUID) *memChoice {
	for i := range s.choices {
		if s.choices[i].req.ID == id {
			return &s.choices[i]
		}
	}
	return nil
}

// OutboxStore

func (s *memStore) InsertRoundStarted(ctx context.Context, draftID uuid.UUID, payload []byte) error {
	return s.insertEvent("RoundStarted", payload)
}

func (s *memStore) InsertRoundSubmitted(ctx context.Context, draftID uuid.UUID, payload []byte) error {
	return s.insertEvent("RoundSubmitted", payload)
}

func (s *memStore) InsertLotteryIntervened(ctx context.Context, draftID uuid.UUID, payload []byte) error {
	return s.insertEvent("LotteryIntervened", payload)
}

func (s *memStore) InsertDraftConcluded(ctx context.Context, draftID uuid.UUID, payload []byte) error {
	return s.insertEvent("DraftConcluded", payload)
}

func (s *memStore) InsertStudentAssigned(ctx context.Context, draftID uuid.UUID, payload []byte) error {
	return s.insertEvent("StudentAssigned", payload)
}

func (s *memStore) insertEvent(eventType string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("invalid %s payload", eventType)
	}
	s.outbox = append(s.outbox, memEvent{eventType: eventType, payload: payload})
	return nil
}

func (s *memStore) eventsOfType(eventType string) []memEvent {
	var out []memEvent
	for _, e := range s.outbox {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// test helpers

func (s *memStore) currentRound() *int {
	return s.draft.CurrRound
}

func (s *memStore) claimedBy(studentID uuid.UUID) (uuid.UUID, bool) {
	choiceID, ok := s.claims[studentID]
	if !ok {
		return uuid.Nil, false
	}
	c := s.choiceByID(choiceID)
	if c == nil {
		return uuid.Nil, false
	}
	return c.req.LabID, true
}

func (s *memStore) autoChoices(round int) []memChoice {
	var out []memChoice
	for _, c := range s.choices {
		if c.auto && c.req.Round != nil && *c.req.Round == round {
			out = append(out, c)
		}
	}
	return out
}

var _ UnitOfWork = (*memStore)(nil)
var _ TxRunner = (*memStore)(nil)

// conflictStore simulates a concurrent transaction winning the claim
// race: every ClaimStudents call hits the uniqueness constraint even
// though the students read as unclaimed moments before.
type conflictStore struct {
	*memStore
}

func (s *conflictStore) Serializable(ctx context.Context, fn func(UnitOfWork) error) error {
	return fn(s)
}

func (s *conflictStore) RepeatableRead(ctx context.Context, fn func(UnitOfWork) error) error {
	return fn(s)
}

func (s *conflictStore) Ledger() LedgerStore {
	return conflictLedger{s.memStore}
}

type conflictLedger struct {
	*memStore
}

func (conflictLedger) ClaimStudents(ctx context.Context, choiceID, draftID uuid.UUID, studentIDs []uuid.UUID) error {
	return sqlutil.ErrUniqueViolation
}

var _ UnitOfWork = (*conflictStore)(nil)
var _ TxRunner = (*conflictStore)(nil)
