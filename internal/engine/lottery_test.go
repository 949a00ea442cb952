package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/soras/labdraft/internal/models"
)

// identityShuffle keeps the slice order, making lottery outcomes
// deterministic for assertions.
func identityShuffle(n int, swap func(i, j int)) {}

func TestBuildLotteryScheduleInterleaves(t *testing.T) {
	labA := makeLab("alpha", 0, 2)
	labB := makeLab("beta", 0, 1)
	labC := makeLab("gamma", 0, 3)

	schedule := buildLotterySchedule([]models.Lab{labC, labA, labB})

	require.Equal(t, []uuid.UUID{
		labA.ID, labB.ID, labC.ID,
		labA.ID, labC.ID,
		labC.ID,
	}, schedule)
}

func TestBuildLotteryScheduleSkipsArchived(t *testing.T) {
	labA := makeLab("alpha", 0, 2)
	labB := makeLab("beta", 0, 5)
	labB.Archived = true

	schedule := buildLotterySchedule([]models.Lab{labA, labB})

	require.Equal(t, []uuid.UUID{labA.ID, labA.ID}, schedule)
}

func TestBuildLotteryScheduleEmpty(t *testing.T) {
	require.Empty(t, buildLotterySchedule(nil))
	require.Empty(t, buildLotterySchedule([]models.Lab{makeLab("alpha", 3, 0)}))
}

// lotteryDraft drives a draft into the lottery phase with every student
// unclaimed: all students rank a zero-quota lab, so the single regular
// round resolves without any human decision. The store must contain a
// filler lab with positive regular quota for the draft to start.
func lotteryDraft(t *testing.T, e *Engine, clock *clockwork.FakeClock, students []uuid.UUID, rankedLab uuid.UUID) uuid.UUID {
	t.Helper()
	draftID := mustInitDraft(t, e, clock, 1)
	for _, studentID := range students {
		mustSubmitRanking(t, e, draftID, studentID, rankedLab)
	}
	require.NoError(t, e.StartDraft(context.Background(), draftID))
	return draftID
}

func TestConcludeDraftQuotaMismatch(t *testing.T) {
	labA := makeLab("alpha", 0, 1)
	filler := makeLab("omega", 1, 0)
	s := newMemStore(labA, filler)
	e, clock := newTestEngine(s, WithShuffle(identityShuffle))

	students := []uuid.UUID{uuid.New(), uuid.New()}
	draftID := lotteryDraft(t, e, clock, students, labA.ID)
	require.Equal(t, models.PhaseLottery, s.draft.Phase())

	err := e.ConcludeDraft(context.Background(), draftID, uuid.New())

	var mismatch *QuotaMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, 2, mismatch.Unclaimed)
	require.Equal(t, 1, mismatch.Capacity)

	// The draft stays open for quota reconciliation.
	require.Equal(t, models.PhaseLottery, s.draft.Phase())
	require.Nil(t, s.draft.ActiveUntil)
}

func TestConcludeDraftAfterQuotaReconciliation(t *testing.T) {
	labA := makeLab("alpha", 0, 1)
	labB := makeLab("beta", 0, 0)
	filler := makeLab("omega", 1, 0)
	s := newMemStore(labA, labB, filler)
	e, clock := newTestEngine(s, WithShuffle(identityShuffle))

	s1 := uuid.New()
	s2 := uuid.New()
	s3 := uuid.New()
	draftID := lotteryDraft(t, e, clock, []uuid.UUID{s1, s2, s3}, labA.ID)

	admin := uuid.New()
	err := e.ConcludeDraft(context.Background(), draftID, admin)
	var mismatch *QuotaMismatchError
	require.ErrorAs(t, err, &mismatch)

	// Open seats until capacity matches demand, then retry.
	require.NoError(t, e.UpdateLotteryQuota(context.Background(), draftID, []LabQuota{
		{LabID: labA.ID, Quota: 2},
		{LabID: labB.ID, Quota: 1},
	}))

	require.NoError(t, e.ConcludeDraft(context.Background(), draftID, admin))

	require.Equal(t, models.PhaseConcluded, s.draft.Phase())
	require.NotNil(t, s.draft.ActiveUntil)

	// Identity shuffle: submission order zips against the interleaved
	// schedule [alpha, beta, alpha].
	assertClaimedBy(t, s, s1, labA.ID)
	assertClaimedBy(t, s, s2, labB.ID)
	assertClaimedBy(t, s, s3, labA.ID)

	// Assignments are materialized onto the student profiles.
	require.Equal(t, labA.ID, s.profiles[s1])
	require.Equal(t, labB.ID, s.profiles[s2])
	require.Equal(t, labA.ID, s.profiles[s3])

	require.Len(t, s.eventsOfType("DraftConcluded"), 1)
	require.Len(t, s.eventsOfType("StudentAssigned"), 3)
}

func assertClaimedBy(t *testing.T, s *memStore, studentID, labID uuid.UUID) {
	t.Helper()
	got, claimed := s.claimedBy(studentID)
	require.True(t, claimed)
	require.Equal(t, labID, got)
}

// Every unclaimed student ends up in exactly one lab and each lab
// receives exactly its lottery quota, whatever the shuffle does.
func TestConcludeDraftConservesStudentsAndSeats(t *testing.T) {
	labA := makeLab("alpha", 0, 2)
	labB := makeLab("beta", 0, 3)
	filler := makeLab("omega", 1, 0)
	s := newMemStore(labA, labB, filler)
	e, clock := newTestEngine(s)

	students := make([]uuid.UUID, 5)
	for i := range students {
		students[i] = uuid.New()
	}
	draftID := lotteryDraft(t, e, clock, students, labA.ID)

	require.NoError(t, e.ConcludeDraft(context.Background(), draftID, uuid.New()))

	perLab := make(map[uuid.UUID]int)
	for _, studentID := range students {
		labID, claimed := s.claimedBy(studentID)
		require.True(t, claimed)
		perLab[labID]++
	}
	require.Equal(t, 2, perLab[labA.ID])
	require.Equal(t, 3, perLab[labB.ID])
}

func TestConcludeDraftOutsideLotteryPhase(t *testing.T) {
	labA := makeLab("alpha", 1, 1)
	s := newMemStore(labA)
	e, clock := newTestEngine(s)
	draftID := mustInitDraft(t, e, clock, 2)

	err := e.ConcludeDraft(context.Background(), draftID, uuid.New())
	require.ErrorIs(t, err, ErrNotInLotteryPhase)
}

func TestInterveneAssignsStudents(t *testing.T) {
	labA := makeLab("alpha", 0, 1)
	labB := makeLab("beta", 0, 0)
	filler := makeLab("omega", 1, 0)
	s := newMemStore(labA, labB, filler)
	e, clock := newTestEngine(s, WithShuffle(identityShuffle))

	s1 := uuid.New()
	s2 := uuid.New()
	draftID := lotteryDraft(t, e, clock, []uuid.UUID{s1, s2}, labA.ID)

	admin := uuid.New()
	require.NoError(t, e.Intervene(context.Background(), InterventionRequest{
		DraftID: draftID,
		AdminID: admin,
		Assignments: []Assignment{
			{StudentID: s2, LabID: labB.ID},
		},
	}))

	assertClaimedBy(t, s, s2, labB.ID)
	require.Len(t, s.eventsOfType("LotteryIntervened"), 1)

	// The remaining student matches the remaining lottery seat.
	require.NoError(t, e.ConcludeDraft(context.Background(), draftID, admin))
	assertClaimedBy(t, s, s1, labA.ID)
}

func TestInterveneUnknownLab(t *testing.T) {
	labA := makeLab("alpha", 0, 1)
	filler := makeLab("omega", 1, 0)
	s := newMemStore(labA, filler)
	e, clock := newTestEngine(s)

	s1 := uuid.New()
	draftID := lotteryDraft(t, e, clock, []uuid.UUID{s1}, labA.ID)

	unknown := uuid.New()
	err := e.Intervene(context.Background(), InterventionRequest{
		DraftID: draftID,
		AdminID: uuid.New(),
		Assignments: []Assignment{
			{StudentID: s1, LabID: unknown},
		},
	})

	var labErr *UnknownLabError
	require.ErrorAs(t, err, &labErr)
	require.Equal(t, unknown, labErr.LabID)
}

func TestInterveneAlreadyClaimedStudent(t *testing.T) {
	labA := makeLab("alpha", 0, 2)
	filler := makeLab("omega", 1, 0)
	s := newMemStore(labA, filler)
	e, clock := newTestEngine(s)

	s1 := uuid.New()
	draftID := lotteryDraft(t, e, clock, []uuid.UUID{s1}, labA.ID)

	admin := uuid.New()
	require.NoError(t, e.Intervene(context.Background(), InterventionRequest{
		DraftID:     draftID,
		AdminID:     admin,
		Assignments: []Assignment{{StudentID: s1, LabID: labA.ID}},
	}))

	err := e.Intervene(context.Background(), InterventionRequest{
		DraftID:     draftID,
		AdminID:     admin,
		Assignments: []Assignment{{StudentID: s1, LabID: labA.ID}},
	})

	var claimedErr *StudentAlreadyClaimedError
	require.ErrorAs(t, err, &claimedErr)
	require.Equal(t, s1, claimedErr.StudentID)
}

func TestInterveneOutsideLotteryPhase(t *testing.T) {
	labA := makeLab("alpha", 1, 1)
	s := newMemStore(labA)
	e, clock := newTestEngine(s)
	draftID := mustInitDraft(t, e, clock, 2)

	err := e.Intervene(context.Background(), InterventionRequest{
		DraftID:     draftID,
		AdminID:     uuid.New(),
		Assignments: []Assignment{{StudentID: uuid.New(), LabID: labA.ID}},
	})
	require.ErrorIs(t, err, ErrNotInLotteryPhase)
}
