package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/soras/labdraft/internal/engine"
	"github.com/soras/labdraft/internal/models"
	"github.com/soras/labdraft/internal/sqlutil"
)

// Repository persists round-ledger entries and answers the queries the
// state machine decides on. Reads that feed a decision which will
// itself write run inside the caller's transaction; the repository
// binds to whatever DBTX it is given.
type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

// RecordChoice inserts a ledger entry. The (draft, round, lab)
// uniqueness constraint rejects a duplicate regular-round entry;
// lottery entries (round NULL) may repeat per lab.
func (r *Repository) RecordChoice(ctx context.Context, req engine.RecordChoiceRequest) error {
	var round sql.NullInt32
	if req.Round != nil {
		round = sql.NullInt32{Int32: int32(*req.Round), Valid: true}
	}
	var chosenBy uuid.NullUUID
	if req.ChosenBy != nil {
		chosenBy = uuid.NullUUID{UUID: *req.ChosenBy, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO faculty_choices (id, draft_id, round, lab_id, chosen_by)
		VALUES ($1, $2, $3, $4, $5)`,
		req.ID, req.DraftID, round, req.LabID, chosenBy,
	)
	if err != nil {
		return fmt.Errorf("failed to record choice: %w", err)
	}
	return nil
}

// RecordAutoChoice inserts a system entry, reporting false when the
// (draft, round, lab) entry already exists. ON CONFLICT DO NOTHING
// keeps a racing second round-transition from surfacing an error.
func (r *Repository) RecordAutoChoice(ctx context.Context, id, draftID uuid.UUID, round int, labID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO faculty_choices (id, draft_id, round, lab_id, chosen_by)
		VALUES ($1, $2, $3, $4, NULL)
		ON CONFLICT (draft_id, round, lab_id) DO NOTHING`,
		id, draftID, round, labID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record auto choice: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClaimStudents attaches students to a ledger entry in one batch. The
// (draft, student) uniqueness constraint is the double-assignment
// backstop; a violation surfaces to the caller for typed mapping.
func (r *Repository) ClaimStudents(ctx context.Context, choiceID, draftID uuid.UUID, studentIDs []uuid.UUID) error {
	if len(studentIDs) == 0 {
		return nil
	}

	ids := make([]string, len(studentIDs))
	for i, id := range studentIDs {
		ids[i] = id.String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO choice_students (choice_id, draft_id, student_id)
		SELECT $1, $2, unnest($3::uuid[])`,
		choiceID, draftID, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to claim students: %w", err)
	}
	return nil
}

func (r *Repository) CountClaimedByLab(ctx context.Context, draftID, labID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM choice_students cs
		JOIN faculty_choices fc ON fc.id = cs.choice_id
		WHERE fc.draft_id = $1 AND fc.lab_id = $2`,
		draftID, labID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count claimed by lab: %w", err)
	}
	return count, nil
}

// PendingLabs lists labs without a ledger entry for the round, in name
// order. Archived labs count too: the auto-acknowledgment rule records
// them, so a non-empty result always means a human decision is awaited.
func (r *Repository) PendingLabs(ctx context.Context, draftID uuid.UUID, round int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id
		FROM labs l
		WHERE NOT EXISTS (
			SELECT 1 FROM faculty_choices fc
			WHERE fc.draft_id = $1 AND fc.round = $2 AND fc.lab_id = l.id
		)
		ORDER BY l.name`,
		draftID, round,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending labs: %w", err)
	}
	defer rows.Close()
	return scanUUIDs(rows)
}

// UnclaimedStudents lists registered students not yet claimed anywhere
// in the draft, in submission order.
func (r *Repository) UnclaimedStudents(ctx context.Context, draftID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sr.student_id
		FROM student_ranks sr
		WHERE sr.draft_id = $1
		AND NOT EXISTS (
			SELECT 1 FROM choice_students cs
			WHERE cs.draft_id = sr.draft_id AND cs.student_id = sr.student_id
		)
		ORDER BY sr.created_at, sr.student_id`,
		draftID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unclaimed students: %w", err)
	}
	defer rows.Close()
	return scanUUIDs(rows)
}

func (r *Repository) CountUnclaimedPreferring(ctx context.Context, draftID, labID uuid.UUID, position int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM rank_choices rc
		WHERE rc.draft_id = $1 AND rc.lab_id = $2 AND rc.position = $3
		AND NOT EXISTS (
			SELECT 1 FROM choice_students cs
			WHERE cs.draft_id = rc.draft_id AND cs.student_id = rc.student_id
		)`,
		draftID, labID, position,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unclaimed preferring: %w", err)
	}
	return count, nil
}

// StudentsPreferring lists unclaimed students who ranked the lab at the
// given position. Backs both auto-acknowledgment and the faculty-facing
// "who picked us" view.
func (r *Repository) StudentsPreferring(ctx context.Context, draftID, labID uuid.UUID, position int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rc.student_id
		FROM rank_choices rc
		WHERE rc.draft_id = $1 AND rc.lab_id = $2 AND rc.position = $3
		AND NOT EXISTS (
			SELECT 1 FROM choice_students cs
			WHERE cs.draft_id = rc.draft_id AND cs.student_id = rc.student_id
		)
		ORDER BY rc.student_id`,
		draftID, labID, position,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list students preferring: %w", err)
	}
	defer rows.Close()
	return scanUUIDs(rows)
}

// SyncAssignments materializes every claimed student's lab onto the
// student profile in one idempotent bulk upsert keyed by draft.
func (r *Repository) SyncAssignments(ctx context.Context, draftID uuid.UUID, assignedAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO student_profiles (student_id, lab_id, draft_id, assigned_at)
		SELECT cs.student_id, fc.lab_id, fc.draft_id, $2
		FROM choice_students cs
		JOIN faculty_choices fc ON fc.id = cs.choice_id
		WHERE fc.draft_id = $1
		ON CONFLICT (student_id) DO UPDATE
		SET lab_id = EXCLUDED.lab_id,
		    draft_id = EXCLUDED.draft_id,
		    assigned_at = EXCLUDED.assigned_at`,
		draftID, assignedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sync assignments: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// ChoicesByDraft loads all ledger entries with their claimed students,
// newest round first. Used by history and dashboard readers.
func (r *Repository) ChoicesByDraft(ctx context.Context, draftID uuid.UUID) ([]models.FacultyChoice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, draft_id, round, lab_id, chosen_by, created_at
		FROM faculty_choices
		WHERE draft_id = $1
		ORDER BY round DESC NULLS FIRST, created_at`,
		draftID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list choices: %w", err)
	}
	defer rows.Close()

	var choices []models.FacultyChoice
	for rows.Next() {
		var (
			c        models.FacultyChoice
			round    sql.NullInt32
			chosenBy uuid.NullUUID
		)
		if err := rows.Scan(&c.ID, &c.DraftID, &round, &c.LabID, &chosenBy, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan choice: %w", err)
		}
		if round.Valid {
			n := int(round.Int32)
			c.Round = &n
		}
		if chosenBy.Valid {
			id := chosenBy.UUID
			c.ChosenBy = &id
		}
		choices = append(choices, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range choices {
		students, err := r.claimedStudents(ctx, choices[i].ID)
		if err != nil {
			return nil, err
		}
		choices[i].Students = students
	}
	return choices, nil
}

func (r *Repository) claimedStudents(ctx context.Context, choiceID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT student_id FROM choice_students WHERE choice_id = $1 ORDER BY student_id`,
		choiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimed students: %w", err)
	}
	defer rows.Close()
	return scanUUIDs(rows)
}

func scanUUIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
