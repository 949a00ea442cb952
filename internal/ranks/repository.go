package ranks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/soras/labdraft/internal/engine"
	"github.com/soras/labdraft/internal/models"
	"github.com/soras/labdraft/internal/sqlutil"
)

// Repository persists student preference submissions.
type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

// CreateStudentRank inserts one submission and its ranked choices.
// The (draft, student) uniqueness constraint rejects resubmission.
func (r *Repository) CreateStudentRank(ctx context.Context, req engine.CreateRankRequest) error {
	remarks := make(map[int]string)
	for _, c := range req.Choices {
		if c.Remark != "" {
			remarks[c.Position] = c.Remark
		}
	}
	var remarksJSON pqtype.NullRawMessage
	if len(remarks) > 0 {
		data, err := json.Marshal(remarks)
		if err != nil {
			return fmt.Errorf("failed to marshal remarks: %w", err)
		}
		remarksJSON = pqtype.NullRawMessage{RawMessage: data, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO student_ranks (id, draft_id, student_id, remarks)
		VALUES ($1, $2, $3, $4)`,
		req.ID, req.DraftID, req.StudentID, remarksJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to create student rank: %w", err)
	}

	for _, c := range req.Choices {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO rank_choices (rank_id, draft_id, student_id, position, lab_id)
			VALUES ($1, $2, $3, $4, $5)`,
			req.ID, req.DraftID, req.StudentID, c.Position, c.LabID,
		)
		if err != nil {
			return fmt.Errorf("failed to create rank choice at position %d: %w", c.Position, err)
		}
	}
	return nil
}

func (r *Repository) CountStudentRanks(ctx context.Context, draftID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM student_ranks WHERE draft_id = $1`,
		draftID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count student ranks: %w", err)
	}
	return count, nil
}

// GetStudentRank loads one student's submission with choices in rank order.
func (r *Repository) GetStudentRank(ctx context.Context, draftID, studentID uuid.UUID) (*models.StudentRank, error) {
	var (
		rank        models.StudentRank
		remarksJSON pqtype.NullRawMessage
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, draft_id, student_id, remarks, created_at
		FROM student_ranks
		WHERE draft_id = $1 AND student_id = $2`,
		draftID, studentID,
	).Scan(&rank.ID, &rank.DraftID, &rank.StudentID, &remarksJSON, &rank.CreatedAt)
	if err != nil {
		return nil, err
	}

	remarks := make(map[int]string)
	if remarksJSON.Valid {
		if err := json.Unmarshal(remarksJSON.RawMessage, &remarks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal remarks: %w", err)
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT position, lab_id
		FROM rank_choices
		WHERE rank_id = $1
		ORDER BY position`,
		rank.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load rank choices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.RankChoice
		if err := rows.Scan(&c.Position, &c.LabID); err != nil {
			return nil, fmt.Errorf("failed to scan rank choice: %w", err)
		}
		c.Remark = remarks[c.Position]
		rank.Choices = append(rank.Choices, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(rank.Choices, func(i, j int) bool {
		return rank.Choices[i].Position < rank.Choices[j].Position
	})
	return &rank, nil
}
