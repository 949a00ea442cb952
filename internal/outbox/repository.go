package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/soras/labdraft/internal/events"
	"github.com/soras/labdraft/internal/sqlutil"
)

// Repository persists outbox rows.
type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) InsertRoundStarted(ctx context.Context, draftID uuid.UUID, payload []byte) error {
	return r.insert(ctx, draftID, events.TypeRoundStarted, payload)
}

func (r *Repository) InsertRoundSubmitted(ctx context.Context, draftID uuid.UUID, payload []byte) error {
	return r.insert(ctx, draftID, events.TypeRoundSubmitted, payload)
}

func (r *Repository) InsertLotteryIntervened(ctx context.Context, draftID uuid.UUID, payload []byte) error {
	return r.insert(ctx, draftID, events.TypeLotteryIntervened, payload)
}

func (r *Repository) InsertDraftConcluded(ctx context.Context, draftID uuid.UUID, payload []byte) error {
	return r.insert(ctx, draftID, events.TypeDraftConcluded, payload)
}

func (r *Repository) InsertStudentAssigned(ctx context.Context, draftID uuid.UUID, payload []byte) error {
	return r.insert(ctx, draftID, events.TypeStudentAssigned, payload)
}

func (r *Repository) insert(ctx context.Context, draftID uuid.UUID, eventType string, payload []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO draft_outbox (id, draft_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), draftID, eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

// FetchUnsent locks and returns up to limit undelivered events, oldest
// first. SKIP LOCKED lets concurrent relay instances share the queue
// without double delivery.
func (r *Repository) FetchUnsent(ctx context.Context, limit int32) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, draft_id, event_type, payload, created_at
		FROM draft_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.DraftID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkSent stamps the given events delivered.
func (r *Repository) MarkSent(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE draft_outbox SET sent_at = now() WHERE id = ANY($1::uuid[])`,
		pq.Array(strIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox events as sent: %w", err)
	}
	return nil
}
