package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/database"
)

// EventRepository reads the append-only approval audit trail. Writes happen
// inside the decision/reassignment transactions via insertEventTx; the table
// has a delete-prevention trigger so no other mutation is exposed.
type EventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append inserts one audit entry outside any larger transaction (used for
// submission events, which precede any approval mutation).
func (r *EventRepository) Append(ctx context.Context, e *ApprovalEvent) error {
	query := `
		INSERT INTO approval_events (approval_id, actor_id, action, reason)
		VALUES ($1, $2, $3::event_action, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query, e.ApprovalID, e.ActorID, e.Action, e.Reason).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to append approval event")
	}
	return nil
}

// ListByApproval returns the ordered audit trail for one approval.
func (r *EventRepository) ListByApproval(ctx context.Context, approvalID string) ([]*ApprovalEvent, error) {
	query := `
		SELECT id, approval_id, actor_id, action, reason, created_at
		FROM approval_events
		WHERE approval_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, approvalID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list approval events")
	}
	defer rows.Close()

	var events []*ApprovalEvent
	for rows.Next() {
		e := &ApprovalEvent{}
		err := rows.Scan(&e.ID, &e.ApprovalID, &e.ActorID, &e.Action, &e.Reason, &e.CreatedAt)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval event")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// insertEventTx writes an audit entry inside an existing transaction.
func insertEventTx(ctx context.Context, tx pgx.Tx, e *ApprovalEvent) error {
	query := `
		INSERT INTO approval_events (approval_id, actor_id, action, reason)
		VALUES ($1, $2, $3::event_action, $4)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query, e.ApprovalID, e.ActorID, e.Action, e.Reason).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to write approval event")
	}
	return nil
}
