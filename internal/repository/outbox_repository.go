package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/database"
)

// OutboxRepository manages pending ledger-posting requests. Entries are
// written inside decision transactions (insertOutboxTx) and consumed by the
// dispatcher after commit, which keeps "approved but not yet posted" a
// queryable, retryable state instead of a lost log line.
type OutboxRepository struct {
	db *database.DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *database.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// ListDispatchable returns entries that still need posting, oldest first.
func (r *OutboxRepository) ListDispatchable(ctx context.Context, limit int) ([]*OutboxEntry, error) {
	query := `
		SELECT id, subject_kind, subject_id, entrypoint, status, attempts, last_error, created_at, posted_at
		FROM ledger_outbox
		WHERE status IN ('pending', 'failed')
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list outbox entries")
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan outbox entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkPosted records a successful ledger post.
func (r *OutboxRepository) MarkPosted(ctx context.Context, id string) error {
	query := `
		UPDATE ledger_outbox
		SET status = 'posted', attempts = attempts + 1, last_error = NULL, posted_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("outbox entry", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to mark outbox entry posted")
	}
	return nil
}

// MarkFailed records a failed attempt; the entry stays dispatchable.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id, cause string) error {
	query := `
		UPDATE ledger_outbox
		SET status = 'failed', attempts = attempts + 1, last_error = $2
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, cause).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("outbox entry", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to mark outbox entry failed")
	}
	return nil
}

// insertOutboxTx writes an outbox entry inside an existing transaction.
func insertOutboxTx(ctx context.Context, tx pgx.Tx, e *OutboxEntry) error {
	query := `
		INSERT INTO ledger_outbox (subject_kind, subject_id, entrypoint, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING id, status, attempts, created_at
	`

	err := tx.QueryRow(ctx, query, e.SubjectKind, e.SubjectID, e.Entrypoint).
		Scan(&e.ID, &e.Status, &e.Attempts, &e.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to write outbox entry")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type outboxScanner interface {
	Scan(dest ...any) error
}

func scanOutbox(row outboxScanner) (*OutboxEntry, error) {
	e := &OutboxEntry{}
	err := row.Scan(
		&e.ID,
		&e.SubjectKind,
		&e.SubjectID,
		&e.Entrypoint,
		&e.Status,
		&e.Attempts,
		&e.LastError,
		&e.CreatedAt,
		&e.PostedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
