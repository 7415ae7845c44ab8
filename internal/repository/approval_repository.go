package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/database"
)

// ApprovalRepository manages approval rows. Creation is always a single
// transaction with the parent item; every mutation is a conditional update
// keyed on the row still being PENDING, so a human decision and an automated
// escalation racing on the same row resolve to exactly one winner.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, expense_id, requisition_id, invoice_id, budget_id,
	       approver_id, level, status, comments, created_at, approved_at, updated_at`

// ── Creation ─────────────────────────────────────────────────────────────────

// CreateSubmission inserts the item and its approval rows in one transaction.
// An auto-approved item is inserted already APPROVED with an empty batch; a
// routed item is inserted PENDING_APPROVAL together with every (level,
// approver) row, so a submitted item is never observable with partial rows.
func (r *ApprovalRepository) CreateSubmission(ctx context.Context, item *Item, approvals []*Approval) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := insertItemTx(ctx, tx, item); err != nil {
			return err
		}

		for _, a := range approvals {
			a.Subject = item.Ref()
			if err := insertApprovalTx(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertApprovalTx(ctx context.Context, tx pgx.Tx, a *Approval) error {
	column, _, err := subjectMeta(a.Subject.Kind)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approvals (` + column + `, approver_id, level, status, comments)
		VALUES ($1, $2, $3, $4::approval_status, $5)
		RETURNING id, created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		a.Subject.ID,
		a.ApproverID,
		a.Level,
		a.Status,
		a.Comments,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create approval")
	}
	return nil
}

// ── Reads ────────────────────────────────────────────────────────────────────

// GetByID retrieves an approval by primary key.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`

	a, err := scanApproval(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("approval", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get approval")
	}
	return a, nil
}

// ListPending returns pending approvals assigned to approverID, or every
// pending approval when approverID is empty (admin view).
func (r *ApprovalRepository) ListPending(ctx context.Context, approverID string) ([]*Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE status = 'PENDING'`
	args := []any{}
	if approverID != "" {
		query += " AND approver_id = $1"
		args = append(args, approverID)
	}
	query += " ORDER BY created_at DESC"

	return r.queryApprovals(ctx, query, args...)
}

// ListOverdue returns pending approvals created before the cutoff, oldest
// first. Terminal approvals are excluded by construction, which is what makes
// repeated escalation runs idempotent.
func (r *ApprovalRepository) ListOverdue(ctx context.Context, cutoff time.Time) ([]*Approval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
	`
	return r.queryApprovals(ctx, query, cutoff)
}

// ListSince returns approvals created on or after since, optionally filtered
// to one approver. Feeds the analytics reporter.
func (r *ApprovalRepository) ListSince(ctx context.Context, since time.Time, approverID string) ([]*Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE created_at >= $1`
	args := []any{since}
	if approverID != "" {
		query += " AND approver_id = $2"
		args = append(args, approverID)
	}
	query += " ORDER BY created_at ASC"

	return r.queryApprovals(ctx, query, args...)
}

// ── Decision application ─────────────────────────────────────────────────────

// DecisionUpdate describes one atomic decision transaction.
type DecisionUpdate struct {
	ApprovalID string
	Subject    SubjectRef
	NewStatus  ApprovalStatus
	// CommentAppend is appended to the approval's free-text comment trail.
	CommentAppend *string

	// CloseSiblings, when non-empty, resolves every other PENDING row for the
	// same subject to this status with SiblingNote appended. Used when a
	// single decision is authoritative (any REJECT, or an admin decision).
	CloseSiblings ApprovalStatus
	SiblingNote   string

	// ForceItemStatus overrides the projected item status. When empty the
	// item flips to APPROVED only once no PENDING row remains.
	ForceItemStatus ItemStatus

	// Event is the structured audit entry written with the decision.
	Event ApprovalEvent

	// OutboxOnApproval, when non-nil, is inserted if and only if the item
	// ends the transaction APPROVED.
	OutboxOnApproval *OutboxEntry
}

// DecisionResult reports what the transaction did.
type DecisionResult struct {
	// Applied is false when the conditional update matched zero rows: the
	// approval was already resolved by a concurrent actor.
	Applied    bool
	ItemStatus ItemStatus
	// OutboxID is set when a ledger outbox entry was written.
	OutboxID string
}

// ApplyDecision runs one decision as a single transaction: conditional
// status flip, optional sibling closure, item projection, audit event and
// (conditionally) the ledger outbox row. A lost race returns Applied=false
// with no other effects.
func (r *ApprovalRepository) ApplyDecision(ctx context.Context, upd *DecisionUpdate) (*DecisionResult, error) {
	column, table, err := subjectMeta(upd.Subject.Kind)
	if err != nil {
		return nil, err
	}

	res := &DecisionResult{}
	err = r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		// Decisions for the same subject serialize on its approval rows, so
		// the pending count below only ever sees committed state. Without the
		// lock, two concurrent final approvals each count the other's row as
		// still PENDING and neither projects the item terminal.
		lockQuery := `SELECT id FROM approvals WHERE ` + column + ` = $1 FOR UPDATE`
		if _, err := tx.Exec(ctx, lockQuery, upd.Subject.ID); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to lock subject approvals")
		}

		// Conditional flip of the decided row.
		casQuery := `
			UPDATE approvals
			SET status      = $2::approval_status,
			    approved_at = NOW(),
			    comments    = CASE WHEN $3::text IS NULL THEN comments
			                       ELSE COALESCE(comments || E'\n', '') || $3 END,
			    updated_at  = NOW()
			WHERE id = $1 AND status = 'PENDING'
			RETURNING id
		`
		var decidedID string
		err := tx.QueryRow(ctx, casQuery, upd.ApprovalID, upd.NewStatus, upd.CommentAppend).Scan(&decidedID)
		if err == pgx.ErrNoRows {
			res.Applied = false
			return nil
		}
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to apply decision")
		}
		res.Applied = true

		// Close remaining PENDING siblings when this decision is authoritative.
		if upd.CloseSiblings != "" {
			siblingQuery := `
				UPDATE approvals
				SET status      = $2::approval_status,
				    approved_at = NOW(),
				    comments    = COALESCE(comments || E'\n', '') || $3,
				    updated_at  = NOW()
				WHERE ` + column + ` = $1 AND status = 'PENDING'
			`
			if _, err := tx.Exec(ctx, siblingQuery, upd.Subject.ID, upd.CloseSiblings, upd.SiblingNote); err != nil {
				return apperr.Wrap(err, apperr.CodeInternal, "failed to close sibling approvals")
			}
		}

		// Project onto the subject item.
		itemStatus := upd.ForceItemStatus
		if itemStatus == "" {
			var pending int
			countQuery := `SELECT COUNT(*) FROM approvals WHERE ` + column + ` = $1 AND status = 'PENDING'`
			if err := tx.QueryRow(ctx, countQuery, upd.Subject.ID).Scan(&pending); err != nil {
				return apperr.Wrap(err, apperr.CodeInternal, "failed to count pending approvals")
			}
			if pending == 0 {
				itemStatus = ItemApproved
			}
		}

		if itemStatus != "" {
			itemQuery := `
				UPDATE ` + table + `
				SET status = $2::item_status, updated_at = NOW()
				WHERE id = $1
				RETURNING id
			`
			var itemID string
			if err := tx.QueryRow(ctx, itemQuery, upd.Subject.ID, itemStatus).Scan(&itemID); err != nil {
				return apperr.Wrap(err, apperr.CodeInternal, "failed to project item status")
			}
			res.ItemStatus = itemStatus
		} else {
			statusQuery := `SELECT status FROM ` + table + ` WHERE id = $1`
			if err := tx.QueryRow(ctx, statusQuery, upd.Subject.ID).Scan(&res.ItemStatus); err != nil {
				return apperr.Wrap(err, apperr.CodeInternal, "failed to read item status")
			}
		}

		// Structured audit trail.
		event := upd.Event
		event.ApprovalID = upd.ApprovalID
		if err := insertEventTx(ctx, tx, &event); err != nil {
			return err
		}

		// Ledger outbox, written in the same transaction as the decision.
		if upd.OutboxOnApproval != nil && res.ItemStatus == ItemApproved {
			if err := insertOutboxTx(ctx, tx, upd.OutboxOnApproval); err != nil {
				return err
			}
			res.OutboxID = upd.OutboxOnApproval.ID
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ── Reassignment ─────────────────────────────────────────────────────────────

// ReassignUpdate describes one atomic approver reassignment (delegation or
// escalation). Status is untouched: the row stays PENDING.
type ReassignUpdate struct {
	ApprovalID string
	// FromApproverID, when non-empty, guards the update on the current
	// approver still matching, so a racing decision or reassignment loses.
	FromApproverID string
	ToApproverID   string
	CommentAppend  string
	Event          ApprovalEvent
}

// Reassign conditionally moves a PENDING approval to a new approver and
// records the audit event in the same transaction. Returns false when the
// row was no longer PENDING (or the guard approver no longer matched).
func (r *ApprovalRepository) Reassign(ctx context.Context, upd *ReassignUpdate) (bool, error) {
	applied := false
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE approvals
			SET approver_id = $2,
			    comments    = COALESCE(comments || E'\n', '') || $3,
			    updated_at  = NOW()
			WHERE id = $1 AND status = 'PENDING'
		`
		args := []any{upd.ApprovalID, upd.ToApproverID, upd.CommentAppend}
		if upd.FromApproverID != "" {
			query += " AND approver_id = $4"
			args = append(args, upd.FromApproverID)
		}
		query += " RETURNING id"

		var returnedID string
		err := tx.QueryRow(ctx, query, args...).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to reassign approval")
		}
		applied = true

		event := upd.Event
		event.ApprovalID = upd.ApprovalID
		return insertEventTx(ctx, tx, &event)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func (r *ApprovalRepository) queryApprovals(ctx context.Context, query string, args ...any) ([]*Approval, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to query approvals")
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

type approvalScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row approvalScanner) (*Approval, error) {
	a := &Approval{}
	var expenseID, requisitionID, invoiceID, budgetID *string

	err := row.Scan(
		&a.ID,
		&expenseID,
		&requisitionID,
		&invoiceID,
		&budgetID,
		&a.ApproverID,
		&a.Level,
		&a.Status,
		&a.Comments,
		&a.CreatedAt,
		&a.ApprovedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	switch {
	case expenseID != nil:
		a.Subject = SubjectRef{Kind: SubjectExpense, ID: *expenseID}
	case requisitionID != nil:
		a.Subject = SubjectRef{Kind: SubjectRequisition, ID: *requisitionID}
	case invoiceID != nil:
		a.Subject = SubjectRef{Kind: SubjectInvoice, ID: *invoiceID}
	case budgetID != nil:
		a.Subject = SubjectRef{Kind: SubjectBudget, ID: *budgetID}
	default:
		return nil, apperr.New(apperr.CodeInternal, "approval row has no subject reference")
	}
	return a, nil
}
