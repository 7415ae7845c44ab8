package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/database"
)

// ItemRepository reads and projects status onto the four approvable item
// tables. The tables share the engine-facing column shape, so the subject
// kind selects the table from the closed whitelist in types.go.
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new ItemRepository.
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, title, description, merchant, amount, category, has_receipt,
	       submitter_id, status, created_at, updated_at`

// GetSubject loads the item an approval points at.
func (r *ItemRepository) GetSubject(ctx context.Context, ref SubjectRef) (*Item, error) {
	_, table, err := subjectMeta(ref.Kind)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + itemColumns + ` FROM ` + table + ` WHERE id = $1`

	item, err := scanItem(r.db.QueryRow(ctx, query, ref.ID), ref.Kind)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound(string(ref.Kind), ref.ID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get item")
	}
	return item, nil
}

// insertItemTx inserts an item inside an existing transaction, filling in the
// generated id and timestamps. Used by ApprovalRepository.CreateSubmission so
// the item and its approval rows commit together.
func insertItemTx(ctx context.Context, tx pgx.Tx, item *Item) error {
	_, table, err := subjectMeta(item.Kind)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ` + table + `
		    (title, description, merchant, amount, category, has_receipt, submitter_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::item_status)
		RETURNING id, created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		item.Title,
		item.Description,
		item.Merchant,
		item.Amount,
		item.Category,
		item.HasReceipt,
		item.SubmitterID,
		item.Status,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create item")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type itemScanner interface {
	Scan(dest ...any) error
}

func scanItem(row itemScanner, kind SubjectKind) (*Item, error) {
	item := &Item{Kind: kind}
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.Merchant,
		&item.Amount,
		&item.Category,
		&item.HasReceipt,
		&item.SubmitterID,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}
