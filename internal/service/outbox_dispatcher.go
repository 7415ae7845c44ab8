package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// LedgerPoster is the ledger subsystem's posting surface. The real
// implementation is the HTTP client in internal/client.
type LedgerPoster interface {
	PostVendorInvoice(ctx context.Context, invoiceID string) error
	PostExpensePayment(ctx context.Context, expenseID, cashAccountID string) error
}

// OutboxDispatcher drives ledger outbox entries to their terminal state.
// Outbox rows are written inside decision transactions; dispatch happens
// strictly after commit, so a posting failure can never undo an approval.
type OutboxDispatcher struct {
	outbox        OutboxStore
	ledger        LedgerPoster
	cashAccountID string
	log           zerolog.Logger
}

// NewOutboxDispatcher creates a new OutboxDispatcher.
func NewOutboxDispatcher(outbox OutboxStore, ledger LedgerPoster, cashAccountID string, log zerolog.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		outbox:        outbox,
		ledger:        ledger,
		cashAccountID: cashAccountID,
		log:           log,
	}
}

// Dispatch posts one outbox entry to the ledger and records the outcome.
// A failed posting marks the entry failed and returns the cause; the entry
// stays dispatchable for later sweeps.
func (d *OutboxDispatcher) Dispatch(ctx context.Context, entry *repository.OutboxEntry) error {
	var postErr error
	switch entry.Entrypoint {
	case repository.EntrypointPostVendorInvoice:
		postErr = d.ledger.PostVendorInvoice(ctx, entry.SubjectID)
	case repository.EntrypointPostExpensePayment:
		postErr = d.ledger.PostExpensePayment(ctx, entry.SubjectID, d.cashAccountID)
	default:
		postErr = fmt.Errorf("unknown outbox entrypoint %q", entry.Entrypoint)
	}

	if postErr != nil {
		if err := d.outbox.MarkFailed(ctx, entry.ID, postErr.Error()); err != nil {
			d.log.Error().Err(err).Str("outbox_id", entry.ID).Msg("failed to mark outbox entry failed")
		}
		d.log.Warn().Err(postErr).
			Str("outbox_id", entry.ID).
			Str("entrypoint", entry.Entrypoint).
			Str("subject_id", entry.SubjectID).
			Msg("ledger posting failed")
		return apperr.Wrap(postErr, apperr.CodeInternal, "ledger posting failed")
	}

	if err := d.outbox.MarkPosted(ctx, entry.ID); err != nil {
		return err
	}

	d.log.Info().
		Str("outbox_id", entry.ID).
		Str("entrypoint", entry.Entrypoint).
		Str("subject_id", entry.SubjectID).
		Msg("ledger posting succeeded")
	return nil
}

// SweepResult tallies one redispatch pass.
type SweepResult struct {
	Attempted int `json:"attempted"`
	Posted    int `json:"posted"`
	Failed    int `json:"failed"`
}

// Sweep redispatches pending and previously failed entries, oldest first.
// Individual failures are recorded on their entries and do not stop the pass.
func (d *OutboxDispatcher) Sweep(ctx context.Context, limit int) (*SweepResult, error) {
	entries, err := d.outbox.ListDispatchable(ctx, limit)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{Attempted: len(entries)}
	for _, entry := range entries {
		if err := d.Dispatch(ctx, entry); err != nil {
			res.Failed++
			continue
		}
		res.Posted++
	}
	return res, nil
}
