package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// System notes appended to sibling rows closed by an authoritative decision.
const (
	siblingNoteRejected     = "Closed by system: request was rejected by another approver."
	siblingNoteAdminApprove = "Closed by system: request was approved by an administrator."
)

// TransitionService applies approve/reject decisions to pending approvals.
type TransitionService struct {
	approvals  ApprovalStore
	items      ItemStore
	events     EventLog
	dispatcher *OutboxDispatcher
	notifier   Notifier
	log        zerolog.Logger
}

// NewTransitionService creates a new TransitionService.
func NewTransitionService(
	approvals ApprovalStore,
	items ItemStore,
	events EventLog,
	dispatcher *OutboxDispatcher,
	notifier Notifier,
	log zerolog.Logger,
) *TransitionService {
	return &TransitionService{
		approvals:  approvals,
		items:      items,
		events:     events,
		dispatcher: dispatcher,
		notifier:   notifier,
		log:        log,
	}
}

// DecideResult reports the outcome of one decision.
type DecideResult struct {
	Approval   *repository.Approval  `json:"approval"`
	ItemStatus repository.ItemStatus `json:"item_status"`
}

// Decide applies one approve/reject decision.
//
// Rules, in order: the approval must exist; the actor must be its assigned
// approver or an administrator; the item amount must not exceed the actor's
// approval ceiling; the row must still be PENDING. A rejection is immediately
// authoritative for the whole item; an administrator approval likewise closes
// every remaining level. A non-admin approval completes the item only when it
// resolves the last PENDING row.
//
// The entire decision commits as one transaction. Losing a race to another
// decider surfaces as ALREADY_RESOLVED, identical to arriving late.
func (s *TransitionService) Decide(
	ctx context.Context,
	actor *Actor,
	approvalID string,
	decision repository.ApprovalStatus,
	comments *string,
) (*DecideResult, error) {
	if decision != repository.StatusApproved && decision != repository.StatusRejected {
		return nil, apperr.InvalidInput("decision", "decision must be APPROVED or REJECTED")
	}
	if decision == repository.StatusRejected && (comments == nil || *comments == "") {
		return nil, apperr.InvalidInput("comments", "a rejection requires a comment")
	}

	approval, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.ApproverID != actor.ID && !actor.IsAdmin {
		return nil, apperr.Unauthorized("only the assigned approver or an administrator may decide this approval")
	}

	item, err := s.items.GetSubject(ctx, approval.Subject)
	if err != nil {
		return nil, err
	}
	if item.Amount > actor.ApprovalLimit {
		return nil, apperr.Newf(apperr.CodeLimitExceeded,
			"amount $%d exceeds your approval limit of $%d", item.Amount, actor.ApprovalLimit)
	}
	if approval.Status != repository.StatusPending {
		return nil, apperr.New(apperr.CodeAlreadyResolved, "approval has already been resolved")
	}

	upd := &repository.DecisionUpdate{
		ApprovalID:    approvalID,
		Subject:       approval.Subject,
		NewStatus:     decision,
		CommentAppend: comments,
		Event: repository.ApprovalEvent{
			ActorID: actor.ID,
			Action:  repository.EventApproved,
			Reason:  comments,
		},
	}

	switch {
	case decision == repository.StatusRejected:
		upd.Event.Action = repository.EventRejected
		upd.CloseSiblings = repository.StatusRejected
		upd.SiblingNote = siblingNoteRejected
		upd.ForceItemStatus = repository.ItemRejected

	case actor.IsAdmin:
		upd.CloseSiblings = repository.StatusApproved
		upd.SiblingNote = siblingNoteAdminApprove
		upd.ForceItemStatus = repository.ItemApproved
	}

	if decision == repository.StatusApproved {
		upd.OutboxOnApproval = outboxFor(approval.Subject)
	}

	res, err := s.approvals.ApplyDecision(ctx, upd)
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		return nil, apperr.New(apperr.CodeAlreadyResolved, "approval was resolved by a concurrent decision")
	}

	s.log.Info().
		Str("approval_id", approvalID).
		Str("actor_id", actor.ID).
		Str("decision", string(decision)).
		Str("item_status", string(res.ItemStatus)).
		Bool("admin", actor.IsAdmin).
		Msg("decision applied")

	s.afterDecision(ctx, actor.ID, item, res, upd.OutboxOnApproval)

	updated, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	return &DecideResult{Approval: updated, ItemStatus: res.ItemStatus}, nil
}

// outboxFor returns the ledger outbox entry a terminal approval of this
// subject should produce, or nil when the subject kind never posts.
func outboxFor(ref repository.SubjectRef) *repository.OutboxEntry {
	var entrypoint string
	switch ref.Kind {
	case repository.SubjectInvoice:
		entrypoint = repository.EntrypointPostVendorInvoice
	case repository.SubjectExpense:
		entrypoint = repository.EntrypointPostExpensePayment
	default:
		return nil
	}
	return &repository.OutboxEntry{
		SubjectKind: ref.Kind,
		SubjectID:   ref.ID,
		Entrypoint:  entrypoint,
		Status:      repository.OutboxPending,
	}
}

// afterDecision runs the post-commit side effects: outbox dispatch and
// notifications. Both are best-effort; the decision itself already committed.
func (s *TransitionService) afterDecision(ctx context.Context, actorID string, item *repository.Item, res *repository.DecisionResult, outbox *repository.OutboxEntry) {
	if res.OutboxID != "" && outbox != nil {
		if err := s.dispatcher.Dispatch(ctx, outbox); err != nil {
			s.log.Warn().Err(err).
				Str("outbox_id", res.OutboxID).
				Msg("ledger dispatch after decision failed; entry remains queued")
		}
	}

	payload := map[string]any{"title": item.Title, "amount": item.Amount}
	switch res.ItemStatus {
	case repository.ItemApproved:
		s.notifier.Publish(EventTypeItemApproved, actorID,
			[]string{item.SubmitterID}, string(item.Kind), item.ID, payload)
	case repository.ItemRejected:
		s.notifier.Publish(EventTypeItemRejected, actorID,
			[]string{item.SubmitterID}, string(item.Kind), item.ID, payload)
	}
}

// ListPending returns the actor's pending queue, or every pending approval
// for administrators when all is set.
func (s *TransitionService) ListPending(ctx context.Context, actor *Actor, all bool) ([]*repository.Approval, error) {
	approverID := actor.ID
	if all {
		if !actor.IsAdmin {
			return nil, apperr.Unauthorized("only administrators may list all pending approvals")
		}
		approverID = ""
	}
	return s.approvals.ListPending(ctx, approverID)
}

// Get returns one approval. Visible to the assigned approver, the item's
// submitter and administrators.
func (s *TransitionService) Get(ctx context.Context, actor *Actor, approvalID string) (*repository.Approval, error) {
	approval, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if err := s.assertVisible(ctx, actor, approval); err != nil {
		return nil, err
	}
	return approval, nil
}

// History returns an approval's full audit trail, with the same visibility
// rule as Get.
func (s *TransitionService) History(ctx context.Context, actor *Actor, approvalID string) ([]*repository.ApprovalEvent, error) {
	approval, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if err := s.assertVisible(ctx, actor, approval); err != nil {
		return nil, err
	}
	return s.events.ListByApproval(ctx, approvalID)
}

func (s *TransitionService) assertVisible(ctx context.Context, actor *Actor, approval *repository.Approval) error {
	if approval.ApproverID == actor.ID || actor.IsAdmin {
		return nil
	}
	item, err := s.items.GetSubject(ctx, approval.Subject)
	if err != nil {
		return err
	}
	if item.SubmitterID != actor.ID {
		return apperr.Unauthorized("not allowed to view this approval")
	}
	return nil
}
