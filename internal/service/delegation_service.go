package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// DelegationService moves pending approvals between approvers at the current
// approver's request.
type DelegationService struct {
	approvals ApprovalStore
	items     ItemStore
	users     UserDirectory
	notifier  Notifier
	log       zerolog.Logger
}

// NewDelegationService creates a new DelegationService.
func NewDelegationService(
	approvals ApprovalStore,
	items ItemStore,
	users UserDirectory,
	notifier Notifier,
	log zerolog.Logger,
) *DelegationService {
	return &DelegationService{
		approvals: approvals,
		items:     items,
		users:     users,
		notifier:  notifier,
		log:       log,
	}
}

// Delegate reassigns a pending approval from the actor to another user.
// Only the currently assigned approver may delegate, the row must still be
// PENDING and the delegate must be an existing active user. The reassignment
// is guarded on the actor still being the approver, so a concurrent decision
// or escalation wins cleanly.
func (s *DelegationService) Delegate(
	ctx context.Context,
	actor *Actor,
	approvalID, delegateID, reason string,
) (*repository.Approval, error) {
	if delegateID == "" {
		return nil, apperr.InvalidInput("delegate_id", "delegate user id is required")
	}
	if delegateID == actor.ID {
		return nil, apperr.InvalidInput("delegate_id", "cannot delegate an approval to yourself")
	}

	approval, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.ApproverID != actor.ID {
		return nil, apperr.Unauthorized("only the assigned approver may delegate this approval")
	}
	if approval.Status != repository.StatusPending {
		return nil, apperr.New(apperr.CodeAlreadyResolved, "approval has already been resolved")
	}

	delegate, err := s.users.GetByID(ctx, delegateID)
	if err != nil {
		return nil, err
	}
	if !delegate.IsActive {
		return nil, apperr.InvalidInput("delegate_id", "delegate user is not active")
	}

	note := fmt.Sprintf("Delegated from %s to %s.", actor.ID, delegateID)
	if reason != "" {
		note += " Reason: " + reason
	}

	upd := &repository.ReassignUpdate{
		ApprovalID:     approvalID,
		FromApproverID: actor.ID,
		ToApproverID:   delegateID,
		CommentAppend:  note,
		Event: repository.ApprovalEvent{
			ActorID: actor.ID,
			Action:  repository.EventDelegated,
			Reason:  &note,
		},
	}

	applied, err := s.approvals.Reassign(ctx, upd)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.New(apperr.CodeAlreadyResolved, "approval was resolved or reassigned concurrently")
	}

	s.log.Info().
		Str("approval_id", approvalID).
		Str("from", actor.ID).
		Str("to", delegateID).
		Msg("approval delegated")

	if item, err := s.items.GetSubject(ctx, approval.Subject); err == nil {
		s.notifier.Publish(EventTypeApprovalDelegated, actor.ID,
			[]string{delegateID}, string(item.Kind), item.ID,
			map[string]any{"title": item.Title, "amount": item.Amount, "reason": reason})
	}

	return s.approvals.GetByID(ctx, approvalID)
}
