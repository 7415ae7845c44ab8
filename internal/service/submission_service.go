package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// SubmissionService runs the submission pipeline: validation, policy gate,
// route computation, atomic persistence, notifications.
type SubmissionService struct {
	approvals ApprovalStore
	policies  *PolicyService
	routing   *RoutingService
	events    EventLog
	notifier  Notifier
	validate  *validator.Validate
	log       zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(
	approvals ApprovalStore,
	policies *PolicyService,
	routing *RoutingService,
	events EventLog,
	notifier Notifier,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		approvals: approvals,
		policies:  policies,
		routing:   routing,
		events:    events,
		notifier:  notifier,
		validate:  validator.New(),
		log:       log,
	}
}

// SubmitRequest is a candidate item entering the approval pipeline.
type SubmitRequest struct {
	Kind        repository.SubjectKind `json:"kind" validate:"required,oneof=EXPENSE REQUISITION INVOICE BUDGET"`
	Title       string                 `json:"title" validate:"required,max=200"`
	Description *string                `json:"description,omitempty" validate:"omitempty,max=2000"`
	Merchant    *string                `json:"merchant,omitempty" validate:"omitempty,max=200"`
	Amount      int64                  `json:"amount" validate:"required,gt=0"`
	Category    string                 `json:"category" validate:"required,max=100"`
	HasReceipt  bool                   `json:"has_receipt"`
}

// SubmitResult reports the persisted item, the route it took and the policy
// verdict. On a policy block only Policy is populated and nothing persists.
type SubmitResult struct {
	Item      *repository.Item       `json:"item,omitempty"`
	Route     *Route                 `json:"route,omitempty"`
	Approvals []*repository.Approval `json:"approvals,omitempty"`
	Policy    *PolicyResult          `json:"policy"`
}

// Submit runs the full pipeline for one candidate. The order is fixed:
// validation, policy gate, routing, then a single transaction persisting the
// item with its entire approval batch. Any failure before that transaction
// leaves no trace.
func (s *SubmissionService) Submit(ctx context.Context, actor *Actor, req *SubmitRequest) (*SubmitResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "invalid submission")
	}

	candidate := &Candidate{
		Kind:        req.Kind,
		Title:       req.Title,
		Amount:      req.Amount,
		Category:    req.Category,
		HasReceipt:  req.HasReceipt,
		SubmittedAt: time.Now(),
	}
	if req.Description != nil {
		candidate.Description = *req.Description
	}
	if req.Merchant != nil {
		candidate.Merchant = *req.Merchant
	}

	verdict, err := s.policies.Validate(ctx, actor, candidate)
	if err != nil {
		return nil, err
	}
	if !verdict.CanSubmit {
		s.log.Info().
			Str("submitter_id", actor.ID).
			Str("kind", string(req.Kind)).
			Int("violations", len(verdict.Violations)).
			Msg("submission blocked by policy")
		return &SubmitResult{Policy: verdict},
			apperr.New(apperr.CodePolicyViolation, "submission violates one or more active policies")
	}

	route, err := s.routing.DetermineRoute(ctx, actor.ID, req.Amount, req.Category, req.HasReceipt)
	if err != nil {
		return nil, err
	}

	item := &repository.Item{
		Kind:        req.Kind,
		Title:       req.Title,
		Description: req.Description,
		Merchant:    req.Merchant,
		Amount:      req.Amount,
		Category:    req.Category,
		HasReceipt:  req.HasReceipt,
		SubmitterID: actor.ID,
		Status:      repository.ItemPendingApproval,
	}
	if route.AutoApprove {
		item.Status = repository.ItemApproved
	}

	approvals := s.routing.BuildApprovals(item.Ref(), route)
	if err := s.approvals.CreateSubmission(ctx, item, approvals); err != nil {
		return nil, err
	}

	// Audit and notification failures never unwind a committed submission.
	s.recordSubmissionEvents(ctx, actor, approvals)
	s.notifySubmission(actor, item, route, approvals)

	s.log.Info().
		Str("item_id", item.ID).
		Str("kind", string(item.Kind)).
		Str("submitter_id", actor.ID).
		Int64("amount", item.Amount).
		Bool("auto_approved", route.AutoApprove).
		Int("approval_rows", len(approvals)).
		Msg("submission created")

	return &SubmitResult{Item: item, Route: route, Approvals: approvals, Policy: verdict}, nil
}

func (s *SubmissionService) recordSubmissionEvents(ctx context.Context, actor *Actor, approvals []*repository.Approval) {
	for _, a := range approvals {
		event := &repository.ApprovalEvent{
			ApprovalID: a.ID,
			ActorID:    actor.ID,
			Action:     repository.EventSubmitted,
		}
		if err := s.events.Append(ctx, event); err != nil {
			s.log.Warn().Err(err).
				Str("approval_id", a.ID).
				Msg("failed to record submission event")
		}
	}
}

func (s *SubmissionService) notifySubmission(actor *Actor, item *repository.Item, route *Route, approvals []*repository.Approval) {
	payload := map[string]any{
		"title":        item.Title,
		"amount":       item.Amount,
		"auto_approve": route.AutoApprove,
	}
	s.notifier.Publish(EventTypeSubmissionReceived, actor.ID,
		[]string{actor.ID}, string(item.Kind), item.ID, payload)

	if len(approvals) == 0 {
		return
	}
	recipients := make([]string, 0, len(approvals))
	seen := make(map[string]bool, len(approvals))
	for _, a := range approvals {
		if !seen[a.ApproverID] {
			seen[a.ApproverID] = true
			recipients = append(recipients, a.ApproverID)
		}
	}
	s.notifier.Publish(EventTypeApprovalRequired, actor.ID,
		recipients, string(item.Kind), item.ID, payload)
}
