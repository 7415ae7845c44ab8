package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// Store interfaces decouple the services from the pgx repositories so the
// engine logic is testable against in-memory fakes. The repository types
// satisfy these directly.

// ApprovalStore is the persistence surface for approval rows.
type ApprovalStore interface {
	CreateSubmission(ctx context.Context, item *repository.Item, approvals []*repository.Approval) error
	GetByID(ctx context.Context, id string) (*repository.Approval, error)
	ListPending(ctx context.Context, approverID string) ([]*repository.Approval, error)
	ListOverdue(ctx context.Context, cutoff time.Time) ([]*repository.Approval, error)
	ListSince(ctx context.Context, since time.Time, approverID string) ([]*repository.Approval, error)
	ApplyDecision(ctx context.Context, upd *repository.DecisionUpdate) (*repository.DecisionResult, error)
	Reassign(ctx context.Context, upd *repository.ReassignUpdate) (bool, error)
}

// ItemStore reads approvable items.
type ItemStore interface {
	GetSubject(ctx context.Context, ref repository.SubjectRef) (*repository.Item, error)
}

// UserDirectory resolves approvers, managers and authorization context.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*repository.User, error)
	GetManager(ctx context.Context, userID string) (*repository.User, error)
	ListActiveByRole(ctx context.Context, role string, limit int) ([]*repository.User, error)
	GetAuthorization(ctx context.Context, userID string) (role string, isAdmin bool, hasCustomRole bool, ceiling *int64, err error)
}

// PolicyStore provides the active policy set.
type PolicyStore interface {
	ListActive(ctx context.Context) ([]*repository.Policy, error)
}

// PolicyAdminStore is the administrator-facing policy CRUD surface.
type PolicyAdminStore interface {
	PolicyStore
	Create(ctx context.Context, p *repository.Policy) error
	GetByID(ctx context.Context, id string) (*repository.Policy, error)
	List(ctx context.Context) ([]*repository.Policy, error)
	Update(ctx context.Context, p *repository.Policy) error
	Deactivate(ctx context.Context, id string) error
}

// EventLog reads and appends the structured audit trail. Appends happen
// outside decision transactions; decisions write their events transactionally.
type EventLog interface {
	Append(ctx context.Context, e *repository.ApprovalEvent) error
	ListByApproval(ctx context.Context, approvalID string) ([]*repository.ApprovalEvent, error)
}

// OutboxStore manages pending ledger postings.
type OutboxStore interface {
	ListDispatchable(ctx context.Context, limit int) ([]*repository.OutboxEntry, error)
	MarkPosted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, cause string) error
}

// Notifier publishes fire-and-forget workflow notifications.
type Notifier interface {
	Publish(eventType, actorID string, recipients []string, subjectKind, subjectID string, payload map[string]any)
}

// Notification event types.
const (
	EventTypeSubmissionReceived = "submission_received"
	EventTypeApprovalRequired   = "approval_required"
	EventTypeItemApproved       = "item_approved"
	EventTypeItemRejected       = "item_rejected"
	EventTypeApprovalDelegated  = "approval_delegated"
	EventTypeApprovalEscalated  = "approval_escalated"
	EventTypeApprovalReminder   = "approval_reminder"
)
