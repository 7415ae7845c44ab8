package repository

import (
	"encoding/json"
	"time"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
)

// ── Subjects ─────────────────────────────────────────────────────────────────

// SubjectKind discriminates the four approvable item variants.
type SubjectKind string

const (
	SubjectExpense     SubjectKind = "EXPENSE"
	SubjectRequisition SubjectKind = "REQUISITION"
	SubjectInvoice     SubjectKind = "INVOICE"
	SubjectBudget      SubjectKind = "BUDGET"
)

// SubjectRef is a closed tagged reference to exactly one approvable item.
// It is stored as four nullable columns with a CHECK constraint; in Go it is
// always the (kind, id) pair, so an approval can never point at zero or
// multiple items.
type SubjectRef struct {
	Kind SubjectKind `json:"kind"`
	ID   string      `json:"id"`
}

// Valid reports whether the reference carries a known kind and a non-empty id.
func (s SubjectRef) Valid() bool {
	switch s.Kind {
	case SubjectExpense, SubjectRequisition, SubjectInvoice, SubjectBudget:
		return s.ID != ""
	}
	return false
}

// subjectColumns maps each kind to its approval FK column and item table.
// The whitelist keeps kind-derived SQL fragments closed.
var subjectColumns = map[SubjectKind]struct {
	column string
	table  string
}{
	SubjectExpense:     {column: "expense_id", table: "expenses"},
	SubjectRequisition: {column: "requisition_id", table: "requisitions"},
	SubjectInvoice:     {column: "invoice_id", table: "vendor_invoices"},
	SubjectBudget:      {column: "budget_id", table: "monthly_budgets"},
}

func subjectMeta(kind SubjectKind) (column, table string, err error) {
	m, ok := subjectColumns[kind]
	if !ok {
		return "", "", apperr.Newf(apperr.CodeValidation, "unknown subject kind %q", kind)
	}
	return m.column, m.table, nil
}

// ── Policies ─────────────────────────────────────────────────────────────────

// PolicyType enumerates the supported rule payloads.
type PolicyType string

const (
	PolicySpendingLimit       PolicyType = "SPENDING_LIMIT"
	PolicyReceiptRequirement  PolicyType = "RECEIPT_REQUIREMENT"
	PolicyCategoryRestriction PolicyType = "CATEGORY_RESTRICTION"
	PolicyTimeLimit           PolicyType = "TIME_LIMIT"
	PolicyVendorRestriction   PolicyType = "VENDOR_RESTRICTION"
	PolicyKeywordRestriction  PolicyType = "KEYWORD_RESTRICTION"
)

// Policy is an administrator-configured submission rule. The engine treats
// policies as read-only; Rule is a type-specific JSON payload decoded at
// evaluation time.
type Policy struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      PolicyType      `json:"type"`
	Rule      json.RawMessage `json:"rule"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ── Approvals ────────────────────────────────────────────────────────────────

// ApprovalStatus is the per-approval state machine. PENDING is the only
// non-terminal state.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
)

// Approval is one sign-off row. Rows are created in batches at submission,
// mutated only through conditional updates, and never deleted.
type Approval struct {
	ID         string         `json:"id"`
	Subject    SubjectRef     `json:"subject"`
	ApproverID string         `json:"approver_id"`
	Level      int            `json:"level"`
	Status     ApprovalStatus `json:"status"`
	Comments   *string        `json:"comments,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ApprovedAt *time.Time     `json:"approved_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ── Items ────────────────────────────────────────────────────────────────────

// ItemStatus is the subject item's own lifecycle as projected by the engine.
type ItemStatus string

const (
	ItemPendingApproval ItemStatus = "PENDING_APPROVAL"
	ItemApproved        ItemStatus = "APPROVED"
	ItemRejected        ItemStatus = "REJECTED"
)

// Item is the engine-facing shape shared by the four approvable variants.
type Item struct {
	Kind        SubjectKind `json:"kind"`
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description *string     `json:"description,omitempty"`
	Merchant    *string     `json:"merchant,omitempty"`
	Amount      int64       `json:"amount"`
	Category    string      `json:"category"`
	HasReceipt  bool        `json:"has_receipt"`
	SubmitterID string      `json:"submitter_id"`
	Status      ItemStatus  `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Ref returns the item's subject reference.
func (i *Item) Ref() SubjectRef {
	return SubjectRef{Kind: i.Kind, ID: i.ID}
}

// ── Users and roles ──────────────────────────────────────────────────────────

// User is the identity record the engine consults for routing and
// authorization context.
type User struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Role         string  `json:"role"`
	CustomRoleID *string `json:"custom_role_id,omitempty"`
	ManagerID    *string `json:"manager_id,omitempty"`
	IsActive     bool    `json:"is_active"`
}

// CustomRole carries a configurable approval ceiling. A nil MaxApprovalLimit
// means unlimited.
type CustomRole struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	IsSystem         bool   `json:"is_system"`
	MaxApprovalLimit *int64 `json:"max_approval_limit,omitempty"`
}

// ── Audit events ─────────────────────────────────────────────────────────────

// EventAction enumerates the structured audit trail actions.
type EventAction string

const (
	EventSubmitted    EventAction = "submitted"
	EventApproved     EventAction = "approved"
	EventRejected     EventAction = "rejected"
	EventDelegated    EventAction = "delegated"
	EventEscalated    EventAction = "escalated"
	EventAutoApproved EventAction = "auto_approved"
)

// ApprovalEvent is one immutable entry in the per-approval audit trail.
type ApprovalEvent struct {
	ID         string      `json:"id"`
	ApprovalID string      `json:"approval_id"`
	ActorID    string      `json:"actor_id"`
	Action     EventAction `json:"action"`
	Reason     *string     `json:"reason,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ── Ledger outbox ────────────────────────────────────────────────────────────

// OutboxStatus is the ledger outbox entry lifecycle.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxPosted  OutboxStatus = "posted"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxEntry is a pending ledger-posting request written in the same
// transaction as the approval decision that produced it.
type OutboxEntry struct {
	ID          string       `json:"id"`
	SubjectKind SubjectKind  `json:"subject_kind"`
	SubjectID   string       `json:"subject_id"`
	Entrypoint  string       `json:"entrypoint"`
	Status      OutboxStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	LastError   *string      `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	PostedAt    *time.Time   `json:"posted_at,omitempty"`
}

// Outbox entrypoint names, matching the ledger client methods.
const (
	EntrypointPostVendorInvoice  = "post_vendor_invoice"
	EntrypointPostExpensePayment = "post_expense_payment"
)
