package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// fakeStore is an in-memory stand-in for the pgx repositories. ApplyDecision
// and Reassign mirror the conditional-update semantics of the real queries so
// race and idempotence behavior can be exercised without a database.
type fakeStore struct {
	mu        sync.Mutex
	approvals map[string]*repository.Approval
	items     map[repository.SubjectRef]*repository.Item
	policies  []*repository.Policy
	events    []*repository.ApprovalEvent
	outbox    map[string]*repository.OutboxEntry
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		approvals: make(map[string]*repository.Approval),
		items:     make(map[repository.SubjectRef]*repository.Item),
		outbox:    make(map[string]*repository.OutboxEntry),
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

// ── ApprovalStore ────────────────────────────────────────────────────────────

func (f *fakeStore) CreateSubmission(ctx context.Context, item *repository.Item, approvals []*repository.Approval) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	if item.ID == "" {
		item.ID = f.nextID("item")
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	f.items[item.Ref()] = item

	for _, a := range approvals {
		a.ID = f.nextID("appr")
		a.Subject = item.Ref()
		a.CreatedAt = now
		a.UpdatedAt = now
		f.approvals[a.ID] = a
	}
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*repository.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.approvals[id]
	if !ok {
		return nil, apperr.NotFound("approval", id)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) ListPending(ctx context.Context, approverID string) ([]*repository.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Approval
	for _, a := range f.approvals {
		if a.Status != repository.StatusPending {
			continue
		}
		if approverID != "" && a.ApproverID != approverID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) ListOverdue(ctx context.Context, cutoff time.Time) ([]*repository.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Approval
	for _, a := range f.approvals {
		if a.Status == repository.StatusPending && a.CreatedAt.Before(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSince(ctx context.Context, since time.Time, approverID string) ([]*repository.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Approval
	for _, a := range f.approvals {
		if a.CreatedAt.Before(since) {
			continue
		}
		if approverID != "" && a.ApproverID != approverID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) countPendingLocked(ref repository.SubjectRef) int {
	n := 0
	for _, a := range f.approvals {
		if a.Subject == ref && a.Status == repository.StatusPending {
			n++
		}
	}
	return n
}

func (f *fakeStore) ApplyDecision(ctx context.Context, upd *repository.DecisionUpdate) (*repository.DecisionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := &repository.DecisionResult{}
	a, ok := f.approvals[upd.ApprovalID]
	if !ok {
		return nil, apperr.NotFound("approval", upd.ApprovalID)
	}
	if a.Status != repository.StatusPending {
		return res, nil
	}

	now := time.Now()
	a.Status = upd.NewStatus
	a.ApprovedAt = &now
	a.UpdatedAt = now
	appendComment(a, upd.CommentAppend)
	res.Applied = true

	if upd.CloseSiblings != "" {
		for _, sib := range f.approvals {
			if sib.Subject == upd.Subject && sib.Status == repository.StatusPending {
				sib.Status = upd.CloseSiblings
				sib.ApprovedAt = &now
				sib.UpdatedAt = now
				note := upd.SiblingNote
				appendComment(sib, &note)
			}
		}
	}

	itemStatus := upd.ForceItemStatus
	if itemStatus == "" && f.countPendingLocked(upd.Subject) == 0 {
		itemStatus = repository.ItemApproved
	}
	item := f.items[upd.Subject]
	if itemStatus != "" {
		item.Status = itemStatus
		item.UpdatedAt = now
		res.ItemStatus = itemStatus
	} else {
		res.ItemStatus = item.Status
	}

	event := upd.Event
	event.ID = f.nextID("evt")
	event.ApprovalID = upd.ApprovalID
	event.CreatedAt = now
	f.events = append(f.events, &event)

	if upd.OutboxOnApproval != nil && res.ItemStatus == repository.ItemApproved {
		upd.OutboxOnApproval.ID = f.nextID("out")
		upd.OutboxOnApproval.Status = repository.OutboxPending
		upd.OutboxOnApproval.CreatedAt = now
		f.outbox[upd.OutboxOnApproval.ID] = upd.OutboxOnApproval
		res.OutboxID = upd.OutboxOnApproval.ID
	}

	return res, nil
}

func (f *fakeStore) Reassign(ctx context.Context, upd *repository.ReassignUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.approvals[upd.ApprovalID]
	if !ok {
		return false, apperr.NotFound("approval", upd.ApprovalID)
	}
	if a.Status != repository.StatusPending {
		return false, nil
	}
	if upd.FromApproverID != "" && a.ApproverID != upd.FromApproverID {
		return false, nil
	}

	now := time.Now()
	a.ApproverID = upd.ToApproverID
	a.UpdatedAt = now
	appendComment(a, &upd.CommentAppend)

	event := upd.Event
	event.ID = f.nextID("evt")
	event.ApprovalID = upd.ApprovalID
	event.CreatedAt = now
	f.events = append(f.events, &event)
	return true, nil
}

func appendComment(a *repository.Approval, comment *string) {
	if comment == nil || *comment == "" {
		return
	}
	if a.Comments == nil {
		c := *comment
		a.Comments = &c
		return
	}
	joined := *a.Comments + "\n" + *comment
	a.Comments = &joined
}

// ── ItemStore ────────────────────────────────────────────────────────────────

func (f *fakeStore) GetSubject(ctx context.Context, ref repository.SubjectRef) (*repository.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[ref]
	if !ok {
		return nil, apperr.NotFound(string(ref.Kind), ref.ID)
	}
	cp := *item
	return &cp, nil
}

// ── UserDirectory ────────────────────────────────────────────────────────────

// fakeDirectory is separate from fakeStore because both surfaces expose a
// GetByID with different row types.
type fakeDirectory struct {
	mu    sync.Mutex
	users map[string]*repository.User
	// ceilings maps user id to a custom-role approval limit for authorization
	// lookups; absent means no custom role.
	ceilings map[string]*int64
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:    make(map[string]*repository.User),
		ceilings: make(map[string]*int64),
	}
}

func (d *fakeDirectory) add(u *repository.User) *repository.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
	return u
}

func (d *fakeDirectory) GetByID(ctx context.Context, id string) (*repository.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (d *fakeDirectory) GetManager(ctx context.Context, userID string) (*repository.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, apperr.NotFound("user", userID)
	}
	if u.ManagerID == nil {
		return nil, nil
	}
	m, ok := d.users[*u.ManagerID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (d *fakeDirectory) ListActiveByRole(ctx context.Context, role string, limit int) ([]*repository.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*repository.User
	for _, u := range d.users {
		if u.Role == role && u.IsActive {
			cp := *u
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (d *fakeDirectory) GetAuthorization(ctx context.Context, userID string) (string, bool, bool, *int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return "", false, false, nil, apperr.NotFound("user", userID)
	}
	isAdmin := u.Role == repository.RoleSystemAdmin
	ceiling, hasCustom := d.ceilings[userID]
	if u.CustomRoleID != nil {
		hasCustom = true
	}
	return u.Role, isAdmin, hasCustom, ceiling, nil
}

// ── PolicyStore ──────────────────────────────────────────────────────────────

func (f *fakeStore) ListActive(ctx context.Context) ([]*repository.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Policy
	for _, p := range f.policies {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

// ── EventLog ─────────────────────────────────────────────────────────────────

func (f *fakeStore) Append(ctx context.Context, e *repository.ApprovalEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = f.nextID("evt")
	e.CreatedAt = time.Now()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) ListByApproval(ctx context.Context, approvalID string) ([]*repository.ApprovalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ApprovalEvent
	for _, e := range f.events {
		if e.ApprovalID == approvalID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ── OutboxStore ──────────────────────────────────────────────────────────────

func (f *fakeStore) ListDispatchable(ctx context.Context, limit int) ([]*repository.OutboxEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.OutboxEntry
	for _, e := range f.outbox {
		if e.Status == repository.OutboxPending || e.Status == repository.OutboxFailed {
			cp := *e
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) MarkPosted(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.outbox[id]
	if !ok {
		return apperr.NotFound("outbox entry", id)
	}
	now := time.Now()
	e.Status = repository.OutboxPosted
	e.Attempts++
	e.LastError = nil
	e.PostedAt = &now
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.outbox[id]
	if !ok {
		return apperr.NotFound("outbox entry", id)
	}
	e.Status = repository.OutboxFailed
	e.Attempts++
	e.LastError = &cause
	return nil
}

// ── Test doubles for externals ───────────────────────────────────────────────

type publishedEvent struct {
	eventType  string
	actorID    string
	recipients []string
	subjectID  string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *fakeNotifier) Publish(eventType, actorID string, recipients []string, subjectKind, subjectID string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{
		eventType:  eventType,
		actorID:    actorID,
		recipients: recipients,
		subjectID:  subjectID,
	})
}

func (n *fakeNotifier) byType(eventType string) []publishedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []publishedEvent
	for _, e := range n.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeLedger struct {
	mu       sync.Mutex
	fail     bool
	invoices []string
	expenses []string
}

func (l *fakeLedger) PostVendorInvoice(ctx context.Context, invoiceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return fmt.Errorf("ledger unavailable")
	}
	l.invoices = append(l.invoices, invoiceID)
	return nil
}

func (l *fakeLedger) PostExpensePayment(ctx context.Context, expenseID, cashAccountID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return fmt.Errorf("ledger unavailable")
	}
	l.expenses = append(l.expenses, expenseID)
	return nil
}
