package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-spend-approvals/internal/config"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

func testEscalationConfig() config.EscalationConfig {
	return config.EscalationConfig{
		DefaultDaysOverdue:    2,
		EscalateAfterDays:     5,
		ForceApproveAfterDays: 7,
	}
}

func newEscalationStack(store *fakeStore, dir *fakeDirectory, ledger *fakeLedger, notifier *fakeNotifier, now time.Time) *EscalationService {
	log := zerolog.Nop()
	dispatcher := NewOutboxDispatcher(store, ledger, "1000", log)
	svc := NewEscalationService(store, store, dir, dispatcher, notifier, testEscalationConfig(), log)
	svc.now = func() time.Time { return now }
	return svc
}

// ageApproval backdates an approval row.
func ageApproval(store *fakeStore, id string, now time.Time, days int) {
	store.approvals[id].CreatedAt = now.AddDate(0, 0, -days)
}

func TestEscalationNotify(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	notifier := &fakeNotifier{}
	svc := newEscalationStack(store, newFakeDirectory(), &fakeLedger{}, notifier, now)
	_, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "mgr")
	ageApproval(store, approvals[0].ID, now, 3)

	res, err := svc.Run(context.Background(), 2, EscalationActionNotify)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, 0, res.Escalated)
	assert.Equal(t, 0, res.AutoApproved)

	reminders := notifier.byType(EventTypeApprovalReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, []string{"mgr"}, reminders[0].recipients)

	// The row is untouched.
	assert.Equal(t, repository.StatusPending, store.approvals[approvals[0].ID].Status)
}

func TestEscalationReassignsToManager(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	dir := newFakeDirectory()
	dir.add(&repository.User{ID: "boss", Role: "EMPLOYEE", IsActive: true})
	dir.add(&repository.User{ID: "mgr", Role: "EMPLOYEE", ManagerID: strPtr("boss"), IsActive: true})
	notifier := &fakeNotifier{}
	svc := newEscalationStack(store, dir, &fakeLedger{}, notifier, now)
	_, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "mgr")
	ageApproval(store, approvals[0].ID, now, 6)

	res, err := svc.Run(context.Background(), 2, EscalationActionEscalate)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Escalated)
	a := store.approvals[approvals[0].ID]
	assert.Equal(t, "boss", a.ApproverID)
	assert.Equal(t, repository.StatusPending, a.Status)

	escalated := notifier.byType(EventTypeApprovalEscalated)
	require.Len(t, escalated, 1)
	assert.Equal(t, []string{"boss"}, escalated[0].recipients)
}

func TestEscalationBelowAgeGateFallsBackToNotify(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	dir := newFakeDirectory()
	dir.add(&repository.User{ID: "boss", Role: "EMPLOYEE", IsActive: true})
	dir.add(&repository.User{ID: "mgr", Role: "EMPLOYEE", ManagerID: strPtr("boss"), IsActive: true})
	svc := newEscalationStack(store, dir, &fakeLedger{}, &fakeNotifier{}, now)
	_, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "mgr")
	ageApproval(store, approvals[0].ID, now, 3)

	res, err := svc.Run(context.Background(), 2, EscalationActionEscalate)
	require.NoError(t, err)

	// 3 days old: too young to reassign, reminder only.
	assert.Equal(t, 0, res.Escalated)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, "mgr", store.approvals[approvals[0].ID].ApproverID)
}

func TestEscalationNoManagerFallsBackToNotify(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	dir := newFakeDirectory()
	dir.add(&repository.User{ID: "mgr", Role: "EMPLOYEE", IsActive: true})
	svc := newEscalationStack(store, dir, &fakeLedger{}, &fakeNotifier{}, now)
	_, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "mgr")
	ageApproval(store, approvals[0].ID, now, 6)

	res, err := svc.Run(context.Background(), 2, EscalationActionEscalate)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Escalated)
	assert.Equal(t, 1, res.Notified)
}

func TestEscalationAutoApprove(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	notifier := &fakeNotifier{}
	svc := newEscalationStack(store, newFakeDirectory(), &fakeLedger{}, notifier, now)
	item, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "mgr")
	ageApproval(store, approvals[0].ID, now, 8)

	res, err := svc.Run(context.Background(), 2, EscalationActionAutoApprove)
	require.NoError(t, err)

	assert.Equal(t, 1, res.AutoApproved)

	a := store.approvals[approvals[0].ID]
	assert.Equal(t, repository.StatusApproved, a.Status)
	require.NotNil(t, a.Comments)
	assert.Contains(t, *a.Comments, "Auto-approved after 8 days of inactivity")
	assert.Equal(t, repository.ItemApproved, store.items[item.Ref()].Status)

	// The audit trail attributes the decision to the system actor.
	events, err := store.ListByApproval(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, repository.EventAutoApproved, events[0].Action)
	assert.Equal(t, SystemActorID, events[0].ActorID)

	approvedNote := notifier.byType(EventTypeItemApproved)
	require.Len(t, approvedNote, 1)
	assert.Equal(t, []string{"sub"}, approvedNote[0].recipients)
}

func TestEscalationAutoApproveBelowGateNotifies(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	svc := newEscalationStack(store, newFakeDirectory(), &fakeLedger{}, &fakeNotifier{}, now)
	_, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "mgr")
	ageApproval(store, approvals[0].ID, now, 5)

	res, err := svc.Run(context.Background(), 2, EscalationActionAutoApprove)
	require.NoError(t, err)

	assert.Equal(t, 0, res.AutoApproved)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, repository.StatusPending, store.approvals[approvals[0].ID].Status)
}

func TestEscalationIdempotent(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	svc := newEscalationStack(store, newFakeDirectory(), &fakeLedger{}, &fakeNotifier{}, now)
	_, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "mgr")
	ageApproval(store, approvals[0].ID, now, 8)

	res, err := svc.Run(context.Background(), 2, EscalationActionAutoApprove)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AutoApproved)

	// A second pass sees no pending work.
	res, err = svc.Run(context.Background(), 2, EscalationActionAutoApprove)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Equal(t, 0, res.AutoApproved)
}

func TestEscalationSkippedRowsAreTallied(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	// The approver has no directory record, so the manager lookup fails.
	svc := newEscalationStack(store, newFakeDirectory(), &fakeLedger{}, &fakeNotifier{}, now)
	_, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "ghost")
	ageApproval(store, approvals[0].ID, now, 6)

	res, err := svc.Run(context.Background(), 2, EscalationActionEscalate)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Details, 1)
	assert.Equal(t, "skipped", res.Details[0].Action)
	assert.Equal(t, res.Total, res.Notified+res.Escalated+res.AutoApproved+res.Skipped)
	assert.Equal(t, repository.StatusPending, store.approvals[approvals[0].ID].Status)
}

func TestEscalationRejectsUnknownAction(t *testing.T) {
	svc := newEscalationStack(newFakeStore(), newFakeDirectory(), &fakeLedger{}, &fakeNotifier{}, time.Now())

	_, err := svc.Run(context.Background(), 2, "purge")
	require.Error(t, err)
}

func TestOverdueSummary(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	svc := newEscalationStack(store, newFakeDirectory(), &fakeLedger{}, &fakeNotifier{}, now)

	_, a1 := seedSubmission(t, store, repository.SubjectExpense, 100, "mgr")
	_, a2 := seedSubmission(t, store, repository.SubjectExpense, 200, "mgr")
	_, a3 := seedSubmission(t, store, repository.SubjectExpense, 300, "fin1")
	ageApproval(store, a1[0].ID, now, 3)
	ageApproval(store, a2[0].ID, now, 6)
	ageApproval(store, a3[0].ID, now, 9)

	summary, err := svc.Summary(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Buckets[0].Count)
	assert.Equal(t, 1, summary.Buckets[1].Count)
	assert.Equal(t, 1, summary.Buckets[2].Count)
	assert.Equal(t, 2, summary.ByApprover["mgr"])
	assert.Equal(t, 1, summary.ByApprover["fin1"])
}
