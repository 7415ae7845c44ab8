package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

func newDelegationStack(store *fakeStore, dir *fakeDirectory, notifier *fakeNotifier) *DelegationService {
	return NewDelegationService(store, store, dir, notifier, zerolog.Nop())
}

func TestDelegate(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	dir.add(&repository.User{ID: "mgr", Role: "EMPLOYEE", IsActive: true})
	dir.add(&repository.User{ID: "peer", Role: "EMPLOYEE", IsActive: true})
	notifier := &fakeNotifier{}
	svc := newDelegationStack(store, dir, notifier)
	_, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "mgr")

	updated, err := svc.Delegate(context.Background(), &Actor{ID: "mgr"},
		approvals[0].ID, "peer", "on vacation")
	require.NoError(t, err)

	assert.Equal(t, "peer", updated.ApproverID)
	assert.Equal(t, repository.StatusPending, updated.Status)
	require.NotNil(t, updated.Comments)
	assert.Contains(t, *updated.Comments, "Delegated from mgr to peer")
	assert.Contains(t, *updated.Comments, "on vacation")

	// Audit entry and notification to the new approver.
	events, err := store.ListByApproval(context.Background(), approvals[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, repository.EventDelegated, events[0].Action)

	delegated := notifier.byType(EventTypeApprovalDelegated)
	require.Len(t, delegated, 1)
	assert.Equal(t, []string{"peer"}, delegated[0].recipients)
}

func TestDelegateOnlyAssignedApprover(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	dir.add(&repository.User{ID: "peer", Role: "EMPLOYEE", IsActive: true})
	svc := newDelegationStack(store, dir, &fakeNotifier{})
	_, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "mgr")

	_, err := svc.Delegate(context.Background(), &Actor{ID: "someone-else"},
		approvals[0].ID, "peer", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
}

func TestDelegateGuards(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	dir.add(&repository.User{ID: "mgr", Role: "EMPLOYEE", IsActive: true})
	dir.add(&repository.User{ID: "inactive", Role: "EMPLOYEE", IsActive: false})
	svc := newDelegationStack(store, dir, &fakeNotifier{})
	_, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "mgr")

	// Self-delegation.
	_, err := svc.Delegate(context.Background(), &Actor{ID: "mgr"}, approvals[0].ID, "mgr", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	// Unknown delegate.
	_, err = svc.Delegate(context.Background(), &Actor{ID: "mgr"}, approvals[0].ID, "ghost", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	// Inactive delegate.
	_, err = svc.Delegate(context.Background(), &Actor{ID: "mgr"}, approvals[0].ID, "inactive", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestDelegateResolvedApproval(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	dir.add(&repository.User{ID: "mgr", Role: "EMPLOYEE", IsActive: true})
	dir.add(&repository.User{ID: "peer", Role: "EMPLOYEE", IsActive: true})
	svc := newDelegationStack(store, dir, &fakeNotifier{})
	_, approvals := seedSubmission(t, store, repository.SubjectExpense, 300, "mgr")

	store.approvals[approvals[0].ID].Status = repository.StatusApproved

	_, err := svc.Delegate(context.Background(), &Actor{ID: "mgr"}, approvals[0].ID, "peer", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeAlreadyResolved))
}
