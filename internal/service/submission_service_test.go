package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

func newSubmissionStack(store *fakeStore, dir *fakeDirectory, notifier *fakeNotifier) *SubmissionService {
	log := zerolog.Nop()
	return NewSubmissionService(
		store,
		NewPolicyService(store, log),
		NewRoutingService(dir, testApprovalConfig(), log),
		store,
		notifier,
		log,
	)
}

func TestSubmitRoutedExpense(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	seedOrg(dir)
	notifier := &fakeNotifier{}
	svc := newSubmissionStack(store, dir, notifier)

	result, err := svc.Submit(context.Background(), &Actor{ID: "sub"}, &SubmitRequest{
		Kind:       repository.SubjectExpense,
		Title:      "Client dinner",
		Amount:     1200,
		Category:   "Meals",
		HasReceipt: true,
	})
	require.NoError(t, err)

	require.NotNil(t, result.Item)
	assert.Equal(t, repository.ItemPendingApproval, result.Item.Status)
	assert.NotEmpty(t, result.Item.ID)

	// $1200 routes through manager and finance: 1 + 2 rows.
	require.Len(t, result.Approvals, 3)
	for _, a := range result.Approvals {
		assert.Equal(t, repository.StatusPending, a.Status)
		assert.Equal(t, result.Item.Ref(), a.Subject)
	}

	// One submitted event per approval row.
	submitted := 0
	for _, e := range store.events {
		if e.Action == repository.EventSubmitted {
			submitted++
		}
	}
	assert.Equal(t, 3, submitted)

	assert.Len(t, notifier.byType(EventTypeSubmissionReceived), 1)
	required := notifier.byType(EventTypeApprovalRequired)
	require.Len(t, required, 1)
	assert.Len(t, required[0].recipients, 3)
}

func TestSubmitAutoApprove(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	seedOrg(dir)
	svc := newSubmissionStack(store, dir, &fakeNotifier{})

	result, err := svc.Submit(context.Background(), &Actor{ID: "sub"}, &SubmitRequest{
		Kind:     repository.SubjectExpense,
		Title:    "Parking",
		Amount:   20,
		Category: "Travel",
	})
	require.NoError(t, err)

	assert.True(t, result.Route.AutoApprove)
	assert.Equal(t, repository.ItemApproved, result.Item.Status)
	assert.Empty(t, result.Approvals)
}

func TestSubmitBlockedByPolicy(t *testing.T) {
	store := newFakeStore()
	store.policies = append(store.policies, &repository.Policy{
		ID: "limit", Name: "Spending cap", Type: repository.PolicySpendingLimit,
		Rule: json.RawMessage(`{"maxAmount": 100}`), IsActive: true,
	})
	dir := newFakeDirectory()
	seedOrg(dir)
	svc := newSubmissionStack(store, dir, &fakeNotifier{})

	result, err := svc.Submit(context.Background(), &Actor{ID: "sub"}, &SubmitRequest{
		Kind:     repository.SubjectExpense,
		Title:    "Laptop",
		Amount:   2500,
		Category: "Equipment",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePolicyViolation))

	// The verdict is returned; nothing is persisted.
	require.NotNil(t, result)
	require.NotNil(t, result.Policy)
	assert.Nil(t, result.Item)
	assert.Empty(t, store.items)
	assert.Empty(t, store.approvals)
}

func TestSubmitValidation(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	seedOrg(dir)
	svc := newSubmissionStack(store, dir, &fakeNotifier{})

	_, err := svc.Submit(context.Background(), &Actor{ID: "sub"}, &SubmitRequest{
		Kind:     repository.SubjectExpense,
		Title:    "No amount",
		Category: "Meals",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = svc.Submit(context.Background(), &Actor{ID: "sub"}, &SubmitRequest{
		Kind:     "GADGET",
		Title:    "Bad kind",
		Amount:   10,
		Category: "Meals",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestSubmitRoutingFailureLeavesNoTrace(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	dir.add(&repository.User{ID: "orphan", Role: "EMPLOYEE", IsActive: true})
	svc := newSubmissionStack(store, dir, &fakeNotifier{})

	_, err := svc.Submit(context.Background(), &Actor{ID: "orphan"}, &SubmitRequest{
		Kind:     repository.SubjectRequisition,
		Title:    "Standing desk",
		Amount:   400,
		Category: "Equipment",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeRouting))
	assert.Empty(t, store.items)
	assert.Empty(t, store.approvals)
}
