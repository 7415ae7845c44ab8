package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

func TestResolveActorAdmin(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(&repository.User{ID: "root", Role: repository.RoleSystemAdmin, IsActive: true})
	svc := NewIdentityService(dir, 100)

	actor, err := svc.ResolveActor(context.Background(), "root")
	require.NoError(t, err)

	assert.True(t, actor.IsAdmin)
	assert.Equal(t, Unlimited, actor.ApprovalLimit)
}

func TestResolveActorCustomRoleCeiling(t *testing.T) {
	dir := newFakeDirectory()
	ceiling := int64(5000)
	dir.add(&repository.User{ID: "lead", Role: "EMPLOYEE", CustomRoleID: strPtr("cr1"), IsActive: true})
	dir.ceilings["lead"] = &ceiling
	svc := NewIdentityService(dir, 100)

	actor, err := svc.ResolveActor(context.Background(), "lead")
	require.NoError(t, err)

	assert.False(t, actor.IsAdmin)
	assert.Equal(t, int64(5000), actor.ApprovalLimit)
}

func TestResolveActorCustomRoleWithoutCeilingIsUnlimited(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(&repository.User{ID: "lead", Role: "EMPLOYEE", CustomRoleID: strPtr("cr1"), IsActive: true})
	svc := NewIdentityService(dir, 100)

	actor, err := svc.ResolveActor(context.Background(), "lead")
	require.NoError(t, err)
	assert.Equal(t, Unlimited, actor.ApprovalLimit)
}

func TestResolveActorLegacyRoleDefault(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(&repository.User{ID: "emp", Role: "EMPLOYEE", IsActive: true})
	svc := NewIdentityService(dir, 100)

	actor, err := svc.ResolveActor(context.Background(), "emp")
	require.NoError(t, err)
	assert.Equal(t, int64(100), actor.ApprovalLimit)
}
