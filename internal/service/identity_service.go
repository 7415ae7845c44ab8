package service

import (
	"context"
	"math"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// SystemActorID is the synthetic actor recorded for engine-initiated
// transitions (escalation force-approvals).
const SystemActorID = "system"

// Actor is the explicit capability context passed into every engine call:
// who is acting, whether they hold the administrator capability, and their
// resolved approval ceiling. Services never look roles up ambiently.
type Actor struct {
	ID      string
	IsAdmin bool
	// ApprovalLimit is the largest subject amount the actor may decide.
	// Unlimited is represented as math.MaxInt64.
	ApprovalLimit int64
}

// Unlimited is the approval ceiling of administrators and custom roles
// without a configured limit.
const Unlimited = int64(math.MaxInt64)

// IdentityService resolves caller identity into an Actor.
type IdentityService struct {
	users UserDirectory
	// legacyRoleLimit applies to holders of a legacy role with no custom role.
	legacyRoleLimit int64
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(users UserDirectory, legacyRoleLimit int64) *IdentityService {
	return &IdentityService{users: users, legacyRoleLimit: legacyRoleLimit}
}

// ResolveActor builds the capability context for a caller.
//
// Administrators are unlimited. A custom role's ceiling applies when set
// (NULL ceiling = unlimited). A legacy role without a custom role gets the
// configured default ceiling.
func (s *IdentityService) ResolveActor(ctx context.Context, userID string) (*Actor, error) {
	_, isAdmin, hasCustomRole, ceiling, err := s.users.GetAuthorization(ctx, userID)
	if err != nil {
		return nil, err
	}

	actor := &Actor{ID: userID, IsAdmin: isAdmin, ApprovalLimit: Unlimited}
	if isAdmin {
		return actor, nil
	}

	switch {
	case hasCustomRole && ceiling != nil:
		actor.ApprovalLimit = *ceiling
	case hasCustomRole:
		actor.ApprovalLimit = Unlimited
	default:
		actor.ApprovalLimit = s.legacyRoleLimit
	}
	return actor, nil
}

// GetUser exposes directory lookups to the handler layer.
func (s *IdentityService) GetUser(ctx context.Context, id string) (*repository.User, error) {
	return s.users.GetByID(ctx, id)
}
