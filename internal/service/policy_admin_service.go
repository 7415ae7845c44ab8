package service

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// PolicyAdminService handles administrator policy management. Policies are
// deactivated, never deleted.
type PolicyAdminService struct {
	policies PolicyAdminStore
	validate *validator.Validate
	log      zerolog.Logger
}

// NewPolicyAdminService creates a new PolicyAdminService.
func NewPolicyAdminService(policies PolicyAdminStore, log zerolog.Logger) *PolicyAdminService {
	return &PolicyAdminService{policies: policies, validate: validator.New(), log: log}
}

// PolicyRequest is a create/update payload.
type PolicyRequest struct {
	Name     string                `json:"name" validate:"required,max=200"`
	Type     repository.PolicyType `json:"type" validate:"required"`
	Rule     json.RawMessage       `json:"rule" validate:"required"`
	IsActive *bool                 `json:"is_active,omitempty"`
}

// Create validates and stores a new policy.
func (s *PolicyAdminService) Create(ctx context.Context, actor *Actor, req *PolicyRequest) (*repository.Policy, error) {
	if !actor.IsAdmin {
		return nil, apperr.Unauthorized("only administrators may manage policies")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "invalid policy")
	}
	if err := checkRulePayload(req.Type, req.Rule); err != nil {
		return nil, err
	}

	policy := &repository.Policy{
		Name:     req.Name,
		Type:     req.Type,
		Rule:     req.Rule,
		IsActive: true,
	}
	if req.IsActive != nil {
		policy.IsActive = *req.IsActive
	}

	if err := s.policies.Create(ctx, policy); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("policy_id", policy.ID).
		Str("policy_type", string(policy.Type)).
		Str("actor_id", actor.ID).
		Msg("policy created")
	return policy, nil
}

// Get retrieves one policy.
func (s *PolicyAdminService) Get(ctx context.Context, actor *Actor, id string) (*repository.Policy, error) {
	if !actor.IsAdmin {
		return nil, apperr.Unauthorized("only administrators may manage policies")
	}
	return s.policies.GetByID(ctx, id)
}

// List returns every policy, active or not.
func (s *PolicyAdminService) List(ctx context.Context, actor *Actor) ([]*repository.Policy, error) {
	if !actor.IsAdmin {
		return nil, apperr.Unauthorized("only administrators may manage policies")
	}
	return s.policies.List(ctx)
}

// Update validates and persists changes to an existing policy.
func (s *PolicyAdminService) Update(ctx context.Context, actor *Actor, id string, req *PolicyRequest) (*repository.Policy, error) {
	if !actor.IsAdmin {
		return nil, apperr.Unauthorized("only administrators may manage policies")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "invalid policy")
	}
	if err := checkRulePayload(req.Type, req.Rule); err != nil {
		return nil, err
	}

	policy, err := s.policies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	policy.Name = req.Name
	policy.Type = req.Type
	policy.Rule = req.Rule
	if req.IsActive != nil {
		policy.IsActive = *req.IsActive
	}

	if err := s.policies.Update(ctx, policy); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("policy_id", policy.ID).
		Str("actor_id", actor.ID).
		Msg("policy updated")
	return policy, nil
}

// Deactivate retires a policy without deleting it.
func (s *PolicyAdminService) Deactivate(ctx context.Context, actor *Actor, id string) error {
	if !actor.IsAdmin {
		return apperr.Unauthorized("only administrators may manage policies")
	}
	if err := s.policies.Deactivate(ctx, id); err != nil {
		return err
	}

	s.log.Info().
		Str("policy_id", id).
		Str("actor_id", actor.ID).
		Msg("policy deactivated")
	return nil
}

// checkRulePayload rejects rule JSON that does not decode into the shape the
// engine evaluates for the declared type. Evaluation itself fails open; this
// gate keeps obviously broken rules from being stored at all.
func checkRulePayload(ptype repository.PolicyType, raw json.RawMessage) error {
	var err error
	switch ptype {
	case repository.PolicySpendingLimit:
		err = json.Unmarshal(raw, &spendingLimitRule{})
	case repository.PolicyReceiptRequirement:
		err = json.Unmarshal(raw, &receiptRequirementRule{})
	case repository.PolicyCategoryRestriction:
		err = json.Unmarshal(raw, &categoryRestrictionRule{})
	case repository.PolicyTimeLimit:
		err = json.Unmarshal(raw, &timeLimitRule{})
	case repository.PolicyVendorRestriction:
		err = json.Unmarshal(raw, &vendorRestrictionRule{})
	case repository.PolicyKeywordRestriction:
		err = json.Unmarshal(raw, &keywordRestrictionRule{})
	default:
		return apperr.InvalidInput("type", "unknown policy type")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeValidation, "rule payload does not match policy type")
	}
	return nil
}
