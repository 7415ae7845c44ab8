package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// Business hours for TIME_LIMIT policies (local time of the submission).
const (
	businessHoursStart = 9
	businessHoursEnd   = 18
)

// PolicyFinding is one policy's verdict on a candidate.
type PolicyFinding struct {
	PolicyID   string `json:"policy_id"`
	PolicyName string `json:"policy_name"`
	Message    string `json:"message"`
	IsBlocking bool   `json:"is_blocking"`
}

// PolicyResult is the full compliance verdict for a candidate submission.
// CanSubmit is false exactly when any blocking violation exists; warnings
// never block.
type PolicyResult struct {
	Compliant  bool            `json:"compliant"`
	CanSubmit  bool            `json:"can_submit"`
	Violations []PolicyFinding `json:"violations"`
	Warnings   []PolicyFinding `json:"warnings"`
	Info       []PolicyFinding `json:"info"`
}

// Candidate is a prospective submission, before anything is persisted.
type Candidate struct {
	Kind        repository.SubjectKind
	Title       string
	Description string
	Merchant    string
	Amount      int64
	Category    string
	HasReceipt  bool
	// SubmittedAt is the submission instant evaluated by TIME_LIMIT rules.
	SubmittedAt time.Time
}

// PolicyService evaluates candidates against the active policy set.
type PolicyService struct {
	policies PolicyStore
	log      zerolog.Logger
}

// NewPolicyService creates a new PolicyService.
func NewPolicyService(policies PolicyStore, log zerolog.Logger) *PolicyService {
	return &PolicyService{policies: policies, log: log}
}

// Validate evaluates the candidate against every active policy.
// Administrators bypass all checks and receive an informational exemption.
func (s *PolicyService) Validate(ctx context.Context, actor *Actor, c *Candidate) (*PolicyResult, error) {
	if actor.IsAdmin {
		return &PolicyResult{
			Compliant: true,
			CanSubmit: true,
			Info: []PolicyFinding{{
				PolicyID:   "admin-exemption",
				PolicyName: "Admin Exemption",
				Message:    "Administrators are exempt from all policy restrictions",
			}},
		}, nil
	}

	policies, err := s.policies.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return s.evaluate(policies, c), nil
}

// evaluate is pure over the loaded policy set: no lookups, no side effects
// beyond logging skipped policies.
func (s *PolicyService) evaluate(policies []*repository.Policy, c *Candidate) *PolicyResult {
	res := &PolicyResult{}

	for _, p := range policies {
		finding, err := evaluatePolicy(p, c)
		if err != nil {
			// Fail-open: a malformed rule disables that one policy instead of
			// halting all submissions. Operators must watch for this log.
			s.log.Error().Err(err).
				Str("policy_id", p.ID).
				Str("policy_type", string(p.Type)).
				Msg("skipping policy with unparseable rule")
			continue
		}
		if finding == nil {
			continue
		}
		if finding.IsBlocking {
			res.Violations = append(res.Violations, *finding)
		} else {
			res.Warnings = append(res.Warnings, *finding)
		}
	}

	res.Compliant = len(res.Violations) == 0
	res.CanSubmit = len(res.Violations) == 0
	return res
}

// ── Per-type rule payloads ───────────────────────────────────────────────────

type spendingLimitRule struct {
	MaxAmount int64 `json:"maxAmount"`
	// IsBlocking defaults to true when absent.
	IsBlocking *bool `json:"isBlocking"`
}

type receiptRequirementRule struct {
	Threshold int64 `json:"threshold"`
}

type categoryRestrictionRule struct {
	BlockedCategories []string `json:"blockedCategories"`
}

type timeLimitRule struct {
	BlockWeekends   bool `json:"blockWeekends"`
	BlockAfterHours bool `json:"blockAfterHours"`
}

type vendorRestrictionRule struct {
	BlockedVendors []string `json:"blockedVendors"`
}

type keywordRestrictionRule struct {
	ProhibitedKeywords []string `json:"prohibitedKeywords"`
}

// evaluatePolicy applies one policy to the candidate. A nil finding means
// the policy is satisfied; a non-nil error means the rule payload is
// malformed and the policy must be skipped.
func evaluatePolicy(p *repository.Policy, c *Candidate) (*PolicyFinding, error) {
	finding := func(msg string, blocking bool) *PolicyFinding {
		return &PolicyFinding{PolicyID: p.ID, PolicyName: p.Name, Message: msg, IsBlocking: blocking}
	}

	switch p.Type {
	case repository.PolicySpendingLimit:
		var rule spendingLimitRule
		if err := json.Unmarshal(p.Rule, &rule); err != nil {
			return nil, err
		}
		if rule.MaxAmount > 0 && c.Amount > rule.MaxAmount {
			blocking := rule.IsBlocking == nil || *rule.IsBlocking
			return finding(fmt.Sprintf("Amount $%d exceeds the limit of $%d", c.Amount, rule.MaxAmount), blocking), nil
		}

	case repository.PolicyReceiptRequirement:
		var rule receiptRequirementRule
		if err := json.Unmarshal(p.Rule, &rule); err != nil {
			return nil, err
		}
		if c.Amount >= rule.Threshold && !c.HasReceipt {
			return finding(fmt.Sprintf("Receipt is required for amounts over $%d", rule.Threshold), true), nil
		}

	case repository.PolicyCategoryRestriction:
		var rule categoryRestrictionRule
		if err := json.Unmarshal(p.Rule, &rule); err != nil {
			return nil, err
		}
		for _, blocked := range rule.BlockedCategories {
			if blocked == c.Category {
				return finding(fmt.Sprintf("Category %q is restricted by policy", c.Category), true), nil
			}
		}

	case repository.PolicyTimeLimit:
		var rule timeLimitRule
		if err := json.Unmarshal(p.Rule, &rule); err != nil {
			return nil, err
		}
		if rule.BlockWeekends && isWeekend(c.SubmittedAt) {
			return finding("Submissions are not accepted on weekends", true), nil
		}
		if rule.BlockAfterHours && isOutsideBusinessHours(c.SubmittedAt) {
			return finding("Submissions are not accepted outside business hours (9AM-6PM)", true), nil
		}

	case repository.PolicyVendorRestriction:
		var rule vendorRestrictionRule
		if err := json.Unmarshal(p.Rule, &rule); err != nil {
			return nil, err
		}
		if c.Merchant != "" {
			for _, blocked := range rule.BlockedVendors {
				if blocked == c.Merchant {
					return finding(fmt.Sprintf("Vendor %q is on the blocked list", c.Merchant), true), nil
				}
			}
		}

	case repository.PolicyKeywordRestriction:
		var rule keywordRestrictionRule
		if err := json.Unmarshal(p.Rule, &rule); err != nil {
			return nil, err
		}
		text := strings.ToLower(c.Title + " " + c.Description)
		// Only the first matching keyword is reported per policy.
		for _, kw := range rule.ProhibitedKeywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				return finding(fmt.Sprintf("Prohibited keyword detected: %q", kw), true), nil
			}
		}
	}

	return nil, nil
}

func isWeekend(t time.Time) bool {
	day := t.Weekday()
	return day == time.Saturday || day == time.Sunday
}

func isOutsideBusinessHours(t time.Time) bool {
	hour := t.Hour()
	return hour < businessHoursStart || hour >= businessHoursEnd
}
