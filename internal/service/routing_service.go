package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/config"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// RouteLevel is one rung of a computed approval chain.
type RouteLevel struct {
	Level     int                `json:"level"`
	Approvers []*repository.User `json:"approvers"`
	// Required is how many approvals at this level complete it.
	Required int `json:"required"`
}

// Route is the full approval chain computed for a candidate submission.
// When AutoApprove is set, Levels is empty and the item is approved at
// submission time without creating any approval rows.
type Route struct {
	AutoApprove   bool         `json:"auto_approve"`
	Reason        string       `json:"reason"`
	EstimatedDays float64      `json:"estimated_days"`
	Levels        []RouteLevel `json:"levels"`
}

// RoutingService computes approval chains from amount bands and the
// organizational structure.
type RoutingService struct {
	users UserDirectory
	cfg   config.ApprovalConfig
	log   zerolog.Logger
}

// NewRoutingService creates a new RoutingService.
func NewRoutingService(users UserDirectory, cfg config.ApprovalConfig, log zerolog.Logger) *RoutingService {
	return &RoutingService{users: users, cfg: cfg, log: log}
}

// DetermineRoute computes the approval chain for a submission by amount band:
//
//	amount <  auto_approve_floor   → auto-approve, no chain
//	amount <= one_level_ceiling    → level 1 (submitter's manager)
//	amount <= two_level_ceiling    → levels 1-2 (+ finance approvers)
//	otherwise                      → levels 1-3 (+ executives)
//
// Category and receipt status are part of the routing input; the current
// bands key on amount alone.
//
// Every level must resolve at least one eligible approver; an empty level is
// a routing error and nothing is persisted.
func (s *RoutingService) DetermineRoute(ctx context.Context, submitterID string, amount int64, category string, hasReceipt bool) (*Route, error) {
	if amount < s.cfg.AutoApproveFloor {
		return &Route{
			AutoApprove: true,
			Reason:      fmt.Sprintf("Amount below auto-approval threshold ($%d)", s.cfg.AutoApproveFloor),
		}, nil
	}

	depth := 3
	switch {
	case amount <= s.cfg.OneLevelCeiling:
		depth = 1
	case amount <= s.cfg.TwoLevelCeiling:
		depth = 2
	}

	route := &Route{
		Reason:        fmt.Sprintf("Amount $%d requires %d approval level(s)", amount, depth),
		EstimatedDays: float64(depth) * s.cfg.EstimatedDaysPerLevel,
		Levels:        make([]RouteLevel, 0, depth),
	}

	for level := 1; level <= depth; level++ {
		approvers, err := s.approversForLevel(ctx, submitterID, level)
		if err != nil {
			return nil, err
		}
		if len(approvers) == 0 {
			return nil, apperr.Newf(apperr.CodeRouting,
				"no eligible approvers at level %d", level)
		}
		route.Levels = append(route.Levels, RouteLevel{
			Level:     level,
			Approvers: approvers,
			Required:  s.cfg.RequiredPerLevel,
		})
	}

	s.log.Debug().
		Str("submitter_id", submitterID).
		Int64("amount", amount).
		Int("levels", depth).
		Msg("approval route determined")

	return route, nil
}

// approversForLevel resolves the eligible approver set for one level:
// level 1 is the submitter's manager, level 2 the finance approvers, level 3
// the executives. The submitter never approves their own submission.
func (s *RoutingService) approversForLevel(ctx context.Context, submitterID string, level int) ([]*repository.User, error) {
	switch level {
	case 1:
		manager, err := s.users.GetManager(ctx, submitterID)
		if err != nil {
			return nil, err
		}
		if manager == nil || manager.ID == submitterID {
			return nil, nil
		}
		return []*repository.User{manager}, nil

	case 2:
		return s.roleHolders(ctx, repository.RoleFinanceApprover, submitterID)

	case 3:
		return s.roleHolders(ctx, repository.RoleExecutive, submitterID)

	default:
		return nil, apperr.Newf(apperr.CodeRouting, "unsupported approval level %d", level)
	}
}

func (s *RoutingService) roleHolders(ctx context.Context, role, submitterID string) ([]*repository.User, error) {
	users, err := s.users.ListActiveByRole(ctx, role, s.cfg.MaxApproversPerLevel+1)
	if err != nil {
		return nil, err
	}

	eligible := make([]*repository.User, 0, len(users))
	for _, u := range users {
		if u.ID == submitterID {
			continue
		}
		eligible = append(eligible, u)
		if len(eligible) == s.cfg.MaxApproversPerLevel {
			break
		}
	}
	return eligible, nil
}

// BuildApprovals expands a route into the pending approval rows for a subject:
// one row per (level, approver).
func (s *RoutingService) BuildApprovals(ref repository.SubjectRef, route *Route) []*repository.Approval {
	var approvals []*repository.Approval
	for _, lvl := range route.Levels {
		for _, approver := range lvl.Approvers {
			approvals = append(approvals, &repository.Approval{
				Subject:    ref,
				ApproverID: approver.ID,
				Level:      lvl.Level,
				Status:     repository.StatusPending,
			})
		}
	}
	return approvals
}
