package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/config"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// Analytics scopes.
const (
	ScopePersonal = "personal"
	ScopeSystem   = "system"
)

// LevelStats breaks approval counts down for one routing level.
type LevelStats struct {
	Level    int `json:"level"`
	Total    int `json:"total"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Pending  int `json:"pending"`
}

// AnalyticsReport summarizes approval throughput over a window. Counts are
// per approval row, not per item; a delegated approval is counted under
// whichever approver ultimately held it.
type AnalyticsReport struct {
	Scope      string  `json:"scope"`
	WindowDays int     `json:"window_days"`
	Total      int     `json:"total"`
	Approved   int     `json:"approved"`
	Rejected   int     `json:"rejected"`
	Pending    int     `json:"pending"`
	// ApprovalRate is approved over decided rows; zero when nothing decided.
	ApprovalRate float64 `json:"approval_rate"`
	// AvgDecisionHours averages created-to-decided time over decided rows.
	AvgDecisionHours float64      `json:"avg_decision_hours"`
	OverdueCount     int          `json:"overdue_count"`
	ByLevel          []LevelStats `json:"by_level"`
}

// AnalyticsService reports approval throughput.
type AnalyticsService struct {
	approvals ApprovalStore
	cfg       config.EscalationConfig
	log       zerolog.Logger

	now func() time.Time
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(approvals ApprovalStore, cfg config.EscalationConfig, log zerolog.Logger) *AnalyticsService {
	return &AnalyticsService{approvals: approvals, cfg: cfg, log: log, now: time.Now}
}

// Report builds the analytics report for the window. The personal scope
// covers the actor's own approval rows; the system scope covers everything
// and requires the administrator capability.
func (s *AnalyticsService) Report(ctx context.Context, actor *Actor, scope string, windowDays int) (*AnalyticsReport, error) {
	approverID := actor.ID
	switch scope {
	case ScopePersonal:
	case ScopeSystem:
		if !actor.IsAdmin {
			return nil, apperr.Unauthorized("only administrators may view system analytics")
		}
		approverID = ""
	default:
		return nil, apperr.InvalidInput("scope", "scope must be personal or system")
	}
	if windowDays <= 0 {
		windowDays = 30
	}

	now := s.now()
	approvals, err := s.approvals.ListSince(ctx, now.AddDate(0, 0, -windowDays), approverID)
	if err != nil {
		return nil, err
	}

	report := &AnalyticsReport{Scope: scope, WindowDays: windowDays, Total: len(approvals)}
	levels := make(map[int]*LevelStats)
	var decisionHours float64

	for _, a := range approvals {
		lvl, ok := levels[a.Level]
		if !ok {
			lvl = &LevelStats{Level: a.Level}
			levels[a.Level] = lvl
		}
		lvl.Total++

		switch a.Status {
		case repository.StatusApproved:
			report.Approved++
			lvl.Approved++
		case repository.StatusRejected:
			report.Rejected++
			lvl.Rejected++
		default:
			report.Pending++
			lvl.Pending++
		}

		if a.ApprovedAt != nil {
			decisionHours += a.ApprovedAt.Sub(a.CreatedAt).Hours()
		}
	}

	decided := report.Approved + report.Rejected
	if decided > 0 {
		report.ApprovalRate = float64(report.Approved) / float64(decided)
		report.AvgDecisionHours = decisionHours / float64(decided)
	}

	overdue, err := s.approvals.ListOverdue(ctx, now.AddDate(0, 0, -s.cfg.DefaultDaysOverdue))
	if err != nil {
		return nil, err
	}
	for _, a := range overdue {
		if approverID == "" || a.ApproverID == approverID {
			report.OverdueCount++
		}
	}

	for level := 1; level <= 3; level++ {
		if lvl, ok := levels[level]; ok {
			report.ByLevel = append(report.ByLevel, *lvl)
		}
	}
	return report, nil
}
