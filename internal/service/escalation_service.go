package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/config"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// Escalation actions accepted by Run.
const (
	EscalationActionNotify      = "notify"
	EscalationActionEscalate    = "escalate"
	EscalationActionAutoApprove = "auto-approve"
)

// EscalationDetail describes what the scanner did to one overdue approval.
type EscalationDetail struct {
	ApprovalID  string                 `json:"approval_id"`
	SubjectKind repository.SubjectKind `json:"subject_kind"`
	SubjectID   string                 `json:"subject_id"`
	ApproverID  string                 `json:"approver_id"`
	AgeDays     int                    `json:"age_days"`
	Action      string                 `json:"action"`
}

// EscalationResult tallies one scanner pass. Every overdue row lands in
// exactly one bucket: Total = Notified + Escalated + AutoApproved + Skipped.
type EscalationResult struct {
	Total        int                `json:"total"`
	Notified     int                `json:"notified"`
	Escalated    int                `json:"escalated"`
	AutoApproved int                `json:"auto_approved"`
	// Skipped counts rows the pass could not act on: a lost race with a
	// concurrent decision, or a lookup failure. They stay pending and are
	// picked up again on the next pass.
	Skipped int                `json:"skipped"`
	Details []EscalationDetail `json:"details"`
}

// EscalationService scans overdue pending approvals and applies the requested
// remediation. Every pass is idempotent: it only ever reads PENDING rows and
// only ever mutates through the same conditional updates human decisions use,
// so re-running a pass (or racing a human) cannot double-apply anything.
type EscalationService struct {
	approvals  ApprovalStore
	items      ItemStore
	users      UserDirectory
	dispatcher *OutboxDispatcher
	notifier   Notifier
	cfg        config.EscalationConfig
	log        zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewEscalationService creates a new EscalationService.
func NewEscalationService(
	approvals ApprovalStore,
	items ItemStore,
	users UserDirectory,
	dispatcher *OutboxDispatcher,
	notifier Notifier,
	cfg config.EscalationConfig,
	log zerolog.Logger,
) *EscalationService {
	return &EscalationService{
		approvals:  approvals,
		items:      items,
		users:      users,
		dispatcher: dispatcher,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// Run scans approvals pending for more than daysOverdue days and applies the
// requested action. Age gates the stronger remediations regardless of the
// requested action:
//
//	notify        always allowed; also the fallback below the age gates
//	escalate      reassigns to the approver's manager, age >= escalate_after_days
//	auto-approve  decides as the system actor, age >= force_approve_after_days
//
// A zero daysOverdue uses the configured default.
func (s *EscalationService) Run(ctx context.Context, daysOverdue int, action string) (*EscalationResult, error) {
	switch action {
	case EscalationActionNotify, EscalationActionEscalate, EscalationActionAutoApprove:
	default:
		return nil, apperr.InvalidInput("action", "action must be notify, escalate or auto-approve")
	}
	if daysOverdue <= 0 {
		daysOverdue = s.cfg.DefaultDaysOverdue
	}

	now := s.now()
	cutoff := now.AddDate(0, 0, -daysOverdue)
	overdue, err := s.approvals.ListOverdue(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	res := &EscalationResult{Total: len(overdue)}
	for _, approval := range overdue {
		ageDays := int(now.Sub(approval.CreatedAt).Hours() / 24)
		detail := EscalationDetail{
			ApprovalID:  approval.ID,
			SubjectKind: approval.Subject.Kind,
			SubjectID:   approval.Subject.ID,
			ApproverID:  approval.ApproverID,
			AgeDays:     ageDays,
		}

		switch {
		case action == EscalationActionAutoApprove && ageDays >= s.cfg.ForceApproveAfterDays:
			applied, err := s.autoApprove(ctx, approval, ageDays)
			switch {
			case err != nil:
				s.log.Warn().Err(err).Str("approval_id", approval.ID).Msg("escalation auto-approve failed")
				detail.Action = "skipped"
				res.Skipped++
			case !applied:
				// A concurrent decision resolved the row first.
				detail.Action = "skipped"
				res.Skipped++
			default:
				detail.Action = "auto_approved"
				res.AutoApproved++
			}

		case action == EscalationActionEscalate && ageDays >= s.cfg.EscalateAfterDays:
			escalated, err := s.escalateToManager(ctx, approval, ageDays)
			switch {
			case err != nil:
				s.log.Warn().Err(err).Str("approval_id", approval.ID).Msg("escalation reassign failed")
				detail.Action = "skipped"
				res.Skipped++
			case escalated:
				detail.Action = "escalated"
				res.Escalated++
			default:
				// No manager to escalate to: fall back to a reminder.
				s.remind(approval, ageDays)
				detail.Action = "notified"
				res.Notified++
			}

		default:
			s.remind(approval, ageDays)
			detail.Action = "notified"
			res.Notified++
		}

		res.Details = append(res.Details, detail)
	}

	s.log.Info().
		Str("action", action).
		Int("days_overdue", daysOverdue).
		Int("total", res.Total).
		Int("notified", res.Notified).
		Int("escalated", res.Escalated).
		Int("auto_approved", res.AutoApproved).
		Int("skipped", res.Skipped).
		Msg("escalation pass completed")

	return res, nil
}

// autoApprove decides an overdue approval as the system actor. Returns false
// when a concurrent decision already resolved the row.
func (s *EscalationService) autoApprove(ctx context.Context, approval *repository.Approval, ageDays int) (bool, error) {
	comment := fmt.Sprintf("Auto-approved after %d days of inactivity (system escalation).", ageDays)
	upd := &repository.DecisionUpdate{
		ApprovalID:    approval.ID,
		Subject:       approval.Subject,
		NewStatus:     repository.StatusApproved,
		CommentAppend: &comment,
		Event: repository.ApprovalEvent{
			ActorID: SystemActorID,
			Action:  repository.EventAutoApproved,
			Reason:  &comment,
		},
		OutboxOnApproval: outboxFor(approval.Subject),
	}

	res, err := s.approvals.ApplyDecision(ctx, upd)
	if err != nil {
		return false, err
	}
	if !res.Applied {
		return false, nil
	}

	if res.OutboxID != "" && upd.OutboxOnApproval != nil {
		if err := s.dispatcher.Dispatch(ctx, upd.OutboxOnApproval); err != nil {
			s.log.Warn().Err(err).
				Str("outbox_id", res.OutboxID).
				Msg("ledger dispatch after auto-approve failed; entry remains queued")
		}
	}

	if res.ItemStatus == repository.ItemApproved {
		if item, err := s.items.GetSubject(ctx, approval.Subject); err == nil {
			s.notifier.Publish(EventTypeItemApproved, SystemActorID,
				[]string{item.SubmitterID}, string(item.Kind), item.ID,
				map[string]any{"title": item.Title, "amount": item.Amount, "auto_approved": true})
		}
	}
	return true, nil
}

// escalateToManager reassigns an overdue approval to the approver's manager.
// Returns false when the approver has no manager.
func (s *EscalationService) escalateToManager(ctx context.Context, approval *repository.Approval, ageDays int) (bool, error) {
	manager, err := s.users.GetManager(ctx, approval.ApproverID)
	if err != nil {
		return false, err
	}
	if manager == nil || manager.ID == approval.ApproverID {
		return false, nil
	}

	note := fmt.Sprintf("Escalated to %s after %d days without a decision.", manager.ID, ageDays)
	upd := &repository.ReassignUpdate{
		ApprovalID:     approval.ID,
		FromApproverID: approval.ApproverID,
		ToApproverID:   manager.ID,
		CommentAppend:  note,
		Event: repository.ApprovalEvent{
			ActorID: SystemActorID,
			Action:  repository.EventEscalated,
			Reason:  &note,
		},
	}

	applied, err := s.approvals.Reassign(ctx, upd)
	if err != nil || !applied {
		return false, err
	}

	s.notifier.Publish(EventTypeApprovalEscalated, SystemActorID,
		[]string{manager.ID}, string(approval.Subject.Kind), approval.Subject.ID,
		map[string]any{"age_days": ageDays, "previous_approver": approval.ApproverID})
	return true, nil
}

func (s *EscalationService) remind(approval *repository.Approval, ageDays int) {
	s.notifier.Publish(EventTypeApprovalReminder, SystemActorID,
		[]string{approval.ApproverID}, string(approval.Subject.Kind), approval.Subject.ID,
		map[string]any{"age_days": ageDays})
}

// ── Overdue summary ──────────────────────────────────────────────────────────

// OverdueBucket counts overdue approvals within an age band.
type OverdueBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// OverdueSummary is the read-only view of the overdue backlog.
type OverdueSummary struct {
	Total      int             `json:"total"`
	Buckets    []OverdueBucket `json:"buckets"`
	ByApprover map[string]int  `json:"by_approver"`
}

// Summary reports the overdue backlog bucketed by age without mutating
// anything. A zero daysOverdue uses the configured default.
func (s *EscalationService) Summary(ctx context.Context, daysOverdue int) (*OverdueSummary, error) {
	if daysOverdue <= 0 {
		daysOverdue = s.cfg.DefaultDaysOverdue
	}

	now := s.now()
	overdue, err := s.approvals.ListOverdue(ctx, now.AddDate(0, 0, -daysOverdue))
	if err != nil {
		return nil, err
	}

	summary := &OverdueSummary{
		Total: len(overdue),
		Buckets: []OverdueBucket{
			{Label: "2-4 days"},
			{Label: "5-6 days"},
			{Label: "7+ days"},
		},
		ByApprover: make(map[string]int),
	}

	for _, approval := range overdue {
		ageDays := int(now.Sub(approval.CreatedAt).Hours() / 24)
		switch {
		case ageDays >= s.cfg.ForceApproveAfterDays:
			summary.Buckets[2].Count++
		case ageDays >= s.cfg.EscalateAfterDays:
			summary.Buckets[1].Count++
		default:
			summary.Buckets[0].Count++
		}
		summary.ByApprover[approval.ApproverID]++
	}
	return summary, nil
}
