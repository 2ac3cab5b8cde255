package incidents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/datapulse/orchestrator/internal/audit"
	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/datapulse/orchestrator/internal/pkg/ctxlog"
)

// AgentKind identifies the agent that posted a report.
type AgentKind string

// Agent kinds.
const (
	AgentAnalyst  AgentKind = "analyst"
	AgentResolver AgentKind = "resolver"
)

// ReportInput is an agent report.
type ReportInput struct {
	IncidentID string
	Agent      AgentKind
	Timestamp  *time.Time
	RCCA       json.RawMessage
	Proposals  json.RawMessage
}

// IngestResult summarizes what a report changed.
type IngestResult struct {
	IncidentID   string    `json:"incident_id"`
	Agent        AgentKind `json:"agent"`
	Status       string    `json:"status"`
	NewActions   []string  `json:"new_actions,omitempty"`
	AutoApproved []string  `json:"auto_approved,omitempty"`
}

// IngestReport merges an agent report into the incident and schedules the
// follow-up work. Ingesting the same report twice changes nothing the second time.
func (s *Service) IngestReport(ctx context.Context, in ReportInput) (*IngestResult, error) {
	var (
		result *IngestResult
		err    error
	)
	switch in.Agent {
	case AgentAnalyst:
		result, err = s.ingestAnalysis(ctx, in)
	case AgentResolver:
		result, err = s.ingestResolution(ctx, in)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, in.Agent)
	}
	if err != nil {
		return nil, err
	}
	reportsIngested.WithLabelValues(string(in.Agent)).Inc()
	return result, nil
}

func (s *Service) reportTime(in ReportInput) time.Time {
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		return in.Timestamp.UTC().Truncate(time.Microsecond)
	}
	return s.now()
}

func (s *Service) ingestAnalysis(ctx context.Context, in ReportInput) (*IngestResult, error) {
	if len(in.RCCA) == 0 || string(in.RCCA) == "null" {
		return nil, validationError("rcca is required for analyst reports")
	}

	unlock := s.locks.Lock(in.IncidentID)
	defer unlock()

	_, err := s.mutate(ctx, in.IncidentID, func(incident *domain.Incident) (bool, error) {
		if jsonEqual(incident.AnalystReport, in.RCCA) {
			return false, nil
		}
		incident.AnalystReport = append(json.RawMessage(nil), in.RCCA...)
		incident.AppendTimeline(s.reportTime(in), "Root cause analysis received")
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("analysis report ingested", "incident_id", in.IncidentID)

	if s.dispatcher != nil {
		incidentID := in.IncidentID
		rcca := append(json.RawMessage(nil), in.RCCA...)
		s.submit(ctx, "trigger_resolver", func(ctx context.Context) {
			if err := s.dispatcher.TriggerResolver(ctx, incidentID, rcca); err != nil {
				ctxlog.FromContext(ctx).Error("failed to trigger resolver", "incident_id", incidentID, "error", err)
			}
		})
	}

	return &IngestResult{IncidentID: in.IncidentID, Agent: in.Agent, Status: "processed"}, nil
}

func (s *Service) ingestResolution(ctx context.Context, in ReportInput) (*IngestResult, error) {
	proposals, err := ParseProposals(in.Proposals)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(in.IncidentID)
	defer unlock()

	logger := ctxlog.FromContext(ctx)

	var (
		added  []domain.Action
		events []domain.TransitionEvent
	)
	_, err = s.mutate(ctx, in.IncidentID, func(incident *domain.Incident) (bool, error) {
		added, events = nil, nil
		now := s.now()

		if err := migrateLegacyProposals(incident, now); err != nil {
			logger.Warn("ignoring unreadable legacy proposals", "incident_id", incident.ID, "error", err)
		}

		candidates, err := NormalizeProposals(incident.ID, proposals, now)
		if err != nil {
			return false, err
		}
		fresh := make([]domain.Action, 0, len(candidates))
		for _, a := range candidates {
			if incident.FindAction(a.ID) < 0 {
				fresh = append(fresh, a)
			}
		}

		evaluated := s.policy.Evaluate(fresh, now)
		incident.Actions = append(incident.Actions, evaluated.Actions...)
		for _, ev := range evaluated.Events {
			incident.ActionHistory = insertHistory(incident.ActionHistory, ev)
		}

		changed := len(fresh) > 0
		if !jsonEqual(incident.ResolverProposals, in.Proposals) {
			incident.ResolverProposals = append(json.RawMessage(nil), in.Proposals...)
			changed = true
		}
		if len(fresh) > 0 {
			incident.AppendTimeline(s.reportTime(in), fmt.Sprintf("Resolver proposed %d action(s)", len(fresh)))
		}
		if len(evaluated.Events) > 0 {
			incident.AppendTimeline(now, fmt.Sprintf("Auto-approved %d low-risk action(s)", len(evaluated.Events)))
		}

		added, events = evaluated.Actions, evaluated.Events
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	result := &IngestResult{IncidentID: in.IncidentID, Agent: in.Agent, Status: "processed"}
	for _, a := range added {
		result.NewActions = append(result.NewActions, a.ID)
	}
	for _, ev := range events {
		result.AutoApproved = append(result.AutoApproved, ev.ActionID)
		recordTransition(string(ev.Source), string(ev.ToState))
		s.appendAudit(ctx, audit.NewTransitionRecord(ev))
	}

	logger.Info("resolution report ingested",
		"incident_id", in.IncidentID,
		"new_actions", len(result.NewActions),
		"auto_approved", len(result.AutoApproved),
	)

	pending := make([]domain.Action, 0, len(added))
	for _, a := range added {
		if a.CurrentState() == domain.ActionStateProposed {
			pending = append(pending, a)
		}
	}
	if s.notifier != nil && len(pending) > 0 {
		incidentID := in.IncidentID
		s.submit(ctx, "request_approvals", func(ctx context.Context) {
			for _, a := range pending {
				if err := s.notifier.ApprovalRequested(ctx, incidentID, a); err != nil {
					ctxlog.FromContext(ctx).Error("failed to request approval",
						"incident_id", incidentID,
						"action_id", a.ID,
						"error", err,
					)
				}
			}
		})
	}

	return result, nil
}
