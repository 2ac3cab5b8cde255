package incidents

import (
	"context"
	"fmt"

	"github.com/datapulse/orchestrator/internal/audit"
	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/datapulse/orchestrator/internal/pkg/ctxlog"
)

// ReconcileResult reports what a reconciliation repaired.
type ReconcileResult struct {
	IncidentID       string   `json:"incident_id"`
	EventsRestored   int      `json:"events_restored"`
	EventsBackfilled int      `json:"events_backfilled"`
	ActionsUpdated   []string `json:"actions_updated"`
}

// Changed reports whether anything was repaired.
func (r *ReconcileResult) Changed() bool {
	return r.EventsRestored > 0 || r.EventsBackfilled > 0 || len(r.ActionsUpdated) > 0
}

// Reconcile rebuilds an incident's history and action states from the union of
// its embedded history and the audit log. Events lost from the document are
// restored from the log; events missing from the log are appended to it.
// A broken audit chain stops reconciliation.
func (s *Service) Reconcile(ctx context.Context, id string) (*ReconcileResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	logger := ctxlog.FromContext(ctx)

	records, err := s.audit.ListByIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w: %w", ErrPersistence, err)
	}
	if err := audit.Verify(records); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuditChainBroken, err)
	}
	logged := audit.Transitions(records)

	result := &ReconcileResult{IncidentID: id, ActionsUpdated: make([]string, 0)}
	var unaudited []domain.TransitionEvent

	_, err = s.mutate(ctx, id, func(incident *domain.Incident) (bool, error) {
		result.EventsRestored = 0
		result.ActionsUpdated = result.ActionsUpdated[:0]
		unaudited = nil

		if err := migrateLegacyProposals(incident, s.now()); err != nil {
			logger.Warn("ignoring unreadable legacy proposals", "incident_id", incident.ID, "error", err)
		}

		inHistory := make(map[string]struct{}, len(incident.ActionHistory))
		for _, ev := range incident.ActionHistory {
			inHistory[ev.ID] = struct{}{}
		}
		inLog := make(map[string]struct{}, len(logged))
		for _, ev := range logged {
			inLog[ev.ID] = struct{}{}
		}

		for _, ev := range incident.ActionHistory {
			if _, ok := inLog[ev.ID]; !ok {
				unaudited = append(unaudited, ev)
			}
		}
		for _, ev := range logged {
			if _, ok := inHistory[ev.ID]; ok {
				continue
			}
			incident.ActionHistory = insertHistory(incident.ActionHistory, ev)
			result.EventsRestored++
		}

		latest := make(map[string]domain.TransitionEvent)
		for _, ev := range incident.ActionHistory {
			latest[ev.ActionID] = ev
		}
		for i := range incident.Actions {
			a := &incident.Actions[i]
			ev, ok := latest[a.ID]
			if !ok || a.CurrentState() == ev.ToState {
				continue
			}
			a.Apply(ev)
			result.ActionsUpdated = append(result.ActionsUpdated, a.ID)
		}

		return result.EventsRestored > 0 || len(result.ActionsUpdated) > 0, nil
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range unaudited {
		if err := s.audit.Append(ctx, audit.NewTransitionRecord(ev)); err != nil {
			auditAppendFailures.Inc()
			logger.Error("failed to backfill audit record",
				"incident_id", id,
				"event_id", ev.ID,
				"error", err,
			)
			continue
		}
		result.EventsBackfilled++
	}

	reconciledEvents.WithLabelValues("restored").Add(float64(result.EventsRestored))
	reconciledEvents.WithLabelValues("backfilled").Add(float64(result.EventsBackfilled))

	if result.Changed() {
		logger.Info("incident reconciled",
			"incident_id", id,
			"events_restored", result.EventsRestored,
			"events_backfilled", result.EventsBackfilled,
			"actions_updated", result.ActionsUpdated,
		)
	}

	return result, nil
}

// ReconcileOpen reconciles every open incident and returns how many were repaired.
// Failures on single incidents are logged and skipped.
func (s *Service) ReconcileOpen(ctx context.Context) (int, error) {
	status := domain.IncidentStatusOpen
	filter := IncidentFilter{
		Status: &status,
		Sort:   SortCreatedAt,
		Order:  OrderAsc,
		Limit:  MaxListLimit,
	}

	repaired := 0
	for {
		page, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return repaired, storeError("list open incidents", err)
		}
		for _, incident := range page {
			if err := ctx.Err(); err != nil {
				return repaired, err
			}
			result, err := s.Reconcile(ctx, incident.ID)
			if err != nil {
				ctxlog.FromContext(ctx).Error("failed to reconcile incident", "incident_id", incident.ID, "error", err)
				continue
			}
			if result.Changed() {
				repaired++
			}
		}
		filter.Offset += len(page)
		if len(page) == 0 || filter.Offset >= total {
			return repaired, nil
		}
	}
}
