package incidents

import (
	"context"
	"fmt"
	"strings"

	"github.com/datapulse/orchestrator/internal/audit"
	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/datapulse/orchestrator/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// TransitionInput describes a requested action state change.
type TransitionInput struct {
	IncidentID string
	ActionID   string
	ToState    domain.ActionState
	Actor      string
	Source     domain.TransitionSource
	Reason     *string
}

// Transition validates and applies a state change to one action, writes the
// incident back and appends the event to the audit log.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (*domain.TransitionEvent, error) {
	if !in.ToState.IsValid() {
		return nil, validationError("unknown action state %q", in.ToState)
	}
	if !in.Source.IsValid() {
		return nil, validationError("unknown transition source %q", in.Source)
	}
	if strings.TrimSpace(in.Actor) == "" {
		return nil, validationError("actor is required")
	}

	unlock := s.locks.Lock(in.IncidentID)
	defer unlock()

	logger := ctxlog.FromContext(ctx)

	var applied domain.TransitionEvent
	_, err := s.mutate(ctx, in.IncidentID, func(incident *domain.Incident) (bool, error) {
		now := s.now()

		idx := incident.FindAction(in.ActionID)
		if idx < 0 && incident.HasLegacyProposals() {
			if err := migrateLegacyProposals(incident, now); err != nil {
				logger.Warn("ignoring unreadable legacy proposals", "incident_id", incident.ID, "error", err)
			}
			idx = incident.FindAction(in.ActionID)
		}
		if idx < 0 {
			return false, fmt.Errorf("%w: %s on incident %s", ErrActionNotFound, in.ActionID, incident.ID)
		}

		from := incident.Actions[idx].CurrentState()
		if !from.CanTransitionTo(in.ToState) {
			return false, &InvalidTransitionError{From: from, To: in.ToState}
		}

		applied = domain.TransitionEvent{
			ID:         uuid.NewString(),
			IncidentID: incident.ID,
			ActionID:   in.ActionID,
			FromState:  from,
			ToState:    in.ToState,
			Actor:      in.Actor,
			Source:     in.Source,
			Reason:     in.Reason,
			Timestamp:  now,
		}
		incident.Actions[idx].Apply(applied)
		incident.ActionHistory = insertHistory(incident.ActionHistory, applied)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	recordTransition(string(applied.Source), string(applied.ToState))
	logger.Info("action transitioned",
		"incident_id", applied.IncidentID,
		"action_id", applied.ActionID,
		"from", applied.FromState,
		"to", applied.ToState,
		"actor", applied.Actor,
		"source", applied.Source,
	)

	s.appendAudit(ctx, audit.NewTransitionRecord(applied))

	return &applied, nil
}
