package domain

import (
	"strings"
	"time"
)

// ActionState is the lifecycle state of a remediation action.
type ActionState string

// Action states.
const (
	ActionStateProposed ActionState = "proposed"
	ActionStateApproved ActionState = "approved"
	ActionStateRejected ActionState = "rejected"
	ActionStateExecuted ActionState = "executed"
	ActionStateFailed   ActionState = "failed"
)

// allowedTransitions lists every valid edge. Anything else, including
// self-transitions, is invalid.
var allowedTransitions = map[ActionState][]ActionState{
	ActionStateProposed: {ActionStateApproved, ActionStateRejected},
	ActionStateApproved: {ActionStateExecuted, ActionStateFailed},
}

// IsValid checks if the state is one of the known states.
func (s ActionState) IsValid() bool {
	switch s {
	case ActionStateProposed, ActionStateApproved, ActionStateRejected, ActionStateExecuted, ActionStateFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves this state.
func (s ActionState) IsTerminal() bool {
	return s == ActionStateRejected || s == ActionStateExecuted || s == ActionStateFailed
}

// CanTransitionTo checks the state machine table.
func (s ActionState) CanTransitionTo(to ActionState) bool {
	for _, next := range allowedTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// DefaultRiskScore is applied when the resolver omits a score. It never
// qualifies for auto-approval.
const DefaultRiskScore = 1.0

// Action is a canonical remediation step attached to an incident.
type Action struct {
	ID                string      `json:"action_id"`
	IncidentID        string      `json:"incident_id"`
	State             ActionState `json:"state"`
	Type              string      `json:"action_type"`
	Title             string      `json:"title"`
	Description       string      `json:"description,omitempty"`
	EstimatedDuration string      `json:"estimated_duration,omitempty"`
	URL               *string     `json:"url,omitempty"`
	RequiresApproval  bool        `json:"requires_approval"`
	RiskScore         float64     `json:"risk_score"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	LastActor         string      `json:"last_actor,omitempty"`
}

// CurrentState returns the action state, treating an empty value as proposed.
func (a Action) CurrentState() ActionState {
	if a.State == "" {
		return ActionStateProposed
	}
	return a.State
}

// NormalizedType is the trimmed, lower-cased action type used for policy matching.
func (a Action) NormalizedType() string {
	return NormalizeActionType(a.Type)
}

// NormalizeActionType trims and lower-cases an action type string.
func NormalizeActionType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// TransitionSource identifies which entry point applied a transition.
type TransitionSource string

// Transition sources.
const (
	SourceUI                 TransitionSource = "ui"
	SourceWebhook            TransitionSource = "webhook"
	SourceAutoApprovalPolicy TransitionSource = "auto_approval_policy"
	SourceAPI                TransitionSource = "api"
)

// IsValid checks if the source is known.
func (s TransitionSource) IsValid() bool {
	switch s {
	case SourceUI, SourceWebhook, SourceAutoApprovalPolicy, SourceAPI:
		return true
	}
	return false
}

// TransitionEvent is an immutable record of one applied state change.
type TransitionEvent struct {
	ID         string           `json:"event_id"`
	IncidentID string           `json:"incident_id"`
	ActionID   string           `json:"action_id"`
	FromState  ActionState      `json:"from_state"`
	ToState    ActionState      `json:"to_state"`
	Actor      string           `json:"actor"`
	Source     TransitionSource `json:"source"`
	Reason     *string          `json:"reason,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Apply moves the action to the event's target state and stamps the audit fields.
func (a *Action) Apply(ev TransitionEvent) {
	a.State = ev.ToState
	a.UpdatedAt = ev.Timestamp
	a.LastActor = ev.Actor
}
