// Package policy implements the low-risk auto-approval policy.
package policy

import (
	"time"

	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/google/uuid"
)

// Actor and reason recorded on every auto-approval.
const (
	Actor  = "policy-engine"
	Reason = "Low-risk policy match"
)

// Config holds auto-approval settings.
type Config struct {
	Enabled      bool
	MaxRiskScore float64
	AllowTypes   []string
}

// Engine evaluates proposed actions against a fixed Config.
type Engine struct {
	enabled      bool
	maxRiskScore float64
	allow        map[string]struct{}
}

// NewEngine creates an engine. Allow-list entries are trimmed and lower-cased.
func NewEngine(cfg Config) *Engine {
	allow := make(map[string]struct{}, len(cfg.AllowTypes))
	for _, t := range cfg.AllowTypes {
		if n := domain.NormalizeActionType(t); n != "" {
			allow[n] = struct{}{}
		}
	}
	return &Engine{
		enabled:      cfg.Enabled,
		maxRiskScore: cfg.MaxRiskScore,
		allow:        allow,
	}
}

// Result is the outcome of one evaluation.
type Result struct {
	Actions []domain.Action
	Events  []domain.TransitionEvent
}

// Eligible reports whether a single action qualifies for auto-approval.
func (e *Engine) Eligible(a domain.Action) bool {
	if !e.enabled || a.RequiresApproval {
		return false
	}
	if a.CurrentState() != domain.ActionStateProposed {
		return false
	}
	if _, ok := e.allow[a.NormalizedType()]; !ok {
		return false
	}
	return a.RiskScore <= e.maxRiskScore
}

// Evaluate returns a copy of actions with eligible ones moved to approved and
// one transition event per approval. The input slice is never modified.
// Event ids are derived from (incident, action, target state) so repeated
// evaluation of the same input yields identical output.
func (e *Engine) Evaluate(actions []domain.Action, now time.Time) Result {
	out := make([]domain.Action, len(actions))
	copy(out, actions)

	var events []domain.TransitionEvent
	for i := range out {
		if !e.Eligible(out[i]) {
			continue
		}
		reason := Reason
		ev := domain.TransitionEvent{
			ID:         EventID(out[i].IncidentID, out[i].ID),
			IncidentID: out[i].IncidentID,
			ActionID:   out[i].ID,
			FromState:  out[i].CurrentState(),
			ToState:    domain.ActionStateApproved,
			Actor:      Actor,
			Source:     domain.SourceAutoApprovalPolicy,
			Reason:     &reason,
			Timestamp:  now,
		}
		out[i].Apply(ev)
		events = append(events, ev)
	}

	return Result{Actions: out, Events: events}
}

var eventNamespace = uuid.MustParse("6f1c2a4e-8d7b-4c53-9a0e-2b5d7f3e1c88")

// EventID is the deterministic id of the auto-approval event for an action.
func EventID(incidentID, actionID string) string {
	return uuid.NewSHA1(eventNamespace, []byte(incidentID+"|"+actionID+"|"+string(domain.ActionStateApproved))).String()
}
