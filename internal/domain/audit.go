package domain

import "time"

// AuditKind distinguishes the records held in the audit log.
type AuditKind string

// Audit record kinds.
const (
	AuditKindTransition AuditKind = "transition"
	AuditKindDecision   AuditKind = "decision"
)

// DecisionOutcome is what happened to a webhook decision after it was recorded.
type DecisionOutcome string

// Decision outcomes.
const (
	DecisionReceived DecisionOutcome = "received"
	DecisionApplied  DecisionOutcome = "applied"
	DecisionRefused  DecisionOutcome = "refused"
)

// Decision is the raw approve/reject callback received from a chat channel.
type Decision struct {
	Channel  string          `json:"channel"`
	Decision string          `json:"decision"`
	Actor    string          `json:"actor"`
	RawValue string          `json:"raw_value"`
	Outcome  DecisionOutcome `json:"outcome"`
	Error    string          `json:"error,omitempty"`
}

// AuditRecord is one append-only entry of the audit log, keyed by
// (incident, action, timestamp). Hash chains records of the same incident.
type AuditRecord struct {
	ID         string           `json:"id"`
	Kind       AuditKind        `json:"kind"`
	IncidentID string           `json:"incident_id"`
	ActionID   string           `json:"action_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Sequence   int64            `json:"sequence"`
	Transition *TransitionEvent `json:"transition,omitempty"`
	Decision   *Decision        `json:"decision,omitempty"`
	PrevHash   string           `json:"prev_hash"`
	Hash       string           `json:"hash"`
}
