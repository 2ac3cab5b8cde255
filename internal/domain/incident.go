// Package domain contains the incident, action and audit types shared by the orchestrator.
package domain

import (
	"encoding/json"
	"time"
)

// IncidentStatus is opaque to the orchestration core beyond existence.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen     IncidentStatus = "open"
	IncidentStatusResolved IncidentStatus = "resolved"
)

// Severity represents the severity reported by the detector.
type Severity string

// Severity levels.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is known.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities for sorting; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Metrics is the snapshot captured by the detector.
type Metrics struct {
	ErrorRate    float64 `json:"error_rate"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
}

// Evidence is a piece of supporting data attached at detection time.
type Evidence struct {
	Type    string  `json:"type"`
	Ref     *string `json:"ref,omitempty"`
	Text    *string `json:"text,omitempty"`
	Snippet *string `json:"snippet,omitempty"`
}

// TimelineEntry is a narrative event on the incident timeline.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
}

// Incident is the document owned by the incident repository.
// Version is the optimistic concurrency token and is managed by the repository.
type Incident struct {
	ID                string            `json:"incident_id"`
	Source            string            `json:"source"`
	Service           string            `json:"service"`
	DetectedAt        time.Time         `json:"detected_at"`
	Severity          Severity          `json:"severity"`
	Metrics           Metrics           `json:"metrics"`
	Evidence          []Evidence        `json:"evidence"`
	CorrelationID     string            `json:"correlation_id"`
	Status            IncidentStatus    `json:"status"`
	Timeline          []TimelineEntry   `json:"timeline"`
	AnalystReport     json.RawMessage   `json:"analyst_report,omitempty"`
	ResolverProposals json.RawMessage   `json:"resolver_proposals,omitempty"`
	Actions           []Action          `json:"actions"`
	ActionHistory     []TransitionEvent `json:"action_history"`
	TicketKey         *string           `json:"ticket_key,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	Version           int64             `json:"version"`
}

// FindAction returns the index of the action with the given id, or -1.
func (i *Incident) FindAction(actionID string) int {
	for idx := range i.Actions {
		if i.Actions[idx].ID == actionID {
			return idx
		}
	}
	return -1
}

// HasLegacyProposals reports whether the incident only carries raw resolver
// proposals and no canonical actions yet.
func (i *Incident) HasLegacyProposals() bool {
	return len(i.Actions) == 0 && len(i.ResolverProposals) > 0 && string(i.ResolverProposals) != "null"
}

// AppendTimeline adds a narrative entry.
func (i *Incident) AppendTimeline(at time.Time, event string) {
	i.Timeline = append(i.Timeline, TimelineEntry{Timestamp: at, Event: event})
}

// Clone returns a deep copy so callers never share slices with a store.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	c := *i
	if i.Evidence != nil {
		c.Evidence = make([]Evidence, len(i.Evidence))
		copy(c.Evidence, i.Evidence)
	}
	if i.Timeline != nil {
		c.Timeline = make([]TimelineEntry, len(i.Timeline))
		copy(c.Timeline, i.Timeline)
	}
	if i.AnalystReport != nil {
		c.AnalystReport = append(json.RawMessage(nil), i.AnalystReport...)
	}
	if i.ResolverProposals != nil {
		c.ResolverProposals = append(json.RawMessage(nil), i.ResolverProposals...)
	}
	if i.Actions != nil {
		c.Actions = make([]Action, len(i.Actions))
		copy(c.Actions, i.Actions)
	}
	if i.ActionHistory != nil {
		c.ActionHistory = make([]TransitionEvent, len(i.ActionHistory))
		copy(c.ActionHistory, i.ActionHistory)
	}
	if i.TicketKey != nil {
		key := *i.TicketKey
		c.TicketKey = &key
	}
	return &c
}
