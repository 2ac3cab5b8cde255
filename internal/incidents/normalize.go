package incidents

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/datapulse/orchestrator/internal/domain"
)

// Proposal is one remediation step as emitted by the resolver agent.
// Optional fields are pointers so absence can be told apart from zero.
type Proposal struct {
	ActionID          *string  `json:"action_id,omitempty"`
	ActionType        string   `json:"action_type"`
	Title             string   `json:"title,omitempty"`
	Description       string   `json:"description,omitempty"`
	EstimatedDuration string   `json:"estimated_duration,omitempty"`
	EstimatedTime     string   `json:"estimated_time,omitempty"`
	URL               *string  `json:"url,omitempty"`
	RequiresApproval  *bool    `json:"requires_approval,omitempty"`
	RiskScore         *float64 `json:"risk_score,omitempty"`
}

// ParseProposals validates raw resolver proposals and decodes them.
func ParseProposals(raw json.RawMessage) ([]Proposal, error) {
	if err := ValidateProposals(raw); err != nil {
		return nil, err
	}
	var proposals []Proposal
	if err := json.Unmarshal(raw, &proposals); err != nil {
		return nil, validationError("decode proposals: %v", err)
	}
	return proposals, nil
}

// SequentialActionID is the id given to the n-th (1-based) proposal that has none.
func SequentialActionID(n int) string {
	return fmt.Sprintf("ACT-%d", n)
}

// NormalizeProposals converts proposals into canonical proposed actions.
// Ids come from the proposal or from its position, so the same report always
// yields the same ids.
func NormalizeProposals(incidentID string, proposals []Proposal, now time.Time) ([]domain.Action, error) {
	actions := make([]domain.Action, 0, len(proposals))
	seen := make(map[string]struct{}, len(proposals))

	for i, p := range proposals {
		id := SequentialActionID(i + 1)
		if p.ActionID != nil && strings.TrimSpace(*p.ActionID) != "" {
			id = strings.TrimSpace(*p.ActionID)
		}
		if _, dup := seen[id]; dup {
			return nil, validationError("duplicate action_id %q", id)
		}
		seen[id] = struct{}{}

		actions = append(actions, normalizeProposal(incidentID, id, p, now))
	}

	return actions, nil
}

func normalizeProposal(incidentID, id string, p Proposal, now time.Time) domain.Action {
	title := p.Title
	if title == "" {
		title = p.ActionType
	}

	duration := p.EstimatedDuration
	if duration == "" {
		duration = p.EstimatedTime
	}

	requiresApproval := true
	if p.RequiresApproval != nil {
		requiresApproval = *p.RequiresApproval
	}

	risk := domain.DefaultRiskScore
	if p.RiskScore != nil {
		risk = *p.RiskScore
	}

	return domain.Action{
		ID:                id,
		IncidentID:        incidentID,
		State:             domain.ActionStateProposed,
		Type:              p.ActionType,
		Title:             title,
		Description:       p.Description,
		EstimatedDuration: duration,
		URL:               p.URL,
		RequiresApproval:  requiresApproval,
		RiskScore:         risk,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// migrateLegacyProposals imports the raw proposals of an incident that has no
// canonical actions yet. Afterwards Actions is the only representation read.
func migrateLegacyProposals(inc *domain.Incident, now time.Time) error {
	if !inc.HasLegacyProposals() {
		return nil
	}
	var proposals []Proposal
	if err := json.Unmarshal(inc.ResolverProposals, &proposals); err != nil {
		return fmt.Errorf("decode legacy proposals: %w", err)
	}
	actions, err := NormalizeProposals(inc.ID, proposals, now)
	if err != nil {
		return fmt.Errorf("normalize legacy proposals: %w", err)
	}
	inc.Actions = actions
	return nil
}
