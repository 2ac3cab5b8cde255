package incidents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeProposals_Defaults(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	proposals, err := ParseProposals(json.RawMessage(`[
		{"action_type":"rollback","estimated_time":"10m"},
		{"action_id":" fix-db ","action_type":"scale_up","title":"Scale DB","estimated_duration":"5m","estimated_time":"9m","requires_approval":false,"risk_score":0.4,"url":"https://runbooks/db"}
	]`))
	require.NoError(t, err)

	actions, err := NormalizeProposals("INC-1", proposals, now)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	first := actions[0]
	assert.Equal(t, "ACT-1", first.ID)
	assert.Equal(t, "INC-1", first.IncidentID)
	assert.Equal(t, domain.ActionStateProposed, first.State)
	assert.Equal(t, "rollback", first.Title)
	assert.Equal(t, "10m", first.EstimatedDuration)
	assert.True(t, first.RequiresApproval)
	assert.Equal(t, domain.DefaultRiskScore, first.RiskScore)
	assert.Equal(t, now, first.CreatedAt)

	second := actions[1]
	assert.Equal(t, "fix-db", second.ID)
	assert.Equal(t, "Scale DB", second.Title)
	assert.Equal(t, "5m", second.EstimatedDuration)
	assert.False(t, second.RequiresApproval)
	assert.InDelta(t, 0.4, second.RiskScore, 1e-9)
	require.NotNil(t, second.URL)
	assert.Equal(t, "https://runbooks/db", *second.URL)
}

func TestNormalizeProposals_IsDeterministic(t *testing.T) {
	raw := json.RawMessage(`[{"action_type":"a"},{"action_type":"b"},{"action_type":"c"}]`)
	proposals, err := ParseProposals(raw)
	require.NoError(t, err)

	first, err := NormalizeProposals("INC-1", proposals, time.Unix(0, 0))
	require.NoError(t, err)
	second, err := NormalizeProposals("INC-1", proposals, time.Unix(100, 0))
	require.NoError(t, err)

	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	assert.Equal(t, "ACT-3", first[2].ID)
}

func TestNormalizeProposals_ExplicitIDCollidesWithPosition(t *testing.T) {
	proposals, err := ParseProposals(json.RawMessage(`[{"action_type":"a"},{"action_id":"ACT-1","action_type":"b"}]`))
	require.NoError(t, err)

	_, err = NormalizeProposals("INC-1", proposals, time.Now())

	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateProposals(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"empty array", `[]`, false},
		{"minimal", `[{"action_type":"rollback"}]`, false},
		{"null url", `[{"action_type":"rollback","url":null}]`, false},
		{"missing type", `[{"title":"x"}]`, true},
		{"empty type", `[{"action_type":""}]`, true},
		{"string risk", `[{"action_type":"x","risk_score":"low"}]`, true},
		{"string approval", `[{"action_type":"x","requires_approval":"no"}]`, true},
		{"object", `{"action_type":"x"}`, true},
		{"malformed", `[{`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProposals(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMigrateLegacyProposals(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("imports when no actions exist", func(t *testing.T) {
		inc := &domain.Incident{
			ID:                "INC-1",
			ResolverProposals: json.RawMessage(`[{"action_id":"ACT-1","title":"Rollback"},{"action_type":"restart"}]`),
		}

		require.NoError(t, migrateLegacyProposals(inc, now))

		require.Len(t, inc.Actions, 2)
		assert.Equal(t, "Rollback", inc.Actions[0].Title)
		assert.Equal(t, "ACT-2", inc.Actions[1].ID)
	})

	t.Run("leaves canonical actions alone", func(t *testing.T) {
		inc := &domain.Incident{
			ID:                "INC-1",
			ResolverProposals: json.RawMessage(`[{"action_id":"ACT-9","action_type":"x"}]`),
			Actions:           []domain.Action{{ID: "ACT-1", State: domain.ActionStateApproved}},
		}

		require.NoError(t, migrateLegacyProposals(inc, now))

		require.Len(t, inc.Actions, 1)
		assert.Equal(t, "ACT-1", inc.Actions[0].ID)
	})

	t.Run("unreadable proposals", func(t *testing.T) {
		inc := &domain.Incident{ID: "INC-1", ResolverProposals: json.RawMessage(`"oops"`)}

		assert.Error(t, migrateLegacyProposals(inc, now))
		assert.Empty(t, inc.Actions)
	})
}

func TestIncidentFilter_Normalize(t *testing.T) {
	f := IncidentFilter{}
	require.NoError(t, f.Normalize())
	assert.Equal(t, DefaultListLimit, f.Limit)
	assert.Equal(t, SortCreatedAt, f.Sort)
	assert.Equal(t, OrderDesc, f.Order)

	_, err := ParseSortField("priority")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = ParseSortOrder("up")
	assert.ErrorIs(t, err, ErrValidation)
}
