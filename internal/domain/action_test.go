package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStates = []ActionState{
	ActionStateProposed,
	ActionStateApproved,
	ActionStateRejected,
	ActionStateExecuted,
	ActionStateFailed,
}

func TestActionState_CanTransitionTo(t *testing.T) {
	allowed := map[[2]ActionState]bool{
		{ActionStateProposed, ActionStateApproved}: true,
		{ActionStateProposed, ActionStateRejected}: true,
		{ActionStateApproved, ActionStateExecuted}: true,
		{ActionStateApproved, ActionStateFailed}:   true,
	}

	for _, from := range allStates {
		for _, to := range allStates {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				assert.Equal(t, allowed[[2]ActionState{from, to}], from.CanTransitionTo(to))
			})
		}
	}
}

func TestActionState_TerminalStatesHaveNoExits(t *testing.T) {
	for _, from := range allStates {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range allStates {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestAction_CurrentState_DefaultsToProposed(t *testing.T) {
	assert.Equal(t, ActionStateProposed, Action{}.CurrentState())
	assert.Equal(t, ActionStateApproved, Action{State: ActionStateApproved}.CurrentState())
}

func TestNormalizeActionType(t *testing.T) {
	assert.Equal(t, "scale_out", NormalizeActionType("  Scale_Out "))
}

func TestSeverity_Rank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityLow.Rank(), Severity("bogus").Rank())
	assert.False(t, Severity("bogus").IsValid())
}
