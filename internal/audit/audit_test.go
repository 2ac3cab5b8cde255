package audit

import (
	"testing"
	"time"

	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transition(actionID string, to domain.ActionState, at time.Time) domain.TransitionEvent {
	return domain.TransitionEvent{
		ID:         "ev-" + actionID + "-" + string(to),
		IncidentID: "INC-1",
		ActionID:   actionID,
		FromState:  domain.ActionStateProposed,
		ToState:    to,
		Actor:      "alice",
		Source:     domain.SourceUI,
		Timestamp:  at,
	}
}

func chain(t *testing.T, records ...domain.AuditRecord) []domain.AuditRecord {
	t.Helper()
	prev := GenesisHash
	out := make([]domain.AuditRecord, 0, len(records))
	for _, r := range records {
		sealed, err := Seal(r, prev)
		require.NoError(t, err)
		out = append(out, sealed)
		prev = sealed.Hash
	}
	return out
}

func TestSealAndVerify(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	records := chain(t,
		NewTransitionRecord(transition("ACT-1", domain.ActionStateApproved, at)),
		NewDecisionRecord("INC-1", "ACT-2", domain.Decision{Channel: "slack", Decision: "reject", Actor: "slack:bob", Outcome: domain.DecisionReceived}, at.Add(time.Second)),
	)

	assert.Equal(t, GenesisHash, records[0].PrevHash)
	assert.Equal(t, records[0].Hash, records[1].PrevHash)
	assert.NoError(t, Verify(records))
}

func TestVerify_DetectsTampering(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records := chain(t,
		NewTransitionRecord(transition("ACT-1", domain.ActionStateApproved, at)),
		NewTransitionRecord(transition("ACT-2", domain.ActionStateRejected, at.Add(time.Second))),
	)

	records[0].Transition.Actor = "mallory"

	err := Verify(records)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChainBroken)
}

func TestVerify_DetectsRemovedRecord(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records := chain(t,
		NewTransitionRecord(transition("ACT-1", domain.ActionStateApproved, at)),
		NewTransitionRecord(transition("ACT-2", domain.ActionStateRejected, at.Add(time.Second))),
		NewTransitionRecord(transition("ACT-3", domain.ActionStateRejected, at.Add(2*time.Second))),
	)

	err := Verify([]domain.AuditRecord{records[0], records[2]})
	assert.ErrorIs(t, err, ErrChainBroken)
}

func TestHash_StableAcrossTimezones(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec, err := Seal(NewTransitionRecord(transition("ACT-1", domain.ActionStateApproved, at)), "")
	require.NoError(t, err)

	moved := rec
	moved.Timestamp = rec.Timestamp.In(time.FixedZone("X", 3*3600))
	moved.Sequence = 42

	hash, err := Hash(moved)
	require.NoError(t, err)
	assert.Equal(t, rec.Hash, hash)
}

func TestTransitions_SkipsDecisions(t *testing.T) {
	at := time.Now()
	records := []domain.AuditRecord{
		NewDecisionRecord("INC-1", "ACT-1", domain.Decision{Decision: "approve"}, at),
		NewTransitionRecord(transition("ACT-1", domain.ActionStateApproved, at)),
	}

	events := Transitions(records)

	require.Len(t, events, 1)
	assert.Equal(t, "ACT-1", events[0].ActionID)
}
