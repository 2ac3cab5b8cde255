// Package audit provides the append-only audit log of transitions and decisions.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/google/uuid"
)

// GenesisHash is the prev_hash of the first record of every incident chain.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// ErrChainBroken is returned by Verify when a record does not link to its predecessor.
var ErrChainBroken = errors.New("audit chain broken")

// Repository is the append-only audit store. Implementations chain records of
// the same incident with Seal while holding a per-incident lock.
type Repository interface {
	Append(ctx context.Context, record domain.AuditRecord) error
	ListByIncident(ctx context.Context, incidentID string) ([]domain.AuditRecord, error)
}

// NewTransitionRecord wraps a transition event.
func NewTransitionRecord(ev domain.TransitionEvent) domain.AuditRecord {
	ev.Timestamp = normalizeTime(ev.Timestamp)
	return domain.AuditRecord{
		ID:         uuid.NewString(),
		Kind:       domain.AuditKindTransition,
		IncidentID: ev.IncidentID,
		ActionID:   ev.ActionID,
		Timestamp:  ev.Timestamp,
		Transition: &ev,
	}
}

// NewDecisionRecord wraps a raw webhook decision.
func NewDecisionRecord(incidentID, actionID string, d domain.Decision, at time.Time) domain.AuditRecord {
	return domain.AuditRecord{
		ID:         uuid.NewString(),
		Kind:       domain.AuditKindDecision,
		IncidentID: incidentID,
		ActionID:   actionID,
		Timestamp:  normalizeTime(at),
		Decision:   &d,
	}
}

// Seal links record to prevHash and computes its own hash.
func Seal(record domain.AuditRecord, prevHash string) (domain.AuditRecord, error) {
	if prevHash == "" {
		prevHash = GenesisHash
	}
	record.Timestamp = normalizeTime(record.Timestamp)
	record.PrevHash = prevHash
	hash, err := Hash(record)
	if err != nil {
		return record, err
	}
	record.Hash = hash
	return record, nil
}

// Hash returns "sha256:<hex>" over the canonical JSON of the record. The
// store-assigned sequence and the hash itself are excluded.
func Hash(record domain.AuditRecord) (string, error) {
	record.Hash = ""
	record.Sequence = 0
	record.Timestamp = normalizeTime(record.Timestamp)
	if record.Transition != nil {
		tr := *record.Transition
		tr.Timestamp = normalizeTime(tr.Timestamp)
		record.Transition = &tr
	}
	line, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal audit record: %w", err)
	}
	sum := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Verify checks that records (in append order, one incident) form an unbroken chain.
func Verify(records []domain.AuditRecord) error {
	prev := GenesisHash
	for i, r := range records {
		if r.PrevHash != prev {
			return fmt.Errorf("%w: record %d (%s) prev_hash mismatch", ErrChainBroken, i, r.ID)
		}
		want, err := Hash(r)
		if err != nil {
			return err
		}
		if r.Hash != want {
			return fmt.Errorf("%w: record %d (%s) hash mismatch", ErrChainBroken, i, r.ID)
		}
		prev = r.Hash
	}
	return nil
}

// Transitions extracts transition events in log order.
func Transitions(records []domain.AuditRecord) []domain.TransitionEvent {
	var out []domain.TransitionEvent
	for _, r := range records {
		if r.Kind == domain.AuditKindTransition && r.Transition != nil {
			out = append(out, *r.Transition)
		}
	}
	return out
}

// normalizeTime keeps timestamps stable across a Postgres round trip.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
