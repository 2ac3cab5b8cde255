// Package memory provides an in-memory audit log.
package memory

import (
	"context"
	"sync"

	"github.com/datapulse/orchestrator/internal/audit"
	"github.com/datapulse/orchestrator/internal/domain"
)

// Repository implements audit.Repository in memory.
type Repository struct {
	mu      sync.Mutex
	seq     int64
	records map[string][]domain.AuditRecord
}

// NewRepository creates an empty audit log.
func NewRepository() *Repository {
	return &Repository{records: make(map[string][]domain.AuditRecord)}
}

// Append chains and stores a record.
func (r *Repository) Append(_ context.Context, record domain.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.records[record.IncidentID]
	prev := audit.GenesisHash
	if len(chain) > 0 {
		prev = chain[len(chain)-1].Hash
	}

	sealed, err := audit.Seal(record, prev)
	if err != nil {
		return err
	}
	r.seq++
	sealed.Sequence = r.seq
	r.records[record.IncidentID] = append(chain, sealed)
	return nil
}

// ListByIncident returns the records of one incident in append order.
func (r *Repository) ListByIncident(_ context.Context, incidentID string) ([]domain.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.AuditRecord, len(r.records[incidentID]))
	copy(out, r.records[incidentID])
	return out, nil
}
