// Package memory provides an in-memory incident repository.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/datapulse/orchestrator/internal/incidents"
)

// Repository implements incidents.Repository in memory. Stored documents are
// never shared with callers.
type Repository struct {
	mu        sync.RWMutex
	incidents map[string]*domain.Incident
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{incidents: make(map[string]*domain.Incident)}
}

// Create stores a new incident at version 1.
func (r *Repository) Create(_ context.Context, incident *domain.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.incidents[incident.ID]; ok {
		return incidents.ErrIncidentExists
	}
	incident.Version = 1
	r.incidents[incident.ID] = incident.Clone()
	return nil
}

// Get returns a copy of the incident.
func (r *Repository) Get(_ context.Context, id string) (*domain.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.incidents[id]
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}
	return stored.Clone(), nil
}

// Update replaces the incident if its version matches the stored one.
func (r *Repository) Update(_ context.Context, incident *domain.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.incidents[incident.ID]
	if !ok {
		return incidents.ErrIncidentNotFound
	}
	if stored.Version != incident.Version {
		return incidents.ErrVersionConflict
	}
	incident.Version++
	r.incidents[incident.ID] = incident.Clone()
	return nil
}

// List filters, sorts and pages incidents.
func (r *Repository) List(_ context.Context, filter incidents.IncidentFilter) ([]*domain.Incident, int, error) {
	r.mu.RLock()
	matched := make([]*domain.Incident, 0, len(r.incidents))
	for _, inc := range r.incidents {
		if filter.Severity != nil && inc.Severity != *filter.Severity {
			continue
		}
		if filter.Status != nil && inc.Status != *filter.Status {
			continue
		}
		matched = append(matched, inc.Clone())
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		c := compare(matched[i], matched[j], filter.Sort)
		if c == 0 {
			c = strings.Compare(matched[i].ID, matched[j].ID)
		}
		if filter.Order == incidents.OrderAsc {
			return c < 0
		}
		return c > 0
	})

	total := len(matched)
	if filter.Offset >= total {
		return make([]*domain.Incident, 0), total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < total {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

// Ping always succeeds.
func (r *Repository) Ping(_ context.Context) error {
	return nil
}

func compare(a, b *domain.Incident, field incidents.SortField) int {
	switch field {
	case incidents.SortDetectedAt:
		return a.DetectedAt.Compare(b.DetectedAt)
	case incidents.SortSeverity:
		return a.Severity.Rank() - b.Severity.Rank()
	case incidents.SortService:
		return strings.Compare(a.Service, b.Service)
	case incidents.SortStatus:
		return strings.Compare(string(a.Status), string(b.Status))
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}
