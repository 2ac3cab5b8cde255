package incidents

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/datapulse/orchestrator/internal/audit"
	"github.com/datapulse/orchestrator/internal/domain"
)

// mockRepository implements Repository with version checks.
type mockRepository struct {
	mu        sync.Mutex
	incidents map[string]*domain.Incident

	createErr error
	updateErr error
	listErr   error
	// conflicts makes the next n Update calls fail with ErrVersionConflict.
	conflicts int
	updates   int
}

func newMockRepository() *mockRepository {
	return &mockRepository{incidents: make(map[string]*domain.Incident)}
}

func (m *mockRepository) Create(_ context.Context, incident *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.incidents[incident.ID]; ok {
		return ErrIncidentExists
	}
	incident.Version = 1
	m.incidents[incident.ID] = incident.Clone()
	return nil
}

func (m *mockRepository) Get(_ context.Context, id string) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return inc.Clone(), nil
}

func (m *mockRepository) Update(_ context.Context, incident *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return ErrVersionConflict
	}
	stored, ok := m.incidents[incident.ID]
	if !ok {
		return ErrIncidentNotFound
	}
	if stored.Version != incident.Version {
		return ErrVersionConflict
	}
	incident.Version++
	m.incidents[incident.ID] = incident.Clone()
	m.updates++
	return nil
}

func (m *mockRepository) List(_ context.Context, filter IncidentFilter) ([]*domain.Incident, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	out := make([]*domain.Incident, 0)
	for _, inc := range m.incidents {
		if filter.Status != nil && inc.Status != *filter.Status {
			continue
		}
		if filter.Severity != nil && inc.Severity != *filter.Severity {
			continue
		}
		out = append(out, inc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if filter.Offset >= total {
		return []*domain.Incident{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < total {
		end = filter.Offset + filter.Limit
	}
	return out[filter.Offset:end], total, nil
}

func (m *mockRepository) Ping(_ context.Context) error { return nil }

func (m *mockRepository) put(inc *domain.Incident) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inc.Version == 0 {
		inc.Version = 1
	}
	m.incidents[inc.ID] = inc.Clone()
}

func (m *mockRepository) stored(id string) *domain.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incidents[id].Clone()
}

// mockAudit implements audit.Repository with real hash chaining.
type mockAudit struct {
	mu        sync.Mutex
	records   map[string][]domain.AuditRecord
	appendErr error
}

func newMockAudit() *mockAudit {
	return &mockAudit{records: make(map[string][]domain.AuditRecord)}
}

func (m *mockAudit) Append(_ context.Context, record domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	chain := m.records[record.IncidentID]
	prev := audit.GenesisHash
	if len(chain) > 0 {
		prev = chain[len(chain)-1].Hash
	}
	sealed, err := audit.Seal(record, prev)
	if err != nil {
		return err
	}
	sealed.Sequence = int64(len(chain) + 1)
	m.records[record.IncidentID] = append(chain, sealed)
	return nil
}

func (m *mockAudit) ListByIncident(_ context.Context, id string) ([]domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AuditRecord, len(m.records[id]))
	copy(out, m.records[id])
	return out, nil
}

func (m *mockAudit) transitions(id string) []domain.TransitionEvent {
	records, _ := m.ListByIncident(context.Background(), id)
	return audit.Transitions(records)
}

// syncRunner runs tasks inline.
type syncRunner struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (r *syncRunner) Submit(name string, fn func(ctx context.Context)) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	fn(context.Background())
	return nil
}

type mockDispatcher struct {
	mu        sync.Mutex
	analyst   []string
	resolver  []string
	rcca      []json.RawMessage
	returnErr error
}

func (d *mockDispatcher) TriggerAnalyst(_ context.Context, incident *domain.Incident) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.analyst = append(d.analyst, incident.ID)
	return d.returnErr
}

func (d *mockDispatcher) TriggerResolver(_ context.Context, incidentID string, rcca json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resolver = append(d.resolver, incidentID)
	d.rcca = append(d.rcca, rcca)
	return d.returnErr
}

type mockNotifier struct {
	mu        sync.Mutex
	opened    []string
	approvals []string
	ticketKey string
	openErr   error
}

func (n *mockNotifier) IncidentOpened(_ context.Context, incident *domain.Incident) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, incident.ID)
	return n.ticketKey, n.openErr
}

func (n *mockNotifier) ApprovalRequested(_ context.Context, incidentID string, action domain.Action) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approvals = append(n.approvals, incidentID+"/"+action.ID)
	return nil
}
