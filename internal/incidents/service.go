// Package incidents provides the incident orchestration core: creation,
// report ingestion, action transitions and reconciliation against the audit log.
package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/datapulse/orchestrator/internal/audit"
	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/datapulse/orchestrator/internal/pkg/ctxlog"
	"github.com/datapulse/orchestrator/internal/pkg/keylock"
	"github.com/datapulse/orchestrator/internal/policy"
	"github.com/google/uuid"
)

// AgentDispatcher invokes the next agent of the pipeline.
type AgentDispatcher interface {
	TriggerAnalyst(ctx context.Context, incident *domain.Incident) error
	TriggerResolver(ctx context.Context, incidentID string, rcca json.RawMessage) error
}

// Notifier delivers incident alerts and approval requests to chat and ticketing channels.
type Notifier interface {
	IncidentOpened(ctx context.Context, incident *domain.Incident) (ticketKey string, err error)
	ApprovalRequested(ctx context.Context, incidentID string, action domain.Action) error
}

// TaskRunner runs fire-and-forget background work.
type TaskRunner interface {
	Submit(name string, fn func(ctx context.Context)) error
}

// PolicyEvaluator decides which proposed actions are auto-approved.
type PolicyEvaluator interface {
	Evaluate(actions []domain.Action, now time.Time) policy.Result
}

// Config contains service configuration.
type Config struct {
	// MaxUpdateAttempts bounds re-read/re-apply cycles on version conflicts.
	MaxUpdateAttempts int
}

const defaultMaxUpdateAttempts = 5

// Service implements incident business logic.
type Service struct {
	repo        Repository
	audit       audit.Repository
	policy      PolicyEvaluator
	dispatcher  AgentDispatcher
	notifier    Notifier
	runner      TaskRunner
	locks       *keylock.Locker
	maxAttempts int
	now         func() time.Time
}

// NewService creates a new incident service. dispatcher and notifier may be nil.
func NewService(
	repo Repository,
	auditLog audit.Repository,
	engine PolicyEvaluator,
	dispatcher AgentDispatcher,
	notifier Notifier,
	runner TaskRunner,
	cfg Config,
) *Service {
	if cfg.MaxUpdateAttempts <= 0 {
		cfg.MaxUpdateAttempts = defaultMaxUpdateAttempts
	}
	return &Service{
		repo:        repo,
		audit:       auditLog,
		policy:      engine,
		dispatcher:  dispatcher,
		notifier:    notifier,
		runner:      runner,
		locks:       keylock.New(),
		maxAttempts: cfg.MaxUpdateAttempts,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// CreateInput holds the detector's description of a new incident.
type CreateInput struct {
	Source        string
	Service       string
	DetectedAt    time.Time
	Severity      domain.Severity
	Metrics       domain.Metrics
	Evidence      []domain.Evidence
	CorrelationID string
}

// NewIncidentID returns a fresh "INC-XXXXXXXX" identifier.
func NewIncidentID() string {
	return "INC-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Create stores a new open incident, then schedules the incident alert and the
// analyst run. Nothing is scheduled when the write fails.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Incident, error) {
	if !in.Severity.IsValid() {
		return nil, validationError("unknown severity %q", in.Severity)
	}

	now := s.now()
	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	evidence := in.Evidence
	if evidence == nil {
		evidence = make([]domain.Evidence, 0)
	}

	incident := &domain.Incident{
		ID:            NewIncidentID(),
		Source:        in.Source,
		Service:       in.Service,
		DetectedAt:    in.DetectedAt.UTC(),
		Severity:      in.Severity,
		Metrics:       in.Metrics,
		Evidence:      evidence,
		CorrelationID: correlationID,
		Status:        domain.IncidentStatusOpen,
		Timeline:      []domain.TimelineEntry{{Timestamp: now, Event: "Incident detected by " + in.Source}},
		Actions:       make([]domain.Action, 0),
		ActionHistory: make([]domain.TransitionEvent, 0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, incident); err != nil {
		return nil, &CreateError{
			IncidentID:    incident.ID,
			CorrelationID: correlationID,
			Err:           storeError("create incident", err),
		}
	}

	ctxlog.FromContext(ctx).Info("incident created",
		"incident_id", incident.ID,
		"service", incident.Service,
		"severity", incident.Severity,
		"correlation_id", correlationID,
	)

	snapshot := incident.Clone()
	if s.notifier != nil {
		s.submit(ctx, "notify_incident_opened", func(ctx context.Context) {
			s.notifyIncidentOpened(ctx, snapshot)
		})
	}
	if s.dispatcher != nil {
		s.submit(ctx, "trigger_analyst", func(ctx context.Context) {
			if err := s.dispatcher.TriggerAnalyst(ctx, snapshot); err != nil {
				ctxlog.FromContext(ctx).Error("failed to trigger analyst", "incident_id", snapshot.ID, "error", err)
			}
		})
	}

	return incident, nil
}

// Get returns an incident by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, storeError("get incident", err)
	}
	return incident, nil
}

// List returns a page of incidents and the total number matching the filter.
func (s *Service) List(ctx context.Context, filter IncidentFilter) ([]*domain.Incident, int, error) {
	if err := filter.Normalize(); err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, storeError("list incidents", err)
	}
	return items, total, nil
}

// ListActions returns the incident's canonical actions. An incident that only
// carries raw proposals is shown normalized without being rewritten.
func (s *Service) ListActions(ctx context.Context, id string) ([]domain.Action, error) {
	incident, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := migrateLegacyProposals(incident, incident.UpdatedAt); err != nil {
		ctxlog.FromContext(ctx).Warn("ignoring unreadable legacy proposals", "incident_id", id, "error", err)
	}
	if incident.Actions == nil {
		return make([]domain.Action, 0), nil
	}
	return incident.Actions, nil
}

// ListHistory returns the incident's embedded transition history.
func (s *Service) ListHistory(ctx context.Context, id string) ([]domain.TransitionEvent, error) {
	incident, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.ActionHistory == nil {
		return make([]domain.TransitionEvent, 0), nil
	}
	return incident.ActionHistory, nil
}

// AuditTrail is the audit log of one incident with its chain verification result.
type AuditTrail struct {
	IncidentID string               `json:"incident_id"`
	Records    []domain.AuditRecord `json:"records"`
	ChainValid bool                 `json:"chain_valid"`
	ChainError string               `json:"chain_error,omitempty"`
}

// GetAuditTrail reads and verifies the audit log of an incident.
func (s *Service) GetAuditTrail(ctx context.Context, id string) (*AuditTrail, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.audit.ListByIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w: %w", ErrPersistence, err)
	}

	trail := &AuditTrail{IncidentID: id, Records: records, ChainValid: true}
	if err := audit.Verify(records); err != nil {
		trail.ChainValid = false
		trail.ChainError = err.Error()
	}
	return trail, nil
}

// mutate applies fn to a freshly read snapshot and writes it back with a
// conditional update, re-reading and re-applying on version conflicts.
// fn reports whether it changed the snapshot; unchanged snapshots are not written.
func (s *Service) mutate(ctx context.Context, id string, fn func(incident *domain.Incident) (bool, error)) (*domain.Incident, error) {
	for attempt := 1; ; attempt++ {
		incident, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, storeError("get incident", err)
		}

		changed, err := fn(incident)
		if err != nil {
			return nil, err
		}
		if !changed {
			return incident, nil
		}

		incident.UpdatedAt = s.now()
		err = s.repo.Update(ctx, incident)
		if err == nil {
			return incident, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, storeError("update incident", err)
		}

		versionConflicts.Inc()
		if attempt >= s.maxAttempts {
			return nil, fmt.Errorf("update incident %s after %d attempts: %w: %w", id, attempt, ErrPersistence, err)
		}
		ctxlog.FromContext(ctx).Debug("incident version conflict, retrying",
			"incident_id", id,
			"attempt", attempt,
		)
	}
}

func (s *Service) notifyIncidentOpened(ctx context.Context, incident *domain.Incident) {
	ticketKey, err := s.notifier.IncidentOpened(ctx, incident)
	if err != nil {
		ctxlog.FromContext(ctx).Error("failed to notify incident opened", "incident_id", incident.ID, "error", err)
	}
	if ticketKey == "" {
		return
	}
	if err := s.AttachTicket(ctx, incident.ID, ticketKey); err != nil {
		ctxlog.FromContext(ctx).Error("failed to attach ticket", "incident_id", incident.ID, "ticket_key", ticketKey, "error", err)
	}
}

// AttachTicket records the ticket key created for an incident.
func (s *Service) AttachTicket(ctx context.Context, id, ticketKey string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	_, err := s.mutate(ctx, id, func(incident *domain.Incident) (bool, error) {
		if incident.TicketKey != nil && *incident.TicketKey == ticketKey {
			return false, nil
		}
		key := ticketKey
		incident.TicketKey = &key
		incident.AppendTimeline(s.now(), "Ticket "+ticketKey+" created")
		return true, nil
	})
	return err
}

func (s *Service) submit(ctx context.Context, name string, fn func(ctx context.Context)) {
	parent := ctxlog.WithLogger(ctx, ctxlog.FromContext(ctx).With("task", name))
	task := func(taskCtx context.Context) {
		fn(ctxlog.Inherit(taskCtx, parent))
	}
	if err := s.runner.Submit(name, task); err != nil {
		ctxlog.FromContext(parent).Error("background task dropped", "error", err)
	}
}

// appendAudit writes a record to the audit log. A failure never undoes the
// document write that preceded it.
func (s *Service) appendAudit(ctx context.Context, record domain.AuditRecord) {
	if err := s.audit.Append(ctx, record); err != nil {
		auditAppendFailures.Inc()
		ctxlog.FromContext(ctx).Error("failed to append audit record",
			"incident_id", record.IncidentID,
			"action_id", record.ActionID,
			"kind", record.Kind,
			"error", err,
		)
	}
}

// insertHistory adds ev after every event that is not later than it, keeping
// history ordered by timestamp without moving existing entries.
func insertHistory(history []domain.TransitionEvent, ev domain.TransitionEvent) []domain.TransitionEvent {
	pos := len(history)
	for pos > 0 && history[pos-1].Timestamp.After(ev.Timestamp) {
		pos--
	}
	history = append(history, domain.TransitionEvent{})
	copy(history[pos+1:], history[pos:])
	history[pos] = ev
	return history
}

// jsonEqual compares two JSON documents by value.
func jsonEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}
