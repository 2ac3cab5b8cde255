package incidents

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/datapulse/orchestrator/internal/pkg/ctxlog"
	"github.com/datapulse/orchestrator/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// AnonymousActor is recorded when a manual decision carries no identity.
const AnonymousActor = "anonymous"

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers incident creation and read routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/incidents", h.CreateIncident)
	r.Get("/incidents", h.ListIncidents)
	r.Get("/incidents/{id}", h.GetIncident)
	r.Get("/incidents/{id}/actions", h.ListActions)
	r.Get("/incidents/{id}/actions/history", h.ListHistory)
	r.Get("/incidents/{id}/audit", h.GetAuditTrail)
}

// RegisterOperatorRoutes registers routes that change action state.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Post("/incidents/{id}/actions/reconcile", h.Reconcile)
	r.Post("/incidents/{id}/actions/{action_id}/approve", h.Approve)
	r.Post("/incidents/{id}/actions/{action_id}/reject", h.Reject)
	r.Post("/incidents/{id}/actions/{action_id}/transitions", h.RecordTransition)
}

// RegisterAgentRoutes registers the agent report endpoint.
func (h *Handler) RegisterAgentRoutes(r chi.Router) {
	r.Post("/agent/report", h.IngestReport)
}

// EvidenceRequest is one evidence item of a new incident.
type EvidenceRequest struct {
	Type    string  `json:"type" validate:"required"`
	Ref     *string `json:"ref"`
	Text    *string `json:"text"`
	Snippet *string `json:"snippet"`
}

// MetricsRequest is the metrics snapshot of a new incident.
type MetricsRequest struct {
	ErrorRate    float64 `json:"error_rate" validate:"gte=0"`
	P99LatencyMs float64 `json:"p99_latency_ms" validate:"gte=0"`
}

// CreateIncidentRequest represents the request body for creating an incident.
type CreateIncidentRequest struct {
	Source        string            `json:"source" validate:"required,max=255"`
	Service       string            `json:"service" validate:"required,max=255"`
	DetectedAt    time.Time         `json:"detected_at" validate:"required"`
	Severity      string            `json:"severity" validate:"required,oneof=low medium high critical"`
	Metrics       MetricsRequest    `json:"metrics"`
	Evidence      []EvidenceRequest `json:"evidence" validate:"dive"`
	CorrelationID string            `json:"correlation_id" validate:"max=255"`
}

// ToInput converts the request to a service input.
func (r *CreateIncidentRequest) ToInput() CreateInput {
	evidence := make([]domain.Evidence, 0, len(r.Evidence))
	for _, e := range r.Evidence {
		evidence = append(evidence, domain.Evidence{Type: e.Type, Ref: e.Ref, Text: e.Text, Snippet: e.Snippet})
	}
	return CreateInput{
		Source:        r.Source,
		Service:       r.Service,
		DetectedAt:    r.DetectedAt,
		Severity:      domain.Severity(r.Severity),
		Metrics:       domain.Metrics{ErrorRate: r.Metrics.ErrorRate, P99LatencyMs: r.Metrics.P99LatencyMs},
		Evidence:      evidence,
		CorrelationID: r.CorrelationID,
	}
}

// ReportRequest represents an agent report.
type ReportRequest struct {
	IncidentID string          `json:"incident_id" validate:"required"`
	Agent      string          `json:"agent" validate:"required"`
	Timestamp  *time.Time      `json:"timestamp"`
	RCCA       json.RawMessage `json:"rcca"`
	Proposals  json.RawMessage `json:"proposals"`
}

// DecisionRequest represents the optional body of approve/reject calls.
type DecisionRequest struct {
	Actor  string  `json:"actor" validate:"max=255"`
	Source string  `json:"source" validate:"omitempty,oneof=ui api webhook"`
	Reason *string `json:"reason" validate:"omitempty,max=1024"`
}

// TransitionRequest represents an executor callback.
type TransitionRequest struct {
	ToState string  `json:"to_state" validate:"required,oneof=approved rejected executed failed"`
	Actor   string  `json:"actor" validate:"max=255"`
	Reason  *string `json:"reason" validate:"omitempty,max=1024"`
}

// CreateIncident handles POST /incidents request.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.Create(r.Context(), req.ToInput())
	if err != nil {
		var createErr *CreateError
		if errors.As(err, &createErr) {
			ctxlog.FromContext(r.Context()).Error("failed to persist incident",
				"incident_id", createErr.IncidentID,
				"correlation_id", createErr.CorrelationID,
				"error", err,
			)
			httputil.ErrorWithFields(w, http.StatusServiceUnavailable, "failed to persist incident", map[string]string{
				"code":           "INCIDENT_PERSISTENCE_FAILED",
				"correlation_id": createErr.CorrelationID,
				"incident_id":    createErr.IncidentID,
			})
			return
		}
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, map[string]string{
		"incident_id": incident.ID,
		"status":      string(incident.Status),
	})
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// ListIncidents handles GET /incidents request.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := IncidentFilter{Limit: DefaultListLimit}

	if s := q.Get("severity"); s != "" {
		sev := domain.Severity(s)
		if !sev.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid severity filter, must be one of low, medium, high, critical")
			return
		}
		filter.Severity = &sev
	}

	if s := q.Get("status"); s != "" {
		status := domain.IncidentStatus(s)
		filter.Status = &status
	}

	sortField, err := ParseSortField(q.Get("sort"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "sort must be one of created_at, detected_at, severity, service, status")
		return
	}
	filter.Sort = sortField

	order, err := ParseSortOrder(q.Get("order"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}
	filter.Order = order

	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > MaxListLimit {
			httputil.Error(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
			return
		}
		filter.Limit = parsed
	}

	if o := q.Get("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			httputil.Error(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = parsed
	}

	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"incidents": items,
		"total":     total,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

// ListActions handles GET /incidents/{id}/actions request.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.service.ListActions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, actions)
}

// ListHistory handles GET /incidents/{id}/actions/history request.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.ListHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, history)
}

// GetAuditTrail handles GET /incidents/{id}/audit request.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := h.service.GetAuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, trail)
}

// IngestReport handles POST /agent/report request.
func (h *Handler) IngestReport(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.IngestReport(r.Context(), ReportInput{
		IncidentID: req.IncidentID,
		Agent:      AgentKind(strings.ToLower(strings.TrimSpace(req.Agent))),
		Timestamp:  req.Timestamp,
		RCCA:       req.RCCA,
		Proposals:  req.Proposals,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// Approve handles POST /incidents/{id}/actions/{action_id}/approve request.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, domain.ActionStateApproved)
}

// Reject handles POST /incidents/{id}/actions/{action_id}/reject request.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, domain.ActionStateRejected)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, to domain.ActionState) {
	var req DecisionRequest
	if err := decodeOptional(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	source := domain.SourceUI
	if req.Source != "" {
		source = domain.TransitionSource(req.Source)
	}

	event, err := h.service.Transition(r.Context(), TransitionInput{
		IncidentID: chi.URLParam(r, "id"),
		ActionID:   chi.URLParam(r, "action_id"),
		ToState:    to,
		Actor:      resolveActor(r, req.Actor),
		Source:     source,
		Reason:     req.Reason,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, event)
}

// RecordTransition handles POST /incidents/{id}/actions/{action_id}/transitions request.
func (h *Handler) RecordTransition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	event, err := h.service.Transition(r.Context(), TransitionInput{
		IncidentID: chi.URLParam(r, "id"),
		ActionID:   chi.URLParam(r, "action_id"),
		ToState:    domain.ActionState(req.ToState),
		Actor:      resolveActor(r, req.Actor),
		Source:     domain.SourceAPI,
		Reason:     req.Reason,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, event)
}

// Reconcile handles POST /incidents/{id}/actions/reconcile request.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// resolveActor picks the token subject, then the body actor, then the
// X-User-Id header.
func resolveActor(r *http.Request, bodyActor string) string {
	if subject := httputil.GetSubject(r.Context()); subject != "" {
		return subject
	}
	if actor := strings.TrimSpace(bodyActor); actor != "" {
		return actor
	}
	if actor := strings.TrimSpace(r.Header.Get("X-User-Id")); actor != "" {
		return actor
	}
	return AnonymousActor
}

func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ErrorMappings maps service errors to HTTP responses.
var ErrorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Code: "INCIDENT_NOT_FOUND"},
	{Error: ErrActionNotFound, Status: http.StatusNotFound, Code: "ACTION_NOT_FOUND"},
	{Error: ErrInvalidTransition, Status: http.StatusConflict, Code: "INVALID_TRANSITION"},
	{Error: ErrAuditChainBroken, Status: http.StatusConflict, Code: "AUDIT_CHAIN_BROKEN"},
	{Error: ErrValidation, Status: http.StatusBadRequest, Code: "VALIDATION_FAILED"},
	{Error: ErrUnknownAgent, Status: http.StatusBadRequest, Code: "UNKNOWN_AGENT"},
	{Error: ErrPersistence, Status: http.StatusServiceUnavailable, Message: ErrPersistence.Error(), Code: "PERSISTENCE_UNAVAILABLE"},
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrPersistence) {
		ctxlog.FromContext(r.Context()).Error("persistence failure", "error", err)
	}
	httputil.HandleError(r.Context(), w, err, ErrorMappings)
}
