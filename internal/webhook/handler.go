package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/datapulse/orchestrator/internal/audit"
	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/datapulse/orchestrator/internal/incidents"
	"github.com/datapulse/orchestrator/internal/pkg/ctxlog"
	"github.com/datapulse/orchestrator/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// ChannelSlack is the only supported integration channel.
const ChannelSlack = "slack"

const maxBodyBytes = 1 << 20

// Slack request headers.
const (
	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"
)

// Transitioner applies action state changes.
type Transitioner interface {
	Transition(ctx context.Context, in incidents.TransitionInput) (*domain.TransitionEvent, error)
}

// Handler handles HTTP requests for integration callbacks.
type Handler struct {
	verifier    *Verifier
	transitions Transitioner
	audit       audit.Repository
	now         func() time.Time
}

// NewHandler creates a new webhook handler.
func NewHandler(verifier *Verifier, transitions Transitioner, auditLog audit.Repository) *Handler {
	return &Handler{
		verifier:    verifier,
		transitions: transitions,
		audit:       auditLog,
		now:         time.Now,
	}
}

// RegisterRoutes registers webhook routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook/integrations/{channel}", h.HandleCallback)
}

// slackPayload is the subset of a Slack interactive payload we read.
type slackPayload struct {
	Type string `json:"type"`
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// Decision is a parsed approve/reject button value "verb|incident|action".
type Decision struct {
	Verb       string
	IncidentID string
	ActionID   string
}

// ToState maps the decision verb to the requested action state.
func (d Decision) ToState() domain.ActionState {
	if d.Verb == "approve" {
		return domain.ActionStateApproved
	}
	return domain.ActionStateRejected
}

// ParseDecision parses an action value token.
func ParseDecision(value string) (Decision, error) {
	parts := strings.Split(value, "|")
	if len(parts) != 3 {
		return Decision{}, fmt.Errorf("malformed action value %q", value)
	}
	d := Decision{
		Verb:       strings.ToLower(strings.TrimSpace(parts[0])),
		IncidentID: strings.TrimSpace(parts[1]),
		ActionID:   strings.TrimSpace(parts[2]),
	}
	if d.Verb != "approve" && d.Verb != "reject" {
		return Decision{}, fmt.Errorf("unknown decision %q", parts[0])
	}
	if d.IncidentID == "" || d.ActionID == "" {
		return Decision{}, fmt.Errorf("malformed action value %q", value)
	}
	return d, nil
}

// HandleCallback handles POST /webhook/integrations/{channel} request.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if channel != ChannelSlack {
		httputil.Error(w, http.StatusNotFound, "unsupported integration channel")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "failed to read body")
		return
	}

	ctx, logger := ctxlog.With(r.Context(), "channel", channel)

	if err := h.verifier.Verify(body, r.Header.Get(HeaderSignature), r.Header.Get(HeaderTimestamp)); err != nil {
		recordRejection(rejectionReason(err))
		logger.Warn("webhook rejected", "error", err)
		httputil.Error(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid form body")
		return
	}

	var payload slackPayload
	if err := json.Unmarshal([]byte(form.Get("payload")), &payload); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if len(payload.Actions) == 0 {
		httputil.Success(w, http.StatusOK, map[string]string{"status": "no_action"})
		return
	}

	rawValue := payload.Actions[0].Value
	decision, err := ParseDecision(rawValue)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	record := domain.Decision{
		Channel:  channel,
		Decision: decision.Verb,
		Actor:    slackActor(payload),
		RawValue: rawValue,
		Outcome:  domain.DecisionReceived,
	}
	h.recordDecision(ctx, decision, record)

	event, err := h.transitions.Transition(ctx, incidents.TransitionInput{
		IncidentID: decision.IncidentID,
		ActionID:   decision.ActionID,
		ToState:    decision.ToState(),
		Actor:      record.Actor,
		Source:     domain.SourceWebhook,
	})
	if err != nil {
		record.Outcome = domain.DecisionRefused
		record.Error = err.Error()
		h.recordDecision(ctx, decision, record)
		recordDecisionOutcome(channel, string(record.Outcome))
		h.handleTransitionError(w, r.WithContext(ctx), err)
		return
	}

	record.Outcome = domain.DecisionApplied
	h.recordDecision(ctx, decision, record)
	recordDecisionOutcome(channel, string(record.Outcome))

	logger.Info("webhook decision applied",
		"incident_id", decision.IncidentID,
		"action_id", decision.ActionID,
		"decision", decision.Verb,
		"actor", record.Actor,
	)

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"status": "processed",
		"event":  event,
	})
}

// recordDecision appends the raw decision to the audit log. Failures are logged only.
func (h *Handler) recordDecision(ctx context.Context, d Decision, record domain.Decision) {
	if err := h.audit.Append(ctx, audit.NewDecisionRecord(d.IncidentID, d.ActionID, record, h.now())); err != nil {
		ctxlog.FromContext(ctx).Error("failed to record webhook decision",
			"incident_id", d.IncidentID,
			"action_id", d.ActionID,
			"outcome", record.Outcome,
			"error", err,
		)
	}
}

func (h *Handler) handleTransitionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, incidents.ErrPersistence) {
		ctxlog.FromContext(r.Context()).Error("persistence failure", "error", err)
	}
	httputil.HandleError(r.Context(), w, err, incidents.ErrorMappings)
}

func slackActor(p slackPayload) string {
	for _, name := range []string{p.User.Username, p.User.Name, p.User.ID} {
		if name = strings.TrimSpace(name); name != "" {
			return "slack:" + name
		}
	}
	return "slack:unknown"
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrNoSecret):
		return "no_secret"
	case errors.Is(err, ErrMissingSignature):
		return "missing_signature"
	case errors.Is(err, ErrInvalidTimestamp), errors.Is(err, ErrStaleTimestamp):
		return "stale_timestamp"
	default:
		return "invalid_signature"
	}
}
