package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/datapulse/orchestrator/internal/audit"
	auditmemory "github.com/datapulse/orchestrator/internal/audit/memory"
	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/datapulse/orchestrator/internal/incidents"
	incidentmemory "github.com/datapulse/orchestrator/internal/incidents/memory"
	"github.com/datapulse/orchestrator/internal/policy"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inlineRunner struct{}

func (inlineRunner) Submit(_ string, fn func(ctx context.Context)) error {
	fn(context.Background())
	return nil
}

type webhookFixture struct {
	router http.Handler
	repo   *incidentmemory.Repository
	audit  *auditmemory.Repository
}

func newWebhookFixture(t *testing.T, cfg VerifierConfig) *webhookFixture {
	t.Helper()
	repo := incidentmemory.NewRepository()
	auditRepo := auditmemory.NewRepository()
	svc := incidents.NewService(repo, auditRepo, policy.NewEngine(policy.Config{}), nil, nil, inlineRunner{}, incidents.Config{})

	verifier, err := NewVerifier(cfg)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(verifier, svc, auditRepo).RegisterRoutes(r)

	require.NoError(t, repo.Create(context.Background(), &domain.Incident{
		ID:      "INC-1",
		Status:  domain.IncidentStatusOpen,
		Actions: []domain.Action{{ID: "ACT-1", IncidentID: "INC-1", State: domain.ActionStateProposed}},
	}))

	return &webhookFixture{router: r, repo: repo, audit: auditRepo}
}

func slackBody(t *testing.T, value string, user map[string]string) string {
	t.Helper()
	payload := map[string]any{
		"type": "block_actions",
		"user": user,
	}
	if value != "" {
		payload["actions"] = []map[string]string{{"action_id": "decision", "value": value}}
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return url.Values{"payload": {string(raw)}}.Encode()
}

func post(r http.Handler, path, body string, secret string, ts time.Time) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if secret != "" {
		stamp := strconv.FormatInt(ts.Unix(), 10)
		req.Header.Set(HeaderTimestamp, stamp)
		req.Header.Set(HeaderSignature, Sign([]byte(secret), stamp, []byte(body)))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ApproveDecision(t *testing.T) {
	f := newWebhookFixture(t, VerifierConfig{SigningSecret: testSecret, Environment: "production"})
	body := slackBody(t, "approve|INC-1|ACT-1", map[string]string{"id": "U1", "username": "alice"})

	rec := post(f.router, "/webhook/integrations/slack", body, testSecret, time.Now())

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	incident, err := f.repo.Get(context.Background(), "INC-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateApproved, incident.Actions[0].State)
	require.Len(t, incident.ActionHistory, 1)
	assert.Equal(t, "slack:alice", incident.ActionHistory[0].Actor)
	assert.Equal(t, domain.SourceWebhook, incident.ActionHistory[0].Source)

	records, err := f.audit.ListByIncident(context.Background(), "INC-1")
	require.NoError(t, err)
	require.NoError(t, audit.Verify(records))
	require.Len(t, records, 3)
	assert.Equal(t, domain.AuditKindDecision, records[0].Kind)
	assert.Equal(t, domain.DecisionReceived, records[0].Decision.Outcome)
	assert.Equal(t, "approve|INC-1|ACT-1", records[0].Decision.RawValue)
	assert.Equal(t, domain.AuditKindTransition, records[1].Kind)
	assert.Equal(t, domain.DecisionApplied, records[2].Decision.Outcome)
}

func TestHandler_RejectAfterApprovalIsRefused(t *testing.T) {
	f := newWebhookFixture(t, VerifierConfig{SigningSecret: testSecret})
	approveBody := slackBody(t, "approve|INC-1|ACT-1", map[string]string{"name": "Alice"})
	rejectBody := slackBody(t, "reject|INC-1|ACT-1", map[string]string{"id": "U2"})

	require.Equal(t, http.StatusOK, post(f.router, "/webhook/integrations/slack", approveBody, testSecret, time.Now()).Code)
	rec := post(f.router, "/webhook/integrations/slack", rejectBody, testSecret, time.Now())

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid transition from approved to rejected")

	records, err := f.audit.ListByIncident(context.Background(), "INC-1")
	require.NoError(t, err)
	last := records[len(records)-1]
	assert.Equal(t, domain.DecisionRefused, last.Decision.Outcome)
	assert.Equal(t, "slack:U2", last.Decision.Actor)
	assert.Len(t, audit.Transitions(records), 1)
}

func TestHandler_UnknownAction(t *testing.T) {
	f := newWebhookFixture(t, VerifierConfig{SigningSecret: testSecret})
	body := slackBody(t, "approve|INC-1|ACT-9", map[string]string{"id": "U1"})

	rec := post(f.router, "/webhook/integrations/slack", body, testSecret, time.Now())

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_RejectsBadSignatureWithoutProcessing(t *testing.T) {
	f := newWebhookFixture(t, VerifierConfig{SigningSecret: testSecret})
	body := slackBody(t, "approve|INC-1|ACT-1", map[string]string{"id": "U1"})

	tests := []struct {
		name   string
		secret string
		ts     time.Time
	}{
		{"wrong secret", "not-the-secret", time.Now()},
		{"stale timestamp", testSecret, time.Now().Add(-301 * time.Second)},
		{"unsigned", "", time.Now()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(f.router, "/webhook/integrations/slack", body, tt.secret, tt.ts)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	incident, err := f.repo.Get(context.Background(), "INC-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateProposed, incident.Actions[0].State)
	records, err := f.audit.ListByIncident(context.Background(), "INC-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHandler_NoSecretInProductionRefusesAll(t *testing.T) {
	f := newWebhookFixture(t, VerifierConfig{Environment: "production"})
	body := slackBody(t, "approve|INC-1|ACT-1", map[string]string{"id": "U1"})

	rec := post(f.router, "/webhook/integrations/slack", body, "", time.Now())

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_InsecureDevelopmentMode(t *testing.T) {
	f := newWebhookFixture(t, VerifierConfig{Environment: "development", AllowInsecure: true})
	body := slackBody(t, "approve|INC-1|ACT-1", map[string]string{"id": "U1"})

	rec := post(f.router, "/webhook/integrations/slack", body, "", time.Now())

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_NoAction(t *testing.T) {
	f := newWebhookFixture(t, VerifierConfig{SigningSecret: testSecret})
	body := slackBody(t, "", map[string]string{"id": "U1"})

	rec := post(f.router, "/webhook/integrations/slack", body, testSecret, time.Now())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_action")
}

func TestHandler_MalformedValue(t *testing.T) {
	f := newWebhookFixture(t, VerifierConfig{SigningSecret: testSecret})
	body := slackBody(t, "escalate|INC-1|ACT-1", map[string]string{"id": "U1"})

	rec := post(f.router, "/webhook/integrations/slack", body, testSecret, time.Now())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_UnsupportedChannel(t *testing.T) {
	f := newWebhookFixture(t, VerifierConfig{SigningSecret: testSecret})

	rec := post(f.router, "/webhook/integrations/teams", "payload=%7B%7D", testSecret, time.Now())

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("Approve|INC-1|ACT-1")
	require.NoError(t, err)
	assert.Equal(t, Decision{Verb: "approve", IncidentID: "INC-1", ActionID: "ACT-1"}, d)
	assert.Equal(t, domain.ActionStateApproved, d.ToState())

	d, err = ParseDecision("reject|INC-1|ACT-2")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateRejected, d.ToState())

	for _, bad := range []string{"", "approve|INC-1", "approve|INC-1|ACT-1|x", "approve||ACT-1", "hold|INC-1|ACT-1"} {
		_, err := ParseDecision(bad)
		assert.Error(t, err, bad)
	}
}
