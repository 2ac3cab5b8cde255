package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})

	assert.Equal(t, defaultTimeout, c.config.Timeout)
	assert.Equal(t, defaultTimeout, c.httpClient.Timeout)
}

func TestClient_TriggerAnalyst(t *testing.T) {
	detectedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/run", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body analystRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "INC-1", body.IncidentID)
		assert.Equal(t, "checkout", body.Service)
		assert.True(t, detectedAt.Equal(body.DetectedAt))

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := NewClient(Config{AnalystURL: server.URL + "/"})
	err := c.TriggerAnalyst(context.Background(), &domain.Incident{ID: "INC-1", Service: "checkout", DetectedAt: detectedAt})

	assert.NoError(t, err)
}

func TestClient_TriggerResolver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body resolverRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "INC-1", body.IncidentID)
		assert.JSONEq(t, `{"root_cause":"db"}`, string(body.RCCAContext))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(Config{ResolverURL: server.URL})
	err := c.TriggerResolver(context.Background(), "INC-1", json.RawMessage(`{"root_cause":"db"}`))

	assert.NoError(t, err)
}

func TestClient_ErrorStatus(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	c := NewClient(Config{ResolverURL: server.URL})
	err := c.TriggerResolver(context.Background(), "INC-1", json.RawMessage(`{}`))

	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Contains(t, statusErr.Body, "upstream down")
	assert.Equal(t, 1, calls)
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(Config{AnalystURL: server.URL, Timeout: 20 * time.Millisecond})
	err := c.TriggerAnalyst(context.Background(), &domain.Incident{ID: "INC-1"})

	assert.Error(t, err)
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(Config{})

	err := c.TriggerAnalyst(context.Background(), &domain.Incident{ID: "INC-1"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = c.TriggerResolver(context.Background(), "INC-1", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
