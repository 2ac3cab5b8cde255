// Package dispatch triggers the analyst and resolver agents over HTTP.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/datapulse/orchestrator/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Stage names used in logs and metrics.
const (
	StageAnalyst  = "analyst"
	StageResolver = "resolver"
)

// ErrNotConfigured is returned when the agent URL for a stage is empty.
var ErrNotConfigured = errors.New("agent url not configured")

// Config holds agent endpoints.
type Config struct {
	AnalystURL  string
	ResolverURL string
	Timeout     time.Duration
}

// Client posts run requests to the agents. Calls are never retried.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new dispatch client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type analystRequest struct {
	IncidentID string    `json:"incident_id"`
	Service    string    `json:"service"`
	DetectedAt time.Time `json:"detected_at"`
}

type resolverRequest struct {
	IncidentID  string          `json:"incident_id"`
	RCCAContext json.RawMessage `json:"rcca_context"`
}

// TriggerAnalyst asks the analyst agent to investigate a new incident.
func (c *Client) TriggerAnalyst(ctx context.Context, incident *domain.Incident) error {
	return c.run(ctx, StageAnalyst, c.config.AnalystURL, analystRequest{
		IncidentID: incident.ID,
		Service:    incident.Service,
		DetectedAt: incident.DetectedAt,
	})
}

// TriggerResolver asks the resolver agent for remediation proposals.
func (c *Client) TriggerResolver(ctx context.Context, incidentID string, rcca json.RawMessage) error {
	return c.run(ctx, StageResolver, c.config.ResolverURL, resolverRequest{
		IncidentID:  incidentID,
		RCCAContext: rcca,
	})
}

func (c *Client) run(ctx context.Context, stage, baseURL string, payload interface{}) error {
	if baseURL == "" {
		recordDispatch(stage, "skipped")
		return fmt.Errorf("%s: %w", stage, ErrNotConfigured)
	}

	start := time.Now()
	err := c.post(ctx, strings.TrimRight(baseURL, "/")+"/run", payload)
	recordDispatchDuration(stage, time.Since(start))
	if err != nil {
		recordDispatch(stage, "failed")
		return fmt.Errorf("trigger %s: %w", stage, err)
	}

	recordDispatch(stage, "success")
	slog.Info("agent triggered", "stage", stage, "duration", time.Since(start))
	return nil
}

func (c *Client) post(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(msg)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// StatusError is a non-2xx agent response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent returned status %d: %s", e.Code, e.Body)
}
