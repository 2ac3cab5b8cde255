// Package jira opens incident issues through the Jira Cloud REST API.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/datapulse/orchestrator/internal/notifications"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultProjectKey = "OPS"
	defaultIssueType  = "Incident"
	issuePath         = "/rest/api/3/issue"
)

// Config holds Jira client configuration.
type Config struct {
	BaseURL    string
	Email      string
	APIToken   string
	ProjectKey string
	IssueType  string
	Timeout    time.Duration
}

// Client implements notifications.TicketCreator.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new Jira client.
func NewClient(config Config) *Client {
	if config.ProjectKey == "" {
		config.ProjectKey = defaultProjectKey
	}
	if config.IssueType == "" {
		config.IssueType = defaultIssueType
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// PriorityFor maps an incident severity to a Jira priority name.
func PriorityFor(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "Highest"
	case "high":
		return "High"
	case "low":
		return "Low"
	default:
		return "Medium"
	}
}

// CreateTicket creates an issue and returns its key.
func (c *Client) CreateTicket(ctx context.Context, ticket notifications.Ticket) (string, error) {
	if c.config.BaseURL == "" || c.config.APIToken == "" {
		return "", &PermanentError{Message: "base URL or API token is not configured"}
	}

	body, err := json.Marshal(c.buildRequest(ticket))
	if err != nil {
		return "", fmt.Errorf("marshal issue: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+issuePath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.config.Email, c.config.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return c.handleResponse(resp, ticket.IncidentID)
}

func (c *Client) handleResponse(resp *http.Response, incidentID string) (string, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &RetryableError{Message: fmt.Sprintf("read response: %v", err)}
	}

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var created issueResponse
		if err := json.Unmarshal(body, &created); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if created.Key == "" {
			return "", &PermanentError{Code: resp.StatusCode, Message: "response has no issue key"}
		}
		slog.Debug("jira issue created", "incident_id", incidentID, "key", created.Key)
		return created.Key, nil

	case http.StatusBadRequest:
		return "", &PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("bad request: %s", string(body)),
		}

	case http.StatusUnauthorized, http.StatusForbidden:
		return "", &PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid credentials or missing project permission",
		}

	case http.StatusNotFound:
		return "", &PermanentError{
			Code:    resp.StatusCode,
			Message: "project or endpoint not found",
		}

	case http.StatusTooManyRequests:
		return "", &RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited",
		}

	default:
		if resp.StatusCode >= 500 {
			return "", &RetryableError{
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("server error: %s", string(body)),
			}
		}
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

func (c *Client) buildRequest(ticket notifications.Ticket) issueRequest {
	return issueRequest{
		Fields: issueFields{
			Project:     keyRef{Key: c.config.ProjectKey},
			Summary:     ticket.Summary,
			Description: toADF(ticket.Description),
			IssueType:   nameRef{Name: c.config.IssueType},
			Priority:    nameRef{Name: PriorityFor(ticket.Severity)},
			Labels:      []string{"datapulse", ticket.IncidentID},
		},
	}
}

// toADF wraps plain text into an Atlassian Document Format document, one
// paragraph per non-empty block of lines.
func toADF(s string) adfNode {
	doc := adfNode{Type: "doc", Version: 1}
	for _, para := range strings.Split(s, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		p := adfNode{Type: "paragraph"}
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				p.Content = append(p.Content, adfNode{Type: "hardBreak"})
			}
			if line != "" {
				p.Content = append(p.Content, adfNode{Type: "text", Text: line})
			}
		}
		doc.Content = append(doc.Content, p)
	}
	return doc
}

type issueRequest struct {
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Project     keyRef   `json:"project"`
	Summary     string   `json:"summary"`
	Description adfNode  `json:"description"`
	IssueType   nameRef  `json:"issuetype"`
	Priority    nameRef  `json:"priority"`
	Labels      []string `json:"labels,omitempty"`
}

type keyRef struct {
	Key string `json:"key"`
}

type nameRef struct {
	Name string `json:"name"`
}

type adfNode struct {
	Type    string    `json:"type"`
	Version int       `json:"version,omitempty"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

type issueResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("jira error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("jira error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("jira error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("jira error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
