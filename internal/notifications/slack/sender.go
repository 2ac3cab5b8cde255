// Package slack posts incident notifications to Slack using Block Kit, either
// through an incoming webhook or the chat.postMessage Web API.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/datapulse/orchestrator/internal/notifications"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	defaultChannel = "#incident-alerts"
	defaultAPIURL  = "https://slack.com/api/chat.postMessage"
	defaultRate    = 1.0
	defaultBurst   = 5
)

// Config holds Slack sender configuration.
// WebhookURL takes precedence over BotToken when both are set.
type Config struct {
	WebhookURL    string
	BotToken      string
	Channel       string        // used with BotToken only
	APIURL        string        // chat.postMessage endpoint, overridable for tests
	Timeout       time.Duration // request timeout
	RatePerSecond float64
	Burst         int
}

// Sender implements notifications.Sender for Slack.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSender creates a new Slack sender.
func NewSender(config Config) *Sender {
	if config.Channel == "" {
		config.Channel = defaultChannel
	}
	if config.APIURL == "" {
		config.APIURL = defaultAPIURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = defaultRate
	}
	if config.Burst <= 0 {
		config.Burst = defaultBurst
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
	}
}

// Name returns the channel name.
func (s *Sender) Name() string {
	return "slack"
}

// Send posts msg to Slack.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) error {
	if s.config.WebhookURL == "" && s.config.BotToken == "" {
		return &PermanentError{Message: "neither webhook URL nor bot token is configured"}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return &RetryableError{Message: fmt.Sprintf("rate limiter: %v", err)}
	}

	payload := messagePayload{
		Text:   msg.Subject,
		Blocks: buildBlocks(msg),
	}

	if s.config.WebhookURL != "" {
		return s.postWebhook(ctx, payload)
	}

	payload.Channel = s.config.Channel
	return s.postMessage(ctx, payload)
}

func (s *Sender) postWebhook(ctx context.Context, payload messagePayload) error {
	resp, err := s.post(ctx, s.config.WebhookURL, payload, "")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp)
}

func (s *Sender) postMessage(ctx context.Context, payload messagePayload) error {
	resp, err := s.post(ctx, s.config.APIURL, payload, s.config.BotToken)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := s.handleResponse(resp); err != nil {
		return err
	}

	// Web API reports failures in the body with a 200 status.
	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &RetryableError{Message: fmt.Sprintf("decode response: %v", err)}
	}
	if result.OK {
		return nil
	}

	switch result.Error {
	case "ratelimited", "internal_error", "service_unavailable", "request_timeout":
		return &RetryableError{Message: result.Error}
	default:
		return &PermanentError{Message: result.Error}
	}
}

func (s *Sender) post(ctx context.Context, url string, payload messagePayload, token string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	return resp, nil
}

// handleResponse maps non-200 statuses to errors. On success the body is left
// unread for the caller.
func (s *Sender) handleResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		slog.Debug("slack message sent")
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("bad request: %s", string(body)),
		}

	case http.StatusUnauthorized, http.StatusForbidden:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid or revoked credentials",
		}

	case http.StatusNotFound, http.StatusGone:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "webhook not found",
		}

	case http.StatusTooManyRequests:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited",
		}

	default:
		if resp.StatusCode >= 500 {
			return &RetryableError{
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("server error: %s", string(body)),
			}
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

type messagePayload struct {
	Channel string  `json:"channel,omitempty"`
	Text    string  `json:"text"`
	Blocks  []block `json:"blocks"`
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type block struct {
	Type     string `json:"type"`
	Text     *text  `json:"text,omitempty"`
	Fields   []text `json:"fields,omitempty"`
	Elements []any  `json:"elements,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type element struct {
	Type     string `json:"type"`
	Text     *text  `json:"text,omitempty"`
	ActionID string `json:"action_id,omitempty"`
	Value    string `json:"value,omitempty"`
	Style    string `json:"style,omitempty"`
}

func buildBlocks(msg notifications.Message) []block {
	var blocks []block

	if msg.Subject != "" {
		blocks = append(blocks, block{
			Type: "header",
			Text: &text{Type: "plain_text", Text: msg.Subject},
		})
	}

	if len(msg.Fields) > 0 {
		fields := make([]text, 0, len(msg.Fields))
		for _, f := range msg.Fields {
			fields = append(fields, text{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", f.Label, f.Value)})
		}
		blocks = append(blocks, block{Type: "section", Fields: fields})
	}

	if msg.Body != "" {
		blocks = append(blocks, block{
			Type: "section",
			Text: &text{Type: "mrkdwn", Text: msg.Body},
		})
	}

	if msg.Context != "" {
		blocks = append(blocks, block{
			Type:     "context",
			Elements: []any{text{Type: "mrkdwn", Text: msg.Context}},
		})
	}

	if msg.Approval != nil {
		blocks = append(blocks, block{
			Type: "actions",
			Elements: []any{
				element{
					Type:     "button",
					Text:     &text{Type: "plain_text", Text: "Approve"},
					ActionID: "approve_action",
					Value:    msg.Approval.ApproveValue(),
					Style:    "primary",
				},
				element{
					Type:     "button",
					Text:     &text{Type: "plain_text", Text: "Reject"},
					ActionID: "reject_action",
					Value:    msg.Approval.RejectValue(),
					Style:    "danger",
				},
			},
		})
	}

	return blocks
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("slack error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("slack error: %s", e.Message)
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
		return fmt.Sprintf("slack error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("slack error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
