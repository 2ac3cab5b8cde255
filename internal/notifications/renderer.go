package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/datapulse/orchestrator/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

const (
	templateIncidentOpened    = "incident_opened"
	templateApprovalRequested = "approval_requested"
	templateTicketDescription = "ticket_description"
)

// Renderer renders notifications from templates.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":        titleCase,
		"upper":        strings.ToUpper,
		"actionType":   actionTypeLabel,
		"formatTime":   formatTime,
		"percent":      percent,
		"latency":      latency,
		"evidenceList": evidenceList,
	}

	r := &Renderer{templates: make(map[string]*template.Template)}

	for _, name := range []string{templateIncidentOpened, templateApprovalRequested, templateTicketDescription} {
		filename := fmt.Sprintf("templates/%s.tmpl", name)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// RenderIncidentOpened renders the alert posted when an incident is created.
func (r *Renderer) RenderIncidentOpened(incident *domain.Incident) (Message, error) {
	body, err := r.execute(templateIncidentOpened, incident)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:    MessageTypeIncidentOpened,
		Subject: fmt.Sprintf("%s Incident Detected: %s", severityTag(incident.Severity), incident.Service),
		Body:    body,
		Fields: []Field{
			{Label: "Incident ID", Value: incident.ID},
			{Label: "Severity", Value: strings.ToUpper(string(incident.Severity))},
			{Label: "Error Rate", Value: percent(incident.Metrics.ErrorRate)},
			{Label: "P99 Latency", Value: latency(incident.Metrics.P99LatencyMs)},
		},
		Context: fmt.Sprintf("Detected by %s at %s", titleCase(incident.Source), formatTime(incident.DetectedAt)),
	}, nil
}

// RenderApprovalRequested renders the decision request for one proposed action.
func (r *Renderer) RenderApprovalRequested(incidentID string, action domain.Action) (Message, error) {
	body, err := r.execute(templateApprovalRequested, struct {
		IncidentID string
		Action     domain.Action
	}{incidentID, action})
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:     MessageTypeApprovalRequested,
		Subject:  "Action Approval Required",
		Body:     body,
		Approval: &ApprovalRequest{IncidentID: incidentID, ActionID: action.ID},
	}, nil
}

// RenderTicket renders the ticket opened for a new incident.
func (r *Renderer) RenderTicket(incident *domain.Incident) (Ticket, error) {
	description, err := r.execute(templateTicketDescription, incident)
	if err != nil {
		return Ticket{}, err
	}

	return Ticket{
		IncidentID:  incident.ID,
		Summary:     fmt.Sprintf("[DataPulse] %s - %s incident", incident.Service, strings.ToUpper(string(incident.Severity))),
		Description: description,
		Severity:    string(incident.Severity),
	}, nil
}

func (r *Renderer) execute(name string, data interface{}) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

// actionTypeLabel turns "scale_out" into "Scale Out".
func actionTypeLabel(t string) string {
	if t == "" {
		return "Unknown"
	}
	return titleCase(strings.ReplaceAll(t, "_", " "))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func latency(ms float64) string {
	return fmt.Sprintf("%.0fms", ms)
}

func evidenceList(evidence []domain.Evidence) string {
	if len(evidence) == 0 {
		return "No evidence available"
	}

	lines := make([]string, 0, len(evidence))
	for i, e := range evidence {
		text := "N/A"
		switch {
		case e.Text != nil && *e.Text != "":
			text = *e.Text
		case e.Snippet != nil && *e.Snippet != "":
			text = *e.Snippet
		case e.Ref != nil && *e.Ref != "":
			text = *e.Ref
		}
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", i+1, e.Type, text))
	}
	return strings.Join(lines, "\n")
}

func severityTag(s domain.Severity) string {
	if s == "" {
		return "[INFO]"
	}
	return "[" + strings.ToUpper(string(s)) + "]"
}
