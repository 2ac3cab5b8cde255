// Package notifications delivers incident alerts and approval requests to chat
// channels and opens incident tickets.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/datapulse/orchestrator/internal/pkg/ctxlog"
)

// Sender delivers a rendered message to one chat channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// TicketCreator opens an issue in a ticketing system and returns its key.
type TicketCreator interface {
	CreateTicket(ctx context.Context, ticket Ticket) (string, error)
}

// Dispatcher fans notifications out to every configured sender. A failing
// channel never stops delivery to the others.
type Dispatcher struct {
	senders  []Sender
	tickets  TicketCreator
	renderer *Renderer
	retry    RetryConfig
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a new notification dispatcher. tickets may be nil.
func NewDispatcher(renderer *Renderer, retry RetryConfig, tickets TicketCreator, senders ...Sender) *Dispatcher {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &Dispatcher{
		senders:  senders,
		tickets:  tickets,
		renderer: renderer,
		retry:    retry,
		sleep:    sleepContext,
	}
}

// IncidentOpened posts the incident alert and opens a ticket. It returns the
// ticket key when one was created, together with any delivery errors.
func (d *Dispatcher) IncidentOpened(ctx context.Context, incident *domain.Incident) (string, error) {
	if len(d.senders) == 0 && d.tickets == nil {
		return "", ErrNoChannels
	}

	msg, err := d.renderer.RenderIncidentOpened(incident)
	if err != nil {
		return "", fmt.Errorf("render incident alert: %w", err)
	}

	errs := d.broadcast(ctx, msg)

	var ticketKey string
	if d.tickets != nil {
		ticketKey, err = d.createTicket(ctx, incident)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return ticketKey, errors.Join(errs...)
}

// ApprovalRequested posts an approve/reject request for one action.
func (d *Dispatcher) ApprovalRequested(ctx context.Context, incidentID string, action domain.Action) error {
	if len(d.senders) == 0 {
		return ErrNoChannels
	}

	msg, err := d.renderer.RenderApprovalRequested(incidentID, action)
	if err != nil {
		return fmt.Errorf("render approval request: %w", err)
	}

	return errors.Join(d.broadcast(ctx, msg)...)
}

func (d *Dispatcher) broadcast(ctx context.Context, msg Message) []error {
	var errs []error
	for _, s := range d.senders {
		start := time.Now()
		err := d.withRetry(ctx, s.Name(), func() error {
			return s.Send(ctx, msg)
		})
		if err != nil {
			recordNotificationSent(s.Name(), "failed")
			ctxlog.FromContext(ctx).Error("failed to send notification",
				"channel", s.Name(),
				"message_type", msg.Type,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}

		recordNotificationSent(s.Name(), "success")
		recordNotificationDuration(s.Name(), time.Since(start))
	}
	return errs
}

func (d *Dispatcher) createTicket(ctx context.Context, incident *domain.Incident) (string, error) {
	ticket, err := d.renderer.RenderTicket(incident)
	if err != nil {
		recordTicket("failed")
		return "", fmt.Errorf("render ticket: %w", err)
	}

	var key string
	err = d.withRetry(ctx, "ticket", func() error {
		var createErr error
		key, createErr = d.tickets.CreateTicket(ctx, ticket)
		return createErr
	})
	if err != nil {
		recordTicket("failed")
		return "", fmt.Errorf("create ticket: %w", err)
	}

	recordTicket("created")
	ctxlog.FromContext(ctx).Info("incident ticket created", "incident_id", incident.ID, "ticket_key", key)
	return key, nil
}

// withRetry runs fn until it succeeds, fails permanently or runs out of attempts.
func (d *Dispatcher) withRetry(ctx context.Context, channel string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isRetryable(err) || attempt == d.retry.MaxAttempts {
			break
		}

		recordNotificationSent(channel, "retry")
		wait := d.retry.backoff(attempt)
		ctxlog.FromContext(ctx).Warn("send failed, retrying",
			"channel", channel,
			"attempt", attempt,
			"max_attempts", d.retry.MaxAttempts,
			"backoff", wait,
			"error", err,
		)
		if sleepErr := d.sleep(ctx, wait); sleepErr != nil {
			return fmt.Errorf("%w (retry aborted: %v)", err, sleepErr)
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
