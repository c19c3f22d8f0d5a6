// Package events carries domain events out of the services. Services return
// the events they produced; the HTTP layer hands them to a Dispatcher.
package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/learnhub/core/internal/pkg/mail"
	"github.com/learnhub/core/internal/pkg/taskqueue"
)

// Type identifies an event.
type Type string

const (
	UserRegistered         Type = "auth.user.registered"
	VerificationResent     Type = "auth.user.resend.verification"
	PasswordResetRequested Type = "auth.user.password.reset.request"
	PaymentSubmitted       Type = "payment.submitted"
	PaymentVerified        Type = "payment.verified"
	PaymentRejected        Type = "payment.rejected"
	ClassReminder          Type = "class.reminder"
)

// Event is a notification produced by a service call.
type Event struct {
	ID         string
	Type       Type
	To         string
	Data       map[string]interface{}
	DedupeKey  string
	OccurredAt time.Time
}

// New builds an event with a fresh ULID.
func New(t Type, to, dedupeKey string, data map[string]interface{}) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       t,
		To:         to,
		Data:       data,
		DedupeKey:  dedupeKey,
		OccurredAt: time.Now(),
	}
}

var templates = map[Type]string{
	UserRegistered:         mail.TemplateVerification,
	VerificationResent:     mail.TemplateVerification,
	PasswordResetRequested: mail.TemplatePasswordReset,
	PaymentSubmitted:       mail.TemplateAdminPaymentSubmitted,
	PaymentVerified:        mail.TemplatePaymentSuccess,
	PaymentRejected:        mail.TemplatePaymentFailed,
	ClassReminder:          mail.TemplateClassReminder,
}

// Enqueuer accepts background jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload interface{}, dedupKey string) (*taskqueue.Task, error)
}

// Dispatcher renders mail for events and queues it.
type Dispatcher struct {
	queue    Enqueuer
	renderer *mail.Renderer
	logger   *zap.Logger
}

func NewDispatcher(queue Enqueuer, renderer *mail.Renderer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, renderer: renderer, logger: logger}
}

// Dispatch delivers events best-effort. Failures are logged and never
// reach the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, evs ...Event) {
	if d == nil {
		return
	}
	for _, ev := range evs {
		if err := d.deliver(ctx, ev); err != nil {
			d.logger.Warn("event dispatch failed",
				zap.String("id", ev.ID),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) error {
	name, ok := templates[ev.Type]
	if !ok {
		d.logger.Debug("event has no mail template", zap.String("type", string(ev.Type)))
		return nil
	}
	if ev.To == "" {
		return nil
	}
	msg, err := d.renderer.Render(name, ev.To, ev.Data)
	if err != nil {
		return err
	}
	dedupe := ev.DedupeKey
	if dedupe == "" {
		dedupe = ev.ID
	}
	_, err = d.queue.Enqueue(ctx, mail.TaskType, msg, dedupe)
	return err
}
