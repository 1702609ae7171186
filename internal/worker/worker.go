package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sideshow/apns2/payload"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"forum-api/internal/events"
	"forum-api/internal/model"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// Conn is the part of *nats.Conn the worker needs.
type Conn interface {
	Publish(subject string, data []byte) error
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type DeviceTokenSource interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]string, error)
}

type Options struct {
	QueueGroup string
	MaxRetries int
	RetryDelay time.Duration
}

type handlerFunc func(ctx context.Context, data []byte) error

type Worker struct {
	conn     Conn
	mailer   Mailer
	pusher   Pusher
	devices  DeviceTokenSource
	opts     Options
	handlers map[string]handlerFunc
	subs     []*nats.Subscription
	tracer   trace.Tracer
	now      func() time.Time
}

func New(conn Conn, mailer Mailer, pusher Pusher, devices DeviceTokenSource, opts Options) *Worker {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	w := &Worker{
		conn:    conn,
		mailer:  mailer,
		pusher:  pusher,
		devices: devices,
		opts:    opts,
		tracer:  otel.Tracer("forum-api/worker"),
		now:     time.Now,
	}
	w.handlers = map[string]handlerFunc{
		events.SubjectEmailVerification: w.handleEmailVerification,
		events.SubjectPasswordReset:     w.handlePasswordReset,
		events.SubjectIdentityReviewed:  w.handleIdentityReviewed,
	}
	return w
}

// Start subscribes to every notification subject. Messages are processed on the
// subscription goroutines until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	for subject := range w.handlers {
		sub, err := w.conn.QueueSubscribe(subject, w.opts.QueueGroup, func(msg *nats.Msg) {
			w.process(events.ExtractTrace(ctx, msg), msg.Subject, msg.Data)
		})
		if err != nil {
			w.Stop()
			return fmt.Errorf("subscribe to %s: %w", subject, err)
		}
		w.subs = append(w.subs, sub)
		slog.Info("Notification worker listening", "subject", subject, "queue", w.opts.QueueGroup)
	}
	return nil
}

// Stop drains the subscriptions so in-flight messages finish.
func (w *Worker) Stop() {
	for _, sub := range w.subs {
		if err := sub.Drain(); err != nil {
			slog.Warn("Failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}
	w.subs = nil
}

func (w *Worker) process(ctx context.Context, subject string, data []byte) {
	handle, ok := w.handlers[subject]
	if !ok {
		slog.WarnContext(ctx, "No handler for subject", "subject", subject)
		return
	}

	ctx, span := w.tracer.Start(ctx, "notify "+subject, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	slog.InfoContext(ctx, "Event received", "subject", subject)

	var (
		err      error
		attempts int
		delay    = w.opts.RetryDelay
	)
	for attempts = 1; attempts <= w.opts.MaxRetries; attempts++ {
		err = handle(ctx, data)
		if err == nil {
			return
		}
		if isPermanent(err) {
			break
		}

		slog.WarnContext(ctx, "Notification failed, retrying", "subject", subject, "attempt", attempts, "delay", delay, "error", err)
		if attempts == w.opts.MaxRetries || !sleep(ctx, delay) {
			break
		}
		delay = min(delay*2, maxRetryDelay)
	}

	attempts = min(attempts, w.opts.MaxRetries)
	span.RecordError(err)
	span.SetStatus(codes.Error, "notification failed")
	slog.ErrorContext(ctx, "Notification failed completely", "subject", subject, "attempts", attempts, "error", err)
	w.deadLetter(ctx, subject, data, attempts, err)
}

func (w *Worker) deadLetter(ctx context.Context, subject string, data []byte, attempts int, cause error) {
	event := events.NotificationFailedEvent{
		EventType: events.SubjectDeadLetter,
		Subject:   subject,
		Attempts:  attempts,
		Error:     cause.Error(),
		FailedAt:  w.now().UTC(),
		Payload:   json.RawMessage(data),
	}
	if !json.Valid(data) {
		event.Payload = nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal dead letter", "subject", subject, "error", err)
		return
	}

	if err := w.conn.Publish(events.SubjectDeadLetter, body); err != nil {
		slog.ErrorContext(ctx, "Failed to publish to DLQ", "dlq", events.SubjectDeadLetter, "error", err)
		return
	}
	slog.InfoContext(ctx, "Published failed notification to DLQ", "dlq", events.SubjectDeadLetter, "subject", subject)
}

func (w *Worker) handleEmailVerification(ctx context.Context, data []byte) error {
	var event events.EmailVerificationEvent
	if err := decode(data, &event); err != nil {
		return err
	}
	return w.mailer.SendVerification(ctx, event)
}

func (w *Worker) handlePasswordReset(ctx context.Context, data []byte) error {
	var event events.PasswordResetEvent
	if err := decode(data, &event); err != nil {
		return err
	}
	return w.mailer.SendPasswordReset(ctx, event)
}

// handleIdentityReviewed pushes to every device of the user. It only fails when
// no device could be reached for a reason worth retrying, so a retry never
// duplicates a push that already went out.
func (w *Worker) handleIdentityReviewed(ctx context.Context, data []byte) error {
	var event events.IdentityReviewedEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	tokens, err := w.devices.ListByUser(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("list device tokens for %s: %w", event.UserID, err)
	}
	if len(tokens) == 0 {
		slog.InfoContext(ctx, "No device tokens found, no notifications sent", "user_id", event.UserID)
		return nil
	}

	p := identityPayload(event)
	var (
		sent    int
		lastErr error
	)
	for _, t := range tokens {
		err := w.pusher.Push(ctx, t, p)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrPushRejected):
			slog.WarnContext(ctx, "Push rejected", "user_id", event.UserID, "error", err)
		default:
			lastErr = err
		}
	}

	slog.InfoContext(ctx, "Identity review pushed", "user_id", event.UserID, "devices", len(tokens), "sent", sent)
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func identityPayload(event events.IdentityReviewedEvent) *payload.Payload {
	var title, body string
	switch event.Status {
	case model.IdentityApproved:
		title = "身份认证已通过"
		body = fmt.Sprintf("您的「%s」身份认证已通过审核。", event.IdentityType)
	case model.IdentityRejected:
		title = "身份认证未通过"
		body = fmt.Sprintf("您的「%s」身份认证未通过审核：%s", event.IdentityType, event.Reason)
	case model.IdentityRevoked:
		title = "身份认证已撤销"
		body = fmt.Sprintf("您的「%s」身份认证已被撤销：%s", event.IdentityType, event.Reason)
	default:
		title = "身份认证状态更新"
		body = fmt.Sprintf("您的「%s」身份认证状态已更新。", event.IdentityType)
	}

	return payload.NewPayload().
		AlertTitle(title).
		AlertBody(body).
		Sound("default").
		Custom("type", events.SubjectIdentityReviewed).
		Custom("identity_id", event.IdentityID.String()).
		Custom("status", event.Status)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// decode failures are permanent, the same bytes will never parse on a retry.
func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return permanentError{fmt.Errorf("decode event: %w", err)}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
