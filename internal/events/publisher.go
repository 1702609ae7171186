package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type EventPublisher interface {
	PublishEmailVerification(ctx context.Context, event EmailVerificationEvent) error
	PublishPasswordReset(ctx context.Context, event PasswordResetEvent) error
	PublishIdentityReviewed(ctx context.Context, event IdentityReviewedEvent) error
}

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

type NatsPublisher struct {
	conn Conn
}

func NewNatsPublisher(natsURL string) (*NatsPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(natsURL, nats.Name("forum-api"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, err
	}
	return &NatsPublisher{conn: nc}, nc, nil
}

func NewPublisher(conn Conn) *NatsPublisher {
	return &NatsPublisher{conn: conn}
}

func (p *NatsPublisher) PublishEmailVerification(ctx context.Context, event EmailVerificationEvent) error {
	event.EventType = SubjectEmailVerification
	return p.publish(ctx, SubjectEmailVerification, event)
}

func (p *NatsPublisher) PublishPasswordReset(ctx context.Context, event PasswordResetEvent) error {
	event.EventType = SubjectPasswordReset
	return p.publish(ctx, SubjectPasswordReset, event)
}

func (p *NatsPublisher) PublishIdentityReviewed(ctx context.Context, event IdentityReviewedEvent) error {
	event.EventType = SubjectIdentityReviewed
	return p.publish(ctx, SubjectIdentityReviewed, event)
}

func (p *NatsPublisher) publish(ctx context.Context, subject string, event any) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "marshal event", "subject", subject, "error", err)
		return err
	}

	msg := nats.NewMsg(subject)
	msg.Data = eventJSON
	InjectTrace(ctx, msg)

	if err := p.conn.PublishMsg(msg); err != nil {
		slog.ErrorContext(ctx, "publish to NATS", "subject", subject, "error", err)
		return err
	}

	slog.InfoContext(ctx, "published event", "subject", subject)
	return nil
}

// InjectTrace carries the caller's span context in the message headers.
func InjectTrace(ctx context.Context, msg *nats.Msg) {
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
}

// ExtractTrace returns ctx joined to the span context found in msg, if any.
func ExtractTrace(ctx context.Context, msg *nats.Msg) context.Context {
	if msg.Header == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
}
