package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"forum-api/internal/events"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type recordingConn struct {
	subjects []string
	payloads [][]byte
	headers  []nats.Header
	err      error
}

func (c *recordingConn) PublishMsg(msg *nats.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, msg.Subject)
	c.payloads = append(c.payloads, msg.Data)
	c.headers = append(c.headers, msg.Header)
	return nil
}

func TestPublishEmailVerification_SetsSubjectAndType(t *testing.T) {
	conn := &recordingConn{}
	p := events.NewPublisher(conn)

	uid := uuid.New()
	err := p.PublishEmailVerification(context.Background(), events.EmailVerificationEvent{UserID: uid, Email: "a@hkust-gz.edu.cn", Code: "123456"})
	require.NoError(t, err)

	require.Equal(t, []string{events.SubjectEmailVerification}, conn.subjects)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(conn.payloads[0], &decoded))
	require.Equal(t, events.SubjectEmailVerification, decoded["event_type"])
	require.Equal(t, "123456", decoded["code"])
	require.Equal(t, uid.String(), decoded["user_id"])
}

func TestPublishIdentityReviewed_PropagatesError(t *testing.T) {
	conn := &recordingConn{err: errors.New("nats: connection closed")}
	p := events.NewPublisher(conn)

	err := p.PublishIdentityReviewed(context.Background(), events.IdentityReviewedEvent{Status: "approved"})
	require.Error(t, err)
}

func TestPublish_CarriesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	conn := &recordingConn{}
	p := events.NewPublisher(conn)
	require.NoError(t, p.PublishPasswordReset(ctx, events.PasswordResetEvent{Email: "a@hkust-gz.edu.cn"}))

	require.Len(t, conn.headers, 1)
	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", propagation.HeaderCarrier(conn.headers[0]).Get("traceparent"))

	msg := &nats.Msg{Header: conn.headers[0]}
	extracted := trace.SpanContextFromContext(events.ExtractTrace(context.Background(), msg))
	require.Equal(t, traceID, extracted.TraceID())
	require.True(t, extracted.IsRemote())
}
