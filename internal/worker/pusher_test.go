package worker

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-api/internal/config"
)

type fakePushClient struct {
	res  *apns2.Response
	err  error
	sent []*apns2.Notification
}

func (c *fakePushClient) PushWithContext(_ apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	c.sent = append(c.sent, n)
	return c.res, c.err
}

func TestNewAPNSPusher_MockWithoutCredentials(t *testing.T) {
	p, err := NewAPNSPusher(config.APNSConfig{Topic: "com.unikorn.app"})
	require.NoError(t, err)
	assert.True(t, p.Mock())

	require.NoError(t, p.Push(context.Background(), "device", payload.NewPayload().AlertBody("hi")))
}

func TestNewAPNSPusher_MissingKeyFile(t *testing.T) {
	_, err := NewAPNSPusher(config.APNSConfig{AuthKeyPath: "/nonexistent/AuthKey.p8", KeyID: "KEY", TeamID: "TEAM"})
	require.Error(t, err)
}

func TestPush_Sent(t *testing.T) {
	client := &fakePushClient{res: &apns2.Response{StatusCode: http.StatusOK, ApnsID: "apns-1"}}
	p := NewPusher(client, "com.unikorn.app")

	require.NoError(t, p.Push(context.Background(), "device-a", payload.NewPayload().AlertBody("hi")))

	require.Len(t, client.sent, 1)
	assert.Equal(t, "device-a", client.sent[0].DeviceToken)
	assert.Equal(t, "com.unikorn.app", client.sent[0].Topic)
	assert.Equal(t, apns2.PushTypeAlert, client.sent[0].PushType)
}

func TestPush_Rejected(t *testing.T) {
	client := &fakePushClient{res: &apns2.Response{StatusCode: http.StatusGone, Reason: apns2.ReasonUnregistered}}
	p := NewPusher(client, "com.unikorn.app")

	err := p.Push(context.Background(), "stale", payload.NewPayload())
	require.ErrorIs(t, err, ErrPushRejected)
	assert.Contains(t, err.Error(), "Unregistered")
}

func TestPush_TransportError(t *testing.T) {
	client := &fakePushClient{err: errors.New("http2: client connection lost")}
	p := NewPusher(client, "com.unikorn.app")

	err := p.Push(context.Background(), "device-a", payload.NewPayload())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPushRejected)
}
