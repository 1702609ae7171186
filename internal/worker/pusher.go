package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"forum-api/internal/config"
)

// ErrPushRejected means APNs answered but refused the notification, for example
// because the device token is no longer registered. Retrying does not help.
var ErrPushRejected = errors.New("push rejected by APNs")

type Pusher interface {
	Push(ctx context.Context, deviceToken string, p *payload.Payload) error
}

// PushClient is the part of *apns2.Client the pusher uses.
type PushClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type APNSPusher struct {
	client PushClient
	topic  string
}

// NewAPNSPusher builds a token based client. Without credentials it returns a
// pusher in mock mode that only logs.
func NewAPNSPusher(cfg config.APNSConfig) (*APNSPusher, error) {
	if !cfg.APNSEnabled() {
		slog.Warn("APNs credentials not found or invalid. Worker will run in MOCK mode.")
		return &APNSPusher{topic: cfg.Topic}, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.AuthKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read APNs auth key: %w", err)
	}

	authToken := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(authToken)
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	slog.Info("APNs client initialized", "production", cfg.Production, "topic", cfg.Topic)

	return NewPusher(client, cfg.Topic), nil
}

func NewPusher(client PushClient, topic string) *APNSPusher {
	return &APNSPusher{client: client, topic: topic}
}

func (p *APNSPusher) Mock() bool {
	return p.client == nil
}

func (p *APNSPusher) Push(ctx context.Context, deviceToken string, pl *payload.Payload) error {
	if p.client == nil {
		slog.InfoContext(ctx, "Push notification sent (mock)", "device_token", deviceToken)
		return nil
	}

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       p.topic,
		Payload:     pl,
		Priority:    apns2.PriorityHigh,
		PushType:    apns2.PushTypeAlert,
	}

	res, err := p.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("push to %s: %w", deviceToken, err)
	}
	if !res.Sent() {
		return fmt.Errorf("%w: %d %s", ErrPushRejected, res.StatusCode, res.Reason)
	}

	slog.InfoContext(ctx, "Push notification sent", "apns_id", res.ApnsID, "device_token", deviceToken)
	return nil
}
