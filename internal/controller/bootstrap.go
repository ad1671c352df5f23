package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jorgemp1270/mrzorro-esp32/internal/provision"
	"github.com/jorgemp1270/mrzorro-esp32/internal/upload"
)

// Bootstrap runs the Configuring and Initializing states: it waits for the
// one configuration message, then retries Bringup until the uploader is up.
type Bootstrap struct {
	channel  *provision.Channel
	bringup  Bringup
	retry    time.Duration
	logger   *slog.Logger
	payload  provision.Payload
	client   *upload.Client
	nextTry  time.Time
	attempts int
}

// NewBootstrap creates the bring-up sequence for a driver
func NewBootstrap(channel *provision.Channel, bringup Bringup, retry time.Duration, logger *slog.Logger) (*Bootstrap, error) {
	if channel == nil {
		return nil, fmt.Errorf("provisioning channel is required")
	}
	if bringup == nil {
		return nil, fmt.Errorf("bringup is required")
	}
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrap{channel: channel, bringup: bringup, retry: retry, logger: logger}, nil
}

// Payload returns the received configuration
func (b *Bootstrap) Payload() provision.Payload {
	return b.payload
}

// Client returns the uploader once the machine has reached Ready
func (b *Bootstrap) Client() *upload.Client {
	return b.client
}

// Step advances m out of Configuring or Initializing when it can
func (b *Bootstrap) Step(ctx context.Context, m *Machine) error {
	switch m.State() {
	case StateConfiguring:
		select {
		case p := <-b.channel.C():
			b.payload = p
			b.logger.Info("Configuration received", slog.Any("payload", p))
			return m.Transition(StateInitializing)
		default:
			return nil
		}

	case StateInitializing:
		if time.Now().Before(b.nextTry) {
			return nil
		}
		b.attempts++

		client, err := b.bringup(ctx, b.payload)
		if err != nil {
			b.nextTry = time.Now().Add(b.retry)
			return fmt.Errorf("bringup attempt %d failed: %w", b.attempts, err)
		}

		b.client = client
		b.logger.Info("Backend ready",
			slog.String("api", client.Config().BaseURL),
			slog.String("user_id", b.payload.UserID),
			slog.Int("attempts", b.attempts))
		return m.Transition(StateReady)
	}
	return nil
}
