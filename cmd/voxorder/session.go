package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxorder/internal/order"
	"github.com/MrWong99/voxorder/internal/session"
	"github.com/MrWong99/voxorder/internal/voice"
)

// reconnectDelay is the pause between failed connect attempts.
const reconnectDelay = 5 * time.Second

// runSession connects the client and keeps it connected until ctx is done.
// Kiosk sessions record continuously. Push-to-talk sessions toggle
// recording on SIGUSR1.
func runSession(ctx context.Context, client *voice.Client, pushToTalk bool, cart *order.Cart, logger *slog.Logger) error {
	toggle := make(chan os.Signal, 1)
	if pushToTalk {
		signal.Notify(toggle, syscall.SIGUSR1)
		defer signal.Stop(toggle)
		logger.Info("push-to-talk: send SIGUSR1 to start and stop a turn", "pid", os.Getpid())
	}

	if err := connect(ctx, client, pushToTalk, logger); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-toggle:
			if client.State() == session.StateRecording {
				client.StopRecording(ctx)
			} else if !client.StartRecording(ctx) {
				logger.Warn("cannot start recording", "state", client.State())
			}

		case ev := <-client.Events():
			logEvent(logger, ev)
			switch e := ev.(type) {
			case voice.StateChanged:
				// The transport reconnected on its own; resume listening.
				if !pushToTalk && e.To == session.StateIdle && client.State() == session.StateIdle {
					client.StartRecording(ctx)
				}
			case voice.Error:
				if e.Kind != voice.KindTransport && e.Kind != voice.KindTimeout || client.Ready() {
					continue
				}
				_ = client.Disconnect()
				if err := connect(ctx, client, pushToTalk, logger); err != nil {
					return err
				}
			case voice.OrderIntent:
				if e.Err == nil && e.Intent.Action == order.ActionConfirm {
					logger.Info("order confirmed", "lines", cart.Lines())
				}
			}
		}
	}
}

// connect retries until the session is ready or ctx is done. A kiosk starts
// recording straight away.
func connect(ctx context.Context, client *voice.Client, pushToTalk bool, logger *slog.Logger) error {
	for {
		err := client.Connect(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, voice.ErrClosed) {
			return err
		}
		logger.Warn("connect failed, retrying", "err", err, "delay", reconnectDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
	logger.Info("session ready")
	if !pushToTalk && !client.StartRecording(ctx) {
		logger.Warn("cannot start hands-free recording", "state", client.State())
	}
	return nil
}

func logEvent(logger *slog.Logger, ev voice.Event) {
	switch e := ev.(type) {
	case voice.StateChanged:
		logger.Debug("state changed", "from", e.From, "to", e.To, "event", e.Event, "reason", e.Reason)
	case voice.Transcript:
		if e.Final {
			logger.Info("guest said", "text", e.Text, "item_id", e.ItemID)
		}
	case voice.Response:
		if e.Final {
			logger.Info("assistant said", "text", e.Text, "response_id", e.ResponseID)
		}
	case voice.OrderIntent:
		if e.Err != nil {
			logger.Warn("order intent rejected", "action", e.Intent.Action, "item", e.Intent.ItemName, "err", e.Err)
		}
	case voice.RateLimited:
		logger.Warn("rate limited", "retry_after", e.RetryAfter, "bucket", e.Bucket)
	case voice.Error:
		logger.Error("session error", "kind", e.Kind, "code", e.Code, "err", e.Err)
	}
}
