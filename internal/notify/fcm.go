// README: Firebase Cloud Messaging delivery of ride events to registered devices.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM sends data messages to the recipient's last registered device token.
type FCM struct {
	client messagingClient
	tokens TokenStore
	log    *slog.Logger
}

func NewFCM(ctx context.Context, app *firebase.App, tokens TokenStore, logger *slog.Logger) (*FCM, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return newFCM(client, tokens, logger), nil
}

func newFCM(client messagingClient, tokens TokenStore, logger *slog.Logger) *FCM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FCM{client: client, tokens: tokens, log: logger.With("component", "fcm")}
}

func (f *FCM) Notify(ctx context.Context, recipient types.ID, event string, payload any) error {
	token, err := f.tokens.Token(ctx, recipient)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":    event,
			"payload": string(data),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if title, body, ok := notificationText(event); ok {
		msg.Notification = &messaging.Notification{Title: title, Body: body}
	}

	messageID, err := f.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsUnregistered(err) {
			_ = f.tokens.DeleteToken(ctx, recipient)
		}
		return fmt.Errorf("sending FCM to %s: %w", recipient, err)
	}
	f.log.Debug("fcm sent", "recipient", recipient, "event", event, "message_id", messageID)
	return nil
}

func notificationText(event string) (title, body string, ok bool) {
	switch event {
	case ride.EventNewRide:
		return "New ride request", "A rider nearby is looking for a ride", true
	case ride.EventRideConfirmed:
		return "Driver on the way", "Your ride has been accepted", true
	case ride.EventRideStarted:
		return "Ride started", "Enjoy your trip", true
	case ride.EventRideEnded:
		return "Ride completed", "Thanks for riding", true
	case ride.EventRideCancelled:
		return "Ride cancelled", "The ride has been cancelled", true
	}
	return "", "", false
}
