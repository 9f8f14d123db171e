package notify

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
)

// FCM pushes notifications to a device token via Firebase Cloud Messaging.
type FCM struct {
	client *messaging.Client
	logger *slog.Logger
}

func NewFCM(client *messaging.Client, logger *slog.Logger) *FCM {
	return &FCM{client: client, logger: logger}
}

func (f *FCM) Notify(ctx context.Context, to Recipient, subject, body string) error {
	token := to.DeviceToken()
	if token == "" {
		// No device registered; other channels carry the message.
		f.logger.DebugContext(ctx, "fcm skipped, no device token", "user_id", to.UserID)
		return nil
	}

	msg := &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":    "notification",
			"user_id": string(to.UserID),
		},
		Notification: &messaging.Notification{
			Title: subject,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := f.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to user %s: %w", to.UserID, err)
	}

	f.logger.DebugContext(ctx, "fcm sent", "user_id", to.UserID, "message_id", messageID)
	return nil
}
