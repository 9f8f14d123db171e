// Package notify delivers user-facing notifications. Delivery is best-effort:
// callers log failures and never roll back the state change that triggered them.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"zerowaste/internal/types"
)

var sentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zerowaste_notifications_total",
	Help: "Notifications handed to the notifier, by result",
}, []string{"result"})

// Recipient identifies who a notification is for. Address is channel specific
// (FCM device token or e-mail); UserID addresses in-app channels.
type Recipient struct {
	UserID  types.ID
	Address string
}

// DeviceToken returns Address when it can be an FCM registration token.
// E-mail addresses and empty addresses yield "".
func (r Recipient) DeviceToken() string {
	if r.Address == "" || strings.Contains(r.Address, "@") {
		return ""
	}
	return r.Address
}

type Notifier interface {
	Notify(ctx context.Context, to Recipient, subject, body string) error
}

// Multi fans a notification out to every channel and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, to Recipient, subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, to, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to the structured log. Used when no channel is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, to Recipient, subject, body string) error {
	l.Logger.InfoContext(ctx, "notification",
		"user_id", to.UserID,
		"address", to.Address,
		"subject", subject,
		"body", body,
	)
	return nil
}

// Send delivers through n and swallows the error after logging it.
// It reports whether delivery succeeded.
func Send(ctx context.Context, n Notifier, logger *slog.Logger, to Recipient, subject, body string) bool {
	if n == nil {
		return false
	}
	if err := n.Notify(ctx, to, subject, body); err != nil {
		sentTotal.WithLabelValues("failed").Inc()
		logger.WarnContext(ctx, "notification failed",
			"user_id", to.UserID,
			"subject", subject,
			"err", err,
		)
		return false
	}
	sentTotal.WithLabelValues("sent").Inc()
	return true
}
