// README: Expiry sweep retires overdue perishable donations and tells each donor once.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"zerowaste/internal/modules/donation"
	"zerowaste/internal/modules/matching"
	"zerowaste/internal/modules/notify"
	"zerowaste/internal/types"
)

var tracer = otel.Tracer("zerowaste/expiry")

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zerowaste_sweep_runs_total",
		Help: "Expiry sweep triggers by outcome",
	}, []string{"outcome"})
	sweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zerowaste_sweep_items_total",
		Help: "Items visited by the expiry sweep by result",
	}, []string{"result"})
)

const lockKey = "lock:expiry-sweep"

type Items interface {
	ListExpired(ctx context.Context, now time.Time) ([]*donation.Donation, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*donation.Donation, error)
	Expire(ctx context.Context, d *donation.Donation, now time.Time) error
}

type Contacts interface {
	Contact(ctx context.Context, id types.ID) (notify.Recipient, error)
}

// Matcher suggests recipients near a donation for expiring-soon alerts.
type Matcher interface {
	RecipientsFor(ctx context.Context, d *donation.Donation, q matching.Query) ([]matching.Match, error)
}

type Options struct {
	// LockTTL bounds how long a crashed instance can hold the shared lock.
	LockTTL time.Duration
	// AlertRadiusKm and AlertRecipients bound the recipients told about an expiring item.
	AlertRadiusKm   float64
	AlertRecipients int
}

type Service struct {
	items    Items
	contacts Contacts
	notifier notify.Notifier
	matcher  Matcher
	lock     Locker
	logger   *slog.Logger
	opts     Options
	running  atomic.Bool
}

// NewService wires the sweep. lock and matcher may be nil: without a lock only
// the in-process guard applies; without a matcher alerts go to donors only.
func NewService(items Items, contacts Contacts, notifier notify.Notifier, matcher Matcher, lock Locker, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.AlertRadiusKm <= 0 {
		opts.AlertRadiusKm = 5
	}
	if opts.AlertRecipients <= 0 {
		opts.AlertRecipients = 5
	}
	return &Service{
		items:    items,
		contacts: contacts,
		notifier: notifier,
		matcher:  matcher,
		lock:     lock,
		logger:   logger,
		opts:     opts,
	}
}

// Report summarises one sweep.
type Report struct {
	// Overlapped is set when another sweep held the guard and nothing ran.
	Overlapped bool `json:"overlapped"`
	Found      int  `json:"found"`
	Expired    int  `json:"expired"`
	// Skipped counts items that changed between query and write.
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Notified int `json:"notified"`
}

// Sweep expires every available perishable item with an expiry before now.
// Items lost to a concurrent change are skipped; dependency failures are
// collected and returned once the whole batch has been attempted. Donor
// notifications are best-effort and never undo a status write.
func (s *Service) Sweep(ctx context.Context, now time.Time) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		sweepRuns.WithLabelValues("overlapped").Inc()
		return Report{Overlapped: true}, nil
	}
	defer s.running.Store(false)

	if s.lock != nil {
		release, ok, err := s.lock.TryLock(ctx, lockKey, s.opts.LockTTL)
		if err != nil {
			sweepRuns.WithLabelValues("error").Inc()
			return Report{}, types.Dependency(fmt.Errorf("acquire sweep lock: %w", err))
		}
		if !ok {
			sweepRuns.WithLabelValues("overlapped").Inc()
			return Report{Overlapped: true}, nil
		}
		defer release()
	}

	ctx, span := tracer.Start(ctx, "expiry.Sweep")
	defer span.End()

	overdue, err := s.items.ListExpired(ctx, now)
	if err != nil {
		sweepRuns.WithLabelValues("error").Inc()
		return Report{}, types.Dependency(err)
	}
	report := Report{Found: len(overdue)}

	var donors []types.ID
	byDonor := make(map[types.ID][]*donation.Donation)
	var errs []error

	for _, d := range overdue {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		err := s.items.Expire(ctx, d, now)
		switch {
		case err == nil:
			report.Expired++
			sweepItems.WithLabelValues("expired").Inc()
			if _, seen := byDonor[d.DonorID]; !seen {
				donors = append(donors, d.DonorID)
			}
			byDonor[d.DonorID] = append(byDonor[d.DonorID], d)
		case errors.Is(err, types.ErrConcurrentModification), errors.Is(err, types.ErrInvalidTransition):
			report.Skipped++
			sweepItems.WithLabelValues("skipped").Inc()
			s.logger.InfoContext(ctx, "expiry skipped, item changed", "donation_id", d.ID)
		default:
			report.Failed++
			sweepItems.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("expire %s: %w", d.ID, err))
		}
	}

	for _, donorID := range donors {
		if s.notifyDonor(ctx, donorID, byDonor[donorID]) {
			report.Notified++
		}
	}

	span.SetAttributes(
		attribute.Int("found", report.Found),
		attribute.Int("expired", report.Expired),
		attribute.Int("skipped", report.Skipped),
	)
	outcome := "ok"
	if len(errs) > 0 {
		outcome = "partial"
	}
	sweepRuns.WithLabelValues(outcome).Inc()
	s.logger.InfoContext(ctx, "expiry sweep finished",
		"found", report.Found,
		"expired", report.Expired,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"notified", report.Notified,
	)
	return report, errors.Join(errs...)
}

// Run sweeps on every tick of clock until ctx is done.
func (s *Service) Run(ctx context.Context, clock Clock) {
	clock.OnTick(ctx, func(ctx context.Context, now time.Time) {
		if _, err := s.Sweep(ctx, now); err != nil {
			s.logger.ErrorContext(ctx, "expiry sweep failed", "err", err)
		}
	})
}

func (s *Service) notifyDonor(ctx context.Context, donorID types.ID, items []*donation.Donation) bool {
	titles := make([]string, len(items))
	for i, d := range items {
		titles[i] = d.Title
	}
	subject := "Your donations expired"
	if len(items) == 1 {
		subject = "Your donation expired"
	}
	body := fmt.Sprintf("These listings passed their expiry date and were removed: %s.", strings.Join(titles, ", "))
	return notify.Send(ctx, s.notifier, s.logger, s.contact(ctx, donorID), subject, body)
}

func (s *Service) contact(ctx context.Context, id types.ID) notify.Recipient {
	if s.contacts == nil {
		return notify.Recipient{UserID: id}
	}
	rc, err := s.contacts.Contact(ctx, id)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			s.logger.WarnContext(ctx, "contact lookup failed", "user_id", id, "err", err)
		}
		return notify.Recipient{UserID: id}
	}
	return rc
}
