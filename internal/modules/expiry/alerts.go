package expiry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zerowaste/internal/modules/donation"
	"zerowaste/internal/modules/matching"
	"zerowaste/internal/modules/notify"
	"zerowaste/internal/types"
)

// DefaultAlertThreshold is how far ahead expiring-soon alerts look.
const DefaultAlertThreshold = 48 * time.Hour

type AlertReport struct {
	Items              int `json:"items"`
	DonorsNotified     int `json:"donors_notified"`
	RecipientsNotified int `json:"recipients_notified"`
}

// AlertExpiringSoon warns donors about items expiring within threshold and
// points nearby recipients at them. Each user receives at most one message.
func (s *Service) AlertExpiringSoon(ctx context.Context, now time.Time, threshold time.Duration) (AlertReport, error) {
	ctx, span := tracer.Start(ctx, "expiry.AlertExpiringSoon")
	defer span.End()

	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	soon, err := s.items.ListExpiringBetween(ctx, now, now.Add(threshold))
	if err != nil {
		return AlertReport{}, types.Dependency(err)
	}
	report := AlertReport{Items: len(soon)}

	var donors, recipients []types.ID
	byDonor := make(map[types.ID][]*donation.Donation)
	byRecipient := make(map[types.ID][]*donation.Donation)

	for _, d := range soon {
		if _, seen := byDonor[d.DonorID]; !seen {
			donors = append(donors, d.DonorID)
		}
		byDonor[d.DonorID] = append(byDonor[d.DonorID], d)

		if s.matcher == nil {
			continue
		}
		matches, err := s.matcher.RecipientsFor(ctx, d, matching.Query{
			MaxDistanceKm: s.opts.AlertRadiusKm,
			Limit:         s.opts.AlertRecipients,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "recipient lookup failed", "donation_id", d.ID, "err", err)
			continue
		}
		for _, m := range matches {
			if _, seen := byRecipient[m.ID]; !seen {
				recipients = append(recipients, m.ID)
			}
			byRecipient[m.ID] = append(byRecipient[m.ID], d)
		}
	}

	for _, id := range donors {
		body := fmt.Sprintf("Expiring soon: %s. Listings are retired once they expire.", listTitles(byDonor[id], now))
		if notify.Send(ctx, s.notifier, s.logger, s.contact(ctx, id), "Donations expiring soon", body) {
			report.DonorsNotified++
		}
	}
	for _, id := range recipients {
		body := fmt.Sprintf("Near you and expiring soon: %s.", listTitles(byRecipient[id], now))
		if notify.Send(ctx, s.notifier, s.logger, s.contact(ctx, id), "Food nearby needs a home", body) {
			report.RecipientsNotified++
		}
	}

	s.logger.InfoContext(ctx, "expiry alerts sent",
		"items", report.Items,
		"donors", report.DonorsNotified,
		"recipients", report.RecipientsNotified,
	)
	return report, nil
}

func listTitles(items []*donation.Donation, now time.Time) string {
	parts := make([]string, len(items))
	for i, d := range items {
		if d.ExpiresAt == nil {
			parts[i] = d.Title
			continue
		}
		parts[i] = fmt.Sprintf("%s (%s left)", d.Title, d.ExpiresAt.Sub(now).Round(time.Minute))
	}
	return strings.Join(parts, ", ")
}
