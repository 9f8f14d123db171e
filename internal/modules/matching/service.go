// README: Matching service ranks recipients for a donation and donations for a recipient.
package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"zerowaste/internal/modules/donation"
	"zerowaste/internal/types"
)

var tracer = otel.Tracer("zerowaste/matching")

var candidatesReturned = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "zerowaste_match_results",
	Help:    "Number of ranked candidates returned per match query",
	Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
}, []string{"direction"})

// Users resolves a user's last known position.
type Users interface {
	Position(ctx context.Context, id types.ID) (types.Point, error)
}

type Candidates interface {
	Recipients(ctx context.Context, p types.Point, radiusKm float64) ([]Candidate, error)
	Donations(ctx context.Context, p types.Point, radiusKm float64, now time.Time) ([]*donation.Donation, []Candidate, error)
}

type Service struct {
	candidates Candidates
	donations  DonationReader
	users      Users
	defaultKm  float64
	now        func() time.Time
}

// NewService wires the candidate source. defaultKm replaces a zero
// MaxDistanceKm; it falls back to DefaultMaxDistanceKm when not positive.
func NewService(candidates Candidates, donations DonationReader, users Users, defaultKm float64) *Service {
	if defaultKm <= 0 {
		defaultKm = DefaultMaxDistanceKm
	}
	return &Service{
		candidates: candidates,
		donations:  donations,
		users:      users,
		defaultKm:  defaultKm,
		now:        time.Now,
	}
}

// DonationMatch pairs a score with the donation it ranks.
type DonationMatch struct {
	Match
	Donation *donation.Donation
}

func (s *Service) resolve(q Query, defLimit int) (Query, error) {
	if q.MaxDistanceKm < 0 {
		return q, fmt.Errorf("%w: max distance must be positive", types.ErrBadRequest)
	}
	if q.MaxDistanceKm == 0 {
		q.MaxDistanceKm = s.defaultKm
	}
	if q.Limit < 0 {
		return q, fmt.Errorf("%w: limit must not be negative", types.ErrBadRequest)
	}
	if q.Limit == 0 {
		q.Limit = defLimit
	}
	return q, nil
}

// RecipientsForDonation ranks recipients near the donation. Every candidate
// shares the donation's urgency; the donor is never suggested.
func (s *Service) RecipientsForDonation(ctx context.Context, donationID types.ID, q Query) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "matching.RecipientsForDonation")
	defer span.End()
	span.SetAttributes(attribute.String("donation_id", donationID.String()))

	q, err := s.resolve(q, DefaultRecipientLimit)
	if err != nil {
		return nil, err
	}
	d, err := s.donations.Get(ctx, donationID)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return s.recipientsFor(ctx, d, q)
}

// RecipientsFor ranks recipients for an already loaded donation.
func (s *Service) RecipientsFor(ctx context.Context, d *donation.Donation, q Query) ([]Match, error) {
	q, err := s.resolve(q, DefaultRecipientLimit)
	if err != nil {
		return nil, err
	}
	return s.recipientsFor(ctx, d, q)
}

func (s *Service) recipientsFor(ctx context.Context, d *donation.Donation, q Query) ([]Match, error) {
	cands, err := s.candidates.Recipients(ctx, d.Position, q.MaxDistanceKm)
	if err != nil {
		return nil, types.Dependency(err)
	}
	days := d.DaysUntilExpiry(s.now())
	filtered := cands[:0]
	for _, c := range cands {
		if c.ID == d.DonorID {
			continue
		}
		c.DaysUntilExpiry = days
		filtered = append(filtered, c)
	}

	out, err := Rank(d.Position, filtered, q.MaxDistanceKm, q.Limit, RecipientsForItem)
	if err != nil {
		return nil, err
	}
	candidatesReturned.WithLabelValues("recipients").Observe(float64(len(out)))
	return out, nil
}

// DonationsForRecipient ranks available donations near the user. The user's
// own listings are excluded.
func (s *Service) DonationsForRecipient(ctx context.Context, userID types.ID, q Query) ([]DonationMatch, error) {
	ctx, span := tracer.Start(ctx, "matching.DonationsForRecipient")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID.String()))

	q, err := s.resolve(q, DefaultDonationLimit)
	if err != nil {
		return nil, err
	}
	pos, err := s.users.Position(ctx, userID)
	if err != nil {
		return nil, types.Dependency(err)
	}
	items, cands, err := s.candidates.Donations(ctx, pos, q.MaxDistanceKm, s.now())
	if err != nil {
		return nil, types.Dependency(err)
	}

	byID := make(map[types.ID]*donation.Donation, len(items))
	filtered := make([]Candidate, 0, len(cands))
	for i, c := range cands {
		if items[i].DonorID == userID {
			continue
		}
		byID[c.ID] = items[i]
		filtered = append(filtered, c)
	}

	ranked, err := Rank(pos, filtered, q.MaxDistanceKm, q.Limit, ItemsForRecipient)
	if err != nil {
		return nil, err
	}
	out := make([]DonationMatch, len(ranked))
	for i, m := range ranked {
		out[i] = DonationMatch{Match: m, Donation: byID[m.ID]}
	}
	candidatesReturned.WithLabelValues("donations").Observe(float64(len(out)))
	return out, nil
}
