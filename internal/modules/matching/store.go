// README: Candidate source: Redis GEO hits hydrated with donation state.
package matching

import (
	"context"
	"time"

	"zerowaste/internal/modules/donation"
	"zerowaste/internal/modules/location"
	"zerowaste/internal/types"
)

type GeoIndex interface {
	Nearby(ctx context.Context, layer location.Layer, p types.Point, radiusKm float64) ([]location.Nearby, error)
}

type DonationReader interface {
	Get(ctx context.Context, id types.ID) (*donation.Donation, error)
	GetMany(ctx context.Context, ids []types.ID) ([]*donation.Donation, error)
}

type Store struct {
	geo       GeoIndex
	donations DonationReader
}

func NewStore(geo GeoIndex, donations DonationReader) *Store {
	return &Store{geo: geo, donations: donations}
}

// Recipients returns recipients indexed within radiusKm of p, closest first.
func (s *Store) Recipients(ctx context.Context, p types.Point, radiusKm float64) ([]Candidate, error) {
	hits, err := s.geo.Nearby(ctx, location.LayerRecipients, p, radiusKm)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{ID: h.ID, Position: h.Position}
	}
	return out, nil
}

// Donations returns available donations within radiusKm of p, closest first.
// Index entries whose donation is gone or no longer available are skipped.
func (s *Store) Donations(ctx context.Context, p types.Point, radiusKm float64, now time.Time) ([]*donation.Donation, []Candidate, error) {
	hits, err := s.geo.Nearby(ctx, location.LayerDonations, p, radiusKm)
	if err != nil {
		return nil, nil, err
	}
	if len(hits) == 0 {
		return nil, nil, nil
	}
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	found, err := s.donations.GetMany(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[types.ID]*donation.Donation, len(found))
	for _, d := range found {
		byID[d.ID] = d
	}

	var items []*donation.Donation
	var cands []Candidate
	for _, h := range hits {
		d, ok := byID[h.ID]
		if !ok || d.Status != donation.StatusAvailable {
			continue
		}
		items = append(items, d)
		cands = append(cands, Candidate{
			ID:              d.ID,
			Position:        d.Position,
			DaysUntilExpiry: d.DaysUntilExpiry(now),
		})
	}
	return items, cands, nil
}
