package matching

import (
	"fmt"
	"sort"

	"zerowaste/internal/modules/location"
	"zerowaste/internal/types"
)

// DistanceScore is 1 at the reference point falling linearly to 0 at maxKm.
func DistanceScore(distanceKm, maxKm float64) float64 {
	s := 1 - distanceKm/maxKm
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// UrgencyScore is tiered on days left: 1.0 within a day, 0.8 within three, 0.5 beyond.
func UrgencyScore(daysUntilExpiry *float64) float64 {
	if daysUntilExpiry == nil {
		return neutralUrgency
	}
	switch d := *daysUntilExpiry; {
	case d <= 1:
		return 1.0
	case d <= 3:
		return 0.8
	default:
		return 0.5
	}
}

func (w Weights) Total(distanceScore, urgencyScore float64) float64 {
	return w.Distance*distanceScore + w.Urgency*urgencyScore
}

// Rank scores candidates around ref, drops those beyond maxKm and returns the
// rest by descending score. Equal scores keep input order. limit <= 0 keeps all.
func Rank(ref types.Point, candidates []Candidate, maxKm float64, limit int, w Weights) ([]Match, error) {
	if maxKm <= 0 {
		return nil, fmt.Errorf("%w: max distance must be positive", types.ErrBadRequest)
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		d, err := location.DistanceKm(ref, c.Position)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.ID, err)
		}
		if d > maxKm {
			continue
		}
		ds := DistanceScore(d, maxKm)
		us := UrgencyScore(c.DaysUntilExpiry)
		out = append(out, Match{
			ID:            c.ID,
			DistanceKm:    d,
			DistanceScore: ds,
			UrgencyScore:  us,
			Score:         w.Total(ds, us),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
