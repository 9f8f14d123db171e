package matching

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"zerowaste/internal/types"
)

func days(v float64) *float64 { return &v }

func TestUrgencyScore_Tiers(t *testing.T) {
	tests := []struct {
		name string
		days *float64
		want float64
	}{
		{"no expiry is neutral", nil, 0.8},
		{"already due", days(0), 1.0},
		{"twelve hours", days(0.5), 1.0},
		{"exactly one day", days(1), 1.0},
		{"two days", days(2), 0.8},
		{"exactly three days", days(3), 0.8},
		{"a week", days(7), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UrgencyScore(tt.days))
		})
	}
}

func TestDistanceScore_Clamped(t *testing.T) {
	assert.Equal(t, 1.0, DistanceScore(0, 10))
	assert.InDelta(t, 0.9, DistanceScore(1, 10), 1e-12)
	assert.Equal(t, 0.0, DistanceScore(10, 10))
	assert.Equal(t, 0.0, DistanceScore(25, 10))
}

func TestTotal_TwelveHoursAtNinetyPercent(t *testing.T) {
	total := RecipientsForItem.Total(0.9, UrgencyScore(days(0.5)))
	assert.InDelta(t, 0.94, total, 1e-12)
}

func TestRank_OrdersExcludesAndTruncates(t *testing.T) {
	ref := types.Point{Lng: 121.5654, Lat: 25.0330}
	cands := []Candidate{
		{ID: "far", Position: types.Point{Lng: 121.9, Lat: 25.3}},
		{ID: "near-later", Position: types.Point{Lng: 121.566, Lat: 25.034}, DaysUntilExpiry: days(5)},
		{ID: "near-urgent", Position: types.Point{Lng: 121.566, Lat: 25.034}, DaysUntilExpiry: days(0.2)},
		{ID: "mid", Position: types.Point{Lng: 121.60, Lat: 25.05}, DaysUntilExpiry: days(0.5)},
	}

	got, err := Rank(ref, cands, 10, 0, ItemsForRecipient)
	require.NoError(t, err)
	ids := make([]types.ID, len(got))
	for i, m := range got {
		ids[i] = m.ID
	}
	assert.Equal(t, []types.ID{"near-urgent", "mid", "near-later"}, ids)

	top, err := Rank(ref, cands, 10, 2, ItemsForRecipient)
	require.NoError(t, err)
	assert.Len(t, top, 2)
	assert.Equal(t, types.ID("near-urgent"), top[0].ID)
}

func TestRank_EmptyAndInvalid(t *testing.T) {
	ref := types.Point{Lng: 0, Lat: 0}

	got, err := Rank(ref, nil, 10, 5, RecipientsForItem)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	_, err = Rank(ref, nil, 0, 5, RecipientsForItem)
	assert.ErrorIs(t, err, types.ErrBadRequest)

	_, err = Rank(types.Point{Lat: 100}, nil, 10, 5, RecipientsForItem)
	assert.ErrorIs(t, err, types.ErrInvalidCoordinate)

	_, err = Rank(ref, []Candidate{{ID: "x", Position: types.Point{Lng: 200}}}, 10, 5, RecipientsForItem)
	assert.ErrorIs(t, err, types.ErrInvalidCoordinate)
}

func TestRank_TiesKeepInputOrder(t *testing.T) {
	ref := types.Point{Lng: 10, Lat: 10}
	same := types.Point{Lng: 10.01, Lat: 10.01}
	var cands []Candidate
	for i := 0; i < 20; i++ {
		cands = append(cands, Candidate{ID: types.ID(fmt.Sprintf("c%02d", i)), Position: same})
	}
	got, err := Rank(ref, cands, 10, 0, RecipientsForItem)
	require.NoError(t, err)
	for i, m := range got {
		assert.Equal(t, cands[i].ID, m.ID)
	}
}

func genPoint(t *rapid.T, label string) types.Point {
	return types.Point{
		Lng: rapid.Float64Range(-0.5, 0.5).Draw(t, label+"_lng"),
		Lat: rapid.Float64Range(-0.5, 0.5).Draw(t, label+"_lat"),
	}
}

func TestRank_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ref := genPoint(t, "ref")
		maxKm := rapid.Float64Range(0.5, 80).Draw(t, "max_km")
		limit := rapid.IntRange(0, 15).Draw(t, "limit")
		w := rapid.SampledFrom([]Weights{RecipientsForItem, ItemsForRecipient}).Draw(t, "weights")

		n := rapid.IntRange(0, 30).Draw(t, "n")
		cands := make([]Candidate, n)
		for i := range cands {
			cands[i] = Candidate{ID: types.ID(fmt.Sprintf("c%d", i)), Position: genPoint(t, fmt.Sprintf("c%d", i))}
			if rapid.Bool().Draw(t, fmt.Sprintf("has_expiry_%d", i)) {
				cands[i].DaysUntilExpiry = days(rapid.Float64Range(0, 30).Draw(t, fmt.Sprintf("days_%d", i)))
			}
		}

		got, err := Rank(ref, cands, maxKm, limit, w)
		if err != nil {
			t.Fatalf("rank: %v", err)
		}
		if limit > 0 && len(got) > limit {
			t.Fatalf("got %d results, limit %d", len(got), limit)
		}
		for i, m := range got {
			if m.DistanceScore < 0 || m.DistanceScore > 1 || m.UrgencyScore < 0 || m.UrgencyScore > 1 {
				t.Fatalf("component out of range: %+v", m)
			}
			if m.Score < 0 || m.Score > w.Distance+w.Urgency+1e-12 {
				t.Fatalf("total out of range: %+v", m)
			}
			if m.DistanceKm > maxKm {
				t.Fatalf("candidate beyond radius: %+v", m)
			}
			if i > 0 && got[i-1].Score < m.Score {
				t.Fatalf("not sorted at %d: %v < %v", i, got[i-1].Score, m.Score)
			}
		}
	})
}
