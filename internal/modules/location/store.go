// README: Location store backed by Redis GEO sets (recipients and listed donations).
package location

import (
	"context"

	"github.com/redis/go-redis/v9"

	"zerowaste/internal/types"
)

type Layer string

const (
	LayerRecipients Layer = "recipients"
	LayerDonations  Layer = "donations"
)

func (l Layer) key() string {
	return "geo:" + string(l)
}

// Nearby is a single GEOSEARCH hit.
type Nearby struct {
	ID         types.ID
	Position   types.Point
	DistanceKm float64
}

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) Set(ctx context.Context, layer Layer, id types.ID, pos types.Point) error {
	return s.redis.GeoAdd(ctx, layer.key(), &redis.GeoLocation{
		Name:      string(id),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}

func (s *Store) Remove(ctx context.Context, layer Layer, id types.ID) error {
	return s.redis.ZRem(ctx, layer.key(), string(id)).Err()
}

// Nearby returns members of layer within radiusKm of p, closest first.
func (s *Store) Nearby(ctx context.Context, layer Layer, p types.Point, radiusKm float64) ([]Nearby, error) {
	results, err := s.redis.GeoSearchLocation(ctx, layer.key(), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, len(results))
	for i, r := range results {
		out[i] = Nearby{
			ID:         types.ID(r.Name),
			Position:   types.Point{Lng: r.Longitude, Lat: r.Latitude},
			DistanceKm: r.Dist,
		}
	}
	return out, nil
}
