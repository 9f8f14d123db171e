// README: Location service validates coordinates and maintains the GEO index.
package location

import (
	"context"
	"fmt"

	"zerowaste/internal/types"
)

// Index is the subset of Store the service needs; tests substitute an in-memory one.
type Index interface {
	Set(ctx context.Context, layer Layer, id types.ID, pos types.Point) error
	Remove(ctx context.Context, layer Layer, id types.ID) error
	Nearby(ctx context.Context, layer Layer, p types.Point, radiusKm float64) ([]Nearby, error)
}

type Service struct {
	index    Index
	geocoder Geocoder
}

// NewService wires the GEO index. geocoder may be nil when no Maps key is configured.
func NewService(index Index, geocoder Geocoder) *Service {
	return &Service{index: index, geocoder: geocoder}
}

func (s *Service) Track(ctx context.Context, layer Layer, id types.ID, pos types.Point) error {
	if err := pos.Validate(); err != nil {
		return err
	}
	return types.Dependency(s.index.Set(ctx, layer, id, pos))
}

func (s *Service) Untrack(ctx context.Context, layer Layer, id types.ID) error {
	return types.Dependency(s.index.Remove(ctx, layer, id))
}

func (s *Service) Nearby(ctx context.Context, layer Layer, p types.Point, radiusKm float64) ([]Nearby, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", types.ErrBadRequest)
	}
	hits, err := s.index.Nearby(ctx, layer, p, radiusKm)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return hits, nil
}

// Resolve returns pos when it is set, otherwise geocodes address.
func (s *Service) Resolve(ctx context.Context, pos *types.Point, address string) (types.Point, error) {
	if pos != nil {
		if err := pos.Validate(); err != nil {
			return types.Point{}, err
		}
		return *pos, nil
	}
	if address == "" {
		return types.Point{}, fmt.Errorf("%w: location or address required", types.ErrInvalidCoordinate)
	}
	if s.geocoder == nil {
		return types.Point{}, fmt.Errorf("%w: geocoding not configured", types.ErrInvalidCoordinate)
	}
	p, err := s.geocoder.Geocode(ctx, address)
	if err != nil {
		return types.Point{}, err
	}
	if err := p.Validate(); err != nil {
		return types.Point{}, err
	}
	return p, nil
}
