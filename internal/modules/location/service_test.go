package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerowaste/internal/types"
)

type stubGeocoder struct {
	p   types.Point
	err error
}

func (g stubGeocoder) Geocode(context.Context, string) (types.Point, error) { return g.p, g.err }

type failingIndex struct{}

func (failingIndex) Set(context.Context, Layer, types.ID, types.Point) error { return errors.New("boom") }
func (failingIndex) Remove(context.Context, Layer, types.ID) error            { return nil }
func (failingIndex) Nearby(context.Context, Layer, types.Point, float64) ([]Nearby, error) {
	return nil, errors.New("boom")
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	geo := stubGeocoder{p: types.Point{Lng: -73.98, Lat: 40.75}}
	svc := NewService(failingIndex{}, geo)

	p := types.Point{Lng: 1, Lat: 2}
	got, err := svc.Resolve(ctx, &p, "ignored")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	got, err = svc.Resolve(ctx, nil, "350 5th Ave, New York")
	require.NoError(t, err)
	assert.Equal(t, geo.p, got)

	_, err = svc.Resolve(ctx, &types.Point{Lng: 500}, "")
	assert.ErrorIs(t, err, types.ErrInvalidCoordinate)

	_, err = NewService(failingIndex{}, nil).Resolve(ctx, nil, "somewhere")
	assert.ErrorIs(t, err, types.ErrInvalidCoordinate)
}

func TestService_WrapsIndexErrors(t *testing.T) {
	svc := NewService(failingIndex{}, nil)
	err := svc.Track(context.Background(), LayerRecipients, "u1", types.Point{Lng: 1, Lat: 1})
	assert.ErrorIs(t, err, types.ErrDependencyFailure)

	_, err = svc.Nearby(context.Background(), LayerDonations, types.Point{Lng: 1, Lat: 1}, 0)
	assert.ErrorIs(t, err, types.ErrBadRequest)
}

func TestStore_NearbyRedis(t *testing.T) {
	redisAddr := os.Getenv("ZW_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("ZW_REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	ctx := context.Background()
	store := NewStore(rdb)
	near := types.ID(fmt.Sprintf("near_%d", time.Now().UnixNano()))
	far := types.ID(fmt.Sprintf("far_%d", time.Now().UnixNano()))
	origin := types.Point{Lng: 121.565, Lat: 25.033}

	require.NoError(t, store.Set(ctx, LayerRecipients, near, types.Point{Lng: 121.566, Lat: 25.034}))
	require.NoError(t, store.Set(ctx, LayerRecipients, far, types.Point{Lng: 122.5, Lat: 25.9}))
	t.Cleanup(func() {
		_ = store.Remove(ctx, LayerRecipients, near)
		_ = store.Remove(ctx, LayerRecipients, far)
	})

	hits, err := store.Nearby(ctx, LayerRecipients, origin, 5)
	require.NoError(t, err)
	ids := make([]types.ID, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	assert.Contains(t, ids, near)
	assert.NotContains(t, ids, far)
}
