package donation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerowaste/internal/modules/location"
	"zerowaste/internal/modules/notify"
	"zerowaste/internal/types"
)

type memRepo struct {
	mu     sync.Mutex
	items  map[types.ID]Donation
	events []types.StatusEvent
	failOn error

	lastFilter ListFilter
}

func newMemRepo(ds ...*Donation) *memRepo {
	r := &memRepo{items: make(map[types.ID]Donation)}
	for _, d := range ds {
		r.items[d.ID] = *d
	}
	return r
}

func (r *memRepo) Create(_ context.Context, d *Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil {
		return r.failOn
	}
	r.items[d.ID] = *d
	return nil
}

func (r *memRepo) Get(_ context.Context, id types.ID) (*Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &d, nil
}

func (r *memRepo) GetMany(ctx context.Context, ids []types.ID) ([]*Donation, error) {
	var out []*Donation
	for _, id := range ids {
		if d, err := r.Get(ctx, id); err == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memRepo) filter(keep func(Donation) bool) []*Donation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Donation
	for _, d := range r.items {
		if keep(d) {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memRepo) ListAvailable(_ context.Context, f ListFilter) ([]*Donation, error) {
	r.mu.Lock()
	r.lastFilter = f
	r.mu.Unlock()
	keyword := strings.ToLower(f.Keyword)
	return r.filter(func(d Donation) bool {
		return d.Status == StatusAvailable &&
			(f.Kind == "" || d.Kind == f.Kind) &&
			(f.CategoryID == nil || (d.CategoryID != nil && *d.CategoryID == *f.CategoryID)) &&
			(f.Condition == "" || d.Condition == f.Condition) &&
			(keyword == "" || strings.Contains(strings.ToLower(d.Title+" "+d.Description), keyword))
	}), nil
}

func (r *memRepo) UpdateDetails(_ context.Context, d *Donation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil {
		return false, r.failOn
	}
	cur, ok := r.items[d.ID]
	if !ok || cur.Status != StatusAvailable || cur.StatusVersion != d.StatusVersion {
		return false, nil
	}
	r.items[d.ID] = *d
	return true, nil
}

func (r *memRepo) ListByDonor(_ context.Context, donorID types.ID) ([]*Donation, error) {
	return r.filter(func(d Donation) bool { return d.DonorID == donorID }), nil
}

func (r *memRepo) ListExpired(_ context.Context, now time.Time) ([]*Donation, error) {
	return r.filter(func(d Donation) bool {
		return d.Status == StatusAvailable && d.ExpiresAt != nil && d.ExpiresAt.Before(now)
	}), nil
}

func (r *memRepo) ListExpiringBetween(_ context.Context, from, to time.Time) ([]*Donation, error) {
	return r.filter(func(d Donation) bool {
		return d.Status == StatusAvailable && d.ExpiresAt != nil &&
			!d.ExpiresAt.Before(from) && d.ExpiresAt.Before(to)
	}), nil
}

func (r *memRepo) UpdateStatus(_ context.Context, c StatusChange) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil {
		return false, r.failOn
	}
	d, ok := r.items[c.ID]
	if !ok || d.Status != c.From || d.StatusVersion != c.Version {
		return false, nil
	}
	d.Status = c.To
	d.StatusVersion++
	if c.ClaimedBy != nil {
		d.ClaimedBy = c.ClaimedBy
	}
	if c.ClearClaim {
		d.ClaimedBy = nil
	}
	r.items[c.ID] = d
	r.events = append(r.events, c.Event)
	return true, nil
}

type memLocator struct {
	mu      sync.Mutex
	tracked map[types.ID]types.Point
}

func (l *memLocator) Resolve(_ context.Context, pos *types.Point, address string) (types.Point, error) {
	if pos != nil {
		return *pos, pos.Validate()
	}
	if address == "" {
		return types.Point{}, types.ErrInvalidCoordinate
	}
	return types.Point{Lng: 121.56, Lat: 25.03}, nil
}

func (l *memLocator) Track(_ context.Context, _ location.Layer, id types.ID, pos types.Point) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tracked == nil {
		l.tracked = make(map[types.ID]types.Point)
	}
	l.tracked[id] = pos
	return nil
}

func (l *memLocator) Untrack(_ context.Context, _ location.Layer, id types.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tracked, id)
	return nil
}

type sentNote struct {
	to      types.ID
	subject string
}

type memNotifier struct {
	mu   sync.Mutex
	sent []sentNote
}

func (n *memNotifier) Notify(_ context.Context, to notify.Recipient, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNote{to: to.UserID, subject: subject})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(repo *memRepo) (*Service, *memLocator, *memNotifier) {
	loc := &memLocator{}
	n := &memNotifier{}
	return NewService(repo, loc, nil, n, testLogger()), loc, n
}

func TestService_CreateResolvesAndTracks(t *testing.T) {
	repo := newMemRepo()
	svc, loc, _ := newTestService(repo)
	expires := time.Now().Add(6 * time.Hour)

	d, err := svc.Create(context.Background(), CreateCommand{
		DonorID:   owner.ID,
		Kind:      KindPerishable,
		Title:     "Rice",
		Quantity:  decimal.RequireFromString("2.5"),
		Unit:      "kg",
		Address:   "No. 7 Xinyi Rd, Taipei",
		ExpiresAt: &expires,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, d.Status)
	assert.Equal(t, 25.03, d.Position.Lat)
	assert.Contains(t, loc.tracked, d.ID)

	stored, err := svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, stored.Quantity.Equal(decimal.RequireFromString("2.5")))
}

func TestService_CreateRejectsPastExpiry(t *testing.T) {
	svc, _, _ := newTestService(newMemRepo())
	past := time.Now().Add(-time.Hour)
	pos := types.Point{Lng: 1, Lat: 1}

	_, err := svc.Create(context.Background(), CreateCommand{
		DonorID: owner.ID, Kind: KindPerishable, Title: "Milk",
		Quantity: decimal.NewFromInt(1), Position: &pos, ExpiresAt: &past,
	})
	assert.ErrorIs(t, err, types.ErrBadRequest)
}

func TestService_ClaimCompleteFlow(t *testing.T) {
	repo := newMemRepo(&Donation{ID: "d1", DonorID: owner.ID, Title: "Chairs", Kind: KindReusable, Status: StatusAvailable})
	svc, loc, n := newTestService(repo)
	loc.tracked = map[types.ID]types.Point{"d1": {}}
	ctx := context.Background()

	_, err := svc.Claim(ctx, "d1", owner)
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "owner cannot claim own item")

	d, err := svc.Claim(ctx, "d1", claimer)
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, d.Status)
	require.NotNil(t, d.ClaimedBy)
	assert.Equal(t, claimer.ID, *d.ClaimedBy)
	assert.NotContains(t, loc.tracked, types.ID("d1"))

	_, err = svc.CompleteClaim(ctx, "d1", stranger)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	d, err = svc.CompleteClaim(ctx, "d1", claimer)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, d.Status)

	require.Len(t, n.sent, 2)
	assert.Equal(t, owner.ID, n.sent[0].to)
	assert.Equal(t, owner.ID, n.sent[1].to)
	assert.Len(t, repo.events, 2)
}

func TestService_ReleaseReturnsToPool(t *testing.T) {
	c := claimer.ID
	repo := newMemRepo(&Donation{ID: "d1", DonorID: owner.ID, Title: "Desk", Status: StatusClaimed, ClaimedBy: &c})
	svc, loc, n := newTestService(repo)

	d, err := svc.Release(context.Background(), "d1", owner)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, d.Status)
	assert.Nil(t, d.ClaimedBy)
	assert.Contains(t, loc.tracked, types.ID("d1"))
	require.Len(t, n.sent, 1)
	assert.Equal(t, claimer.ID, n.sent[0].to)
}

func TestService_ExpireStaleSnapshot(t *testing.T) {
	expired := time.Now().Add(-time.Hour)
	repo := newMemRepo(&Donation{ID: "d1", DonorID: owner.ID, Status: StatusAvailable, ExpiresAt: &expired})
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	snapshot, err := svc.Get(ctx, "d1")
	require.NoError(t, err)

	_, err = svc.Claim(ctx, "d1", claimer)
	require.NoError(t, err)

	err = svc.Expire(ctx, snapshot, time.Now())
	assert.ErrorIs(t, err, types.ErrConcurrentModification)

	current, err := svc.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, current.Status)
}

func TestService_StoreFailureIsDependency(t *testing.T) {
	repo := newMemRepo(&Donation{ID: "d1", DonorID: owner.ID, Status: StatusAvailable})
	svc, _, _ := newTestService(repo)
	repo.failOn = errors.New("connection reset")

	_, err := svc.Withdraw(context.Background(), "d1", owner)
	assert.ErrorIs(t, err, types.ErrDependencyFailure)
}

func TestService_GetMissing(t *testing.T) {
	svc, _, _ := newTestService(newMemRepo())
	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestService_ReindexFollowsStoredStatus(t *testing.T) {
	repo := newMemRepo(
		&Donation{ID: "gone", DonorID: owner.ID, Status: StatusCompleted},
		&Donation{ID: "back", DonorID: owner.ID, Status: StatusAvailable, Position: types.Point{Lng: 2, Lat: 3}},
	)
	svc, loc, _ := newTestService(repo)
	loc.tracked = map[types.ID]types.Point{"gone": {}}
	ctx := context.Background()

	svc.Reindex(ctx, "gone")
	svc.Reindex(ctx, "back")
	svc.Reindex(ctx, "missing")

	assert.NotContains(t, loc.tracked, types.ID("gone"))
	assert.Equal(t, types.Point{Lng: 2, Lat: 3}, loc.tracked["back"])
}

func TestService_ListAvailableFilters(t *testing.T) {
	food := types.ID("cat-food")
	repo := newMemRepo(
		&Donation{ID: "d1", DonorID: owner.ID, Kind: KindReusable, Title: "Oak desk", Condition: ConditionGood, Status: StatusAvailable},
		&Donation{ID: "d2", DonorID: owner.ID, Kind: KindReusable, Title: "Chair", Description: "pairs with the desk", Condition: ConditionFair, Status: StatusAvailable},
		&Donation{ID: "d3", DonorID: owner.ID, Kind: KindPerishable, Title: "Bread", CategoryID: &food, Status: StatusAvailable},
		&Donation{ID: "d4", DonorID: owner.ID, Kind: KindReusable, Title: "Desk lamp", Status: StatusClaimed},
	)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	ids := func(ds []*Donation) []types.ID {
		out := make([]types.ID, len(ds))
		for i, d := range ds {
			out[i] = d.ID
		}
		return out
	}

	ds, err := svc.ListAvailable(ctx, ListFilter{Keyword: "  DESK "})
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"d1", "d2"}, ids(ds))
	assert.Equal(t, "DESK", repo.lastFilter.Keyword)
	assert.Equal(t, defaultListLimit, repo.lastFilter.Limit)

	ds, err = svc.ListAvailable(ctx, ListFilter{Keyword: "desk", Condition: ConditionGood})
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"d1"}, ids(ds))

	ds, err = svc.ListAvailable(ctx, ListFilter{CategoryID: &food, Limit: 1000, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"d3"}, ids(ds))
	assert.Equal(t, defaultListLimit, repo.lastFilter.Limit)
	assert.Equal(t, 10, repo.lastFilter.Offset)

	_, err = svc.ListAvailable(ctx, ListFilter{Condition: "mint"})
	assert.ErrorIs(t, err, types.ErrBadRequest)
	_, err = svc.ListAvailable(ctx, ListFilter{Offset: -1})
	assert.ErrorIs(t, err, types.ErrBadRequest)
}

func TestService_UpdateByOwner(t *testing.T) {
	expires := time.Now().Add(24 * time.Hour)
	repo := newMemRepo(&Donation{
		ID: "d1", DonorID: owner.ID, Kind: KindPerishable, Title: "Rice",
		Quantity: decimal.NewFromInt(2), ExpiresAt: &expires, Status: StatusAvailable,
		Position: types.Point{Lng: 1, Lat: 1}, StatusVersion: 3,
	})
	svc, loc, _ := newTestService(repo)
	ctx := context.Background()

	title := "Brown rice"
	qty := decimal.RequireFromString("1.5")
	moved := types.Point{Lng: 121.5, Lat: 25.0}
	d, err := svc.Update(ctx, owner, UpdateCommand{ID: "d1", Title: &title, Quantity: &qty, Position: &moved})
	require.NoError(t, err)
	assert.Equal(t, "Brown rice", d.Title)
	assert.True(t, d.Quantity.Equal(qty))
	assert.Equal(t, moved, loc.tracked["d1"])

	stored, err := svc.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Brown rice", stored.Title)
	assert.Equal(t, StatusAvailable, stored.Status)
	assert.Equal(t, 3, stored.StatusVersion)
	assert.Empty(t, repo.events, "edits are not status changes")
}

func TestService_UpdateGuards(t *testing.T) {
	c := claimer.ID
	repo := newMemRepo(
		&Donation{ID: "open", DonorID: owner.ID, Kind: KindReusable, Title: "Desk", Status: StatusAvailable},
		&Donation{ID: "taken", DonorID: owner.ID, Kind: KindReusable, Title: "Sofa", Status: StatusClaimed, ClaimedBy: &c},
	)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()
	title := "Standing desk"

	_, err := svc.Update(ctx, claimer, UpdateCommand{ID: "open", Title: &title})
	assert.ErrorIs(t, err, types.ErrForbidden)

	_, err = svc.Update(ctx, owner, UpdateCommand{ID: "taken", Title: &title})
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	blank := " "
	_, err = svc.Update(ctx, owner, UpdateCommand{ID: "open", Title: &blank})
	assert.ErrorIs(t, err, types.ErrBadRequest)

	expires := time.Now().Add(time.Hour)
	_, err = svc.Update(ctx, owner, UpdateCommand{ID: "open", ExpiresAt: &expires})
	assert.ErrorIs(t, err, types.ErrBadRequest, "reusable items do not expire")

	_, err = svc.Update(ctx, owner, UpdateCommand{ID: "missing", Title: &title})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestService_UpdateLosesToClaim(t *testing.T) {
	repo := newMemRepo(&Donation{ID: "d1", DonorID: owner.ID, Kind: KindReusable, Title: "Desk", Status: StatusAvailable})
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	// A claim lands between the edit's read and its write.
	svc.store = &claimBetweenReadAndWrite{memRepo: repo}

	title := "Oak desk"
	_, err := svc.Update(ctx, owner, UpdateCommand{ID: "d1", Title: &title})
	assert.ErrorIs(t, err, types.ErrConcurrentModification)

	stored, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Desk", stored.Title)
	assert.Equal(t, StatusClaimed, stored.Status)
}

type claimBetweenReadAndWrite struct {
	*memRepo
}

func (r *claimBetweenReadAndWrite) UpdateDetails(ctx context.Context, d *Donation) (bool, error) {
	cur, _ := r.memRepo.Get(ctx, d.ID)
	if _, err := r.memRepo.UpdateStatus(ctx, StatusChange{
		ID: d.ID, From: cur.Status, To: StatusClaimed, Version: cur.StatusVersion,
		ClaimedBy: &claimer.ID,
	}); err != nil {
		return false, err
	}
	return r.memRepo.UpdateDetails(ctx, d)
}
