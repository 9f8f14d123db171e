package request

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerowaste/internal/modules/donation"
	"zerowaste/internal/modules/notify"
	"zerowaste/internal/types"
)

// memStore keeps requests and items together so Apply can be atomic.
type memStore struct {
	mu       sync.Mutex
	requests map[types.ID]Request
	items    map[types.ID]donation.Donation
	// getBarrier, when set, holds every Get until all expected readers arrive.
	getBarrier *sync.WaitGroup
}

func newMemStore(items ...*donation.Donation) *memStore {
	s := &memStore{
		requests: make(map[types.ID]Request),
		items:    make(map[types.ID]donation.Donation),
	}
	for _, d := range items {
		s.items[d.ID] = *d
	}
	return s
}

func (s *memStore) Create(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.requests {
		if other.RequesterID == r.RequesterID && other.DonationID == r.DonationID && other.Status.Active() {
			return types.ErrActiveRequest
		}
	}
	s.requests[r.ID] = *r
	return nil
}

func (s *memStore) Get(_ context.Context, id types.ID) (*Request, error) {
	s.mu.Lock()
	r, ok := s.requests[id]
	barrier := s.getBarrier
	s.mu.Unlock()
	if !ok {
		return nil, types.ErrNotFound
	}
	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	return &r, nil
}

func (s *memStore) List(_ context.Context, f Filter) ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, r := range s.requests {
		if f.RequesterID != "" && r.RequesterID != f.RequesterID {
			continue
		}
		if f.ProviderID != "" && r.ProviderID != f.ProviderID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		r := r
		out = append(out, &r)
	}
	return out, nil
}

func (s *memStore) HasActive(_ context.Context, requesterID, donationID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.RequesterID == requesterID && r.DonationID == donationID && r.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Status]int)
	for _, r := range s.requests {
		out[r.Status]++
	}
	return out, nil
}

func (s *memStore) Apply(_ context.Context, tr Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.requests[tr.Request.ID]
	if cur.Status != tr.From || cur.StatusVersion != tr.FromVersion {
		return types.ErrConcurrentModification
	}
	if tr.Item != nil {
		item := s.items[tr.Item.DonationID]
		if item.Status != tr.Item.From || item.StatusVersion != tr.Item.Version {
			return types.ErrConcurrentModification
		}
		item.Status = tr.Item.To
		item.StatusVersion++
		if tr.Item.ClearClaim {
			item.ClaimedBy = nil
		}
		s.items[item.ID] = item
	}
	s.requests[tr.Request.ID] = tr.Request
	return nil
}

// itemReader serves items out of the same memStore.
type itemReader struct{ s *memStore }

func (r itemReader) Get(_ context.Context, id types.ID) (*donation.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.items[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &d, nil
}

type memNotifier struct {
	mu   sync.Mutex
	sent []notify.Recipient
	err  error
}

func (n *memNotifier) Notify(_ context.Context, to notify.Recipient, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, to)
	return n.err
}

func (n *memNotifier) recipients() []types.ID {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.ID, len(n.sent))
	for i, r := range n.sent {
		out[i] = r.UserID
	}
	return out
}

func newTestService(store *memStore) (*Service, *memNotifier) {
	n := &memNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, itemReader{store}, nil, n, logger), n
}

func availableItem() *donation.Donation {
	return &donation.Donation{ID: "d1", DonorID: provider.ID, Title: "Apples", Status: donation.StatusAvailable}
}

func mustCreate(t *testing.T, svc *Service) *Request {
	t.Helper()
	r, err := svc.Create(context.Background(), requester, CreateInput{DonationID: "d1", Message: "Can pick up tonight"})
	require.NoError(t, err)
	return r
}

func TestCreate_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("own donation", func(t *testing.T) {
		svc, _ := newTestService(newMemStore(availableItem()))
		_, err := svc.Create(ctx, provider, CreateInput{DonationID: "d1"})
		assert.ErrorIs(t, err, types.ErrInvalidTransition)
	})
	t.Run("not available", func(t *testing.T) {
		item := availableItem()
		item.Status = donation.StatusExpired
		svc, _ := newTestService(newMemStore(item))
		_, err := svc.Create(ctx, requester, CreateInput{DonationID: "d1"})
		assert.ErrorIs(t, err, types.ErrInvalidTransition)
	})
	t.Run("missing donation", func(t *testing.T) {
		svc, _ := newTestService(newMemStore())
		_, err := svc.Create(ctx, requester, CreateInput{DonationID: "d1"})
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
	t.Run("second active request", func(t *testing.T) {
		svc, _ := newTestService(newMemStore(availableItem()))
		mustCreate(t, svc)
		_, err := svc.Create(ctx, requester, CreateInput{DonationID: "d1"})
		assert.ErrorIs(t, err, types.ErrActiveRequest)
	})
	t.Run("empty donation id", func(t *testing.T) {
		svc, _ := newTestService(newMemStore(availableItem()))
		_, err := svc.Create(ctx, requester, CreateInput{})
		assert.ErrorIs(t, err, types.ErrBadRequest)
	})
}

func TestCreate_LeavesItemAndNotifiesProvider(t *testing.T) {
	store := newMemStore(availableItem())
	svc, n := newTestService(store)

	r := mustCreate(t, svc)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, provider.ID, r.ProviderID)
	assert.Equal(t, donation.StatusAvailable, store.items["d1"].Status)
	assert.Equal(t, []types.ID{provider.ID}, n.recipients())
}

func TestFlow_AcceptThenComplete(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(availableItem())
	svc, n := newTestService(store)
	r := mustCreate(t, svc)

	r, err := svc.Accept(ctx, provider, r.ID, AcceptInput{Message: "see you"})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, r.Status)

	r, err = svc.Complete(ctx, requester, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, donation.StatusCompleted, store.items["d1"].Status)

	_, err = svc.Complete(ctx, provider, r.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	assert.Equal(t, []types.ID{provider.ID, requester.ID, provider.ID}, n.recipients())
}

func TestConcurrentAccept_ExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(availableItem())
	svc, _ := newTestService(store)
	r := mustCreate(t, svc)

	// Both callers read the pending request before either writes.
	var barrier sync.WaitGroup
	barrier.Add(2)
	store.getBarrier = &barrier

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Accept(ctx, provider, r.ID, AcceptInput{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			success++
		case errors.Is(err, types.ErrConcurrentModification):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, conflicts)

	store.getBarrier = nil
	got, err := svc.Get(ctx, provider, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Equal(t, 1, got.StatusVersion)
}

func TestReject_RevertsClaimedItemAtomically(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(availableItem())
	svc, _ := newTestService(store)
	r := mustCreate(t, svc)

	item := store.items["d1"]
	item.Status = donation.StatusClaimed
	store.items["d1"] = item

	got, err := svc.Reject(ctx, provider, r.ID, RejectInput{Reason: "gone"})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, donation.StatusAvailable, store.items["d1"].Status)
}

func TestComplete_ItemClaimedByAnotherRecipient(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(availableItem())
	svc, n := newTestService(store)
	r := mustCreate(t, svc)
	_, err := svc.Accept(ctx, provider, r.ID, AcceptInput{})
	require.NoError(t, err)

	other := outsider.ID
	item := store.items["d1"]
	item.Status = donation.StatusClaimed
	item.ClaimedBy = &other
	store.items["d1"] = item
	sent := len(n.sent)

	_, err = svc.Complete(ctx, provider, r.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Equal(t, StatusAccepted, store.requests[r.ID].Status)
	assert.Equal(t, donation.StatusClaimed, store.items["d1"].Status)
	require.NotNil(t, store.items["d1"].ClaimedBy)
	assert.Equal(t, outsider.ID, *store.items["d1"].ClaimedBy)
	assert.Len(t, n.sent, sent)
}

func TestCancel_ItemRaceRollsBackRequest(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(availableItem())
	svc, _ := newTestService(store)
	r := mustCreate(t, svc)

	item := store.items["d1"]
	item.Status = donation.StatusClaimed
	store.items["d1"] = item

	// Item changes between the service's read and its write.
	inner := store
	racing := &racingStore{memStore: inner, before: func() {
		it := inner.items["d1"]
		it.StatusVersion++
		inner.items["d1"] = it
	}}
	svc.store = racing

	_, err := svc.Cancel(ctx, requester, r.ID, CancelInput{})
	assert.ErrorIs(t, err, types.ErrConcurrentModification)
	assert.Equal(t, StatusPending, store.requests[r.ID].Status)
	assert.Equal(t, donation.StatusClaimed, store.items["d1"].Status)
}

type racingStore struct {
	*memStore
	before func()
}

func (s *racingStore) Apply(ctx context.Context, tr Transition) error {
	s.mu.Lock()
	s.before()
	s.mu.Unlock()
	return s.memStore.Apply(ctx, tr)
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(availableItem())
	svc, n := newTestService(store)
	n.err = errors.New("fcm unavailable")

	r := mustCreate(t, svc)
	_, err := svc.Accept(ctx, provider, r.ID, AcceptInput{})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, store.requests[r.ID].Status)
}

func TestGet_HiddenFromOutsiders(t *testing.T) {
	svc, _ := newTestService(newMemStore(availableItem()))
	r := mustCreate(t, svc)

	_, err := svc.Get(context.Background(), outsider, r.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = svc.Get(context.Background(), adminUser, r.ID)
	assert.NoError(t, err)
}

func TestListAndStats(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(newMemStore(availableItem()))
	mustCreate(t, svc)

	mine, err := svc.List(ctx, requester, ListQuery{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	received, err := svc.List(ctx, provider, ListQuery{As: "provider", Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, received, 1)

	_, err = svc.List(ctx, requester, ListQuery{As: "all"})
	assert.ErrorIs(t, err, types.ErrBadRequest)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[StatusPending])
	assert.Equal(t, 0, stats[StatusCompleted])
}

// indexingItems records the donations the service asks to reindex.
type indexingItems struct {
	itemReader
	mu  sync.Mutex
	ids []types.ID
}

func (i *indexingItems) Reindex(_ context.Context, id types.ID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ids = append(i.ids, id)
}

func TestItemEffectTriggersReindex(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(availableItem())
	items := &indexingItems{itemReader: itemReader{store}}
	svc := NewService(store, items, nil, nil, nil)

	r, err := svc.Create(ctx, requester, CreateInput{DonationID: "d1"})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, provider, r.ID, AcceptInput{})
	require.NoError(t, err)
	assert.Empty(t, items.ids, "accept leaves the item alone")

	_, err = svc.Complete(ctx, provider, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"d1"}, items.ids)
}
