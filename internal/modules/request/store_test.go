package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerowaste/internal/modules/donation"
	"zerowaste/internal/testutil"
	"zerowaste/internal/types"
)

func seedDonation(t *testing.T, items *donation.Store, status donation.Status) *donation.Donation {
	t.Helper()
	expires := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Microsecond)
	d := &donation.Donation{
		ID:        types.NewID(),
		DonorID:   provider.ID,
		Kind:      donation.KindPerishable,
		Title:     "Soup",
		Quantity:  decimal.RequireFromString("4.5"),
		Unit:      "litres",
		Position:  types.Point{Lng: 121.565, Lat: 25.033},
		ExpiresAt: &expires,
		Status:    donation.StatusAvailable,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, items.Create(context.Background(), d))
	if status == donation.StatusClaimed {
		claimer := requester.ID
		ok, err := items.UpdateStatus(context.Background(), donation.StatusChange{
			ID: d.ID, From: donation.StatusAvailable, To: donation.StatusClaimed, Version: 0,
			ClaimedBy: &claimer,
			Event:     types.NewStatusEvent(types.EntityDonation, d.ID, "available", "claimed", requester, time.Now()),
		})
		require.NoError(t, err)
		require.True(t, ok)
		d.Status = donation.StatusClaimed
		d.ClaimedBy = &claimer
		d.StatusVersion = 1
	}
	return d
}

func TestStore_RoundTripAndActiveIndex(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	items := donation.NewStore(db)
	store := NewStore(db)
	d := seedDonation(t, items, donation.StatusAvailable)

	r := &Request{
		ID: types.NewID(), DonationID: d.ID, RequesterID: requester.ID, ProviderID: provider.ID,
		Status: StatusPending, Message: "hi", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, r))

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "hi", got.Message)

	dup := *r
	dup.ID = types.NewID()
	err = store.Create(ctx, &dup)
	assert.ErrorIs(t, err, types.ErrActiveRequest)

	active, err := store.HasActive(ctx, requester.ID, d.ID)
	require.NoError(t, err)
	assert.True(t, active)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStore_ApplyRejectRevertsItem(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	items := donation.NewStore(db)
	store := NewStore(db)
	d := seedDonation(t, items, donation.StatusClaimed)

	r := &Request{
		ID: types.NewID(), DonationID: d.ID, RequesterID: requester.ID, ProviderID: provider.ID,
		Status: StatusPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, r))

	tr, err := Decide(r, d, provider, RejectInput{Reason: "no longer available"}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.Apply(ctx, tr))

	gotItem, err := items.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusAvailable, gotItem.Status)
	assert.Nil(t, gotItem.ClaimedBy)

	gotReq, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, gotReq.Status)
	assert.Equal(t, "no longer available", gotReq.ResponseMessage)

	// Same transition again loses the CAS.
	err = store.Apply(ctx, tr)
	assert.ErrorIs(t, err, types.ErrConcurrentModification)
}

func TestStore_ConcurrentAccept(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	items := donation.NewStore(db)
	store := NewStore(db)
	svc := NewService(store, items, nil, nil, nil)
	d := seedDonation(t, items, donation.StatusAvailable)

	r, err := svc.Create(ctx, requester, CreateInput{DonationID: d.ID})
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Accept(ctx, provider, r.ID, AcceptInput{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, types.ErrConcurrentModification) && !errors.Is(err, types.ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)
}
