// README: Donation service implements listing, the item state machine and its side effects.
package donation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"zerowaste/internal/modules/location"
	"zerowaste/internal/modules/notify"
	"zerowaste/internal/types"
)

var tracer = otel.Tracer("zerowaste/donation")

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zerowaste_donation_transitions_total",
	Help: "Item state machine transitions by action and result",
}, []string{"action", "result"})

type Repository interface {
	Create(ctx context.Context, d *Donation) error
	Get(ctx context.Context, id types.ID) (*Donation, error)
	GetMany(ctx context.Context, ids []types.ID) ([]*Donation, error)
	ListAvailable(ctx context.Context, f ListFilter) ([]*Donation, error)
	ListByDonor(ctx context.Context, donorID types.ID) ([]*Donation, error)
	ListExpired(ctx context.Context, now time.Time) ([]*Donation, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*Donation, error)
	UpdateStatus(ctx context.Context, c StatusChange) (bool, error)
	UpdateDetails(ctx context.Context, d *Donation) (bool, error)
}

// Locator resolves addresses and keeps available donations in the GEO index.
type Locator interface {
	Resolve(ctx context.Context, pos *types.Point, address string) (types.Point, error)
	Track(ctx context.Context, layer location.Layer, id types.ID, pos types.Point) error
	Untrack(ctx context.Context, layer location.Layer, id types.ID) error
}

// Contacts looks up where to deliver a user's notifications.
type Contacts interface {
	Contact(ctx context.Context, id types.ID) (notify.Recipient, error)
}

type Service struct {
	store    Repository
	locator  Locator
	contacts Contacts
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Repository, locator Locator, contacts Contacts, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		locator:  locator,
		contacts: contacts,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

type CreateCommand struct {
	DonorID     types.ID
	Kind        Kind
	Title       string
	Description string
	CategoryID  *types.ID
	Quantity    decimal.Decimal
	Unit        string
	Condition   Condition
	Position    *types.Point
	Address     string
	ExpiresAt   *time.Time
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Donation, error) {
	ctx, span := tracer.Start(ctx, "donation.Create")
	defer span.End()

	pos, err := s.locator.Resolve(ctx, cmd.Position, cmd.Address)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	d := &Donation{
		ID:          types.NewID(),
		DonorID:     cmd.DonorID,
		Kind:        cmd.Kind,
		Title:       cmd.Title,
		Description: cmd.Description,
		CategoryID:  cmd.CategoryID,
		Quantity:    cmd.Quantity,
		Unit:        cmd.Unit,
		Condition:   cmd.Condition,
		Position:    pos,
		Address:     cmd.Address,
		ExpiresAt:   cmd.ExpiresAt,
		Status:      StatusAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if d.Kind == KindReusable && d.Quantity.IsZero() {
		d.Quantity = decimal.NewFromInt(1)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.ExpiresAt != nil && !d.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry must be in the future", types.ErrBadRequest)
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, types.Dependency(err)
	}
	s.track(ctx, d)
	span.SetAttributes(attribute.String("donation_id", d.ID.String()))
	return d, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Donation, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return d, nil
}

// GetMany is used by matching to hydrate GEO hits.
func (s *Service) GetMany(ctx context.Context, ids []types.ID) ([]*Donation, error) {
	ds, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return ds, nil
}

// ListFilter narrows the open listings. Zero fields match everything.
type ListFilter struct {
	Kind       Kind
	CategoryID *types.ID
	Condition  Condition
	// Keyword matches title or description, case-insensitive.
	Keyword string
	Limit   int
	Offset  int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (s *Service) ListAvailable(ctx context.Context, f ListFilter) ([]*Donation, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", types.ErrBadRequest, f.Kind)
	}
	if f.Condition != "" && !f.Condition.Valid() {
		return nil, fmt.Errorf("%w: unknown condition %q", types.ErrBadRequest, f.Condition)
	}
	if f.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", types.ErrBadRequest)
	}
	if f.Limit <= 0 || f.Limit > maxListLimit {
		f.Limit = defaultListLimit
	}
	f.Keyword = strings.TrimSpace(f.Keyword)
	ds, err := s.store.ListAvailable(ctx, f)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return ds, nil
}

// UpdateCommand edits a listing's details. Nil fields are left unchanged;
// the kind and the status are not editable.
type UpdateCommand struct {
	ID          types.ID
	Title       *string
	Description *string
	CategoryID  *types.ID
	Quantity    *decimal.Decimal
	Unit        *string
	Condition   *Condition
	Position    *types.Point
	Address     *string
	ExpiresAt   *time.Time
}

// Update lets the donor edit an available listing. Once claimed or closed the
// listing is frozen. A write racing a status change returns
// ErrConcurrentModification.
func (s *Service) Update(ctx context.Context, actor types.Actor, cmd UpdateCommand) (*Donation, error) {
	ctx, span := tracer.Start(ctx, "donation.Update")
	defer span.End()
	span.SetAttributes(attribute.String("donation_id", cmd.ID.String()))

	d, err := s.Get(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}
	if !d.IsOwner(actor) {
		return nil, fmt.Errorf("%w: only the donor may edit donation %s", types.ErrForbidden, d.ID)
	}
	if d.Status != StatusAvailable {
		return nil, fmt.Errorf("%w: cannot edit a %s donation", types.ErrInvalidTransition, d.Status)
	}

	next := *d
	if cmd.Title != nil {
		next.Title = *cmd.Title
	}
	if cmd.Description != nil {
		next.Description = *cmd.Description
	}
	if cmd.CategoryID != nil {
		next.CategoryID = cmd.CategoryID
	}
	if cmd.Quantity != nil {
		next.Quantity = *cmd.Quantity
	}
	if cmd.Unit != nil {
		next.Unit = *cmd.Unit
	}
	if cmd.Condition != nil {
		next.Condition = *cmd.Condition
	}
	if cmd.ExpiresAt != nil {
		next.ExpiresAt = cmd.ExpiresAt
	}
	moved := cmd.Position != nil || cmd.Address != nil
	if cmd.Address != nil {
		next.Address = *cmd.Address
	}
	if moved {
		if next.Position, err = s.locator.Resolve(ctx, cmd.Position, next.Address); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if cmd.ExpiresAt != nil && !cmd.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry must be in the future", types.ErrBadRequest)
	}
	next.UpdatedAt = now

	ok, err := s.store.UpdateDetails(ctx, &next)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, types.Dependency(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: donation %s", types.ErrConcurrentModification, d.ID)
	}
	if moved {
		s.track(ctx, &next)
	}
	return &next, nil
}

func (s *Service) ListMine(ctx context.Context, donorID types.ID) ([]*Donation, error) {
	ds, err := s.store.ListByDonor(ctx, donorID)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return ds, nil
}

func (s *Service) ListExpired(ctx context.Context, now time.Time) ([]*Donation, error) {
	ds, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return ds, nil
}

func (s *Service) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*Donation, error) {
	ds, err := s.store.ListExpiringBetween(ctx, from, to)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return ds, nil
}

// Claim takes an available donation outright, without a request.
func (s *Service) Claim(ctx context.Context, id types.ID, actor types.Actor) (*Donation, error) {
	d, err := s.transition(ctx, id, ActionClaim, actor)
	if err != nil {
		return nil, err
	}
	s.notifyUser(ctx, d.DonorID, "Donation claimed",
		fmt.Sprintf("%q has been claimed and is waiting for pickup.", d.Title))
	return d, nil
}

func (s *Service) CompleteClaim(ctx context.Context, id types.ID, actor types.Actor) (*Donation, error) {
	d, err := s.transition(ctx, id, ActionComplete, actor)
	if err != nil {
		return nil, err
	}
	s.notifyCounterpart(ctx, d, actor, "Donation completed",
		fmt.Sprintf("%q has been marked as picked up.", d.Title))
	return d, nil
}

// Release returns a claimed donation to the available pool.
func (s *Service) Release(ctx context.Context, id types.ID, actor types.Actor) (*Donation, error) {
	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := s.apply(ctx, before, ActionRelease, actor)
	if err != nil {
		return nil, err
	}
	// d.ClaimedBy is cleared; notify using the claim as it was.
	s.notifyCounterpart(ctx, before, actor, "Claim released",
		fmt.Sprintf("The claim on %q was released.", d.Title))
	return d, nil
}

func (s *Service) Withdraw(ctx context.Context, id types.ID, actor types.Actor) (*Donation, error) {
	return s.transition(ctx, id, ActionWithdraw, actor)
}

// Expire moves the snapshot d to expired. The write is keyed on the snapshot's
// status and version, so an item changed since it was read is reported as
// ErrConcurrentModification.
func (s *Service) Expire(ctx context.Context, d *Donation, now time.Time) error {
	_, err := s.applyAt(ctx, d, ActionExpire, types.System, now)
	return err
}

func (s *Service) transition(ctx context.Context, id types.ID, action Action, actor types.Actor) (*Donation, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, d, action, actor)
}

func (s *Service) apply(ctx context.Context, d *Donation, action Action, actor types.Actor) (*Donation, error) {
	return s.applyAt(ctx, d, action, actor, s.now().UTC())
}

func (s *Service) applyAt(ctx context.Context, d *Donation, action Action, actor types.Actor, at time.Time) (*Donation, error) {
	ctx, span := tracer.Start(ctx, "donation."+string(action))
	defer span.End()
	span.SetAttributes(
		attribute.String("donation_id", d.ID.String()),
		attribute.String("from", string(d.Status)),
	)

	to, err := Next(d, action, actor)
	if err != nil {
		transitionsTotal.WithLabelValues(string(action), "rejected").Inc()
		return nil, err
	}

	change := StatusChange{
		ID:      d.ID,
		From:    d.Status,
		To:      to,
		Version: d.StatusVersion,
		Event:   types.NewStatusEvent(types.EntityDonation, d.ID, string(d.Status), string(to), actor, at),
	}
	switch action {
	case ActionClaim:
		claimer := actor.ID
		change.ClaimedBy = &claimer
	case ActionRelease:
		change.ClearClaim = true
	}

	ok, err := s.store.UpdateStatus(ctx, change)
	if err != nil {
		transitionsTotal.WithLabelValues(string(action), "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, types.Dependency(err)
	}
	if !ok {
		transitionsTotal.WithLabelValues(string(action), "conflict").Inc()
		return nil, fmt.Errorf("%w: donation %s", types.ErrConcurrentModification, d.ID)
	}
	transitionsTotal.WithLabelValues(string(action), "ok").Inc()

	next := *d
	next.Status = to
	next.StatusVersion++
	next.UpdatedAt = at
	if change.ClaimedBy != nil {
		next.ClaimedBy = change.ClaimedBy
	}
	if change.ClearClaim {
		next.ClaimedBy = nil
	}

	if to == StatusAvailable {
		s.track(ctx, &next)
	} else if d.Status == StatusAvailable {
		s.untrack(ctx, &next)
	}
	return &next, nil
}

func (s *Service) track(ctx context.Context, d *Donation) {
	if s.locator == nil {
		return
	}
	if err := s.locator.Track(ctx, location.LayerDonations, d.ID, d.Position); err != nil {
		s.logger.WarnContext(ctx, "geo index update failed", "donation_id", d.ID, "err", err)
	}
}

func (s *Service) untrack(ctx context.Context, d *Donation) {
	if s.locator == nil {
		return
	}
	if err := s.locator.Untrack(ctx, location.LayerDonations, d.ID); err != nil {
		s.logger.WarnContext(ctx, "geo index removal failed", "donation_id", d.ID, "err", err)
	}
}

// notifyCounterpart tells the party of the claim that did not act.
func (s *Service) notifyCounterpart(ctx context.Context, d *Donation, actor types.Actor, subject, body string) {
	switch {
	case d.IsOwner(actor) && d.ClaimedBy != nil:
		s.notifyUser(ctx, *d.ClaimedBy, subject, body)
	case !d.IsOwner(actor):
		s.notifyUser(ctx, d.DonorID, subject, body)
	}
}

func (s *Service) notifyUser(ctx context.Context, userID types.ID, subject, body string) {
	if s.notifier == nil {
		return
	}
	to := notify.Recipient{UserID: userID}
	if s.contacts != nil {
		rc, err := s.contacts.Contact(ctx, userID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			s.logger.WarnContext(ctx, "contact lookup failed", "user_id", userID, "err", err)
		}
		if err == nil {
			to = rc
		}
	}
	notify.Send(ctx, s.notifier, s.logger, to, subject, body)
}

// Reindex brings the GEO index in line with the stored status of id after a
// write made outside this service.
func (s *Service) Reindex(ctx context.Context, id types.ID) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "reindex lookup failed", "donation_id", id, "err", err)
		return
	}
	if d.Status == StatusAvailable {
		s.track(ctx, d)
		return
	}
	s.untrack(ctx, d)
}
