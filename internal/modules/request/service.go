// README: Request service loads state, runs the machine, commits atomically and notifies.
package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"zerowaste/internal/modules/donation"
	"zerowaste/internal/modules/notify"
	"zerowaste/internal/types"
)

var tracer = otel.Tracer("zerowaste/request")

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zerowaste_request_transitions_total",
	Help: "Request state machine transitions by action and result",
}, []string{"action", "result"})

type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id types.ID) (*Request, error)
	List(ctx context.Context, f Filter) ([]*Request, error)
	HasActive(ctx context.Context, requesterID, donationID types.ID) (bool, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	Apply(ctx context.Context, tr Transition) error
}

type Items interface {
	Get(ctx context.Context, id types.ID) (*donation.Donation, error)
}

// indexer is implemented by item services that keep a search index in sync.
type indexer interface {
	Reindex(ctx context.Context, id types.ID)
}

type Contacts interface {
	Contact(ctx context.Context, id types.ID) (notify.Recipient, error)
}

type Service struct {
	store    Repository
	items    Items
	contacts Contacts
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Repository, items Items, contacts Contacts, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		items:    items,
		contacts: contacts,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Create opens a pending request on an available donation. The donation's
// status is left untouched.
func (s *Service) Create(ctx context.Context, actor types.Actor, in CreateInput) (*Request, error) {
	ctx, span := tracer.Start(ctx, "request.Create")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	item, err := s.items.Get(ctx, in.DonationID)
	if err != nil {
		return nil, types.Dependency(err)
	}
	if item.Status != donation.StatusAvailable {
		return nil, fmt.Errorf("%w: donation is %s", types.ErrInvalidTransition, item.Status)
	}
	if item.IsOwner(actor) {
		return nil, fmt.Errorf("%w: cannot request your own donation", types.ErrInvalidTransition)
	}
	active, err := s.store.HasActive(ctx, actor.ID, item.ID)
	if err != nil {
		return nil, types.Dependency(err)
	}
	if active {
		return nil, fmt.Errorf("%w: donation %s", types.ErrActiveRequest, item.ID)
	}

	now := s.now().UTC()
	r := &Request{
		ID:          types.NewID(),
		DonationID:  item.ID,
		RequesterID: actor.ID,
		ProviderID:  item.DonorID,
		Status:      StatusPending,
		Message:     in.Message,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, types.Dependency(err)
	}
	span.SetAttributes(attribute.String("request_id", r.ID.String()))

	s.deliver(ctx, Notice{
		To:      r.ProviderID,
		Subject: "New request",
		Body:    fmt.Sprintf("Someone requested %q.", item.Title),
	})
	return r, nil
}

// Get returns the request when actor is one of its parties or an admin.
func (s *Service) Get(ctx context.Context, actor types.Actor, id types.ID) (*Request, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, types.Dependency(err)
	}
	if actor.Role != types.RoleAdmin && partyOf(r, actor) == partyNone {
		return nil, fmt.Errorf("%w: request %s", types.ErrNotFound, id)
	}
	return r, nil
}

// ListQuery selects the caller's side of the requests. As is "requester"
// (default) or "provider"; admins with As "all" see every request.
type ListQuery struct {
	As         string
	Status     Status
	DonationID types.ID
	Limit      int
}

func (s *Service) List(ctx context.Context, actor types.Actor, q ListQuery) ([]*Request, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrBadRequest, q.Status)
	}
	f := Filter{Status: q.Status, DonationID: q.DonationID, Limit: q.Limit}
	switch q.As {
	case "", "requester":
		f.RequesterID = actor.ID
	case "provider":
		f.ProviderID = actor.ID
	case "all":
		if actor.Role != types.RoleAdmin {
			return nil, fmt.Errorf("%w: listing all requests requires admin", types.ErrBadRequest)
		}
	default:
		return nil, fmt.Errorf("%w: unknown view %q", types.ErrBadRequest, q.As)
	}
	rs, err := s.store.List(ctx, f)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return rs, nil
}

func (s *Service) Stats(ctx context.Context) (map[Status]int, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, types.Dependency(err)
	}
	for _, st := range []Status{StatusPending, StatusAccepted, StatusRejected, StatusCompleted, StatusCancelled} {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	return counts, nil
}

func (s *Service) Accept(ctx context.Context, actor types.Actor, id types.ID, in AcceptInput) (*Request, error) {
	return s.transition(ctx, actor, id, in)
}

func (s *Service) Reject(ctx context.Context, actor types.Actor, id types.ID, in RejectInput) (*Request, error) {
	return s.transition(ctx, actor, id, in)
}

func (s *Service) Cancel(ctx context.Context, actor types.Actor, id types.ID, in CancelInput) (*Request, error) {
	return s.transition(ctx, actor, id, in)
}

func (s *Service) Complete(ctx context.Context, actor types.Actor, id types.ID) (*Request, error) {
	return s.transition(ctx, actor, id, CompleteInput{})
}

func (s *Service) transition(ctx context.Context, actor types.Actor, id types.ID, in Input) (*Request, error) {
	action := in.Action()
	ctx, span := tracer.Start(ctx, "request."+string(action))
	defer span.End()
	span.SetAttributes(attribute.String("request_id", id.String()))

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, types.Dependency(err)
	}
	item, err := s.items.Get(ctx, r.DonationID)
	if err != nil {
		return nil, types.Dependency(err)
	}

	tr, err := Decide(r, item, actor, in, s.now().UTC())
	if err != nil {
		transitionsTotal.WithLabelValues(string(action), "rejected").Inc()
		return nil, err
	}

	if err := s.store.Apply(ctx, tr); err != nil {
		if errors.Is(err, types.ErrConcurrentModification) {
			transitionsTotal.WithLabelValues(string(action), "conflict").Inc()
			return nil, err
		}
		transitionsTotal.WithLabelValues(string(action), "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, types.Dependency(err)
	}
	transitionsTotal.WithLabelValues(string(action), "ok").Inc()
	if ix, ok := s.items.(indexer); ok && tr.Item != nil {
		ix.Reindex(ctx, tr.Item.DonationID)
	}

	s.logger.InfoContext(ctx, "request transition",
		"request_id", r.ID,
		"action", action,
		"from", tr.From,
		"to", tr.Request.Status,
	)
	for _, n := range tr.Notices {
		s.deliver(ctx, n)
	}
	out := tr.Request
	return &out, nil
}

func (s *Service) deliver(ctx context.Context, n Notice) {
	if s.notifier == nil {
		return
	}
	to := notify.Recipient{UserID: n.To}
	if s.contacts != nil {
		rc, err := s.contacts.Contact(ctx, n.To)
		switch {
		case err == nil:
			to = rc
		case !errors.Is(err, types.ErrNotFound):
			s.logger.WarnContext(ctx, "contact lookup failed", "user_id", n.To, "err", err)
		}
	}
	notify.Send(ctx, s.notifier, s.logger, to, n.Subject, n.Body)
}
