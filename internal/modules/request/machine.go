package request

import (
	"fmt"
	"time"

	"zerowaste/internal/modules/donation"
	"zerowaste/internal/types"
)

type party int

const (
	partyNone party = iota
	partyProvider
	partyRequester
)

func (p party) String() string {
	switch p {
	case partyProvider:
		return "provider"
	case partyRequester:
		return "requester"
	}
	return "none"
}

func partyOf(r *Request, actor types.Actor) party {
	switch {
	case actor.ID == "":
		return partyNone
	case actor.ID == r.ProviderID:
		return partyProvider
	case actor.ID == r.RequesterID:
		return partyRequester
	}
	return partyNone
}

type edge struct {
	from    Status
	action  Action
	to      Status
	parties []party
}

// edges is the request state flow as code. Anything not listed is rejected.
var edges = []edge{
	{StatusPending, ActionAccept, StatusAccepted, []party{partyProvider}},
	{StatusPending, ActionReject, StatusRejected, []party{partyProvider}},
	{StatusPending, ActionCancel, StatusCancelled, []party{partyRequester}},
	{StatusAccepted, ActionComplete, StatusCompleted, []party{partyProvider, partyRequester}},
	{StatusAccepted, ActionCancel, StatusCancelled, []party{partyRequester}},
}

func lookup(from Status, action Action, p party) (Status, bool) {
	for _, e := range edges {
		if e.from != from || e.action != action {
			continue
		}
		for _, allowed := range e.parties {
			if allowed == p {
				return e.to, true
			}
		}
	}
	return "", false
}

// CanTransition reports whether any party may move a request from one status to another.
func CanTransition(from, to Status) bool {
	for _, e := range edges {
		if e.from == from && e.to == to {
			return true
		}
	}
	return false
}

// Decide validates a transition and computes its outcome without touching
// storage. item is the request's donation as currently stored; it may be nil
// when the caller has no item to update.
func Decide(r *Request, item *donation.Donation, actor types.Actor, in Input, now time.Time) (Transition, error) {
	if err := in.Validate(); err != nil {
		return Transition{}, err
	}
	action := in.Action()
	p := partyOf(r, actor)
	to, ok := lookup(r.Status, action, p)
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s cannot %s a %s request",
			types.ErrInvalidTransition, p, action, r.Status)
	}
	if action == ActionComplete && claimedByOther(item, r.RequesterID) {
		return Transition{}, fmt.Errorf("%w: donation %s is claimed by another recipient",
			types.ErrInvalidTransition, item.ID)
	}

	next := *r
	next.Status = to
	next.StatusVersion = r.StatusVersion + 1
	next.UpdatedAt = now

	tr := Transition{
		Action:      action,
		Actor:       actor,
		From:        r.Status,
		FromVersion: r.StatusVersion,
		At:          now,
	}

	switch in := in.(type) {
	case AcceptInput:
		next.AcceptedAt = &now
		if in.PickupAt != nil {
			pickup := *in.PickupAt
			next.PickupAt = &pickup
		}
		if in.Message != "" {
			next.ResponseMessage = in.Message
		}
		tr.Notices = []Notice{{
			To:      r.RequesterID,
			Subject: "Request accepted",
			Body:    acceptBody(next.PickupAt, in.Message),
		}}
	case RejectInput:
		next.RejectedAt = &now
		if in.Reason != "" {
			next.ResponseMessage = in.Reason
		}
		tr.Item = releaseItem(item, r.RequesterID)
		tr.Notices = []Notice{{
			To:      r.RequesterID,
			Subject: "Request declined",
			Body:    withReason("Your request was declined.", in.Reason),
		}}
	case CancelInput:
		next.CancelledAt = &now
		if in.Reason != "" {
			next.CancelReason = in.Reason
		}
		tr.Item = releaseItem(item, r.RequesterID)
		tr.Notices = []Notice{{
			To:      r.ProviderID,
			Subject: "Request cancelled",
			Body:    withReason("A request for your donation was cancelled.", in.Reason),
		}}
	case CompleteInput:
		if next.CompletedAt == nil {
			next.CompletedAt = &now
		}
		tr.Item = completeItem(item)
		other := r.ProviderID
		if p == partyProvider {
			other = r.RequesterID
		}
		tr.Notices = []Notice{{
			To:      other,
			Subject: "Donation handed over",
			Body:    "The pickup has been marked as completed.",
		}}
	}

	tr.Request = next
	return tr, nil
}

// claimedByOther reports whether item is held by a claim that is not the requester's.
func claimedByOther(item *donation.Donation, requester types.ID) bool {
	return item != nil && item.Status == donation.StatusClaimed &&
		item.ClaimedBy != nil && *item.ClaimedBy != requester
}

// releaseItem returns a claimed item to the pool when the claim belongs to the
// requester (or carries no claimer). Items claimed outright by someone else stay.
func releaseItem(item *donation.Donation, requester types.ID) *ItemEffect {
	if item == nil || item.Status != donation.StatusClaimed {
		return nil
	}
	if claimedByOther(item, requester) {
		return nil
	}
	return &ItemEffect{
		DonationID: item.ID,
		From:       item.Status,
		To:         donation.StatusAvailable,
		Version:    item.StatusVersion,
		ClearClaim: true,
	}
}

func completeItem(item *donation.Donation) *ItemEffect {
	if item == nil {
		return nil
	}
	switch item.Status {
	case donation.StatusAvailable, donation.StatusClaimed:
		return &ItemEffect{
			DonationID: item.ID,
			From:       item.Status,
			To:         donation.StatusCompleted,
			Version:    item.StatusVersion,
		}
	}
	return nil
}

func acceptBody(pickup *time.Time, message string) string {
	body := "Your request was accepted."
	if pickup != nil {
		body += " Pickup: " + pickup.Format(time.RFC1123) + "."
	}
	if message != "" {
		body += " " + message
	}
	return body
}

func withReason(body, reason string) string {
	if reason == "" {
		return body
	}
	return body + " Reason: " + reason
}
