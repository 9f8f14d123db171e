// README: Request aggregate, transition inputs and the outcome of a transition.
package request

import (
	"fmt"
	"strings"
	"time"

	"zerowaste/internal/modules/donation"
	"zerowaste/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Active statuses count toward the one-open-request-per-donation rule.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Request struct {
	ID              types.ID
	DonationID      types.ID
	RequesterID     types.ID
	ProviderID      types.ID
	Status          Status
	StatusVersion   int
	Message         string
	ResponseMessage string
	PickupAt        *time.Time
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	AcceptedAt      *time.Time
	RejectedAt      *time.Time
	CancelledAt     *time.Time
	CompletedAt     *time.Time
}

type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

const maxTextLen = 1000

func checkText(field, v string) error {
	if len(v) > maxTextLen {
		return fmt.Errorf("%w: %s longer than %d characters", types.ErrBadRequest, field, maxTextLen)
	}
	return nil
}

type CreateInput struct {
	DonationID types.ID
	Message    string
}

func (in CreateInput) Validate() error {
	if strings.TrimSpace(string(in.DonationID)) == "" {
		return fmt.Errorf("%w: donation id required", types.ErrBadRequest)
	}
	return checkText("message", in.Message)
}

// Input is the typed payload of a transition; the action is implied by its type.
type Input interface {
	Action() Action
	Validate() error
}

type AcceptInput struct {
	PickupAt *time.Time
	Message  string
}

func (AcceptInput) Action() Action { return ActionAccept }

func (in AcceptInput) Validate() error {
	if in.PickupAt != nil && in.PickupAt.IsZero() {
		return fmt.Errorf("%w: pickup time is zero", types.ErrBadRequest)
	}
	return checkText("message", in.Message)
}

type RejectInput struct {
	Reason string
}

func (RejectInput) Action() Action { return ActionReject }

func (in RejectInput) Validate() error { return checkText("reason", in.Reason) }

type CancelInput struct {
	Reason string
}

func (CancelInput) Action() Action { return ActionCancel }

func (in CancelInput) Validate() error { return checkText("reason", in.Reason) }

type CompleteInput struct{}

func (CompleteInput) Action() Action { return ActionComplete }

func (CompleteInput) Validate() error { return nil }

// ItemEffect is the item status write committed together with a request transition.
type ItemEffect struct {
	DonationID types.ID
	From       donation.Status
	To         donation.Status
	Version    int
	ClearClaim bool
}

// Notice is a notification to send once the transition is committed.
type Notice struct {
	To      types.ID
	Subject string
	Body    string
}

// Transition is the result of Decide: the request as it will be stored, the
// CAS key it replaces, and the side effects that go with it.
type Transition struct {
	Action      Action
	Actor       types.Actor
	From        Status
	FromVersion int
	Request     Request
	Item        *ItemEffect
	Notices     []Notice
	At          time.Time
}

// Filter selects requests for List. Empty fields do not filter.
type Filter struct {
	RequesterID types.ID
	ProviderID  types.ID
	DonationID  types.ID
	Status      Status
	Limit       int
}
