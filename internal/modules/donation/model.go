// README: Donation aggregate, kinds and the item state machine.
package donation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"zerowaste/internal/types"
)

type Kind string

const (
	KindPerishable Kind = "perishable"
	KindReusable   Kind = "reusable"
)

func (k Kind) Valid() bool {
	return k == KindPerishable || k == KindReusable
}

type Status string

const (
	StatusNone      Status = "none"
	StatusAvailable Status = "available"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type Condition string

const (
	ConditionNew     Condition = "new"
	ConditionLikeNew Condition = "like_new"
	ConditionGood    Condition = "good"
	ConditionFair    Condition = "fair"
	ConditionPoor    Condition = "poor"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionLikeNew, ConditionGood, ConditionFair, ConditionPoor:
		return true
	}
	return false
}

type Donation struct {
	ID            types.ID
	DonorID       types.ID
	Kind          Kind
	Title         string
	Description   string
	CategoryID    *types.ID
	Quantity      decimal.Decimal
	Unit          string
	Condition     Condition
	Position      types.Point
	Address       string
	ExpiresAt     *time.Time
	Status        Status
	ClaimedBy     *types.ID
	StatusVersion int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks the kind-specific fields of a new listing.
func (d *Donation) Validate() error {
	if d.DonorID == "" {
		return fmt.Errorf("%w: donor required", types.ErrBadRequest)
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title required", types.ErrBadRequest)
	}
	switch d.Kind {
	case KindPerishable:
		if d.ExpiresAt == nil {
			return fmt.Errorf("%w: perishable donations need an expiry", types.ErrBadRequest)
		}
		if !d.Quantity.IsPositive() {
			return fmt.Errorf("%w: quantity must be positive", types.ErrBadRequest)
		}
	case KindReusable:
		if d.ExpiresAt != nil {
			return fmt.Errorf("%w: reusable donations do not expire", types.ErrBadRequest)
		}
		if d.Condition != "" && !d.Condition.Valid() {
			return fmt.Errorf("%w: unknown condition %q", types.ErrBadRequest, d.Condition)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", types.ErrBadRequest, d.Kind)
	}
	return d.Position.Validate()
}

// DaysUntilExpiry is nil for items without an expiry and never negative.
func (d *Donation) DaysUntilExpiry(now time.Time) *float64 {
	if d.ExpiresAt == nil {
		return nil
	}
	days := d.ExpiresAt.Sub(now).Hours() / 24
	if days < 0 {
		days = 0
	}
	return &days
}

func (d *Donation) IsOwner(actor types.Actor) bool {
	return actor.ID != "" && actor.ID == d.DonorID
}

func (d *Donation) IsClaimer(actor types.Actor) bool {
	return actor.ID != "" && d.ClaimedBy != nil && *d.ClaimedBy == actor.ID
}

type Action string

const (
	ActionClaim    Action = "claim"
	ActionComplete Action = "complete"
	ActionRelease  Action = "release"
	ActionWithdraw Action = "withdraw"
	ActionExpire   Action = "expire"
)

type transition struct {
	from    Status
	action  Action
	to      Status
	allowed func(d *Donation, actor types.Actor) bool
}

func byOwner(d *Donation, a types.Actor) bool {
	return d.IsOwner(a)
}

func byOwnerOrClaimer(d *Donation, a types.Actor) bool {
	return d.IsOwner(a) || d.IsClaimer(a)
}

func byRecipient(d *Donation, a types.Actor) bool {
	return a.ID != "" && !a.IsSystem() && !d.IsOwner(a)
}

func bySystem(_ *Donation, a types.Actor) bool {
	return a.IsSystem()
}

// itemTransitions is the item state flow as code.
var itemTransitions = []transition{
	{StatusAvailable, ActionClaim, StatusClaimed, byRecipient},
	{StatusClaimed, ActionComplete, StatusCompleted, byOwnerOrClaimer},
	{StatusClaimed, ActionRelease, StatusAvailable, byOwnerOrClaimer},
	{StatusAvailable, ActionWithdraw, StatusCancelled, byOwner},
	{StatusAvailable, ActionExpire, StatusExpired, bySystem},
}

// AllowedTransitions is the status graph without actor rules.
var AllowedTransitions = func() map[Status][]Status {
	m := make(map[Status][]Status)
	for _, t := range itemTransitions {
		m[t.from] = append(m[t.from], t.to)
	}
	return m
}()

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next returns the status reached when actor performs action on d.
func Next(d *Donation, action Action, actor types.Actor) (Status, error) {
	for _, t := range itemTransitions {
		if t.from != d.Status || t.action != action {
			continue
		}
		if !t.allowed(d, actor) {
			return "", fmt.Errorf("%w: %s not permitted for this actor", types.ErrInvalidTransition, action)
		}
		return t.to, nil
	}
	return "", fmt.Errorf("%w: cannot %s a %s donation", types.ErrInvalidTransition, action, d.Status)
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return len(AllowedTransitions[s]) == 0
}
