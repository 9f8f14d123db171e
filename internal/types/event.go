// README: Append-only audit record written with every successful status change.
package types

import "time"

type EntityType string

const (
	EntityDonation EntityType = "donation"
	EntityRequest  EntityType = "request"
)

type StatusEvent struct {
	ID         int64
	EntityType EntityType
	EntityID   ID
	FromStatus string
	ToStatus   string
	ActorType  Role
	ActorID    *ID
	CreatedAt  time.Time
}

func NewStatusEvent(entity EntityType, id ID, from, to string, actor Actor, at time.Time) StatusEvent {
	e := StatusEvent{
		EntityType: entity,
		EntityID:   id,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actor.Role,
		CreatedAt:  at,
	}
	if actor.ID != "" {
		aid := actor.ID
		e.ActorID = &aid
	}
	return e
}
