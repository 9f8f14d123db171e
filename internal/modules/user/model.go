// README: User profile as seen by the marketplace: role, location and contact address.
package user

import (
	"time"

	"zerowaste/internal/types"
)

type User struct {
	ID            types.ID
	Name          string
	Role          types.Role
	Position      *types.Point
	Address       string
	NotifyAddress string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
