// README: Acting user supplied by the identity layer for every mutation.
package types

type Role string

const (
	RoleDonor     Role = "donor"
	RoleRecipient Role = "recipient"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDonor, RoleRecipient, RoleAdmin:
		return true
	}
	return false
}

type Actor struct {
	ID   ID
	Role Role
}

// System is the actor recorded for scheduled transitions such as expiry.
var System = Actor{Role: RoleSystem}

func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}

// IDPtr returns nil for the system actor so audit rows store NULL.
func (a Actor) IDPtr() *string {
	if a.ID == "" {
		return nil
	}
	s := string(a.ID)
	return &s
}
