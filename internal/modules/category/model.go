// README: Category reference data for donations.
package category

import (
	"fmt"
	"strings"
	"time"

	"zerowaste/internal/types"
)

type Category struct {
	ID          types.ID
	Name        string
	Description string
	Icon        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *Category) Normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Description = strings.TrimSpace(c.Description)
	c.Icon = strings.TrimSpace(c.Icon)
	if c.Name == "" {
		return fmt.Errorf("%w: category name required", types.ErrBadRequest)
	}
	if len(c.Name) > 80 {
		return fmt.Errorf("%w: category name too long", types.ErrBadRequest)
	}
	return nil
}
