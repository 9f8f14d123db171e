// README: User service: profile upsert, recipient indexing and contact lookup for notifications.
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zerowaste/internal/modules/location"
	"zerowaste/internal/modules/notify"
	"zerowaste/internal/types"
)

type Repository interface {
	Get(ctx context.Context, id types.ID) (*User, error)
	Upsert(ctx context.Context, u *User) error
}

type Locator interface {
	Resolve(ctx context.Context, pos *types.Point, address string) (types.Point, error)
	Track(ctx context.Context, layer location.Layer, id types.ID, pos types.Point) error
	Untrack(ctx context.Context, layer location.Layer, id types.ID) error
}

type Service struct {
	store   Repository
	locator Locator
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(store Repository, locator Locator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, locator: locator, logger: logger, now: time.Now}
}

type ProfileCommand struct {
	ID            types.ID
	Name          string
	Role          types.Role
	Position      *types.Point
	Address       string
	NotifyAddress string
}

func (s *Service) Get(ctx context.Context, id types.ID) (*User, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return u, nil
}

// Upsert saves the caller's profile. A bare address is geocoded; recipients
// with a location are added to the recipient GEO index, everyone else removed.
func (s *Service) Upsert(ctx context.Context, cmd ProfileCommand) (*User, error) {
	if cmd.ID == "" {
		return nil, fmt.Errorf("%w: user id required", types.ErrBadRequest)
	}
	if !cmd.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", types.ErrBadRequest, cmd.Role)
	}
	now := s.now().UTC()
	u := &User{
		ID:            cmd.ID,
		Name:          strings.TrimSpace(cmd.Name),
		Role:          cmd.Role,
		Address:       strings.TrimSpace(cmd.Address),
		NotifyAddress: strings.TrimSpace(cmd.NotifyAddress),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cmd.Position != nil || u.Address != "" {
		pos, err := s.locator.Resolve(ctx, cmd.Position, u.Address)
		if err != nil {
			return nil, err
		}
		u.Position = &pos
	}
	if err := s.store.Upsert(ctx, u); err != nil {
		return nil, types.Dependency(err)
	}

	if u.Role == types.RoleRecipient && u.Position != nil {
		if err := s.locator.Track(ctx, location.LayerRecipients, u.ID, *u.Position); err != nil {
			s.logger.WarnContext(ctx, "recipient index update failed", "user_id", u.ID, "err", err)
		}
	} else if err := s.locator.Untrack(ctx, location.LayerRecipients, u.ID); err != nil {
		s.logger.WarnContext(ctx, "recipient index removal failed", "user_id", u.ID, "err", err)
	}
	return u, nil
}

// Position returns the user's stored location.
func (s *Service) Position(ctx context.Context, id types.ID) (types.Point, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return types.Point{}, err
	}
	if u.Position == nil {
		return types.Point{}, fmt.Errorf("%w: user %s has no location", types.ErrInvalidCoordinate, id)
	}
	return *u.Position, nil
}

// Contact returns where notifications for id are delivered.
func (s *Service) Contact(ctx context.Context, id types.ID) (notify.Recipient, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return notify.Recipient{}, err
	}
	return notify.Recipient{UserID: u.ID, Address: u.NotifyAddress}, nil
}

// Role returns the role on the user's profile.
func (s *Service) Role(ctx context.Context, id types.ID) (types.Role, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}
