// README: Category service; writes are restricted to admins by the HTTP layer.
package category

import (
	"context"
	"time"

	"zerowaste/internal/types"
)

type Repository interface {
	List(ctx context.Context) ([]*Category, error)
	Get(ctx context.Context, id types.ID) (*Category, error)
	Create(ctx context.Context, c *Category) error
	Update(ctx context.Context, c *Category) error
	Delete(ctx context.Context, id types.ID) error
}

type Service struct {
	store Repository
	now   func() time.Time
}

func NewService(store Repository) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) List(ctx context.Context) ([]*Category, error) {
	cs, err := s.store.List(ctx)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return cs, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Category, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, types.Dependency(err)
	}
	return c, nil
}

func (s *Service) Create(ctx context.Context, name, description, icon string) (*Category, error) {
	now := s.now().UTC()
	c := &Category{
		ID:          types.NewID(),
		Name:        name,
		Description: description,
		Icon:        icon,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.Normalize(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, types.Dependency(err)
	}
	return c, nil
}

func (s *Service) Update(ctx context.Context, id types.ID, name, description, icon string) (*Category, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Name, c.Description, c.Icon = name, description, icon
	c.UpdatedAt = s.now().UTC()
	if err := c.Normalize(); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, c); err != nil {
		return nil, types.Dependency(err)
	}
	return c, nil
}

func (s *Service) Delete(ctx context.Context, id types.ID) error {
	return types.Dependency(s.store.Delete(ctx, id))
}
