// README: User store backed by PostgreSQL.
package user

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"zerowaste/internal/infra"
	"zerowaste/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, role, lng, lat, address, notify_address, created_at, updated_at
		FROM users
		WHERE id = $1`, string(id),
	)
	var u User
	var lng, lat *float64
	err := row.Scan(&u.ID, &u.Name, &u.Role, &lng, &lat, &u.Address, &u.NotifyAddress, &u.CreatedAt, &u.UpdatedAt)
	if infra.IsNoRows(err) {
		return nil, fmt.Errorf("%w: user %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if lng != nil && lat != nil {
		u.Position = &types.Point{Lng: *lng, Lat: *lat}
	}
	return &u, nil
}

func (s *Store) Upsert(ctx context.Context, u *User) error {
	var lng, lat *float64
	if u.Position != nil {
		lng, lat = &u.Position.Lng, &u.Position.Lat
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, name, role, lng, lat, address, notify_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			lng = EXCLUDED.lng,
			lat = EXCLUDED.lat,
			address = EXCLUDED.address,
			notify_address = EXCLUDED.notify_address,
			updated_at = EXCLUDED.updated_at`,
		string(u.ID),
		u.Name,
		string(u.Role),
		lng, lat,
		u.Address,
		u.NotifyAddress,
		u.UpdatedAt,
	)
	return err
}
