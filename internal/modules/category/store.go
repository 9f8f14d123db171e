// README: Category store backed by PostgreSQL; names are unique case-insensitively.
package category

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zerowaste/internal/infra"
	"zerowaste/internal/types"
)

const nameIndex = "categories_name_ci"

// ErrDuplicateName is returned when another category already uses the name.
var ErrDuplicateName = fmt.Errorf("%w: category name already exists", types.ErrConflict)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) List(ctx context.Context) ([]*Category, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, description, icon, created_at, updated_at
		FROM categories
		ORDER BY LOWER(name)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Category, error) {
	c, err := scanCategory(s.db.QueryRow(ctx, `
		SELECT id, name, description, icon, created_at, updated_at
		FROM categories WHERE id = $1`, string(id)))
	if infra.IsNoRows(err) {
		return nil, fmt.Errorf("%w: category %s", types.ErrNotFound, id)
	}
	return c, err
}

func (s *Store) Create(ctx context.Context, c *Category) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO categories (id, name, description, icon, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		string(c.ID), c.Name, c.Description, c.Icon, c.CreatedAt,
	)
	if infra.IsUniqueViolation(err, nameIndex) {
		return ErrDuplicateName
	}
	return err
}

func (s *Store) Update(ctx context.Context, c *Category) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE categories
		SET name = $1, description = $2, icon = $3, updated_at = $4
		WHERE id = $5`,
		c.Name, c.Description, c.Icon, c.UpdatedAt, string(c.ID),
	)
	if infra.IsUniqueViolation(err, nameIndex) {
		return ErrDuplicateName
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: category %s", types.ErrNotFound, c.ID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM categories WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: category %s", types.ErrNotFound, id)
	}
	return nil
}

func scanCategory(row pgx.Row) (*Category, error) {
	var c Category
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Icon, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
