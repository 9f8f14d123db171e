// README: Donation store backed by PostgreSQL; status writes are compare-and-swap.
package donation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"zerowaste/internal/infra"
	"zerowaste/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// StatusChange is one CAS write keyed on (ID, From, Version).
type StatusChange struct {
	ID      types.ID
	From    Status
	To      Status
	Version int
	// ClaimedBy is stored on claim; ClearClaim drops it on release.
	ClaimedBy  *types.ID
	ClearClaim bool
	Event      types.StatusEvent
}

const selectColumns = `
	SELECT id, donor_id, kind, title, description, category_id,
	       quantity::text, unit, condition, lng, lat, address, expires_at,
	       status, claimed_by, status_version, created_at, updated_at
	FROM donations`

func (s *Store) Create(ctx context.Context, d *Donation) error {
	return infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO donations (
				id, donor_id, kind, title, description, category_id,
				quantity, unit, condition, lng, lat, address, expires_at,
				status, claimed_by, status_version, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7::text::numeric, $8, $9, $10, $11, $12, $13,
				$14, NULL, $15, $16, $16
			)`,
			string(d.ID),
			string(d.DonorID),
			string(d.Kind),
			d.Title,
			d.Description,
			idPtr(d.CategoryID),
			d.Quantity.String(),
			d.Unit,
			string(d.Condition),
			d.Position.Lng, d.Position.Lat,
			d.Address,
			d.ExpiresAt,
			string(d.Status),
			d.StatusVersion,
			d.CreatedAt,
		)
		if err != nil {
			return err
		}
		return infra.AppendStatusEvent(ctx, tx, types.NewStatusEvent(
			types.EntityDonation, d.ID, string(StatusNone), string(d.Status),
			types.Actor{ID: d.DonorID, Role: types.RoleDonor}, d.CreatedAt,
		))
	})
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Donation, error) {
	return GetIn(ctx, s.db, id)
}

// GetIn reads a donation through q so callers can share a transaction.
func GetIn(ctx context.Context, q infra.Querier, id types.ID) (*Donation, error) {
	d, err := scanDonation(q.QueryRow(ctx, selectColumns+` WHERE id = $1`, string(id)))
	if infra.IsNoRows(err) {
		return nil, fmt.Errorf("%w: donation %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetMany returns the donations found among ids; missing ids are skipped.
func (s *Store) GetMany(ctx context.Context, ids []types.ID) ([]*Donation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	return s.list(ctx, selectColumns+` WHERE id = ANY($1)`, raw)
}

// likeEscaper makes a keyword literal inside an ILIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListAvailable returns available donations matching f, newest first.
func (s *Store) ListAvailable(ctx context.Context, f ListFilter) ([]*Donation, error) {
	keyword := ""
	if f.Keyword != "" {
		keyword = "%" + likeEscaper.Replace(f.Keyword) + "%"
	}
	return s.list(ctx, selectColumns+`
		WHERE status = 'available'
		  AND ($1 = '' OR kind = $1)
		  AND ($2::text IS NULL OR category_id = $2)
		  AND ($3 = '' OR condition = $3)
		  AND ($4 = '' OR title ILIKE $4 OR description ILIKE $4)
		ORDER BY created_at DESC, id
		LIMIT $5 OFFSET $6`,
		string(f.Kind), idPtr(f.CategoryID), string(f.Condition), keyword, f.Limit, f.Offset)
}

func (s *Store) ListByDonor(ctx context.Context, donorID types.ID) ([]*Donation, error) {
	return s.list(ctx, selectColumns+`
		WHERE donor_id = $1
		ORDER BY created_at DESC`, string(donorID))
}

// ListExpired returns available perishable donations whose expiry is strictly before now.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*Donation, error) {
	return s.list(ctx, selectColumns+`
		WHERE status = 'available' AND kind = 'perishable' AND expires_at < $1
		ORDER BY donor_id, expires_at`, now)
}

// ListExpiringBetween returns available perishable donations expiring in [from, to).
func (s *Store) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*Donation, error) {
	return s.list(ctx, selectColumns+`
		WHERE status = 'available' AND kind = 'perishable'
		  AND expires_at >= $1 AND expires_at < $2
		ORDER BY expires_at`, from, to)
}

// UpdateDetails rewrites the editable fields of an available donation. The
// write is keyed on the status version d was read at and does not bump it.
func (s *Store) UpdateDetails(ctx context.Context, d *Donation) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE donations
		SET title = $1, description = $2, category_id = $3,
		    quantity = $4::text::numeric, unit = $5, condition = $6,
		    lng = $7, lat = $8, address = $9, expires_at = $10,
		    updated_at = $11
		WHERE id = $12 AND status = 'available' AND status_version = $13`,
		d.Title,
		d.Description,
		idPtr(d.CategoryID),
		d.Quantity.String(),
		d.Unit,
		string(d.Condition),
		d.Position.Lng, d.Position.Lat,
		d.Address,
		d.ExpiresAt,
		d.UpdatedAt,
		string(d.ID),
		d.StatusVersion,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateStatus(ctx context.Context, c StatusChange) (bool, error) {
	var ok bool
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		ok, err = UpdateStatusIn(ctx, tx, c)
		return err
	})
	return ok, err
}

// UpdateStatusIn performs the CAS write and appends the audit event through q.
// It reports false when the row no longer matches (From, Version).
func UpdateStatusIn(ctx context.Context, q infra.Querier, c StatusChange) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE donations
		SET status = $1,
		    status_version = status_version + 1,
		    claimed_by = CASE WHEN $2 THEN NULL ELSE COALESCE($3, claimed_by) END,
		    updated_at = $4
		WHERE id = $5 AND status = $6 AND status_version = $7`,
		string(c.To),
		c.ClearClaim,
		idPtr(c.ClaimedBy),
		c.Event.CreatedAt,
		string(c.ID),
		string(c.From),
		c.Version,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := infra.AppendStatusEvent(ctx, q, c.Event); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Donation, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDonation(row pgx.Row) (*Donation, error) {
	var d Donation
	var categoryID, claimedBy *string
	var quantity string

	err := row.Scan(
		&d.ID, &d.DonorID, &d.Kind, &d.Title, &d.Description, &categoryID,
		&quantity, &d.Unit, &d.Condition, &d.Position.Lng, &d.Position.Lat, &d.Address, &d.ExpiresAt,
		&d.Status, &claimedBy, &d.StatusVersion, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if d.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("parse quantity %q: %w", quantity, err)
	}
	d.CategoryID = toID(categoryID)
	d.ClaimedBy = toID(claimedBy)
	return &d, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toID(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
