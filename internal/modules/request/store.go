// README: Request store backed by PostgreSQL. Apply commits a transition and its item write in one transaction.
package request

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zerowaste/internal/infra"
	"zerowaste/internal/modules/donation"
	"zerowaste/internal/types"
)

// activeRequestIndex is the partial unique index on (requester_id, donation_id).
const activeRequestIndex = "requests_one_active_per_requester"

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const selectColumns = `
	SELECT id, donation_id, requester_id, provider_id, status, status_version,
	       message, response_message, pickup_at, cancel_reason,
	       created_at, updated_at, accepted_at, rejected_at, cancelled_at, completed_at
	FROM requests`

func (s *Store) Create(ctx context.Context, r *Request) error {
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO requests (
				id, donation_id, requester_id, provider_id, status, status_version,
				message, response_message, cancel_reason, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, '', '', $8, $8)`,
			string(r.ID),
			string(r.DonationID),
			string(r.RequesterID),
			string(r.ProviderID),
			string(r.Status),
			r.StatusVersion,
			r.Message,
			r.CreatedAt,
		)
		if err != nil {
			return err
		}
		return infra.AppendStatusEvent(ctx, tx, types.NewStatusEvent(
			types.EntityRequest, r.ID, string(StatusNone), string(r.Status),
			types.Actor{ID: r.RequesterID, Role: types.RoleRecipient}, r.CreatedAt,
		))
	})
	if infra.IsUniqueViolation(err, activeRequestIndex) {
		return fmt.Errorf("%w: donation %s", types.ErrActiveRequest, r.DonationID)
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Request, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, string(id)))
	if infra.IsNoRows(err) {
		return nil, fmt.Errorf("%w: request %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) List(ctx context.Context, f Filter) ([]*Request, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, selectColumns+`
		WHERE ($1 = '' OR requester_id = $1)
		  AND ($2 = '' OR provider_id = $2)
		  AND ($3 = '' OR donation_id = $3)
		  AND ($4 = '' OR status = $4)
		ORDER BY created_at DESC
		LIMIT $5`,
		string(f.RequesterID),
		string(f.ProviderID),
		string(f.DonationID),
		string(f.Status),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) HasActive(ctx context.Context, requesterID, donationID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM requests
			WHERE requester_id = $1 AND donation_id = $2
			  AND status IN ('pending','accepted')
		)`, string(requesterID), string(donationID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// Apply writes the request CAS, its audit event and the item effect atomically.
// A lost race on either row rolls everything back with ErrConcurrentModification.
func (s *Store) Apply(ctx context.Context, tr Transition) error {
	return infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		r := tr.Request
		tag, err := tx.Exec(ctx, `
			UPDATE requests
			SET status = $1,
			    status_version = status_version + 1,
			    response_message = $2,
			    pickup_at = $3,
			    cancel_reason = $4,
			    accepted_at = $5,
			    rejected_at = $6,
			    cancelled_at = $7,
			    completed_at = COALESCE(completed_at, $8),
			    updated_at = $9
			WHERE id = $10 AND status = $11 AND status_version = $12`,
			string(r.Status),
			r.ResponseMessage,
			r.PickupAt,
			r.CancelReason,
			r.AcceptedAt,
			r.RejectedAt,
			r.CancelledAt,
			r.CompletedAt,
			tr.At,
			string(r.ID),
			string(tr.From),
			tr.FromVersion,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("%w: request %s", types.ErrConcurrentModification, r.ID)
		}
		if err := infra.AppendStatusEvent(ctx, tx, types.NewStatusEvent(
			types.EntityRequest, r.ID, string(tr.From), string(r.Status), tr.Actor, tr.At,
		)); err != nil {
			return err
		}

		if tr.Item == nil {
			return nil
		}
		ok, err := donation.UpdateStatusIn(ctx, tx, donation.StatusChange{
			ID:         tr.Item.DonationID,
			From:       tr.Item.From,
			To:         tr.Item.To,
			Version:    tr.Item.Version,
			ClearClaim: tr.Item.ClearClaim,
			Event: types.NewStatusEvent(types.EntityDonation, tr.Item.DonationID,
				string(tr.Item.From), string(tr.Item.To), tr.Actor, tr.At),
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: donation %s", types.ErrConcurrentModification, tr.Item.DonationID)
		}
		return nil
	})
}

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	err := row.Scan(
		&r.ID, &r.DonationID, &r.RequesterID, &r.ProviderID, &r.Status, &r.StatusVersion,
		&r.Message, &r.ResponseMessage, &r.PickupAt, &r.CancelReason,
		&r.CreatedAt, &r.UpdatedAt, &r.AcceptedAt, &r.RejectedAt, &r.CancelledAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
