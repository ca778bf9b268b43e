package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fosterflow/fault"
)

var (
	ErrNotFound = fault.New(fault.NotFound, "transfer request not found")
)

const recordColumns = `
id, pet_id, initiator_user_id, recipient_user_id, from_user_id, to_user_id,
placement_request_id, placement_request_response_id, requested_relationship_type,
fostering_type, price, status, accepted_at, rejected_at, canceled_at,
confirmed_at, created_at, updated_at`

// Repository persists transfer requests. Mutations are tx-scoped so the
// service can compose them with placement, handover, and ledger writes.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	GetByID(ctx context.Context, id string) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	MarkRejected(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	MarkCanceled(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	MarkConfirmed(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	GetHelperUser(ctx context.Context, tx pgx.Tx, helperProfileID string) (string, error)
	ListByPlacement(ctx context.Context, placementRequestID string) ([]Record, error)
	ListInvolving(ctx context.Context, userID string) ([]Record, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	const q = `
INSERT INTO transfer_requests (
  id, pet_id, initiator_user_id, recipient_user_id, from_user_id, to_user_id,
  placement_request_id, placement_request_response_id, requested_relationship_type,
  fostering_type, price, status
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending')
RETURNING ` + recordColumns
	out, err := scanRecord(tx.QueryRow(ctx, q,
		rec.ID,
		rec.PetID,
		rec.InitiatorUserID,
		rec.RecipientUserID,
		rec.FromUserID,
		rec.ToUserID,
		rec.PlacementRequestID,
		rec.ResponseID,
		rec.RelationshipType,
		rec.FosteringType,
		rec.Price,
	))
	if err != nil {
		return Record{}, fmt.Errorf("transfer: insert: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM transfer_requests WHERE id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("transfer: get: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM transfer_requests WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("transfer: lock: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) MarkAccepted(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	return r.mark(ctx, tx, id, `
UPDATE transfer_requests
SET status = 'accepted',
    accepted_at = COALESCE(accepted_at, get_tx_timestamp()),
    updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING `+recordColumns)
}

func (r *PGRepository) MarkRejected(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	return r.mark(ctx, tx, id, `
UPDATE transfer_requests
SET status = 'rejected',
    rejected_at = COALESCE(rejected_at, get_tx_timestamp()),
    updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING `+recordColumns)
}

func (r *PGRepository) MarkCanceled(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	return r.mark(ctx, tx, id, `
UPDATE transfer_requests
SET status = 'canceled',
    canceled_at = COALESCE(canceled_at, get_tx_timestamp()),
    updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING `+recordColumns)
}

// MarkConfirmed also backfills accepted_at so a pending request confirmed
// directly still shows a coherent timeline.
func (r *PGRepository) MarkConfirmed(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	return r.mark(ctx, tx, id, `
UPDATE transfer_requests
SET status = 'confirmed',
    accepted_at = COALESCE(accepted_at, get_tx_timestamp()),
    confirmed_at = COALESCE(confirmed_at, get_tx_timestamp()),
    updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING `+recordColumns)
}

func (r *PGRepository) mark(ctx context.Context, tx pgx.Tx, id, query string) (Record, error) {
	rec, err := scanRecord(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("transfer: mark status: %w", err)
	}
	return rec, nil
}

// GetHelperUser resolves the user behind a helper profile.
func (r *PGRepository) GetHelperUser(ctx context.Context, tx pgx.Tx, helperProfileID string) (string, error) {
	var userID string
	err := tx.QueryRow(ctx, `SELECT user_id FROM helper_profiles WHERE id = $1`, helperProfileID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fault.New(fault.NotFound, "helper profile not found")
		}
		return "", fmt.Errorf("transfer: resolve helper user: %w", err)
	}
	return userID, nil
}

func (r *PGRepository) ListByPlacement(ctx context.Context, placementRequestID string) ([]Record, error) {
	const q = `
SELECT ` + recordColumns + `
FROM transfer_requests
WHERE placement_request_id = $1
ORDER BY created_at DESC`
	return r.list(ctx, q, placementRequestID)
}

func (r *PGRepository) ListInvolving(ctx context.Context, userID string) ([]Record, error) {
	const q = `
SELECT ` + recordColumns + `
FROM transfer_requests
WHERE initiator_user_id = $1 OR recipient_user_id = $1
ORDER BY created_at DESC`
	return r.list(ctx, q, userID)
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transfer: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("transfer: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfer: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.PetID,
		&rec.InitiatorUserID,
		&rec.RecipientUserID,
		&rec.FromUserID,
		&rec.ToUserID,
		&rec.PlacementRequestID,
		&rec.ResponseID,
		&rec.RelationshipType,
		&rec.FosteringType,
		&rec.Price,
		&rec.Status,
		&rec.AcceptedAt,
		&rec.RejectedAt,
		&rec.CanceledAt,
		&rec.ConfirmedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}
