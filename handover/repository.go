package handover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fosterflow/fault"
)

var (
	ErrNotFound = fault.New(fault.NotFound, "handover not found")
)

const recordColumns = `
id, transfer_request_id, owner_user_id, helper_user_id, status,
scheduled_at, location, condition_confirmed, condition_notes,
owner_initiated_at, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the pending handover row for an accepted transfer. Runs in
// the caller's transaction so the handover becomes visible atomically with the
// transfer acceptance.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, transferRequestID, ownerUserID, helperUserID string) (Record, error) {
	const q = `
INSERT INTO transfer_handovers (transfer_request_id, owner_user_id, helper_user_id, status)
VALUES ($1, $2, $3, 'pending')
RETURNING ` + recordColumns
	rec, err := scanRecord(tx.QueryRow(ctx, q, transferRequestID, ownerUserID, helperUserID))
	if err != nil {
		return Record{}, fmt.Errorf("handover: create: %w", err)
	}
	return rec, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM transfer_handovers WHERE id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("handover: get: %w", err)
	}
	return rec, nil
}

func (r *Repository) GetByTransferRequest(ctx context.Context, transferRequestID string) (Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM transfer_handovers WHERE transfer_request_id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, q, transferRequestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("handover: get by transfer: %w", err)
	}
	return rec, nil
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM transfer_handovers WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("handover: lock: %w", err)
	}
	return rec, nil
}

// SetStatus moves the handover to the given status and touches updated_at.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Record, error) {
	const q = `
UPDATE transfer_handovers
SET status = $2, updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING ` + recordColumns
	rec, err := scanRecord(tx.QueryRow(ctx, q, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("handover: set status: %w", err)
	}
	return rec, nil
}

// SetSchedule records the agreed pickup time and place.
func (r *Repository) SetSchedule(ctx context.Context, tx pgx.Tx, id string, scheduledAt time.Time, location *string) (Record, error) {
	const q = `
UPDATE transfer_handovers
SET scheduled_at = $2, location = $3, updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING ` + recordColumns
	rec, err := scanRecord(tx.QueryRow(ctx, q, id, scheduledAt, location))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("handover: set schedule: %w", err)
	}
	return rec, nil
}

// SetCondition records the helper's statement about the pet's condition at
// pickup.
func (r *Repository) SetCondition(ctx context.Context, tx pgx.Tx, id string, confirmed bool, notes *string) (Record, error) {
	const q = `
UPDATE transfer_handovers
SET condition_confirmed = $2, condition_notes = $3, updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING ` + recordColumns
	rec, err := scanRecord(tx.QueryRow(ctx, q, id, confirmed, notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("handover: set condition: %w", err)
	}
	return rec, nil
}

// MarkOwnerInitiated stamps the first moment the owner signalled the handover
// took place. Idempotent via COALESCE.
func (r *Repository) MarkOwnerInitiated(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Record, error) {
	const q = `
UPDATE transfer_handovers
SET owner_initiated_at = COALESCE(owner_initiated_at, $2), updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING ` + recordColumns
	rec, err := scanRecord(tx.QueryRow(ctx, q, id, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("handover: mark owner initiated: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.TransferRequestID,
		&rec.OwnerUserID,
		&rec.HelperUserID,
		&rec.Status,
		&rec.ScheduledAt,
		&rec.Location,
		&rec.ConditionConfirmed,
		&rec.ConditionNotes,
		&rec.OwnerInitiatedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}
