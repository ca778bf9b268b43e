package relationship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fosterflow/fault"
)

var (
	// ErrPetNotFound signals the referenced pet does not exist.
	ErrPetNotFound = fault.New(fault.NotFound, "pet not found")
	// ErrOwnerRemoval signals an attempt to strip an active owner through the
	// non-owner removal path. Owners leave via ownership transfer only.
	ErrOwnerRemoval = fault.New(fault.InvalidOperation, "user is an active owner; remove via ownership transfer")
)

// Ledger executes relationship-edge mutations inside the caller's transaction.
// The orchestrator composes these with transfer/placement writes so all edges
// become visible atomically; standalone callers go through Service, which
// locks the pet row first.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// LockPet takes an exclusive lock on the pet row, serializing ledger mutations
// that are not already covered by a transfer-request lock.
func (l *Ledger) LockPet(ctx context.Context, tx pgx.Tx, petID string) error {
	var id string
	if err := tx.QueryRow(ctx, `SELECT id FROM pets WHERE id = $1 FOR UPDATE`, petID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("relationship: lock pet: %w", ErrPetNotFound)
		}
		return fmt.Errorf("relationship: lock pet: %w", err)
	}
	return nil
}

// TransferOwnership ends the outgoing owner's active owner edge and starts one
// for the new owner. Idempotent: a no-op when the new owner already holds an
// active owner edge.
func (l *Ledger) TransferOwnership(ctx context.Context, tx pgx.Tx, petID, oldOwnerID, newOwnerID, actorID string, at time.Time) error {
	already, err := l.activeEdgeExists(ctx, tx, newOwnerID, petID, TypeOwner)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	if _, err := tx.Exec(ctx, `
UPDATE pet_relationships
SET end_at = $4
WHERE user_id = $1 AND pet_id = $2 AND relationship_type = $3 AND end_at IS NULL
`, oldOwnerID, petID, TypeOwner, at); err != nil {
		return fmt.Errorf("relationship: end outgoing owner edge: %w", err)
	}

	if err := l.insertEdge(ctx, tx, newOwnerID, petID, TypeOwner, actorID, at); err != nil {
		return fmt.Errorf("relationship: start new owner edge: %w", err)
	}
	return nil
}

// AddViewer grants read access. A no-op when the user already holds any active
// edge: every edge kind implies at least view access.
func (l *Ledger) AddViewer(ctx context.Context, tx pgx.Tx, petID, userID, actorID string, at time.Time) error {
	var exists bool
	if err := tx.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM pet_relationships
  WHERE user_id = $1 AND pet_id = $2 AND end_at IS NULL
)`, userID, petID).Scan(&exists); err != nil {
		return fmt.Errorf("relationship: check existing access: %w", err)
	}
	if exists {
		return nil
	}
	if err := l.insertEdge(ctx, tx, userID, petID, TypeViewer, actorID, at); err != nil {
		return fmt.Errorf("relationship: add viewer edge: %w", err)
	}
	return nil
}

// AddFoster starts a foster edge at the given time. The start may be backdated
// to the confirmation instant rather than wall-clock now. Idempotent when an
// active foster edge already exists.
func (l *Ledger) AddFoster(ctx context.Context, tx pgx.Tx, petID, userID, actorID string, startAt time.Time) error {
	already, err := l.activeEdgeExists(ctx, tx, userID, petID, TypeFoster)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	if err := l.insertEdge(ctx, tx, userID, petID, TypeFoster, actorID, startAt); err != nil {
		return fmt.Errorf("relationship: add foster edge: %w", err)
	}
	return nil
}

// EndAllActive ends every active edge for (user, pet). The caller must have
// already verified the user is not the sole active owner.
func (l *Ledger) EndAllActive(ctx context.Context, tx pgx.Tx, userID, petID string, at time.Time) error {
	if _, err := tx.Exec(ctx, `
UPDATE pet_relationships
SET end_at = $3
WHERE user_id = $1 AND pet_id = $2 AND end_at IS NULL
`, userID, petID, at); err != nil {
		return fmt.Errorf("relationship: end all active edges: %w", err)
	}
	return nil
}

// RemoveUserAccess ends the user's non-owner active edges. Refuses when the
// target holds an active owner edge.
func (l *Ledger) RemoveUserAccess(ctx context.Context, tx pgx.Tx, petID, userID string, at time.Time) error {
	isOwner, err := l.activeEdgeExists(ctx, tx, userID, petID, TypeOwner)
	if err != nil {
		return err
	}
	if isOwner {
		return fmt.Errorf("relationship: remove access: %w", ErrOwnerRemoval)
	}

	if _, err := tx.Exec(ctx, `
UPDATE pet_relationships
SET end_at = $3
WHERE user_id = $1 AND pet_id = $2 AND relationship_type <> 'owner' AND end_at IS NULL
`, userID, petID, at); err != nil {
		return fmt.Errorf("relationship: end non-owner edges: %w", err)
	}
	return nil
}

// GrantInitialOwner records the bootstrap owner edge for a freshly created pet.
func (l *Ledger) GrantInitialOwner(ctx context.Context, tx pgx.Tx, petID, userID string, at time.Time) error {
	if err := l.insertEdge(ctx, tx, userID, petID, TypeOwner, userID, at); err != nil {
		return fmt.Errorf("relationship: grant initial owner: %w", err)
	}
	return nil
}

// ActiveOwnerCount returns how many users currently hold an active owner edge.
// Callers use it for sole-owner precondition checks before ending edges.
func (l *Ledger) ActiveOwnerCount(ctx context.Context, tx pgx.Tx, petID string) (int, error) {
	var n int
	if err := tx.QueryRow(ctx, `
SELECT COUNT(*) FROM pet_relationships
WHERE pet_id = $1 AND relationship_type = 'owner' AND end_at IS NULL
`, petID).Scan(&n); err != nil {
		return 0, fmt.Errorf("relationship: count active owners: %w", err)
	}
	return n, nil
}

// HasActiveEdge reports whether the user currently holds an active edge of the
// given kind for the pet.
func (l *Ledger) HasActiveEdge(ctx context.Context, tx pgx.Tx, userID, petID string, typ Type) (bool, error) {
	return l.activeEdgeExists(ctx, tx, userID, petID, typ)
}

// ListActive returns all active edges for the pet.
func (l *Ledger) ListActive(ctx context.Context, tx pgx.Tx, petID string) ([]Edge, error) {
	rows, err := tx.Query(ctx, `
SELECT id, user_id, pet_id, relationship_type, created_by, start_at, end_at
FROM pet_relationships
WHERE pet_id = $1 AND end_at IS NULL
ORDER BY start_at ASC
`, petID)
	if err != nil {
		return nil, fmt.Errorf("relationship: list active edges: %w", err)
	}
	defer rows.Close()

	edges := make([]Edge, 0, 4)
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.UserID, &e.PetID, &e.Type, &e.CreatedBy, &e.StartAt, &e.EndAt); err != nil {
			return nil, fmt.Errorf("relationship: scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relationship: iterate edges: %w", err)
	}
	return edges, nil
}

func (l *Ledger) activeEdgeExists(ctx context.Context, tx pgx.Tx, userID, petID string, typ Type) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM pet_relationships
  WHERE user_id = $1 AND pet_id = $2 AND relationship_type = $3 AND end_at IS NULL
)`, userID, petID, typ).Scan(&exists); err != nil {
		return false, fmt.Errorf("relationship: check active edge: %w", err)
	}
	return exists, nil
}

func (l *Ledger) insertEdge(ctx context.Context, tx pgx.Tx, userID, petID string, typ Type, actorID string, startAt time.Time) error {
	_, err := tx.Exec(ctx, `
INSERT INTO pet_relationships (user_id, pet_id, relationship_type, created_by, start_at)
VALUES ($1, $2, $3, $4, $5)
`, userID, petID, typ, actorID, startAt)
	return err
}
