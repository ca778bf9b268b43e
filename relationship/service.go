package relationship

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ledgerStore is the tx-scoped surface the service drives. Satisfied by *Ledger.
type ledgerStore interface {
	LockPet(ctx context.Context, tx pgx.Tx, petID string) error
	EndAllActive(ctx context.Context, tx pgx.Tx, userID, petID string, at time.Time) error
	RemoveUserAccess(ctx context.Context, tx pgx.Tx, petID, userID string, at time.Time) error
	ActiveOwnerCount(ctx context.Context, tx pgx.Tx, petID string) (int, error)
	HasActiveEdge(ctx context.Context, tx pgx.Tx, userID, petID string, typ Type) (bool, error)
	ListActive(ctx context.Context, tx pgx.Tx, petID string) ([]Edge, error)
}

// Service exposes the standalone ledger entry points. Each operation opens its
// own transaction and locks the pet row before touching edges, so it cannot
// race an in-flight transfer confirmation.
type Service struct {
	pool  TxBeginner
	store ledgerStore
	now   func() time.Time
}

func NewService(pool TxBeginner, store ledgerStore) *Service {
	if store == nil {
		store = NewLedger()
	}
	return &Service{
		pool:  pool,
		store: store,
		now:   time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// LeavePet ends every active edge the user holds for the pet, used when a user
// walks away from a pet voluntarily. Refuses when the user is the sole active
// owner: the pet must never be left ownerless.
func (s *Service) LeavePet(ctx context.Context, userID, petID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("relationship: begin leave tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.LockPet(ctx, tx, petID); err != nil {
		return err
	}

	isOwner, err := s.store.HasActiveEdge(ctx, tx, userID, petID, TypeOwner)
	if err != nil {
		return err
	}
	if isOwner {
		owners, err := s.store.ActiveOwnerCount(ctx, tx, petID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return fmt.Errorf("relationship: leave pet: %w", ErrOwnerRemoval)
		}
	}

	if err := s.store.EndAllActive(ctx, tx, userID, petID, s.now()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("relationship: commit leave: %w", err)
	}
	return nil
}

// RemoveUserAccess ends the user's non-owner edges for the pet. Active owners
// are rejected; they must be removed via ownership transfer.
func (s *Service) RemoveUserAccess(ctx context.Context, petID, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("relationship: begin remove tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.LockPet(ctx, tx, petID); err != nil {
		return err
	}
	if err := s.store.RemoveUserAccess(ctx, tx, petID, userID, s.now()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("relationship: commit remove: %w", err)
	}
	return nil
}

// ActiveEdges lists the pet's currently active edges.
func (s *Service) ActiveEdges(ctx context.Context, petID string) ([]Edge, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("relationship: begin list tx: %w", err)
	}
	defer tx.Rollback(ctx)

	edges, err := s.store.ListActive(ctx, tx, petID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("relationship: commit list: %w", err)
	}
	return edges, nil
}
