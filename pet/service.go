package pet

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fosterflow/relationship"
)

// Service handles pet lifecycle. Creating a pet and recording its initial
// owner edge happen in one transaction so a pet row is never visible without
// an active owner.
type Service struct {
	pool   *pgxpool.Pool
	repo   *Repository
	ledger *relationship.Ledger
	now    func() time.Time
}

func NewService(pool *pgxpool.Pool, repo *Repository, ledger *relationship.Ledger) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	if ledger == nil {
		ledger = relationship.NewLedger()
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		ledger: ledger,
		now:    time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create inserts the pet and grants the creating user the initial owner edge.
func (s *Service) Create(ctx context.Context, ownerUserID, name, species string) (Pet, error) {
	if ownerUserID == "" {
		return Pet{}, fmt.Errorf("pet: missing owner user id")
	}
	if name == "" {
		return Pet{}, fmt.Errorf("pet: name required")
	}
	if species == "" {
		species = "dog"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Pet{}, fmt.Errorf("pet: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Insert(ctx, tx, name, species)
	if err != nil {
		return Pet{}, err
	}
	if err := s.ledger.GrantInitialOwner(ctx, tx, created.ID, ownerUserID, s.now()); err != nil {
		return Pet{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Pet{}, fmt.Errorf("pet: commit create: %w", err)
	}
	return created, nil
}

// GetByID fetches a pet.
func (s *Service) GetByID(ctx context.Context, id string) (Pet, error) {
	return s.repo.GetByID(ctx, id)
}

// ListOwnedBy lists the pets a user currently owns.
func (s *Service) ListOwnedBy(ctx context.Context, userID string) ([]Pet, error) {
	return s.repo.ListOwnedBy(ctx, userID)
}
