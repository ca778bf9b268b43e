package handover

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fosterflow/fault"
)

var (
	// ErrNotParticipant signals the actor is neither side of the handover.
	ErrNotParticipant = fault.New(fault.Forbidden, "actor is not a handover participant")
	// ErrBadTransition signals an operation from an incompatible status.
	ErrBadTransition = fault.New(fault.Conflict, "handover cannot move from its current status")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type store interface {
	GetByID(ctx context.Context, id string) (Record, error)
	GetByTransferRequest(ctx context.Context, transferRequestID string) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Record, error)
	SetSchedule(ctx context.Context, tx pgx.Tx, id string, scheduledAt time.Time, location *string) (Record, error)
	SetCondition(ctx context.Context, tx pgx.Tx, id string, confirmed bool, notes *string) (Record, error)
	MarkOwnerInitiated(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Record, error)
}

// Service drives the handover coordination that follows an accepted transfer.
// Handover progress never mutates the relationship ledger; ledger effects
// belong to transfer confirmation alone.
type Service struct {
	pool TxBeginner
	repo store
	now  func() time.Time
}

func NewService(pool *pgxpool.Pool, repo *Repository) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	return &Service{pool: pool, repo: repo, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) GetByID(ctx context.Context, id string) (Record, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByTransferRequest(ctx context.Context, transferRequestID string) (Record, error) {
	return s.repo.GetByTransferRequest(ctx, transferRequestID)
}

// Schedule lets either participant set or move the pickup slot while the
// handover has not finished.
func (s *Service) Schedule(ctx context.Context, id, actorID string, scheduledAt time.Time, location *string) (Record, error) {
	return s.transition(ctx, id, actorID, func(rec Record) error {
		if rec.Status != StatusPending && rec.Status != StatusConfirmed {
			return fmt.Errorf("handover: schedule: %w", ErrBadTransition)
		}
		return nil
	}, func(tx pgx.Tx, rec Record) (Record, error) {
		return s.repo.SetSchedule(ctx, tx, id, scheduledAt, location)
	})
}

// Confirm is the helper acknowledging receipt of the pet and stating its
// condition. Only the helper side may confirm, and only from pending.
func (s *Service) Confirm(ctx context.Context, id, actorID string, conditionOK bool, notes *string) (Record, error) {
	return s.transition(ctx, id, actorID, func(rec Record) error {
		if rec.HelperUserID != actorID {
			return fmt.Errorf("handover: confirm: %w", ErrNotParticipant)
		}
		if rec.Status != StatusPending {
			return fmt.Errorf("handover: confirm: %w", ErrBadTransition)
		}
		return nil
	}, func(tx pgx.Tx, rec Record) (Record, error) {
		if _, err := s.repo.SetCondition(ctx, tx, id, conditionOK, notes); err != nil {
			return Record{}, err
		}
		return s.repo.SetStatus(ctx, tx, id, StatusConfirmed)
	})
}

// Complete is the owner marking the handover as done. Only the owner side may
// complete, and only after the helper confirmed.
func (s *Service) Complete(ctx context.Context, id, actorID string) (Record, error) {
	return s.transition(ctx, id, actorID, func(rec Record) error {
		if rec.OwnerUserID != actorID {
			return fmt.Errorf("handover: complete: %w", ErrNotParticipant)
		}
		if rec.Status != StatusConfirmed {
			return fmt.Errorf("handover: complete: %w", ErrBadTransition)
		}
		return nil
	}, func(tx pgx.Tx, rec Record) (Record, error) {
		if _, err := s.repo.MarkOwnerInitiated(ctx, tx, id, s.now()); err != nil {
			return Record{}, err
		}
		return s.repo.SetStatus(ctx, tx, id, StatusCompleted)
	})
}

// Cancel abandons a handover that has not happened yet. Either participant may
// cancel from pending.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (Record, error) {
	return s.transition(ctx, id, actorID, func(rec Record) error {
		if rec.Status != StatusPending {
			return fmt.Errorf("handover: cancel: %w", ErrBadTransition)
		}
		return nil
	}, func(tx pgx.Tx, rec Record) (Record, error) {
		return s.repo.SetStatus(ctx, tx, id, StatusCanceled)
	})
}

// Dispute flags a problem after the pet changed hands. Either participant may
// raise it from confirmed or completed.
func (s *Service) Dispute(ctx context.Context, id, actorID string) (Record, error) {
	return s.transition(ctx, id, actorID, func(rec Record) error {
		if rec.Status != StatusConfirmed && rec.Status != StatusCompleted {
			return fmt.Errorf("handover: dispute: %w", ErrBadTransition)
		}
		return nil
	}, func(tx pgx.Tx, rec Record) (Record, error) {
		return s.repo.SetStatus(ctx, tx, id, StatusDisputed)
	})
}

func (s *Service) transition(
	ctx context.Context,
	id, actorID string,
	check func(Record) error,
	apply func(pgx.Tx, Record) (Record, error),
) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("handover: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.OwnerUserID != actorID && rec.HelperUserID != actorID {
		return Record{}, fmt.Errorf("handover: %w", ErrNotParticipant)
	}
	if err := check(rec); err != nil {
		return Record{}, err
	}

	updated, err := apply(tx, rec)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("handover: commit: %w", err)
	}
	return updated, nil
}
