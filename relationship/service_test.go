package relationship

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestLeavePet_SoleOwnerRejected(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		ownerEdge:   true,
		ownerCount:  1,
		activeEdges: 2,
	}
	svc := NewService(pool, store)

	err := svc.LeavePet(context.Background(), "u1", "p1")
	if !errors.Is(err, ErrOwnerRemoval) {
		t.Fatalf("expected ErrOwnerRemoval, got %v", err)
	}
	if store.endedAll {
		t.Fatal("expected no edges to be ended for sole owner")
	}
	if pool.tx == nil || pool.tx.committed {
		t.Fatal("expected transaction to be rolled back, not committed")
	}
}

func TestLeavePet_CoOwnerAllowed(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		ownerEdge:  true,
		ownerCount: 2,
	}
	svc := NewService(pool, store).WithClock(func() time.Time {
		return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	if err := svc.LeavePet(context.Background(), "u1", "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.endedAll {
		t.Fatal("expected edges to be ended")
	}
	if !pool.tx.committed {
		t.Fatal("expected commit")
	}
}

func TestLeavePet_NonOwner(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{ownerEdge: false}
	svc := NewService(pool, store)

	if err := svc.LeavePet(context.Background(), "u2", "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.endedAll {
		t.Fatal("expected non-owner edges to be ended")
	}
}

func TestRemoveUserAccess_OwnerRejected(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{removeErr: ErrOwnerRemoval}
	svc := NewService(pool, store)

	err := svc.RemoveUserAccess(context.Background(), "p1", "u1")
	if !errors.Is(err, ErrOwnerRemoval) {
		t.Fatalf("expected ErrOwnerRemoval, got %v", err)
	}
	if pool.tx.committed {
		t.Fatal("expected rollback on rejected removal")
	}
}

func TestRemoveUserAccess_LocksPetFirst(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{lockErr: ErrPetNotFound}
	svc := NewService(pool, store)

	err := svc.RemoveUserAccess(context.Background(), "missing", "u1")
	if !errors.Is(err, ErrPetNotFound) {
		t.Fatalf("expected ErrPetNotFound, got %v", err)
	}
	if store.removed {
		t.Fatal("expected no removal when the pet lock fails")
	}
}

type fakeStore struct {
	lockErr     error
	removeErr   error
	ownerEdge   bool
	ownerCount  int
	activeEdges int

	endedAll bool
	removed  bool
}

func (f *fakeStore) LockPet(ctx context.Context, tx pgx.Tx, petID string) error {
	return f.lockErr
}

func (f *fakeStore) EndAllActive(ctx context.Context, tx pgx.Tx, userID, petID string, at time.Time) error {
	f.endedAll = true
	return nil
}

func (f *fakeStore) RemoveUserAccess(ctx context.Context, tx pgx.Tx, petID, userID string, at time.Time) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = true
	return nil
}

func (f *fakeStore) ActiveOwnerCount(ctx context.Context, tx pgx.Tx, petID string) (int, error) {
	return f.ownerCount, nil
}

func (f *fakeStore) HasActiveEdge(ctx context.Context, tx pgx.Tx, userID, petID string, typ Type) (bool, error) {
	return f.ownerEdge, nil
}

func (f *fakeStore) ListActive(ctx context.Context, tx pgx.Tx, petID string) ([]Edge, error) {
	return make([]Edge, f.activeEdges), nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
