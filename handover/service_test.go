package handover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func newTestService(rec Record) (*Service, *fakeStore, *fakePool) {
	store := &fakeStore{rec: rec}
	pool := &fakePool{}
	svc := &Service{
		pool: pool,
		repo: store,
		now:  func() time.Time { return time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC) },
	}
	return svc, store, pool
}

func TestConfirm_OnlyHelper(t *testing.T) {
	svc, _, pool := newTestService(Record{
		ID: "h1", OwnerUserID: "owner", HelperUserID: "helper", Status: StatusPending,
	})

	_, err := svc.Confirm(context.Background(), "h1", "owner", true, nil)
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if pool.tx.committed {
		t.Fatal("expected rollback")
	}
}

func TestConfirm_SetsConditionAndStatus(t *testing.T) {
	notes := "limping slightly"
	svc, store, pool := newTestService(Record{
		ID: "h1", OwnerUserID: "owner", HelperUserID: "helper", Status: StatusPending,
	})

	rec, err := svc.Confirm(context.Background(), "h1", "helper", true, &notes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", rec.Status)
	}
	if !store.rec.ConditionConfirmed || store.rec.ConditionNotes == nil {
		t.Fatal("expected condition recorded")
	}
	if !pool.tx.committed {
		t.Fatal("expected commit")
	}
}

func TestComplete_RequiresConfirmedFirst(t *testing.T) {
	svc, _, _ := newTestService(Record{
		ID: "h1", OwnerUserID: "owner", HelperUserID: "helper", Status: StatusPending,
	})

	if _, err := svc.Complete(context.Background(), "h1", "owner"); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}

func TestComplete_StampsOwnerInitiated(t *testing.T) {
	svc, store, _ := newTestService(Record{
		ID: "h1", OwnerUserID: "owner", HelperUserID: "helper", Status: StatusConfirmed,
	})

	rec, err := svc.Complete(context.Background(), "h1", "owner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if store.rec.OwnerInitiatedAt == nil {
		t.Fatal("expected owner_initiated_at stamped")
	}
}

func TestCancel_OnlyFromPending(t *testing.T) {
	svc, _, _ := newTestService(Record{
		ID: "h1", OwnerUserID: "owner", HelperUserID: "helper", Status: StatusConfirmed,
	})

	if _, err := svc.Cancel(context.Background(), "h1", "helper"); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}

func TestDispute_FromCompleted(t *testing.T) {
	svc, _, _ := newTestService(Record{
		ID: "h1", OwnerUserID: "owner", HelperUserID: "helper", Status: StatusCompleted,
	})

	rec, err := svc.Dispute(context.Background(), "h1", "helper")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusDisputed {
		t.Fatalf("expected disputed, got %s", rec.Status)
	}
}

func TestSchedule_Stranger(t *testing.T) {
	svc, _, _ := newTestService(Record{
		ID: "h1", OwnerUserID: "owner", HelperUserID: "helper", Status: StatusPending,
	})

	_, err := svc.Schedule(context.Background(), "h1", "stranger", time.Now(), nil)
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

type fakeStore struct {
	rec Record
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (Record, error) {
	return f.rec, nil
}

func (f *fakeStore) GetByTransferRequest(ctx context.Context, transferRequestID string) (Record, error) {
	return f.rec, nil
}

func (f *fakeStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	return f.rec, nil
}

func (f *fakeStore) SetStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Record, error) {
	f.rec.Status = status
	return f.rec, nil
}

func (f *fakeStore) SetSchedule(ctx context.Context, tx pgx.Tx, id string, scheduledAt time.Time, location *string) (Record, error) {
	f.rec.ScheduledAt = &scheduledAt
	f.rec.Location = location
	return f.rec, nil
}

func (f *fakeStore) SetCondition(ctx context.Context, tx pgx.Tx, id string, confirmed bool, notes *string) (Record, error) {
	f.rec.ConditionConfirmed = confirmed
	f.rec.ConditionNotes = notes
	return f.rec, nil
}

func (f *fakeStore) MarkOwnerInitiated(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Record, error) {
	if f.rec.OwnerInitiatedAt == nil {
		f.rec.OwnerInitiatedAt = &at
	}
	return f.rec, nil
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
	return pgconn.CommandTag{}, nil
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
