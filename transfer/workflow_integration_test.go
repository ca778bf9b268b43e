package transfer

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fosterflow/handover"
	"fosterflow/placement"
)

// TestPermanentTransfer_Integration connects to a real PostgreSQL via
// DATABASE_URL and walks a placement request through response, transfer,
// acceptance, and confirmation, checking the ledger outcome and idempotency.
func TestPermanentTransfer_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "transfer_requests") || !tableExists(ctx, t, pool, "pet_relationships") || !tableExists(ctx, t, pool, "outbox") {
		t.Skip("database schema missing; apply migrations/0001_init.sql first")
	}

	var (
		ownerID   string
		helperID  string
		profileID string
		petID     string
		requestID string
	)

	mustQueryRow := func(query string, args ...any) pgx.Row {
		return pool.QueryRow(ctx, query, args...)
	}

	suffix := time.Now().UnixNano()
	if err := mustQueryRow(`INSERT INTO users (email, full_name, role) VALUES ($1, $2, 'owner') RETURNING id`,
		fmt.Sprintf("owner+%d@example.com", suffix), "Olive Owner").Scan(&ownerID); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	if err := mustQueryRow(`INSERT INTO users (email, full_name, role) VALUES ($1, $2, 'helper') RETURNING id`,
		fmt.Sprintf("helper+%d@example.com", suffix), "Harry Helper").Scan(&helperID); err != nil {
		t.Fatalf("seed helper: %v", err)
	}
	if err := mustQueryRow(`INSERT INTO helper_profiles (user_id, display_name) VALUES ($1, 'Harry') RETURNING id`,
		helperID).Scan(&profileID); err != nil {
		t.Fatalf("seed helper profile: %v", err)
	}
	if err := mustQueryRow(`INSERT INTO pets (name, species) VALUES ($1, 'dog') RETURNING id`,
		fmt.Sprintf("Rex %d", suffix)).Scan(&petID); err != nil {
		t.Fatalf("seed pet: %v", err)
	}
	if _, err := pool.Exec(ctx, `
INSERT INTO pet_relationships (user_id, pet_id, relationship_type, created_by)
VALUES ($1, $2, 'owner', $1)`, ownerID, petID); err != nil {
		t.Fatalf("seed owner edge: %v", err)
	}
	if err := mustQueryRow(`
INSERT INTO placement_requests (context_type, context_id, requester_user_id, request_type, status)
VALUES ('pet', $1, $2, 'permanent', 'open') RETURNING id`, petID, ownerID).Scan(&requestID); err != nil {
		t.Fatalf("seed placement request: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM workflow_events WHERE transfer_request_id IN (SELECT id FROM transfer_requests WHERE placement_request_id = $1)`, requestID)
		pool.Exec(ctx2, `DELETE FROM transfer_handovers WHERE transfer_request_id IN (SELECT id FROM transfer_requests WHERE placement_request_id = $1)`, requestID)
		pool.Exec(ctx2, `DELETE FROM transfer_requests WHERE placement_request_id = $1`, requestID)
		pool.Exec(ctx2, `DELETE FROM placement_responses WHERE placement_request_id = $1`, requestID)
		pool.Exec(ctx2, `DELETE FROM placement_requests WHERE id = $1`, requestID)
		pool.Exec(ctx2, `DELETE FROM pet_relationships WHERE pet_id = $1`, petID)
		pool.Exec(ctx2, `DELETE FROM pets WHERE id = $1`, petID)
		pool.Exec(ctx2, `DELETE FROM helper_profiles WHERE id = $1`, profileID)
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'pet_id' = $1 OR payload->>'placement_request_id' = $2`, petID, requestID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2)`, ownerID, helperID)
	})

	placementSvc := placement.NewService(pool, nil)
	transferSvc := NewService(pool, nil, placementSvc.Repo(), nil, nil)
	handoverSvc := handover.NewService(pool, nil)

	resp, err := placementSvc.Respond(ctx, requestID, profileID, nil)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	rec, err := transferSvc.Create(ctx, CreateParams{
		PlacementRequestID: requestID,
		ResponseID:         &resp.ID,
		ActorUserID:        ownerID,
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if rec.RecipientUserID != helperID {
		t.Fatalf("expected recipient %s, got %s", helperID, rec.RecipientUserID)
	}
	if rec.RelationshipType != RelPermanentFoster {
		t.Fatalf("expected permanent_foster, got %s", rec.RelationshipType)
	}

	// A second transfer against the same request must fail: the placement is
	// now pending_transfer.
	if _, err := transferSvc.Create(ctx, CreateParams{
		PlacementRequestID: requestID,
		ResponseID:         &resp.ID,
		ActorUserID:        ownerID,
	}); err == nil {
		t.Fatal("expected second transfer to be rejected while one is in flight")
	}

	if _, err := transferSvc.Accept(ctx, rec.ID, helperID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	h, err := handoverSvc.GetByTransferRequest(ctx, rec.ID)
	if err != nil {
		t.Fatalf("expected handover created at accept: %v", err)
	}
	if h.Status != handover.StatusPending {
		t.Fatalf("expected pending handover, got %s", h.Status)
	}

	confirmed, err := transferSvc.Confirm(ctx, rec.ID, ownerID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}

	// Ledger: helper owns, old owner demoted to viewer.
	var ownerCount int
	if err := mustQueryRow(`
SELECT COUNT(*) FROM pet_relationships
WHERE pet_id = $1 AND relationship_type = 'owner' AND end_at IS NULL`, petID).Scan(&ownerCount); err != nil {
		t.Fatalf("count owners: %v", err)
	}
	if ownerCount != 1 {
		t.Fatalf("expected exactly one active owner, got %d", ownerCount)
	}
	var newOwner string
	if err := mustQueryRow(`
SELECT user_id FROM pet_relationships
WHERE pet_id = $1 AND relationship_type = 'owner' AND end_at IS NULL`, petID).Scan(&newOwner); err != nil {
		t.Fatalf("fetch new owner: %v", err)
	}
	if newOwner != helperID {
		t.Fatalf("expected ownership moved to helper, got %s", newOwner)
	}
	var viewerExists bool
	if err := mustQueryRow(`
SELECT EXISTS (
  SELECT 1 FROM pet_relationships
  WHERE pet_id = $1 AND user_id = $2 AND relationship_type = 'viewer' AND end_at IS NULL
)`, petID, ownerID).Scan(&viewerExists); err != nil {
		t.Fatalf("check viewer edge: %v", err)
	}
	if !viewerExists {
		t.Fatal("expected outgoing owner to keep a viewer edge")
	}

	// Placement settled.
	var prStatus string
	var fulfilledBy *string
	if err := mustQueryRow(`
SELECT status, fulfilled_by_transfer_request_id::text FROM placement_requests WHERE id = $1`, requestID).Scan(&prStatus, &fulfilledBy); err != nil {
		t.Fatalf("verify placement: %v", err)
	}
	if prStatus != "finalized" {
		t.Fatalf("expected placement finalized, got %s", prStatus)
	}
	if fulfilledBy == nil || *fulfilledBy != rec.ID {
		t.Fatalf("expected fulfillment linked to %s, got %v", rec.ID, fulfilledBy)
	}

	// Confirm again: idempotent, no extra ledger rows.
	if _, err := transferSvc.Confirm(ctx, rec.ID, ownerID); err != nil {
		t.Fatalf("idempotent confirm: %v", err)
	}
	var edgeCount int
	if err := mustQueryRow(`
SELECT COUNT(*) FROM pet_relationships WHERE pet_id = $1 AND end_at IS NULL`, petID).Scan(&edgeCount); err != nil {
		t.Fatalf("count active edges: %v", err)
	}
	if edgeCount != 2 {
		t.Fatalf("expected 2 active edges (owner + viewer) after replay, got %d", edgeCount)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
