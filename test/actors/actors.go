package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fosterflow/fault"
	"fosterflow/handover"
	"fosterflow/outbox"
	"fosterflow/placement"
	"fosterflow/transfer"
)

// benign reports whether an error is an expected contention outcome rather
// than a bug. The actors race each other on purpose, so conflicts and
// forbidden transitions are the normal case.
func benign(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch fault.KindOf(err) {
	case fault.Conflict, fault.Forbidden, fault.NotFound, fault.InvalidOperation:
		return true
	}
	return false
}

func pause(minMS, spreadMS int) {
	time.Sleep(time.Duration(minMS+rand.Intn(spreadMS)) * time.Millisecond)
}

// Responder hammers a placement request with responses from the same helper
// profile. The pending-response uniqueness must hold under contention.
func Responder(ctx context.Context, svc *placement.Service, requestID, helperProfileID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		msg := fmt.Sprintf("can take the pet (%d)", rand.Int63())
		if _, err := svc.Respond(ctx, requestID, helperProfileID, &msg); !benign(err) {
			return fmt.Errorf("responder: %w", err)
		}
		pause(10, 30)
	}
}

// Opener keeps trying to open a transfer for the latest pending response.
// Only one transfer can win while the placement request is open.
func Opener(ctx context.Context, pool *pgxpool.Pool, svc *transfer.Service, requestID, ownerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var responseID string
		err := pool.QueryRow(ctx, `
SELECT id FROM placement_responses
WHERE placement_request_id = $1 AND status = 'responded'
ORDER BY created_at DESC LIMIT 1`, requestID).Scan(&responseID)
		if err == nil {
			_, err = svc.Create(ctx, transfer.CreateParams{
				PlacementRequestID: requestID,
				ResponseID:         &responseID,
				ActorUserID:        ownerID,
			})
			if !benign(err) {
				return fmt.Errorf("opener: %w", err)
			}
		}
		pause(20, 40)
	}
}

// Accepter accepts whatever pending transfer it can find as the helper.
func Accepter(ctx context.Context, pool *pgxpool.Pool, svc *transfer.Service, requestID, helperID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var transferID string
		err := pool.QueryRow(ctx, `
SELECT id FROM transfer_requests
WHERE placement_request_id = $1 AND status = 'pending'
LIMIT 1`, requestID).Scan(&transferID)
		if err == nil {
			if _, err := svc.Accept(ctx, transferID, helperID); !benign(err) {
				return fmt.Errorf("accepter: %w", err)
			}
		}
		pause(20, 40)
	}
}

// Confirmer races to confirm accepted transfers, both participants at once.
// Double confirmation must converge on a single ledger outcome.
func Confirmer(ctx context.Context, pool *pgxpool.Pool, svc *transfer.Service, requestID, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var transferID string
		err := pool.QueryRow(ctx, `
SELECT id FROM transfer_requests
WHERE placement_request_id = $1 AND status IN ('pending','accepted')
LIMIT 1`, requestID).Scan(&transferID)
		if err == nil {
			if _, err := svc.Confirm(ctx, transferID, actorID); !benign(err) {
				return fmt.Errorf("confirmer: %w", err)
			}
		}
		pause(30, 50)
	}
}

// Canceller randomly withdraws pending transfers as the initiator, reopening
// the placement request for another round.
func Canceller(ctx context.Context, pool *pgxpool.Pool, svc *transfer.Service, requestID, ownerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(3) == 0 {
			var transferID string
			err := pool.QueryRow(ctx, `
SELECT id FROM transfer_requests
WHERE placement_request_id = $1 AND status = 'pending'
LIMIT 1`, requestID).Scan(&transferID)
			if err == nil {
				if _, err := svc.Cancel(ctx, transferID, ownerID); !benign(err) {
					return fmt.Errorf("canceller: %w", err)
				}
			}
		}
		pause(100, 100)
	}
}

// HandoverAgent walks pending handovers through confirm and complete from
// both sides of the exchange.
func HandoverAgent(ctx context.Context, pool *pgxpool.Pool, svc *handover.Service, ownerID, helperID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id, status string
		err := pool.QueryRow(ctx, `
SELECT id, status FROM transfer_handovers
WHERE status IN ('pending','confirmed')
ORDER BY created_at LIMIT 1`).Scan(&id, &status)
		if err == nil {
			switch status {
			case "pending":
				if _, err := svc.Confirm(ctx, id, helperID, true, nil); !benign(err) {
					return fmt.Errorf("handover agent confirm: %w", err)
				}
			case "confirmed":
				if _, err := svc.Complete(ctx, id, ownerID); !benign(err) {
					return fmt.Errorf("handover agent complete: %w", err)
				}
			}
		}
		pause(50, 80)
	}
}

// OutboxDrainer runs the production outbox worker loop with a flaky sink so
// the retry and dead-lettering paths get exercised.
func OutboxDrainer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	worker := outbox.NewWorker(pool, outbox.SinkFunc(
		func(ctx context.Context, topic string, payload map[string]any) error {
			if rand.Intn(10) == 0 {
				return fmt.Errorf("simulated delivery failure for %s", topic)
			}
			return nil
		},
	))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := worker.DrainOnce(ctx); err != nil && !benign(err) {
			return fmt.Errorf("outbox drainer: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
