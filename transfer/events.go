package transfer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// appendWorkflowEvent records an append-only audit row for a transfer
// transition inside the caller's transaction.
func appendWorkflowEvent(ctx context.Context, tx pgx.Tx, transferID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transfer: marshal event payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const q = `
INSERT INTO workflow_events (transfer_request_id, type, actor_id, payload)
VALUES ($1, $2, $3::uuid, $4::jsonb)
`
	if _, err := tx.Exec(ctx, q, transferID, eventType, actor, body); err != nil {
		return fmt.Errorf("transfer: insert workflow event: %w", err)
	}
	return nil
}

// enqueueOutbox stages a message for downstream delivery in the same
// transaction as the state change it announces.
func enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transfer: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("transfer: enqueue outbox: %w", err)
	}
	return nil
}
