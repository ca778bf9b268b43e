// Package outbox drains messages staged by workflow transactions. Messages are
// claimed with SKIP LOCKED so multiple workers can run side by side.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultBatchSize    = 10
	defaultPollInterval = time.Second
	maxAttempts         = 5
)

// Sink receives a drained outbox message.
type Sink interface {
	Deliver(ctx context.Context, topic string, payload map[string]any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, topic string, payload map[string]any) error

func (f SinkFunc) Deliver(ctx context.Context, topic string, payload map[string]any) error {
	return f(ctx, topic, payload)
}

// Worker polls the outbox table and pushes pending messages into the sink.
// A message that keeps failing is parked as dead after maxAttempts.
type Worker struct {
	pool         *pgxpool.Pool
	sink         Sink
	batchSize    int
	pollInterval time.Duration
}

func NewWorker(pool *pgxpool.Pool, sink Sink) *Worker {
	return &Worker{
		pool:         pool,
		sink:         sink,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
	}
}

// Run drains the outbox until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.DrainOnce(ctx); err != nil {
				log.Printf("outbox: drain: %v", err)
			}
		}
	}
}

// DrainOnce claims and delivers one batch. Returns how many messages it
// processed, parked messages included.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
SELECT id, topic, payload, attempts
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
FOR UPDATE SKIP LOCKED
LIMIT $1
`, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}

	type message struct {
		id       string
		topic    string
		body     []byte
		attempts int
	}
	batch := make([]message, 0, w.batchSize)
	for rows.Next() {
		var m message
		if err := rows.Scan(&m.id, &m.topic, &m.body, &m.attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate: %w", err)
	}

	for _, m := range batch {
		var payload map[string]any
		deliverErr := json.Unmarshal(m.body, &payload)
		if deliverErr == nil {
			deliverErr = w.sink.Deliver(ctx, m.topic, payload)
		}

		switch {
		case deliverErr == nil:
			_, err = tx.Exec(ctx, `
UPDATE outbox SET status = 'processed', last_attempt = get_tx_timestamp() WHERE id = $1`, m.id)
		case m.attempts+1 >= maxAttempts:
			log.Printf("outbox: parking %s after %d attempts: %v", m.id, m.attempts+1, deliverErr)
			_, err = tx.Exec(ctx, `
UPDATE outbox SET status = 'dead', attempts = attempts + 1, last_attempt = get_tx_timestamp() WHERE id = $1`, m.id)
		default:
			_, err = tx.Exec(ctx, `
UPDATE outbox SET attempts = attempts + 1, last_attempt = get_tx_timestamp() WHERE id = $1`, m.id)
		}
		if err != nil {
			return 0, fmt.Errorf("outbox: update %s: %w", m.id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit: %w", err)
	}
	return len(batch), nil
}
