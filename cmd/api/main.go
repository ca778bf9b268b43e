package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fosterflow/auth"
	"fosterflow/db"
	"fosterflow/handover"
	"fosterflow/notify"
	"fosterflow/outbox"
	"fosterflow/pet"
	"fosterflow/placement"
	"fosterflow/relationship"
	"fosterflow/transfer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	notifier := notify.NewLogNotifier(nil)

	authService := auth.NewService(auth.NewRepository(pool), jwtSecret)
	petService := pet.NewService(pool, nil, nil)
	relationshipService := relationship.NewService(pool, nil)
	placementService := placement.NewService(pool, nil)
	handoverService := handover.NewService(pool, nil)
	transferService := transfer.NewService(pool, nil, placementService.Repo(), nil, notifier)

	worker := outbox.NewWorker(pool, outbox.SinkFunc(
		func(ctx context.Context, topic string, payload map[string]any) error {
			log.Printf("outbox delivered: topic=%s payload=%v", topic, payload)
			return nil
		},
	))
	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("outbox worker stopped: %v", err)
		}
	}()

	log.Printf("fosterflow services ready: auth=%t pets=%t relationships=%t placements=%t handovers=%t transfers=%t",
		authService != nil,
		petService != nil,
		relationshipService != nil,
		placementService != nil,
		handoverService != nil,
		transferService != nil,
	)

	<-ctx.Done()
	log.Print("shutting down")
}
