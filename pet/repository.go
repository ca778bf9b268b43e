package pet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fosterflow/fault"
)

// ErrNotFound signals the requested pet does not exist.
var ErrNotFound = fault.New(fault.NotFound, "pet not found")

// Repository provides access to pet rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a pet by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Pet, error) {
	const query = `
		SELECT id, name, species, created_at
		FROM pets
		WHERE id = $1
	`

	var p Pet
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Species, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pet{}, fmt.Errorf("pet: query by id: %w", ErrNotFound)
		}
		return Pet{}, fmt.Errorf("pet: query by id: %w", err)
	}

	return p, nil
}

// Insert creates the pet row inside the caller's transaction.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, name, species string) (Pet, error) {
	const query = `
		INSERT INTO pets (name, species)
		VALUES ($1, $2)
		RETURNING id, name, species, created_at
	`

	var p Pet
	if err := tx.QueryRow(ctx, query, name, species).Scan(&p.ID, &p.Name, &p.Species, &p.CreatedAt); err != nil {
		return Pet{}, fmt.Errorf("pet: insert: %w", err)
	}
	return p, nil
}

// ListOwnedBy fetches pets for which the user holds an active owner edge.
func (r *Repository) ListOwnedBy(ctx context.Context, userID string) ([]Pet, error) {
	const query = `
		SELECT p.id, p.name, p.species, p.created_at
		FROM pets p
		JOIN pet_relationships rel ON rel.pet_id = p.id
		WHERE rel.user_id = $1 AND rel.relationship_type = 'owner' AND rel.end_at IS NULL
		ORDER BY p.created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("pet: list owned: %w", err)
	}
	defer rows.Close()

	pets := make([]Pet, 0, 8)
	for rows.Next() {
		var p Pet
		if err := rows.Scan(&p.ID, &p.Name, &p.Species, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("pet: scan pet: %w", err)
		}
		pets = append(pets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pet: iterate pets: %w", err)
	}

	return pets, nil
}
