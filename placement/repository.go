package placement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fosterflow/fault"
)

var (
	// ErrRequestNotFound signals the placement request does not exist.
	ErrRequestNotFound = fault.New(fault.NotFound, "placement request not found")
	// ErrResponseNotFound signals the placement response does not exist.
	ErrResponseNotFound = fault.New(fault.NotFound, "placement response not found")
	// ErrProfileNotFound signals the helper profile does not exist.
	ErrProfileNotFound = fault.New(fault.NotFound, "helper profile not found")
	// ErrPetNotOwned signals the requester holds no active owner edge on the pet.
	ErrPetNotOwned = fault.New(fault.Forbidden, "requester is not an active owner of the pet")
	// ErrDuplicateResponse signals the helper profile already has a pending
	// reply under this request.
	ErrDuplicateResponse = fault.New(fault.Conflict, "duplicate pending response from helper profile")
)

// Repository is the data access surface for placement requests and responses.
// Transition methods take pgx.Tx so the transfer orchestrator can compose them
// with its own writes in one transaction.
type Repository interface {
	CreateRequest(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	GetRequest(ctx context.Context, id string) (Request, error)
	GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	UpdateRequestStatus(ctx context.Context, tx pgx.Tx, id string, status RequestStatus) (Request, error)
	MarkRequestFulfilled(ctx context.Context, tx pgx.Tx, id, transferRequestID string, at time.Time) error
	ListRequests(ctx context.Context, filters Filters) ([]Request, int, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	CreateResponse(ctx context.Context, tx pgx.Tx, requestID, helperProfileID string, message *string, at time.Time) (Response, error)
	GetResponse(ctx context.Context, id string) (Response, error)
	GetResponseForUpdate(ctx context.Context, tx pgx.Tx, id string) (Response, error)
	SetResponseStatus(ctx context.Context, tx pgx.Tx, id string, status ResponseStatus, at time.Time) (Response, error)
	RejectOtherResponses(ctx context.Context, tx pgx.Tx, requestID, exceptResponseID string, at time.Time) (int64, error)
	HasPendingResponse(ctx context.Context, tx pgx.Tx, requestID, helperProfileID string) (bool, error)
	ListResponses(ctx context.Context, requestID string) ([]Response, error)

	GetHelperProfile(ctx context.Context, id string) (HelperProfile, error)
	CreateHelperProfile(ctx context.Context, userID, displayName string, bio *string) (HelperProfile, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id, context_type, context_id, requester_user_id, request_type, status, message,
	expires_at, is_active, fulfilled_at, fulfilled_by_transfer_request_id, cancel_reason, created_at, updated_at`

// CreateRequest inserts the request only when the requester holds an active
// owner edge on the pet; otherwise ErrPetNotOwned.
func (r *PGRepository) CreateRequest(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	query := fmt.Sprintf(`
		INSERT INTO placement_requests (id, context_type, context_id, requester_user_id, request_type, status, message, expires_at)
		SELECT COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8
		WHERE EXISTS (
			SELECT 1 FROM pet_relationships
			WHERE user_id = $4 AND pet_id = $3::uuid AND relationship_type = 'owner' AND end_at IS NULL
		)
		RETURNING %s
	`, requestColumns)

	row := tx.QueryRow(ctx, query,
		req.ID,
		req.Context.Kind,
		req.Context.ID,
		req.RequesterUserID,
		req.RequestType,
		req.Status,
		req.Message,
		req.ExpiresAt,
	)
	created, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, fmt.Errorf("placement: create request: %w", ErrPetNotOwned)
		}
		return Request{}, fmt.Errorf("placement: create request: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetRequest(ctx context.Context, id string) (Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM placement_requests WHERE id = $1`, requestColumns)
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, fmt.Errorf("placement: get request: %w", ErrRequestNotFound)
		}
		return Request{}, fmt.Errorf("placement: get request: %w", err)
	}
	return req, nil
}

func (r *PGRepository) GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM placement_requests WHERE id = $1 FOR UPDATE`, requestColumns)
	req, err := scanRequest(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, fmt.Errorf("placement: get request for update: %w", ErrRequestNotFound)
		}
		return Request{}, fmt.Errorf("placement: get request for update: %w", err)
	}
	return req, nil
}

func (r *PGRepository) UpdateRequestStatus(ctx context.Context, tx pgx.Tx, id string, status RequestStatus) (Request, error) {
	query := fmt.Sprintf(`
		UPDATE placement_requests
		SET status = $2,
		    is_active = ($2 NOT IN ('finalized','expired','cancelled')),
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING %s
	`, requestColumns)

	req, err := scanRequest(tx.QueryRow(ctx, query, id, status))
	if err != nil {
		return Request{}, fmt.Errorf("placement: update request status: %w", err)
	}
	return req, nil
}

func (r *PGRepository) MarkRequestFulfilled(ctx context.Context, tx pgx.Tx, id, transferRequestID string, at time.Time) error {
	if _, err := tx.Exec(ctx, `
		UPDATE placement_requests
		SET fulfilled_at = COALESCE(fulfilled_at, $2),
		    fulfilled_by_transfer_request_id = COALESCE(fulfilled_by_transfer_request_id, $3),
		    updated_at = get_tx_timestamp()
		WHERE id = $1
	`, id, at, transferRequestID); err != nil {
		return fmt.Errorf("placement: mark request fulfilled: %w", err)
	}
	return nil
}

func (r *PGRepository) ListRequests(ctx context.Context, filters Filters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}
	if filters.RequesterUserID != "" {
		where = append(where, fmt.Sprintf("requester_user_id=$%d", len(args)+1))
		args = append(args, filters.RequesterUserID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.RequestType != "" {
		where = append(where, fmt.Sprintf("request_type=$%d", len(args)+1))
		args = append(args, filters.RequestType)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT %s FROM placement_requests%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		requestColumns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("placement: list requests: %w", err)
	}
	defer rows.Close()

	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("placement: scan request: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("placement: iterate requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM placement_requests%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("placement: count requests: %w", err)
	}

	return list, total, nil
}

// ExpireOverdue transitions open requests past their expires_at to expired.
func (r *PGRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE placement_requests
		SET status = 'expired', is_active = false, updated_at = get_tx_timestamp()
		WHERE status = 'open' AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("placement: expire overdue: %w", err)
	}
	return tag.RowsAffected(), nil
}

const responseColumns = `id, placement_request_id, helper_profile_id, status, message,
	responded_at, accepted_at, rejected_at, cancelled_at, created_at, updated_at`

func (r *PGRepository) CreateResponse(ctx context.Context, tx pgx.Tx, requestID, helperProfileID string, message *string, at time.Time) (Response, error) {
	query := fmt.Sprintf(`
		INSERT INTO placement_responses (placement_request_id, helper_profile_id, message, responded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING %s
	`, responseColumns)

	resp, err := scanResponse(tx.QueryRow(ctx, query, requestID, helperProfileID, message, at))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Response{}, fmt.Errorf("placement: create response: %w", ErrDuplicateResponse)
		}
		return Response{}, fmt.Errorf("placement: create response: %w", err)
	}
	return resp, nil
}

func (r *PGRepository) GetResponse(ctx context.Context, id string) (Response, error) {
	query := fmt.Sprintf(`SELECT %s FROM placement_responses WHERE id = $1`, responseColumns)
	resp, err := scanResponse(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Response{}, fmt.Errorf("placement: get response: %w", ErrResponseNotFound)
		}
		return Response{}, fmt.Errorf("placement: get response: %w", err)
	}
	return resp, nil
}

func (r *PGRepository) GetResponseForUpdate(ctx context.Context, tx pgx.Tx, id string) (Response, error) {
	query := fmt.Sprintf(`SELECT %s FROM placement_responses WHERE id = $1 FOR UPDATE`, responseColumns)
	resp, err := scanResponse(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Response{}, fmt.Errorf("placement: get response for update: %w", ErrResponseNotFound)
		}
		return Response{}, fmt.Errorf("placement: get response for update: %w", err)
	}
	return resp, nil
}

// SetResponseStatus moves the response and stamps the matching decision column.
func (r *PGRepository) SetResponseStatus(ctx context.Context, tx pgx.Tx, id string, status ResponseStatus, at time.Time) (Response, error) {
	query := fmt.Sprintf(`
		UPDATE placement_responses
		SET status = $2,
		    accepted_at  = CASE WHEN $2 = 'accepted'  THEN COALESCE(accepted_at, $3)  ELSE accepted_at  END,
		    rejected_at  = CASE WHEN $2 = 'rejected'  THEN COALESCE(rejected_at, $3)  ELSE rejected_at  END,
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN COALESCE(cancelled_at, $3) ELSE cancelled_at END,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING %s
	`, responseColumns)

	resp, err := scanResponse(tx.QueryRow(ctx, query, id, status, at))
	if err != nil {
		return Response{}, fmt.Errorf("placement: set response status: %w", err)
	}
	return resp, nil
}

// RejectOtherResponses bulk-rejects every other still-pending response under
// the request. Already rejected or cancelled rows are untouched. An empty
// except id spares nothing, for transfers that carry no linked response.
func (r *PGRepository) RejectOtherResponses(ctx context.Context, tx pgx.Tx, requestID, exceptResponseID string, at time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE placement_responses
		SET status = 'rejected', rejected_at = $3, updated_at = get_tx_timestamp()
		WHERE placement_request_id = $1 AND id::text <> $2 AND status = 'responded'
	`, requestID, exceptResponseID, at)
	if err != nil {
		return 0, fmt.Errorf("placement: reject other responses: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) HasPendingResponse(ctx context.Context, tx pgx.Tx, requestID, helperProfileID string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM placement_responses
			WHERE placement_request_id = $1 AND helper_profile_id = $2 AND status = 'responded'
		)
	`, requestID, helperProfileID).Scan(&exists); err != nil {
		return false, fmt.Errorf("placement: check pending response: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) ListResponses(ctx context.Context, requestID string) ([]Response, error) {
	query := fmt.Sprintf(`SELECT %s FROM placement_responses WHERE placement_request_id = $1 ORDER BY responded_at ASC`, responseColumns)
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("placement: list responses: %w", err)
	}
	defer rows.Close()

	out := make([]Response, 0, 8)
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("placement: scan response: %w", err)
		}
		out = append(out, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("placement: iterate responses: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetHelperProfile(ctx context.Context, id string) (HelperProfile, error) {
	const query = `
		SELECT id, user_id, display_name, bio, created_at
		FROM helper_profiles
		WHERE id = $1
	`
	var hp HelperProfile
	err := r.pool.QueryRow(ctx, query, id).Scan(&hp.ID, &hp.UserID, &hp.DisplayName, &hp.Bio, &hp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return HelperProfile{}, fmt.Errorf("placement: get helper profile: %w", ErrProfileNotFound)
		}
		return HelperProfile{}, fmt.Errorf("placement: get helper profile: %w", err)
	}
	return hp, nil
}

func (r *PGRepository) CreateHelperProfile(ctx context.Context, userID, displayName string, bio *string) (HelperProfile, error) {
	const query = `
		INSERT INTO helper_profiles (user_id, display_name, bio)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, display_name, bio, created_at
	`
	var hp HelperProfile
	err := r.pool.QueryRow(ctx, query, userID, displayName, bio).Scan(&hp.ID, &hp.UserID, &hp.DisplayName, &hp.Bio, &hp.CreatedAt)
	if err != nil {
		return HelperProfile{}, fmt.Errorf("placement: create helper profile: %w", err)
	}
	return hp, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.Context.Kind,
		&req.Context.ID,
		&req.RequesterUserID,
		&req.RequestType,
		&req.Status,
		&req.Message,
		&req.ExpiresAt,
		&req.IsActive,
		&req.FulfilledAt,
		&req.FulfilledByXferID,
		&req.CancelReason,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	return req, err
}

func scanResponse(row pgx.Row) (Response, error) {
	var resp Response
	err := row.Scan(
		&resp.ID,
		&resp.RequestID,
		&resp.HelperProfileID,
		&resp.Status,
		&resp.Message,
		&resp.RespondedAt,
		&resp.AcceptedAt,
		&resp.RejectedAt,
		&resp.CancelledAt,
		&resp.CreatedAt,
		&resp.UpdatedAt,
	)
	return resp, err
}
