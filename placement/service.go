package placement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fosterflow/fault"
)

var (
	// ErrRequestNotOpen signals the request stopped accepting responses.
	ErrRequestNotOpen = fault.New(fault.Conflict, "placement request is not open")
	// ErrResponseDecided signals the response already left the responded state.
	ErrResponseDecided = fault.New(fault.Conflict, "response has already been decided")
	// ErrNotRequester signals the actor does not own the placement request.
	ErrNotRequester = fault.New(fault.Forbidden, "actor is not the placement requester")
	// ErrCancelInvalidState signals cancellation from a non-cancellable status.
	ErrCancelInvalidState = fault.New(fault.Conflict, "placement request cannot be cancelled from its current status")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service owns the placement request/response state machines. Multi-entity
// transitions that also touch transfer requests live in the transfer package;
// this service hands it tx-scoped repository methods to compose with.
type Service struct {
	pool  TxBeginner
	repo  Repository
	now   func() time.Time
	idGen func() string
}

type CreateRequestParams struct {
	PetID           string
	RequesterUserID string
	RequestType     RequestType
	Message         *string
	ExpiresAt       *time.Time
}

func NewService(pool *pgxpool.Pool, repo Repository) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	return &Service{
		pool:  pool,
		repo:  repo,
		now:   time.Now,
		idGen: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// Repo exposes the repository for the transfer orchestrator.
func (s *Service) Repo() Repository {
	return s.repo
}

// CreateRequest opens a placement request. The requester must hold an active
// owner edge on the pet.
func (s *Service) CreateRequest(ctx context.Context, params CreateRequestParams) (Request, error) {
	if params.PetID == "" {
		return Request{}, fmt.Errorf("placement: missing pet id")
	}
	if params.RequesterUserID == "" {
		return Request{}, fmt.Errorf("placement: missing requester user id")
	}
	if !ValidRequestType(params.RequestType) {
		return Request{}, fmt.Errorf("placement: invalid request type %q", params.RequestType)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("placement: begin create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.CreateRequest(ctx, tx, Request{
		ID:              s.idGen(),
		Context:         Context{Kind: ContextPet, ID: params.PetID},
		RequesterUserID: params.RequesterUserID,
		RequestType:     params.RequestType,
		Status:          StatusOpen,
		Message:         params.Message,
		ExpiresAt:       params.ExpiresAt,
	})
	if err != nil {
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("placement: commit create: %w", err)
	}
	return created, nil
}

// Respond records a helper profile's reply. Fails with a conflict when the
// request is not open or the profile already has a pending reply.
func (s *Service) Respond(ctx context.Context, requestID, helperProfileID string, message *string) (Response, error) {
	if requestID == "" || helperProfileID == "" {
		return Response{}, fmt.Errorf("placement: respond missing ids")
	}
	if _, err := s.repo.GetHelperProfile(ctx, helperProfileID); err != nil {
		return Response{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("placement: begin respond tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return Response{}, err
	}
	if req.Status != StatusOpen {
		return Response{}, fmt.Errorf("placement: respond: %w", ErrRequestNotOpen)
	}

	duplicate, err := s.repo.HasPendingResponse(ctx, tx, requestID, helperProfileID)
	if err != nil {
		return Response{}, err
	}
	if duplicate {
		return Response{}, fmt.Errorf("placement: respond: %w", ErrDuplicateResponse)
	}

	var msg *string
	if message != nil {
		trimmed := strings.TrimSpace(*message)
		if trimmed != "" {
			msg = &trimmed
		}
	}

	resp, err := s.repo.CreateResponse(ctx, tx, requestID, helperProfileID, msg, s.now())
	if err != nil {
		return Response{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Response{}, fmt.Errorf("placement: commit respond: %w", err)
	}
	return resp, nil
}

// RejectResponse turns a pending response down. Only responded responses can
// be rejected.
func (s *Service) RejectResponse(ctx context.Context, responseID string) (Response, error) {
	return s.decideResponse(ctx, responseID, ResponseRejected, false)
}

// CancelResponse withdraws a pending response. Cancelling an already-cancelled
// response is treated as success so racing callers both win.
func (s *Service) CancelResponse(ctx context.Context, responseID string) (Response, error) {
	return s.decideResponse(ctx, responseID, ResponseCancelled, true)
}

func (s *Service) decideResponse(ctx context.Context, responseID string, target ResponseStatus, idempotent bool) (Response, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("placement: begin decide tx: %w", err)
	}
	defer tx.Rollback(ctx)

	resp, err := s.repo.GetResponseForUpdate(ctx, tx, responseID)
	if err != nil {
		return Response{}, err
	}
	if resp.Status == target && idempotent {
		return resp, nil
	}
	if resp.Status != ResponseResponded {
		return Response{}, fmt.Errorf("placement: decide response: %w", ErrResponseDecided)
	}

	updated, err := s.repo.SetResponseStatus(ctx, tx, responseID, target, s.now())
	if err != nil {
		return Response{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Response{}, fmt.Errorf("placement: commit decide: %w", err)
	}
	return updated, nil
}

// CancelRequest withdraws an open placement request. Requests with a transfer
// already in flight must resolve the transfer first.
func (s *Service) CancelRequest(ctx context.Context, requestID, actorID string, reason *string) (Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("placement: begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.RequesterUserID != actorID {
		return Request{}, fmt.Errorf("placement: cancel request: %w", ErrNotRequester)
	}
	if req.Status != StatusOpen {
		return Request{}, fmt.Errorf("placement: cancel request: %w", ErrCancelInvalidState)
	}

	updated, err := s.repo.UpdateRequestStatus(ctx, tx, requestID, StatusCancelled)
	if err != nil {
		return Request{}, err
	}

	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		if trimmed != "" {
			if _, err := tx.Exec(ctx, `UPDATE placement_requests SET cancel_reason = $2 WHERE id = $1`, requestID, trimmed); err != nil {
				return Request{}, fmt.Errorf("placement: record cancel reason: %w", err)
			}
			updated.CancelReason = &trimmed
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("placement: commit cancel: %w", err)
	}
	return updated, nil
}

// ExpireOverdue sweeps open requests past their deadline into expired.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	return s.repo.ExpireOverdue(ctx, s.now())
}

func (s *Service) GetRequest(ctx context.Context, id string) (Request, error) {
	return s.repo.GetRequest(ctx, id)
}

func (s *Service) ListRequests(ctx context.Context, filters Filters) ([]Request, int, error) {
	return s.repo.ListRequests(ctx, filters)
}

func (s *Service) ListResponses(ctx context.Context, requestID string) ([]Response, error) {
	return s.repo.ListResponses(ctx, requestID)
}

func (s *Service) CreateHelperProfile(ctx context.Context, userID, displayName string, bio *string) (HelperProfile, error) {
	if userID == "" || strings.TrimSpace(displayName) == "" {
		return HelperProfile{}, fmt.Errorf("placement: helper profile requires user id and display name")
	}
	return s.repo.CreateHelperProfile(ctx, userID, strings.TrimSpace(displayName), bio)
}
