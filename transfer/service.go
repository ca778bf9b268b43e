package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fosterflow/fault"
	"fosterflow/handover"
	"fosterflow/notify"
	"fosterflow/placement"
	"fosterflow/relationship"
)

var (
	// ErrNotPending signals a transition that only applies to pending requests.
	ErrNotPending = fault.New(fault.Conflict, "transfer request is not pending")
	// ErrAlreadyClosed signals confirmation of a rejected or canceled request.
	ErrAlreadyClosed = fault.New(fault.Conflict, "transfer request was rejected or canceled")
	// ErrNotRecipient signals the actor is not the transfer recipient.
	ErrNotRecipient = fault.New(fault.Forbidden, "actor is not the transfer recipient")
	// ErrNotInitiator signals the actor did not open the transfer.
	ErrNotInitiator = fault.New(fault.Forbidden, "actor is not the transfer initiator")
	// ErrNotParticipant signals the actor is neither side of the transfer.
	ErrNotParticipant = fault.New(fault.Forbidden, "actor is not a transfer participant")
	// ErrPlacementNotOpen signals the placement request cannot take a transfer.
	ErrPlacementNotOpen = fault.New(fault.Conflict, "placement request is not open for transfer")
	// ErrResponseMismatch signals the response belongs to another request.
	ErrResponseMismatch = fault.New(fault.InvalidOperation, "response does not belong to the placement request")
	// ErrResponseNotPending signals linking a response that was already decided.
	ErrResponseNotPending = fault.New(fault.Conflict, "response has already been decided")
	// ErrPriceRequired signals a paid fostering transfer without a price.
	ErrPriceRequired = fault.New(fault.InvalidOperation, "paid fostering requires a positive price")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// placementStore is the slice of the placement repository the orchestrator
// composes into its transactions.
type placementStore interface {
	GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id string) (placement.Request, error)
	UpdateRequestStatus(ctx context.Context, tx pgx.Tx, id string, status placement.RequestStatus) (placement.Request, error)
	MarkRequestFulfilled(ctx context.Context, tx pgx.Tx, id, transferRequestID string, at time.Time) error
	GetResponseForUpdate(ctx context.Context, tx pgx.Tx, id string) (placement.Response, error)
	SetResponseStatus(ctx context.Context, tx pgx.Tx, id string, status placement.ResponseStatus, at time.Time) (placement.Response, error)
	RejectOtherResponses(ctx context.Context, tx pgx.Tx, requestID, exceptResponseID string, at time.Time) (int64, error)
}

// ledgerStore is the slice of the relationship ledger confirmation drives.
type ledgerStore interface {
	LockPet(ctx context.Context, tx pgx.Tx, petID string) error
	TransferOwnership(ctx context.Context, tx pgx.Tx, petID, oldOwnerID, newOwnerID, actorID string, at time.Time) error
	AddViewer(ctx context.Context, tx pgx.Tx, petID, userID, actorID string, at time.Time) error
	AddFoster(ctx context.Context, tx pgx.Tx, petID, userID, actorID string, startAt time.Time) error
}

type handoverCreator interface {
	Create(ctx context.Context, tx pgx.Tx, transferRequestID, ownerUserID, helperUserID string) (handover.Record, error)
}

// Service orchestrates the transfer workflow: opening a transfer against an
// open placement request, the recipient's accept/reject, the initiator's
// cancel, and the terminal confirmation that mutates the relationship ledger.
// Every transition locks the transfer row and re-checks status under the lock.
type Service struct {
	pool       TxBeginner
	repo       Repository
	placements placementStore
	ledger     ledgerStore
	handovers  handoverCreator
	notifier   notify.Notifier
	now        func() time.Time
	idGen      func() string
}

func NewService(
	pool *pgxpool.Pool,
	repo Repository,
	placements placement.Repository,
	handovers *handover.Repository,
	notifier notify.Notifier,
) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	if placements == nil {
		placements = placement.NewRepository(pool)
	}
	if handovers == nil {
		handovers = handover.NewRepository(pool)
	}
	return &Service{
		pool:       pool,
		repo:       repo,
		placements: placements,
		ledger:     relationship.NewLedger(),
		handovers:  handovers,
		notifier:   notifier,
		now:        time.Now,
		idGen:      func() string { return uuid.NewString() },
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

// Create opens a pending transfer from an open placement request, normally by
// the owner accepting a specific response. The placement moves to
// pending_transfer so no competing transfer can start.
func (s *Service) Create(ctx context.Context, params CreateParams) (Record, error) {
	if params.PlacementRequestID == "" {
		return Record{}, fmt.Errorf("transfer: missing placement request id")
	}
	if params.ActorUserID == "" {
		return Record{}, fmt.Errorf("transfer: missing actor user id")
	}
	if params.ResponseID == nil && params.RecipientUserID == "" {
		return Record{}, fmt.Errorf("transfer: recipient required without a response")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("transfer: begin create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.placements.GetRequestForUpdate(ctx, tx, params.PlacementRequestID)
	if err != nil {
		return Record{}, err
	}
	if req.RequesterUserID != params.ActorUserID {
		return Record{}, fmt.Errorf("transfer: create: %w", fault.New(fault.Forbidden, "actor is not the placement requester"))
	}
	if req.Status != placement.StatusOpen {
		return Record{}, fmt.Errorf("transfer: create: %w", ErrPlacementNotOpen)
	}

	recipient := params.RecipientUserID
	if params.ResponseID != nil {
		resp, err := s.placements.GetResponseForUpdate(ctx, tx, *params.ResponseID)
		if err != nil {
			return Record{}, err
		}
		if resp.RequestID != req.ID {
			return Record{}, fmt.Errorf("transfer: create: %w", ErrResponseMismatch)
		}
		if resp.Status != placement.ResponseResponded {
			return Record{}, fmt.Errorf("transfer: create: %w", ErrResponseNotPending)
		}
		recipient, err = s.repo.GetHelperUser(ctx, tx, resp.HelperProfileID)
		if err != nil {
			return Record{}, err
		}
	}
	if recipient == params.ActorUserID {
		return Record{}, fmt.Errorf("transfer: create: %w", fault.New(fault.InvalidOperation, "cannot open a transfer to yourself"))
	}

	relType, fosteringType := relationshipFor(req.RequestType)
	price := params.Price
	if fosteringType != nil && *fosteringType == FosteringPaid {
		if price == nil || *price <= 0 {
			return Record{}, fmt.Errorf("transfer: create: %w", ErrPriceRequired)
		}
	} else {
		price = nil
	}

	rec, err := s.repo.Insert(ctx, tx, Record{
		ID:                 s.idGen(),
		PetID:              req.PetID(),
		InitiatorUserID:    params.ActorUserID,
		RecipientUserID:    recipient,
		FromUserID:         params.ActorUserID,
		ToUserID:           recipient,
		PlacementRequestID: req.ID,
		ResponseID:         params.ResponseID,
		RelationshipType:   relType,
		FosteringType:      fosteringType,
		Price:              price,
	})
	if err != nil {
		return Record{}, err
	}

	if _, err := s.placements.UpdateRequestStatus(ctx, tx, req.ID, placement.StatusPendingTransfer); err != nil {
		return Record{}, err
	}

	if err := appendWorkflowEvent(ctx, tx, rec.ID, "TRANSFER_CREATED", params.ActorUserID, map[string]any{
		"placement_request_id": req.ID,
		"recipient_user_id":    recipient,
		"relationship_type":    relType,
	}); err != nil {
		return Record{}, err
	}
	if err := enqueueOutbox(ctx, tx, "transfer.requested", map[string]any{
		"transfer_request_id":  rec.ID,
		"placement_request_id": req.ID,
		"recipient_user_id":    recipient,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("transfer: commit create: %w", err)
	}

	notify.Dispatch(ctx, s.notifier, "transfer.requested", map[string]any{
		"transfer_request_id": rec.ID,
		"pet_id":              rec.PetID,
	}, recipient)
	return rec, nil
}

// Accept is the recipient agreeing to take the pet. The placement request is
// marked fulfilled, the winning response accepted, and a pending handover is
// created, all in one transaction. Ledger edges wait for confirmation.
func (s *Service) Accept(ctx context.Context, id, actorID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("transfer: begin accept tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.RecipientUserID != actorID {
		return Record{}, fmt.Errorf("transfer: accept: %w", ErrNotRecipient)
	}
	if rec.Status != StatusPending {
		return Record{}, fmt.Errorf("transfer: accept: %w", ErrNotPending)
	}

	now := s.now()

	if _, err := s.placements.UpdateRequestStatus(ctx, tx, rec.PlacementRequestID, placement.StatusFulfilled); err != nil {
		return Record{}, err
	}
	if err := s.placements.MarkRequestFulfilled(ctx, tx, rec.PlacementRequestID, rec.ID, now); err != nil {
		return Record{}, err
	}
	if rec.ResponseID != nil {
		if _, err := s.placements.SetResponseStatus(ctx, tx, *rec.ResponseID, placement.ResponseAccepted, now); err != nil {
			return Record{}, err
		}
	}

	updated, err := s.repo.MarkAccepted(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}

	if _, err := s.handovers.Create(ctx, tx, rec.ID, rec.FromUserID, rec.ToUserID); err != nil {
		return Record{}, err
	}

	if err := appendWorkflowEvent(ctx, tx, rec.ID, "TRANSFER_ACCEPTED", actorID, map[string]any{
		"placement_request_id": rec.PlacementRequestID,
	}); err != nil {
		return Record{}, err
	}
	if err := enqueueOutbox(ctx, tx, "transfer.accepted", map[string]any{
		"transfer_request_id": rec.ID,
		"pet_id":              rec.PetID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("transfer: commit accept: %w", err)
	}

	notify.Dispatch(ctx, s.notifier, "transfer.accepted", map[string]any{
		"transfer_request_id": rec.ID,
		"pet_id":              rec.PetID,
	}, rec.InitiatorUserID)
	return updated, nil
}

// Reject is the recipient declining. The placement request reopens and the
// linked response stays responded so the owner can reconsider it or pick
// someone else.
func (s *Service) Reject(ctx context.Context, id, actorID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("transfer: begin reject tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.RecipientUserID != actorID {
		return Record{}, fmt.Errorf("transfer: reject: %w", ErrNotRecipient)
	}
	if rec.Status != StatusPending {
		return Record{}, fmt.Errorf("transfer: reject: %w", ErrNotPending)
	}

	if _, err := s.placements.UpdateRequestStatus(ctx, tx, rec.PlacementRequestID, placement.StatusOpen); err != nil {
		return Record{}, err
	}

	updated, err := s.repo.MarkRejected(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}

	if err := appendWorkflowEvent(ctx, tx, rec.ID, "TRANSFER_REJECTED", actorID, nil); err != nil {
		return Record{}, err
	}
	if err := enqueueOutbox(ctx, tx, "transfer.rejected", map[string]any{
		"transfer_request_id": rec.ID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("transfer: commit reject: %w", err)
	}

	notify.Dispatch(ctx, s.notifier, "transfer.rejected", map[string]any{
		"transfer_request_id": rec.ID,
	}, rec.InitiatorUserID)
	return updated, nil
}

// Cancel is the initiator withdrawing a pending transfer. The placement
// request reopens and the linked response is cancelled.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("transfer: begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.InitiatorUserID != actorID {
		return Record{}, fmt.Errorf("transfer: cancel: %w", ErrNotInitiator)
	}
	if rec.Status != StatusPending {
		return Record{}, fmt.Errorf("transfer: cancel: %w", ErrNotPending)
	}

	now := s.now()

	if _, err := s.placements.UpdateRequestStatus(ctx, tx, rec.PlacementRequestID, placement.StatusOpen); err != nil {
		return Record{}, err
	}
	if rec.ResponseID != nil {
		if _, err := s.placements.SetResponseStatus(ctx, tx, *rec.ResponseID, placement.ResponseCancelled, now); err != nil {
			return Record{}, err
		}
	}

	updated, err := s.repo.MarkCanceled(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}

	if err := appendWorkflowEvent(ctx, tx, rec.ID, "TRANSFER_CANCELED", actorID, nil); err != nil {
		return Record{}, err
	}
	if err := enqueueOutbox(ctx, tx, "transfer.canceled", map[string]any{
		"transfer_request_id": rec.ID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("transfer: commit cancel: %w", err)
	}

	notify.Dispatch(ctx, s.notifier, "transfer.canceled", map[string]any{
		"transfer_request_id": rec.ID,
	}, rec.RecipientUserID)
	return updated, nil
}

// Confirm finalizes the transfer and applies the ledger mutation. It is the
// only operation that changes pet relationships. Idempotent: confirming an
// already-confirmed transfer succeeds without writing anything, so retries
// and double-submits converge on one outcome.
func (s *Service) Confirm(ctx context.Context, id, actorID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("transfer: begin confirm tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.InitiatorUserID != actorID && rec.RecipientUserID != actorID {
		return Record{}, fmt.Errorf("transfer: confirm: %w", ErrNotParticipant)
	}
	switch rec.Status {
	case StatusConfirmed:
		return rec, nil
	case StatusRejected, StatusCanceled:
		return Record{}, fmt.Errorf("transfer: confirm: %w", ErrAlreadyClosed)
	}

	// Serialize against other ledger writers for this pet.
	if err := s.ledger.LockPet(ctx, tx, rec.PetID); err != nil {
		return Record{}, err
	}

	now := s.now()

	switch rec.RelationshipType {
	case RelPermanentFoster:
		if err := s.ledger.TransferOwnership(ctx, tx, rec.PetID, rec.FromUserID, rec.ToUserID, actorID, now); err != nil {
			return Record{}, err
		}
		// The outgoing owner keeps read access to the pet's history.
		if err := s.ledger.AddViewer(ctx, tx, rec.PetID, rec.FromUserID, actorID, now); err != nil {
			return Record{}, err
		}
		if _, err := s.placements.UpdateRequestStatus(ctx, tx, rec.PlacementRequestID, placement.StatusFinalized); err != nil {
			return Record{}, err
		}
	case RelFostering:
		if err := s.ledger.AddFoster(ctx, tx, rec.PetID, rec.ToUserID, actorID, now); err != nil {
			return Record{}, err
		}
		if _, err := s.placements.UpdateRequestStatus(ctx, tx, rec.PlacementRequestID, placement.StatusActive); err != nil {
			return Record{}, err
		}
	default:
		return Record{}, fmt.Errorf("transfer: confirm: unknown relationship type %q", rec.RelationshipType)
	}

	if err := s.placements.MarkRequestFulfilled(ctx, tx, rec.PlacementRequestID, rec.ID, now); err != nil {
		return Record{}, err
	}
	winnerID := ""
	if rec.ResponseID != nil {
		if _, err := s.placements.SetResponseStatus(ctx, tx, *rec.ResponseID, placement.ResponseAccepted, now); err != nil {
			return Record{}, err
		}
		winnerID = *rec.ResponseID
	}
	// Sweep even when the transfer carries no linked response: the placement
	// is settled either way and leftover responded replies can never be
	// decided afterwards.
	if _, err := s.placements.RejectOtherResponses(ctx, tx, rec.PlacementRequestID, winnerID, now); err != nil {
		return Record{}, err
	}

	updated, err := s.repo.MarkConfirmed(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}

	if err := appendWorkflowEvent(ctx, tx, rec.ID, "TRANSFER_CONFIRMED", actorID, map[string]any{
		"relationship_type": rec.RelationshipType,
		"pet_id":            rec.PetID,
	}); err != nil {
		return Record{}, err
	}
	if err := enqueueOutbox(ctx, tx, "transfer.confirmed", map[string]any{
		"transfer_request_id": rec.ID,
		"pet_id":              rec.PetID,
		"relationship_type":   rec.RelationshipType,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("transfer: commit confirm: %w", err)
	}

	notify.Dispatch(ctx, s.notifier, "transfer.confirmed", map[string]any{
		"transfer_request_id": rec.ID,
		"pet_id":              rec.PetID,
	}, rec.InitiatorUserID, rec.RecipientUserID)
	return updated, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Record, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPlacement(ctx context.Context, placementRequestID string) ([]Record, error) {
	return s.repo.ListByPlacement(ctx, placementRequestID)
}

func (s *Service) ListInvolving(ctx context.Context, userID string) ([]Record, error) {
	return s.repo.ListInvolving(ctx, userID)
}
