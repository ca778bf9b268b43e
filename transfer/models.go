package transfer

import (
	"time"

	"fosterflow/placement"
)

// RelationshipType is the ledger outcome a transfer request aims for.
type RelationshipType string

const (
	RelFostering       RelationshipType = "fostering"
	RelPermanentFoster RelationshipType = "permanent_foster"
)

// FosteringType distinguishes paid from free fostering arrangements. Only set
// when the relationship type is fostering.
type FosteringType string

const (
	FosteringFree FosteringType = "free"
	FosteringPaid FosteringType = "paid"
)

// Status represents the transfer request lifecycle. Confirmed is terminal and
// the only status that mutates the relationship ledger.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusCanceled  Status = "canceled"
)

// Record mirrors the transfer_requests table. Initiator/recipient capture who
// drives the negotiation; from/to capture the direction custody moves.
type Record struct {
	ID                 string
	PetID              string
	InitiatorUserID    string
	RecipientUserID    string
	FromUserID         string
	ToUserID           string
	PlacementRequestID string
	ResponseID         *string
	RelationshipType   RelationshipType
	FosteringType      *FosteringType
	Price              *float64
	Status             Status
	AcceptedAt         *time.Time
	RejectedAt         *time.Time
	CanceledAt         *time.Time
	ConfirmedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CreateParams describes a transfer the owner opens toward a helper, normally
// by accepting one of the placement responses.
type CreateParams struct {
	PlacementRequestID string
	ResponseID         *string
	// RecipientUserID is required when no response is linked; otherwise it is
	// resolved from the response's helper profile.
	RecipientUserID string
	ActorUserID     string
	Price           *float64
}

// relationshipFor maps a placement request type onto the ledger outcome and
// fostering flavour a transfer for it carries. Pet sitting rides the fostering
// machinery with a free arrangement.
func relationshipFor(t placement.RequestType) (RelationshipType, *FosteringType) {
	switch t {
	case placement.TypePermanent:
		return RelPermanentFoster, nil
	case placement.TypeFosterPaid:
		ft := FosteringPaid
		return RelFostering, &ft
	default:
		ft := FosteringFree
		return RelFostering, &ft
	}
}
