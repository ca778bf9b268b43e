package placement

import "time"

// RequestType is the kind of care an owner is asking for.
type RequestType string

const (
	TypePermanent  RequestType = "permanent"
	TypeFosterPaid RequestType = "foster_paid"
	TypeFosterFree RequestType = "foster_free"
	TypePetSitting RequestType = "pet_sitting"
)

func ValidRequestType(t RequestType) bool {
	switch t {
	case TypePermanent, TypeFosterPaid, TypeFosterFree, TypePetSitting:
		return true
	}
	return false
}

// RequestStatus tracks where in the workflow a placement request sits. The
// path is monotonic forward except for explicit cancellation.
type RequestStatus string

const (
	StatusOpen            RequestStatus = "open"
	StatusPendingTransfer RequestStatus = "pending_transfer"
	StatusFulfilled       RequestStatus = "fulfilled"
	StatusActive          RequestStatus = "active"
	StatusFinalized       RequestStatus = "finalized"
	StatusExpired         RequestStatus = "expired"
	StatusCancelled       RequestStatus = "cancelled"
)

// ResponseStatus tracks a helper's reply.
type ResponseStatus string

const (
	ResponseResponded ResponseStatus = "responded"
	ResponseAccepted  ResponseStatus = "accepted"
	ResponseRejected  ResponseStatus = "rejected"
	ResponseCancelled ResponseStatus = "cancelled"
)

// ContextKind discriminates what a placement request is about. Only pets
// exist today; the tagged pair keeps the linkage explicit instead of a
// nullable dual-column guess.
type ContextKind string

const ContextPet ContextKind = "pet"

// Context is the discriminated subject of a placement request.
type Context struct {
	Kind ContextKind
	ID   string
}

// Request is an owner's open call for help with a pet.
type Request struct {
	ID                string
	Context           Context
	RequesterUserID   string
	RequestType       RequestType
	Status            RequestStatus
	Message           *string
	ExpiresAt         *time.Time
	IsActive          bool
	FulfilledAt       *time.Time
	FulfilledByXferID *string
	CancelReason      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PetID returns the pet this request is about.
func (r Request) PetID() string {
	return r.Context.ID
}

// Response is a helper profile's reply to a placement request. Exactly one of
// the decision timestamps is set once status leaves responded.
type Response struct {
	ID              string
	RequestID       string
	HelperProfileID string
	Status          ResponseStatus
	Message         *string
	RespondedAt     time.Time
	AcceptedAt      *time.Time
	RejectedAt      *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HelperProfile is the acting identity a helper replies with. A user may hold
// several profiles.
type HelperProfile struct {
	ID          string
	UserID      string
	DisplayName string
	Bio         *string
	CreatedAt   time.Time
}

// Filters narrows request listings.
type Filters struct {
	RequesterUserID string
	Status          RequestStatus
	RequestType     RequestType
	Page            int
	PageSize        int
}
