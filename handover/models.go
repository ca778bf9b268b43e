package handover

import "time"

// Status represents the lifecycle of a physical handover.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusDisputed  Status = "disputed"
)

// Record mirrors the transfer_handovers table. Exactly one handover exists per
// transfer request; it is created the moment the transfer is accepted.
type Record struct {
	ID                 string
	TransferRequestID  string
	OwnerUserID        string
	HelperUserID       string
	Status             Status
	ScheduledAt        *time.Time
	Location           *string
	ConditionConfirmed bool
	ConditionNotes     *string
	OwnerInitiatedAt   *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
