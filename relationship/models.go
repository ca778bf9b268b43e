package relationship

import "time"

// Type enumerates the custody/access edge kinds between a user and a pet.
type Type string

const (
	TypeOwner  Type = "owner"
	TypeFoster Type = "foster"
	TypeEditor Type = "editor"
	TypeViewer Type = "viewer"
)

// Edge is a time-bounded custody edge. A nil EndAt means the edge is active.
// Edges are never deleted, only ended.
type Edge struct {
	ID        string
	UserID    string
	PetID     string
	Type      Type
	CreatedBy string
	StartAt   time.Time
	EndAt     *time.Time
}
