package pet

import "time"

// Pet captures the subset of pet data the workflow engine needs.
type Pet struct {
	ID        string
	Name      string
	Species   string
	CreatedAt time.Time
}
