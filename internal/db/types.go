package db

import (
	"time"

	"github.com/google/uuid"
)

// Run represents a contribution fetch run record
type Run struct {
	ID          uuid.UUID  `json:"id"`
	CandidateID string     `json:"candidate_id"`
	State       string     `json:"state"`
	Individuals int        `json:"individuals"`
	PACs        int        `json:"pacs"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
