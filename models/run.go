package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunAbandoned is the error recorded on runs left "running" by a process
// that exited without finalising them.
const RunAbandoned = "abandoned"

type RunKind string

const (
	RunKindSearch  RunKind = "search"
	RunKindDetails RunKind = "details"
)

// ScrapeRun is the run-log row. Only the workflow mutates it.
type ScrapeRun struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Site           string          `json:"site" db:"site"`
	Kind           RunKind         `json:"kind" db:"kind"`
	Criteria       *SearchCriteria `json:"criteria,omitempty" db:"criteria"`
	Status         RunStatus       `json:"status" db:"status"`
	ListingsFound  int             `json:"listings_found" db:"listings_found"`
	DetailsFetched int             `json:"details_fetched" db:"details_fetched"`
	Errors         int             `json:"errors" db:"errors"`
	ErrorMessage   *string         `json:"error_message,omitempty" db:"error_message"`
	StartedAt      time.Time       `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

func NewScrapeRun(site string, kind RunKind, criteria *SearchCriteria) *ScrapeRun {
	return &ScrapeRun{
		ID:        uuid.New(),
		Site:      site,
		Kind:      kind,
		Criteria:  criteria,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Finish stamps completion. A non-empty message marks the run failed.
func (r *ScrapeRun) Finish(status RunStatus, message string) {
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.Status = status
	if message != "" {
		r.ErrorMessage = &message
	}
}
