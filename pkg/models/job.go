package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobState is the state string a remote process reports.
type JobState string

const (
	JobStateProcessing JobState = "processing"
	JobStateComplete   JobState = "complete"
	JobStateError      JobState = "error"

	// JobStateUnexpected is recorded client-side for any state the server
	// reports outside the three above. The server never sends it.
	JobStateUnexpected JobState = "unexpected"
)

// Terminal reports whether no further polling is needed once s is observed.
// Any state other than processing is terminal, including unknown ones.
func (s JobState) Terminal() bool {
	return s != JobStateProcessing
}

// Known reports whether s is one of the states the server documents.
func (s JobState) Known() bool {
	switch s {
	case JobStateProcessing, JobStateComplete, JobStateError:
		return true
	}
	return false
}

// Process is the remote server's view of an asynchronous job.
// The client creates it with POST /v2/{processor} and polls GET /v2/{processor}/{processId}
// until state is no longer processing.
type Process struct {
	ProcessID          string          `json:"processId"`
	ExpirationDateTime *time.Time      `json:"expirationDateTime,omitempty"`
	Input              json.RawMessage `json:"input,omitempty"`
	State              JobState        `json:"state"`
	PercentComplete    int             `json:"percentComplete"`
	Output             json.RawMessage `json:"output,omitempty"`
	ErrorCode          string          `json:"errorCode,omitempty"`
	ErrorDetails       json.RawMessage `json:"errorDetails,omitempty"`
}

// JobRecord is the ledger entry for a submitted job.
type JobRecord struct {
	ID            uuid.UUID  `db:"id"             json:"id"`
	Processor     string     `db:"processor"      json:"processor"`
	ProcessID     string     `db:"process_id"     json:"process_id"`
	AffinityToken string     `db:"affinity_token" json:"affinity_token"`
	State         JobState   `db:"state"          json:"state"`
	ErrorCode     *string    `db:"error_code"     json:"error_code,omitempty"`
	ExpiresAt     *time.Time `db:"expires_at"     json:"expires_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at"   json:"completed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"     json:"updated_at"`
}
