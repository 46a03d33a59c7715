package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/docjobs/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the job ledger. Every upload and every submitted job is recorded here,
// and terminal job states are written back when a poll observes them.
type Store interface {
	Ping(ctx context.Context) error

	RecordWorkFile(ctx context.Context, rec *models.WorkFileRecord) error
	GetWorkFile(ctx context.Context, fileID string) (*models.WorkFileRecord, error)

	CreateJob(ctx context.Context, job *models.JobRecord) error
	GetJobByProcessID(ctx context.Context, processor, processID string) (*models.JobRecord, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.JobRecord, error)
	UpdateJobState(ctx context.Context, processor, processID string, state models.JobState, opts ...JobUpdateOption) error
}

type JobFilter struct {
	Processor string
	State     models.JobState
	Since     time.Time
	Limit     int
}

type jobUpdateParams struct {
	ErrorCode *string
}

type JobUpdateOption func(*jobUpdateParams)

// WithErrorCode records the server's errorCode alongside an error state.
func WithErrorCode(code string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorCode = &code
	}
}

// NopStore discards every write and finds nothing. It is used when no database is configured.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) Ping(context.Context) error                                 { return nil }
func (NopStore) RecordWorkFile(context.Context, *models.WorkFileRecord) error { return nil }
func (NopStore) CreateJob(context.Context, *models.JobRecord) error          { return nil }

func (NopStore) GetWorkFile(context.Context, string) (*models.WorkFileRecord, error) {
	return nil, ErrNotFound
}

func (NopStore) GetJobByProcessID(context.Context, string, string) (*models.JobRecord, error) {
	return nil, ErrNotFound
}

func (NopStore) ListJobs(context.Context, JobFilter) ([]*models.JobRecord, error) {
	return []*models.JobRecord{}, nil
}

func (NopStore) UpdateJobState(context.Context, string, string, models.JobState, ...JobUpdateOption) error {
	return nil
}
