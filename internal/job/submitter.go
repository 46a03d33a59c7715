package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docjobs/internal/remote"
	"github.com/kiranshivaraju/docjobs/internal/remoteerr"
	"github.com/kiranshivaraju/docjobs/internal/store"
	"github.com/kiranshivaraju/docjobs/pkg/models"
)

var (
	ErrNoInputs        = errors.New("job request references no work files")
	ErrMissingAffinity = errors.New("work file has no affinity token")
	ErrNoProcessor     = errors.New("job request names no processor")
)

// Submitter creates remote processes.
type Submitter struct {
	client *remote.Client
	ledger store.Store
	logger *slog.Logger
}

type SubmitterOption func(*Submitter)

func WithSubmitLedger(l store.Store) SubmitterOption {
	return func(s *Submitter) { s.ledger = l }
}

func WithSubmitLogger(l *slog.Logger) SubmitterOption {
	return func(s *Submitter) { s.logger = l }
}

func NewSubmitter(client *remote.Client, opts ...SubmitterOption) *Submitter {
	s := &Submitter{client: client, ledger: store.NopStore{}, logger: client.Logger()}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledger == nil {
		s.ledger = store.NopStore{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Submit creates the process described by req. The request is routed with the
// affinity token of req.Inputs[0]; inputs from other nodes are sent as they are.
// Error responses are classified immediately and no polling takes place.
// The returned Job may already be terminal if the server finished synchronously.
func (s *Submitter) Submit(ctx context.Context, req Request) (*Job, error) {
	if req.Processor == "" {
		return nil, ErrNoProcessor
	}
	if len(req.Inputs) == 0 {
		return nil, ErrNoInputs
	}
	token := req.Inputs[0].AffinityToken
	if token == "" {
		return nil, ErrMissingAffinity
	}

	resp, err := s.client.PostJSON(ctx, processPath(req.Processor), token, map[string]any{"input": req.Input})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, remoteerr.Classify(resp.StatusCode, resp.Body, req.errorContext())
	}

	proc, err := decodeProcess(resp.StatusCode, resp.Body)
	if err != nil {
		return nil, err
	}
	if proc.ProcessID == "" {
		return nil, remoteerr.Malformed(resp.StatusCode, resp.Body, errors.New(`missing "processId"`))
	}

	j := &Job{
		ID:            uuid.New(),
		Processor:     req.Processor,
		ProcessID:     proc.ProcessID,
		AffinityToken: token,
		Inputs:        append([]models.WorkFile(nil), req.Inputs...),
		ExpiresAt:     proc.ExpirationDateTime,
		errCtx:        req.errorContext(),
	}
	j.observe(proc, resp.Body)

	s.record(ctx, j)
	s.logger.InfoContext(ctx, "job submitted",
		"processor", j.Processor,
		"process_id", j.ProcessID,
		"affinity_token", token,
		"state", j.State(),
	)
	return j, nil
}

func (s *Submitter) record(ctx context.Context, j *Job) {
	now := time.Now().UTC()
	rec := &models.JobRecord{
		ID:            j.ID,
		Processor:     j.Processor,
		ProcessID:     j.ProcessID,
		AffinityToken: j.AffinityToken,
		State:         j.State(),
		ExpiresAt:     j.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if j.Done() {
		rec.CompletedAt = &now
	}
	if err := s.ledger.CreateJob(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "record job failed", "process_id", j.ProcessID, "error", err)
	}
}
