// Package processing composes sessions, jobs and the rule compiler into the
// high-level document operations.
package processing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/docjobs/internal/job"
	"github.com/kiranshivaraju/docjobs/internal/remote"
	"github.com/kiranshivaraju/docjobs/internal/remoteerr"
	"github.com/kiranshivaraju/docjobs/internal/store"
	"github.com/kiranshivaraju/docjobs/internal/workfile"
	"github.com/kiranshivaraju/docjobs/pkg/markup"
	"github.com/kiranshivaraju/docjobs/pkg/models"
)

// Dependencies holds the collaborators of a Service. Only Client is required.
type Dependencies struct {
	Client    *remote.Client
	Submitter *job.Submitter
	Poller    *job.Poller
	Ledger    store.Store
	Compiler  *markup.Compiler
	Validator *markup.Validator
	Logger    *slog.Logger

	// SplitConcurrency bounds the conversions Split runs at once. Zero means 4.
	SplitConcurrency int
}

// Service is the entry point for document operations. It is safe for concurrent use.
type Service struct {
	client     *remote.Client
	submitter  *job.Submitter
	poller     *job.Poller
	ledger     store.Store
	compiler   *markup.Compiler
	validator  *markup.Validator
	logger     *slog.Logger
	splitLimit int
}

// NewService fills in defaults for any missing dependency except Client.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("processing: client is required")
	}
	s := &Service{
		client:     deps.Client,
		submitter:  deps.Submitter,
		poller:     deps.Poller,
		ledger:     deps.Ledger,
		compiler:   deps.Compiler,
		validator:  deps.Validator,
		logger:     deps.Logger,
		splitLimit: deps.SplitConcurrency,
	}
	if s.logger == nil {
		s.logger = deps.Client.Logger()
	}
	if s.ledger == nil {
		s.ledger = store.NopStore{}
	}
	if s.submitter == nil {
		s.submitter = job.NewSubmitter(s.client, job.WithSubmitLedger(s.ledger), job.WithSubmitLogger(s.logger))
	}
	if s.poller == nil {
		s.poller = job.NewPoller(s.client, job.WithPollLedger(s.ledger), job.WithPollLogger(s.logger))
	}
	if s.compiler == nil {
		s.compiler = markup.DefaultCompiler()
	}
	if s.validator == nil {
		v, err := markup.NewValidator()
		if err != nil {
			return nil, fmt.Errorf("processing: %w", err)
		}
		s.validator = v
	}
	if s.splitLimit <= 0 {
		s.splitLimit = 4
	}
	return s, nil
}

// NewSession opens an affinity session for callers that upload explicitly.
func (s *Service) NewSession(opts ...workfile.SessionOption) *workfile.Session {
	base := []workfile.SessionOption{workfile.WithLedger(s.ledger), workfile.WithLogger(s.logger)}
	return workfile.NewSession(s.client, append(base, opts...)...)
}

// Upload uploads a single input through a fresh session.
func (s *Service) Upload(ctx context.Context, in Input) (models.WorkFile, error) {
	files, err := s.resolve(ctx, in)
	if err != nil {
		return models.WorkFile{}, err
	}
	return files[0], nil
}

// Download fetches the bytes of wf from the node that holds it.
func (s *Service) Download(ctx context.Context, wf models.WorkFile) ([]byte, error) {
	return workfile.Download(ctx, s.client, wf)
}

// Resume waits for a process submitted earlier, possibly by another process.
func (s *Service) Resume(ctx context.Context, processor, processID, affinityToken string) (*job.Result, error) {
	return s.poller.Resume(ctx, processor, processID, affinityToken, remoteerr.RequestContext{})
}

// resolve turns inputs into WorkFiles in order. Local inputs are uploaded
// through one session that joins the node of the first WorkFile input, if any.
// The session is closed before resolve returns.
func (s *Service) resolve(ctx context.Context, inputs ...Input) ([]models.WorkFile, error) {
	var opts []workfile.SessionOption
	for _, in := range inputs {
		if wf, ok := in.WorkFile(); ok {
			opts = append(opts, workfile.WithAffinityToken(wf.AffinityToken))
			break
		}
	}
	sess := s.NewSession(opts...)
	defer sess.Close()

	files := make([]models.WorkFile, len(inputs))
	for i, in := range inputs {
		wf, err := in.upload(ctx, sess)
		if err != nil {
			return nil, err
		}
		files[i] = wf
	}
	return files, nil
}

// run submits req and waits for it to finish.
func (s *Service) run(ctx context.Context, req job.Request) (*job.Result, error) {
	j, err := s.submitter.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.poller.Wait(ctx, j)
}
