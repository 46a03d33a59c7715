package job

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/docjobs/internal/cache"
	"github.com/kiranshivaraju/docjobs/internal/remote"
	"github.com/kiranshivaraju/docjobs/internal/remoteerr"
	"github.com/kiranshivaraju/docjobs/internal/store"
	"github.com/kiranshivaraju/docjobs/pkg/models"
)

// DefaultSnapshotTTL bounds how long a terminal snapshot is cached when the
// server did not report an expiration time.
const DefaultSnapshotTTL = 30 * time.Minute

// Poller waits for jobs to reach a terminal state.
type Poller struct {
	client  *remote.Client
	backoff Backoff
	sleep   SleepFunc
	cache   cache.Cache
	ledger  store.Store
	logger  *slog.Logger
	now     func() time.Time
}

type PollerOption func(*Poller)

func WithBackoff(b Backoff) PollerOption {
	return func(p *Poller) { p.backoff = b }
}

// WithSleep replaces the delay function used between polls.
func WithSleep(fn SleepFunc) PollerOption {
	return func(p *Poller) { p.sleep = fn }
}

// WithCache stores terminal snapshots in c so Resume can answer without the network.
func WithCache(c cache.Cache) PollerOption {
	return func(p *Poller) { p.cache = c }
}

func WithPollLedger(l store.Store) PollerOption {
	return func(p *Poller) { p.ledger = l }
}

func WithPollLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

func NewPoller(client *remote.Client, opts ...PollerOption) *Poller {
	p := &Poller{
		client:  client,
		backoff: ExponentialBackoff(500*time.Millisecond, 5*time.Second, 2),
		sleep:   sleepContext,
		ledger:  store.NopStore{},
		logger:  client.Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ledger == nil {
		p.ledger = store.NopStore{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Wait polls j until it reaches a terminal state and returns its outcome.
// A complete job yields a Result; an error job yields a classified error; any
// other state yields an unexpected-state error carrying the raw body.
// Non-2xx or malformed poll responses end the wait immediately without
// changing the job. If ctx is done, Wait stops issuing requests and returns
// an error matching remoteerr.ErrCanceled.
// Waiting on a terminal job returns the recorded outcome without a request.
func (p *Poller) Wait(ctx context.Context, j *Job) (*Result, error) {
	release, err := j.acquireWait(ctx)
	if err != nil {
		return nil, remoteerr.Canceled(err)
	}
	defer release()

	if res, done, err := j.outcome(); done {
		return res, err
	}

	path := processPath(j.Processor) + "/" + url.PathEscape(j.ProcessID)
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, remoteerr.Canceled(err)
		}
		if err := p.sleep(ctx, p.backoff(attempt)); err != nil {
			return nil, remoteerr.Canceled(err)
		}

		resp, err := p.client.Get(ctx, path, j.AffinityToken)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, remoteerr.Canceled(ctxErr)
			}
			return nil, err
		}
		if !resp.OK() {
			return nil, remoteerr.Classify(resp.StatusCode, resp.Body, j.errCtx)
		}

		proc, err := decodeProcess(resp.StatusCode, resp.Body)
		if err != nil {
			return nil, err
		}
		if !j.observe(proc, resp.Body) {
			p.logger.DebugContext(ctx, "job processing",
				"processor", j.Processor,
				"process_id", j.ProcessID,
				"percent_complete", proc.PercentComplete,
				"attempt", attempt,
			)
			continue
		}

		p.finish(ctx, j, proc, resp.Body)
		res, _, err := j.outcome()
		return res, err
	}
}

// Attach rebuilds a Job for a process submitted earlier, for example by
// another client instance. It performs no I/O.
func (p *Poller) Attach(processor, processID, affinityToken string, rc remoteerr.RequestContext) *Job {
	rc.Processor = processor
	return &Job{
		Processor:     processor,
		ProcessID:     processID,
		AffinityToken: affinityToken,
		state:         models.JobStateProcessing,
		errCtx:        rc,
	}
}

// Resume waits for a previously submitted process. A cached terminal snapshot
// is replayed through the same classification as a live poll and no request
// is sent.
func (p *Poller) Resume(ctx context.Context, processor, processID, affinityToken string, rc remoteerr.RequestContext) (*Result, error) {
	j := p.Attach(processor, processID, affinityToken, rc)
	if rec, err := p.ledger.GetJobByProcessID(ctx, processor, processID); err == nil {
		j.ID = rec.ID
	}

	if p.cache != nil {
		body, ok, err := p.cache.GetJobResult(ctx, processor, processID)
		switch {
		case err != nil:
			p.logger.WarnContext(ctx, "read job snapshot failed", "process_id", processID, "error", err)
		case ok:
			proc, err := decodeProcess(http.StatusOK, body)
			if err == nil && j.observe(proc, body) {
				p.logger.DebugContext(ctx, "job resumed from cache", "processor", processor, "process_id", processID)
				res, _, err := j.outcome()
				return res, err
			}
		}
	}
	return p.Wait(ctx, j)
}

// finish persists a terminal snapshot. Failures are logged; the outcome stands.
func (p *Poller) finish(ctx context.Context, j *Job, proc models.Process, body []byte) {
	state := j.State()
	p.logger.InfoContext(ctx, "job finished",
		"processor", j.Processor,
		"process_id", j.ProcessID,
		"state", state,
	)

	if p.cache != nil {
		ttl := DefaultSnapshotTTL
		expires := proc.ExpirationDateTime
		if expires == nil {
			expires = j.ExpiresAt
		}
		if expires != nil {
			if until := expires.Sub(p.now()); until > 0 {
				ttl = until
			}
		}
		if err := p.cache.SetJobResult(ctx, j.Processor, j.ProcessID, body, ttl); err != nil {
			p.logger.WarnContext(ctx, "cache job snapshot failed", "process_id", j.ProcessID, "error", err)
		}
	}

	var opts []store.JobUpdateOption
	if state == models.JobStateError && proc.ErrorCode != "" {
		opts = append(opts, store.WithErrorCode(proc.ErrorCode))
	}
	err := p.ledger.UpdateJobState(ctx, j.Processor, j.ProcessID, state, opts...)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.WarnContext(ctx, "record job state failed", "process_id", j.ProcessID, "error", err)
	}
}
