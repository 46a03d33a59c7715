// Package job drives remote processes from submission to a terminal state.
package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docjobs/internal/remoteerr"
	"github.com/kiranshivaraju/docjobs/pkg/models"
)

// Processors offered by the remote service.
const (
	ProcessorContentConverter  = "contentConverters"
	ProcessorRedactionCreator  = "redactionCreators"
	ProcessorMarkupBurner      = "markupBurners"
	ProcessorPlainTextRedactor = "plainTextRedactors"
)

func processPath(processor string) string {
	return "/v2/" + processor
}

// Request describes a process to create.
type Request struct {
	Processor string
	// Input is encoded as the "input" member of the create request.
	Input any
	// Inputs are the WorkFiles Input references. The first one routes the request.
	Inputs []models.WorkFile
	// Files and Params let error messages name the file or value a failure refers to.
	Files  []remoteerr.FileRef
	Params map[string]string
}

func (r Request) errorContext() remoteerr.RequestContext {
	return remoteerr.RequestContext{Processor: r.Processor, Files: r.Files, Params: r.Params}
}

// Job is a submitted remote process. Once a terminal state has been observed
// the Job no longer changes and waiting on it returns the same outcome without
// contacting the server.
type Job struct {
	ID            uuid.UUID
	Processor     string
	ProcessID     string
	AffinityToken string
	Inputs        []models.WorkFile
	ExpiresAt     *time.Time

	errCtx remoteerr.RequestContext

	// waiting admits one poller at a time so responses are consumed in request order.
	waitOnce sync.Once
	waiting  chan struct{}

	mu      sync.RWMutex
	state   models.JobState
	percent int
	done    bool
	result  *Result
	err     error
}

// acquireWait blocks until no other poller is waiting on j or ctx is done.
func (j *Job) acquireWait(ctx context.Context) (release func(), err error) {
	j.waitOnce.Do(func() { j.waiting = make(chan struct{}, 1) })
	select {
	case j.waiting <- struct{}{}:
		return func() { <-j.waiting }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State returns the last state observed. An unknown terminal state reads as JobStateUnexpected.
func (j *Job) State() models.JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// PercentComplete is advisory only.
func (j *Job) PercentComplete() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.percent
}

// Done reports whether a terminal state has been observed.
func (j *Job) Done() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.done
}

func (j *Job) outcome() (*Result, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result, j.done, j.err
}

// observe applies one decoded process snapshot and reports whether it was terminal.
func (j *Job) observe(proc models.Process, body []byte) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return true
	}
	j.percent = proc.PercentComplete

	switch proc.State {
	case models.JobStateProcessing:
		j.state = proc.State
		return false
	case models.JobStateComplete:
		j.state = proc.State
		j.result = &Result{Process: proc, Body: body, AffinityToken: j.AffinityToken}
	case models.JobStateError:
		j.state = proc.State
		j.err = remoteerr.ClassifyJobError(proc.ErrorCode, proc.ErrorDetails, body, j.errCtx)
	default:
		j.state = models.JobStateUnexpected
		j.err = remoteerr.UnexpectedState(string(proc.State), body)
	}
	j.done = true
	return true
}

// decodeProcess reads a process snapshot, rejecting bodies without a state.
func decodeProcess(status int, body []byte) (models.Process, error) {
	var proc models.Process
	if err := json.Unmarshal(body, &proc); err != nil {
		return models.Process{}, remoteerr.Malformed(status, body, err)
	}
	if proc.State == "" {
		return models.Process{}, remoteerr.Malformed(status, body, errors.New(`missing "state"`))
	}
	return proc, nil
}

// Result is the outcome of a job that completed.
type Result struct {
	Process models.Process
	// Body is the raw response that reported completion.
	Body []byte
	// AffinityToken is the token the job ran under. Output WorkFiles inherit it.
	AffinityToken string
}

// Decode unmarshals the process output into v. A completed job without output
// is reported as an unexpected state.
func (r *Result) Decode(v any) error {
	out := bytes.TrimSpace(r.Process.Output)
	if len(out) == 0 || bytes.Equal(out, []byte("null")) {
		return remoteerr.MissingOutput("output", http.StatusOK, r.Body)
	}
	if err := json.Unmarshal(out, v); err != nil {
		return remoteerr.Malformed(http.StatusOK, r.Body, err)
	}
	return nil
}

// WorkFile builds an output WorkFile routed to the node the job ran on.
// An empty id means the server omitted a field the caller needs.
func (r *Result) WorkFile(field, id, format string) (models.WorkFile, error) {
	if id == "" {
		return models.WorkFile{}, remoteerr.MissingOutput(field, http.StatusOK, r.Body)
	}
	return models.NewWorkFile(id, r.AffinityToken, format), nil
}
