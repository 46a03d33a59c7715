package job_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/docjobs/internal/job"
	"github.com/kiranshivaraju/docjobs/internal/remote"
	"github.com/kiranshivaraju/docjobs/internal/store"
	"github.com/kiranshivaraju/docjobs/pkg/models"
)

type reply struct {
	status int
	body   string
}

// processServer answers one create request and then a scripted sequence of
// poll replies; the last reply repeats.
type processServer struct {
	mu          sync.Mutex
	create      reply
	polls       []reply
	pollCount   int
	createCount int
	createBody  map[string]any
	createToken string
	pollTokens  []string
	pollPaths   []string
}

func newProcessServer(t *testing.T, create reply, polls ...reply) (*processServer, *remote.Client) {
	t.Helper()
	ps := &processServer{create: create, polls: polls}
	srv := httptest.NewServer(http.HandlerFunc(ps.serve))
	t.Cleanup(srv.Close)
	return ps, remote.NewClient(srv.URL)
}

func (ps *processServer) serve(w http.ResponseWriter, r *http.Request) {
	ps.mu.Lock()
	var rep reply
	switch r.Method {
	case http.MethodPost:
		ps.createCount++
		ps.createToken = r.Header.Get(remote.HeaderAffinityToken)
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &ps.createBody)
		rep = ps.create
	case http.MethodGet:
		ps.pollTokens = append(ps.pollTokens, r.Header.Get(remote.HeaderAffinityToken))
		ps.pollPaths = append(ps.pollPaths, r.URL.Path)
		i := ps.pollCount
		if i >= len(ps.polls) {
			i = len(ps.polls) - 1
		}
		ps.pollCount++
		if i < 0 {
			rep = reply{status: http.StatusNotFound}
		} else {
			rep = ps.polls[i]
		}
	}
	ps.mu.Unlock()

	if rep.status == 0 {
		rep.status = http.StatusOK
	}
	w.WriteHeader(rep.status)
	_, _ = w.Write([]byte(rep.body))
}

func (ps *processServer) polled() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.pollCount
}

func processing(id string) reply {
	return reply{body: `{"processId":"` + id + `","state":"processing","percentComplete":10}`}
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func source(id, token string) models.WorkFile {
	return models.NewWorkFile(id, token, "pdf")
}

func submitAndWaitReq() job.Request {
	return job.Request{
		Processor: job.ProcessorMarkupBurner,
		Input:     map[string]string{"documentFileId": "doc-1", "markupFileId": "mk-1"},
		Inputs:    []models.WorkFile{source("doc-1", "node-a"), source("mk-1", "node-a")},
	}
}

type recordingLedger struct {
	store.NopStore
	mu      sync.Mutex
	created []*models.JobRecord
	updates []ledgerUpdate
}

type ledgerUpdate struct {
	processor, processID string
	state                models.JobState
}

func (l *recordingLedger) CreateJob(_ context.Context, rec *models.JobRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, rec)
	return nil
}

func (l *recordingLedger) UpdateJobState(_ context.Context, processor, processID string, state models.JobState, _ ...store.JobUpdateOption) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, ledgerUpdate{processor, processID, state})
	return nil
}
