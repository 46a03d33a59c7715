// Package remotetest is an in-process fake of the clustered document-processing
// service. Each node keeps its own work files and processes; the affinity token
// header selects the node.
package remotetest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/docjobs/pkg/markup"
)

// DefaultProcessLifetime is how long a process and its outputs stay valid.
const DefaultProcessLifetime = 20 * time.Minute

type storedFile struct {
	data   []byte
	format string
}

type node struct {
	token     string
	files     map[string]*storedFile
	processes map[string]*process
}

// outcome forces how a process ends instead of running its processor.
type outcome struct {
	state   string
	code    string
	details any
}

// Cluster is a fake multi-node service. The zero value is not usable; call NewCluster.
type Cluster struct {
	mu              sync.Mutex
	nodes           []*node
	byToken         map[string]*node
	next            int
	apiKey          string
	pollsToComplete int
	logger          *slog.Logger
	validator       *markup.Validator
	forced          map[string][]outcome
	failures        []failure
	requests        int
	now             func() time.Time
}

type failure struct {
	status int
	body   string
}

type Option func(*Cluster)

// WithNodes sets the number of nodes. Uploads without a token are spread round-robin.
func WithNodes(n int) Option {
	return func(c *Cluster) {
		if n > 0 {
			c.nodes = make([]*node, n)
		}
	}
}

// WithPollsToComplete sets how many polls a process answers with processing
// before it finishes. Zero finishes processes at creation.
func WithPollsToComplete(n int) Option {
	return func(c *Cluster) { c.pollsToComplete = n }
}

// WithAPIKey requires key in the Acs-Api-Key header.
func WithAPIKey(key string) Option {
	return func(c *Cluster) { c.apiKey = key }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cluster) { c.logger = l }
}

func NewCluster(opts ...Option) *Cluster {
	c := &Cluster{
		nodes:           make([]*node, 3),
		byToken:         map[string]*node{},
		pollsToComplete: 1,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		forced:          map[string][]outcome{},
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := range c.nodes {
		n := &node{
			token:     uuid.NewString(),
			files:     map[string]*storedFile{},
			processes: map[string]*process{},
		}
		c.nodes[i] = n
		c.byToken[n.token] = n
	}

	v, err := markup.NewValidator()
	if err != nil {
		panic(err)
	}
	c.validator = v
	return c
}

// NewServer starts an httptest server for a new cluster. Close the server when done.
func NewServer(opts ...Option) (*Cluster, *httptest.Server) {
	c := NewCluster(opts...)
	return c, httptest.NewServer(c.Handler())
}

// Handler returns the cluster's HTTP surface.
func (c *Cluster) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(Logger(c.logger))
	r.Use(Recovery(c.logger))
	if c.apiKey != "" {
		r.Use(RequireAPIKey(c.apiKey))
	}
	r.Use(c.injectFailures)

	r.Post("/PCCIS/V1/WorkFile", c.uploadWorkFile)
	r.Get("/PCCIS/V1/WorkFile/{fileID}", c.downloadWorkFile)
	r.Post("/v2/{processor}", c.createProcess)
	r.Get("/v2/{processor}/{processID}", c.getProcess)

	return r
}

// FailNextRequest makes the next request answer with status and a raw body.
func (c *Cluster) FailNextRequest(status int, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, failure{status: status, body: body})
}

// FailNextProcess makes the next process created for processor end in the
// error state with code and details.
func (c *Cluster) FailNextProcess(processor, code string, details any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forced[processor] = append(c.forced[processor], outcome{state: "error", code: code, details: details})
}

// EndNextProcessWith makes the next process created for processor report state
// verbatim once it finishes.
func (c *Cluster) EndNextProcessWith(processor, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forced[processor] = append(c.forced[processor], outcome{state: state})
}

// Tokens returns the affinity token of every node.
func (c *Cluster) Tokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens := make([]string, len(c.nodes))
	for i, n := range c.nodes {
		tokens[i] = n.token
	}
	return tokens
}

// NodeOf returns the token of the node holding fileID.
func (c *Cluster) NodeOf(fileID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		if _, ok := n.files[fileID]; ok {
			return n.token, true
		}
	}
	return "", false
}

// File returns the stored bytes of fileID.
func (c *Cluster) File(fileID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, _ := c.findFile(fileID); f != nil {
		return append([]byte(nil), f.data...), true
	}
	return nil, false
}

// PollCount returns how many times processID has been polled.
func (c *Cluster) PollCount(processID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		if p, ok := n.processes[processID]; ok {
			return p.polls
		}
	}
	return 0
}

// Requests returns the number of requests served.
func (c *Cluster) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

func (c *Cluster) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.requests++
		var f *failure
		if len(c.failures) > 0 {
			f = &c.failures[0]
			c.failures = c.failures[1:]
		}
		c.mu.Unlock()

		if f != nil {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// route picks the node named by the request's token, or the next node
// round-robin when the token is absent or unknown. Callers hold c.mu.
func (c *Cluster) route(r *http.Request) *node {
	if n, ok := c.byToken[r.Header.Get(headerAffinityToken)]; ok {
		return n
	}
	n := c.nodes[c.next%len(c.nodes)]
	c.next++
	return n
}

// findFile looks a work file up across the cluster. Callers hold c.mu.
func (c *Cluster) findFile(fileID string) (*storedFile, *node) {
	for _, n := range c.nodes {
		if f, ok := n.files[fileID]; ok {
			return f, n
		}
	}
	return nil, nil
}

func (c *Cluster) uploadWorkFile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", nil)
		return
	}
	format := r.URL.Query().Get("FileExtension")
	if format == "" {
		format = "txt"
	}

	c.mu.Lock()
	n := c.route(r)
	id := uuid.NewString()
	n.files[id] = &storedFile{data: data, format: format}
	c.mu.Unlock()

	w.Header().Set(headerAffinityToken, n.token)
	writeJSON(w, http.StatusOK, map[string]string{
		"fileId":        id,
		"affinityToken": n.token,
		"fileExtension": format,
	})
}

// downloadWorkFile serves a file only from the node named by the token, as a
// real node has no view of its peers' storage.
func (c *Cluster) downloadWorkFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	c.mu.Lock()
	var f *storedFile
	if n, ok := c.byToken[r.Header.Get(headerAffinityToken)]; ok {
		f = n.files[fileID]
	}
	c.mu.Unlock()

	if f == nil {
		writeError(w, http.StatusNotFound, "ResourceNotFound", nil)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.data)
}

func (c *Cluster) createProcess(w http.ResponseWriter, r *http.Request) {
	processor := chi.URLParam(r, "processor")
	run, ok := processors[processor]
	if !ok {
		writeError(w, http.StatusNotFound, "ProcessorNotFound", nil)
		return
	}

	var body struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Input) == 0 {
		writeError(w, http.StatusBadRequest, "InvalidInput", bodyField("input"))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.route(r)
	job, rejection := run(c, body.Input)
	if rejection != nil {
		writeError(w, rejection.status, rejection.code, rejection.details)
		return
	}

	p := &process{
		id:        uuid.NewString(),
		processor: processor,
		input:     body.Input,
		state:     "processing",
		expires:   c.now().Add(DefaultProcessLifetime).UTC(),
		node:      n,
		run:       job,
	}
	if forced := c.forced[processor]; len(forced) > 0 {
		p.forced = &forced[0]
		c.forced[processor] = forced[1:]
	}
	n.processes[p.id] = p

	if c.pollsToComplete <= 0 {
		c.finish(p)
	}
	writeJSON(w, http.StatusOK, p.view())
}

// getProcess answers only on the node that owns the process.
func (c *Cluster) getProcess(w http.ResponseWriter, r *http.Request) {
	processID := chi.URLParam(r, "processID")

	c.mu.Lock()
	defer c.mu.Unlock()

	var p *process
	if n, ok := c.byToken[r.Header.Get(headerAffinityToken)]; ok {
		p = n.processes[processID]
	}
	if p == nil || p.processor != chi.URLParam(r, "processor") {
		writeError(w, http.StatusNotFound, "ResourceNotFound", nil)
		return
	}

	p.polls++
	if p.state == "processing" {
		if p.polls >= c.pollsToComplete {
			c.finish(p)
		} else {
			p.percent = 100 * p.polls / c.pollsToComplete
		}
	}
	writeJSON(w, http.StatusOK, p.view())
}
