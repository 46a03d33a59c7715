// Package workfile uploads and downloads blobs through affinity sessions.
package workfile

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kiranshivaraju/docjobs/internal/remote"
	"github.com/kiranshivaraju/docjobs/internal/remoteerr"
	"github.com/kiranshivaraju/docjobs/internal/store"
	"github.com/kiranshivaraju/docjobs/pkg/models"
	"golang.org/x/crypto/blake2b"
)

const workFilePath = "/PCCIS/V1/WorkFile"

var ErrSessionClosed = errors.New("affinity session is closed")

// Session groups uploads so that every WorkFile it produces lives on the same node.
// It is safe for concurrent use. The node is fixed by the first upload the
// server answers: until then uploads take turns, and the token the server
// returns replaces whatever token the session started with.
type Session struct {
	client *remote.Client
	ledger store.Store
	logger *slog.Logger

	// pin is held by the upload that establishes the session's node.
	pin chan struct{}

	mu        sync.Mutex
	token     string
	confirmed bool
	closed    bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLedger records every upload in l.
func WithLedger(l store.Store) SessionOption {
	return func(s *Session) { s.ledger = l }
}

func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithAffinityToken routes the session's first upload to the node identified
// by token, typically the token of a WorkFile the caller already holds. If that
// node is gone the server picks another and the session follows it.
func WithAffinityToken(token string) SessionOption {
	return func(s *Session) { s.token = token }
}

// NewSession creates a Session that reaches the cluster through client.
func NewSession(client *remote.Client, opts ...SessionOption) *Session {
	s := &Session{
		client: client,
		ledger: store.NopStore{},
		logger: client.Logger(),
		pin:    make(chan struct{}, 1),
	}
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

// Token returns the session's affinity token, empty until the first upload completes.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Close releases the session. Further uploads and downloads return ErrSessionClosed.
// Calling Close more than once is safe.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// UploadBytes uploads b as a new WorkFile with the given format hint.
func (s *Session) UploadBytes(ctx context.Context, b []byte, format string) (models.WorkFile, error) {
	return s.Upload(ctx, bytes.NewReader(b), format)
}

// Upload streams r to the session's node and returns the resulting WorkFile.
// Transport errors are returned unmodified. Error responses are classified generically.
func (s *Session) Upload(ctx context.Context, r io.Reader, format string) (models.WorkFile, error) {
	token, confirmed, err := s.state()
	if err != nil {
		return models.WorkFile{}, err
	}
	if confirmed {
		wf, err := s.upload(ctx, r, format, token)
		if err == nil && wf.AffinityToken != token {
			s.adopt(ctx, token, wf.AffinityToken)
		}
		return wf, err
	}

	select {
	case s.pin <- struct{}{}:
	case <-ctx.Done():
		return models.WorkFile{}, remoteerr.Canceled(ctx.Err())
	}
	defer func() { <-s.pin }()

	// Another upload may have fixed the node while this one waited.
	if token, confirmed, err = s.state(); err != nil {
		return models.WorkFile{}, err
	}
	wf, err := s.upload(ctx, r, format, token)
	if err != nil {
		return models.WorkFile{}, err
	}
	if !confirmed || wf.AffinityToken != token {
		s.adopt(ctx, token, wf.AffinityToken)
	}
	return wf, nil
}

func (s *Session) state() (token string, confirmed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrSessionClosed
	}
	return s.token, s.confirmed, nil
}

// adopt fixes the session to the node that answered.
func (s *Session) adopt(ctx context.Context, sent, got string) {
	if sent != "" && sent != got {
		s.logger.WarnContext(ctx, "affinity token replaced by server",
			"sent_affinity_token", sent,
			"affinity_token", got,
		)
	}
	s.mu.Lock()
	s.token = got
	s.confirmed = true
	s.mu.Unlock()
}

func (s *Session) upload(ctx context.Context, r io.Reader, format, token string) (models.WorkFile, error) {
	format = models.NormalizeFormat(format)

	h, err := blake2b.New256(nil)
	if err != nil {
		return models.WorkFile{}, fmt.Errorf("init digest: %w", err)
	}
	counter := &countingWriter{}
	body := io.TeeReader(r, io.MultiWriter(h, counter))

	resp, err := s.client.Do(ctx, remote.Request{
		Method:        http.MethodPost,
		Path:          workFilePath,
		Query:         url.Values{"FileExtension": []string{format}},
		AffinityToken: token,
		ContentType:   "application/octet-stream",
		Body:          body,
	})
	if err != nil {
		return models.WorkFile{}, err
	}
	if !resp.OK() {
		return models.WorkFile{}, remoteerr.Classify(resp.StatusCode, resp.Body, remoteerr.RequestContext{})
	}

	wf, err := decodeWorkFile(resp, format)
	if err != nil {
		return models.WorkFile{}, err
	}

	rec := &models.WorkFileRecord{
		FileID:        wf.ID,
		AffinityToken: wf.AffinityToken,
		Format:        wf.Format,
		Size:          counter.n,
		Digest:        hex.EncodeToString(h.Sum(nil)),
		UploadedAt:    time.Now().UTC(),
	}
	if err := s.ledger.RecordWorkFile(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "record work file failed", "file_id", wf.ID, "error", err)
	}

	s.logger.DebugContext(ctx, "work file uploaded",
		"file_id", wf.ID,
		"affinity_token", wf.AffinityToken,
		"size", counter.n,
	)
	return wf, nil
}

type uploadResponse struct {
	FileID        string `json:"fileId"`
	AffinityToken string `json:"affinityToken"`
	FileExtension string `json:"fileExtension"`
}

func decodeWorkFile(resp *remote.Response, format string) (models.WorkFile, error) {
	var payload uploadResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return models.WorkFile{}, remoteerr.Malformed(resp.StatusCode, resp.Body, err)
	}
	if payload.FileID == "" {
		return models.WorkFile{}, remoteerr.Malformed(resp.StatusCode, resp.Body, errors.New(`missing "fileId"`))
	}

	token := payload.AffinityToken
	if token == "" {
		token = resp.Header.Get(remote.HeaderAffinityToken)
	}
	if token == "" {
		return models.WorkFile{}, remoteerr.Malformed(resp.StatusCode, resp.Body, errors.New(`missing "affinityToken"`))
	}

	if payload.FileExtension != "" {
		format = payload.FileExtension
	}
	return models.NewWorkFile(payload.FileID, token, format), nil
}

// Download fetches the bytes of wf from the node named by its affinity token.
func (s *Session) Download(ctx context.Context, wf models.WorkFile) ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	return Download(ctx, s.client, wf)
}

// Download fetches the bytes of wf without a session. The WorkFile's own
// affinity token routes the request.
func Download(ctx context.Context, client *remote.Client, wf models.WorkFile) ([]byte, error) {
	resp, err := client.Get(ctx, workFilePath+"/"+url.PathEscape(wf.ID), wf.AffinityToken)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, remoteerr.Classify(resp.StatusCode, resp.Body, remoteerr.RequestContext{})
	}
	return resp.Body, nil
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
