package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SetsHeaders(t *testing.T) {
	var got *http.Request
	var body string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", WithAPIKey("secret"))
	resp, err := c.Do(context.Background(), Request{
		Method:        http.MethodPost,
		Path:          "/PCCIS/V1/WorkFile",
		Query:         url.Values{"FileExtension": {"pdf"}},
		AffinityToken: "node-a",
		ContentType:   "application/octet-stream",
		Body:          strings.NewReader("bytes"),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, resp.OK())
	assert.Equal(t, `{"ok":true}`, string(resp.Body))

	assert.Equal(t, "/PCCIS/V1/WorkFile", got.URL.Path)
	assert.Equal(t, "pdf", got.URL.Query().Get("FileExtension"))
	assert.Equal(t, "secret", got.Header.Get(HeaderAPIKey))
	assert.Equal(t, "node-a", got.Header.Get(HeaderAffinityToken))
	assert.Equal(t, "application/octet-stream", got.Header.Get("Content-Type"))
	assert.Equal(t, "bytes", body)
}

func TestDo_OmitsOptionalHeaders(t *testing.T) {
	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).Get(context.Background(), "/v2/contentConverters/abc", "")
	require.NoError(t, err)

	_, hasKey := got[HeaderAPIKey]
	_, hasToken := got[HeaderAffinityToken]
	assert.False(t, hasKey)
	assert.False(t, hasToken)
}

func TestDo_NonSuccessStatusIsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	resp, err := NewClient(ts.URL).Get(context.Background(), "/x", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.False(t, resp.OK())
}

func TestPostJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"input":{"documentFileId":"f1"}}`, string(b))
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).PostJSON(context.Background(), "/v2/markupBurners", "tok",
		map[string]any{"input": map[string]string{"documentFileId": "f1"}})
	require.NoError(t, err)
}

func TestDo_TransportErrorUnmodified(t *testing.T) {
	// Grab a free port and close it so the dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = NewClient("http://"+addr).Get(context.Background(), "/x", "")
	require.Error(t, err)

	var urlErr *url.Error
	assert.True(t, errors.As(err, &urlErr), "expected *url.Error, got %T", err)
	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr))
}

func TestDo_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, WithTimeout(20*time.Millisecond)).Get(context.Background(), "/slow", "")
	require.Error(t, err)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}
