package remotetest_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/kiranshivaraju/docjobs/internal/remotetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uploaded struct {
	FileID        string `json:"fileId"`
	AffinityToken string `json:"affinityToken"`
	FileExtension string `json:"fileExtension"`
}

func do(t *testing.T, method, url, token string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Accusoft-Affinity-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func upload(t *testing.T, base, token, format string, data []byte) uploaded {
	t.Helper()
	resp, body := do(t, http.MethodPost, base+"/PCCIS/V1/WorkFile?FileExtension="+format, token, data)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var u uploaded
	require.NoError(t, json.Unmarshal(body, &u))
	return u
}

func TestCluster_UploadsWithoutTokenSpreadAcrossNodes(t *testing.T) {
	c, srv := remotetest.NewServer(remotetest.WithNodes(2))
	defer srv.Close()

	a := upload(t, srv.URL, "", "txt", []byte("a"))
	b := upload(t, srv.URL, "", "txt", []byte("b"))
	assert.NotEqual(t, a.AffinityToken, b.AffinityToken)
	assert.ElementsMatch(t, c.Tokens(), []string{a.AffinityToken, b.AffinityToken})

	same := upload(t, srv.URL, a.AffinityToken, "txt", []byte("c"))
	assert.Equal(t, a.AffinityToken, same.AffinityToken)

	node, ok := c.NodeOf(same.FileID)
	require.True(t, ok)
	assert.Equal(t, a.AffinityToken, node)
}

func TestCluster_DownloadRequiresOwningNode(t *testing.T) {
	c, srv := remotetest.NewServer(remotetest.WithNodes(2))
	defer srv.Close()

	u := upload(t, srv.URL, "", "txt", []byte("payload"))

	resp, body := do(t, http.MethodGet, srv.URL+"/PCCIS/V1/WorkFile/"+u.FileID, u.AffinityToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "payload", string(body))

	var other string
	for _, tok := range c.Tokens() {
		if tok != u.AffinityToken {
			other = tok
		}
	}
	resp, body = do(t, http.MethodGet, srv.URL+"/PCCIS/V1/WorkFile/"+u.FileID, other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"errorCode":"ResourceNotFound"}`, string(body))
}

func TestCluster_ConversionLifecycle(t *testing.T) {
	c, srv := remotetest.NewServer(remotetest.WithPollsToComplete(2))
	defer srv.Close()

	u := upload(t, srv.URL, "", "txt", remotetest.Document("txt", "page one", "page two"))
	input := `{"input":{"sources":[{"fileId":"` + u.FileID + `"}],"dest":{"format":"pdf"}}}`

	resp, body := do(t, http.MethodPost, srv.URL+"/v2/contentConverters", u.AffinityToken, []byte(input))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var created struct {
		ProcessID string `json:"processId"`
		State     string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "processing", created.State)

	poll := func() map[string]any {
		resp, body := do(t, http.MethodGet, srv.URL+"/v2/contentConverters/"+created.ProcessID, u.AffinityToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		var v map[string]any
		require.NoError(t, json.Unmarshal(body, &v))
		return v
	}

	first := poll()
	assert.Equal(t, "processing", first["state"])
	assert.Equal(t, float64(50), first["percentComplete"])

	second := poll()
	assert.Equal(t, "complete", second["state"])
	results := second["output"].(map[string]any)["results"].([]any)
	require.Len(t, results, 1)
	result := results[0].(map[string]any)
	assert.Equal(t, float64(2), result["pageCount"])

	data, ok := c.File(result["fileId"].(string))
	require.True(t, ok)
	pages, err := remotetest.Pages("pdf", data)
	require.NoError(t, err)
	assert.Equal(t, []string{"page one", "page two"}, pages)
	assert.Equal(t, 2, c.PollCount(created.ProcessID))
}

func TestCluster_PollOnWrongNodeNotFound(t *testing.T) {
	c, srv := remotetest.NewServer(remotetest.WithNodes(2))
	defer srv.Close()

	u := upload(t, srv.URL, "", "txt", []byte("x"))
	input := `{"input":{"sources":[{"fileId":"` + u.FileID + `"}],"dest":{"format":"pdf"}}}`
	_, body := do(t, http.MethodPost, srv.URL+"/v2/contentConverters", u.AffinityToken, []byte(input))
	var created struct {
		ProcessID string `json:"processId"`
	}
	require.NoError(t, json.Unmarshal(body, &created))

	for _, tok := range c.Tokens() {
		if tok == u.AffinityToken {
			continue
		}
		resp, _ := do(t, http.MethodGet, srv.URL+"/v2/contentConverters/"+created.ProcessID, tok, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}

func TestCluster_CreateRejectsMissingSource(t *testing.T) {
	_, srv := remotetest.NewServer()
	defer srv.Close()

	input := `{"input":{"documentFileId":"nope","markupFileId":"nope"}}`
	resp, body := do(t, http.MethodPost, srv.URL+"/v2/markupBurners", "", []byte(input))
	assert.Equal(t, 480, resp.StatusCode)
	assert.JSONEq(t, `{"errorCode":"ResourceNotFound","errorDetails":{"in":"body","at":"input.documentFileId"}}`, string(body))
}

func TestCluster_UnknownProcessor(t *testing.T) {
	_, srv := remotetest.NewServer()
	defer srv.Close()

	resp, _ := do(t, http.MethodPost, srv.URL+"/v2/teleporters", "", []byte(`{"input":{}}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCluster_APIKey(t *testing.T) {
	_, srv := remotetest.NewServer(remotetest.WithAPIKey("secret"))
	defer srv.Close()

	resp, _ := do(t, http.MethodPost, srv.URL+"/PCCIS/V1/WorkFile?FileExtension=txt", "", []byte("x"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/PCCIS/V1/WorkFile?FileExtension=txt", strings.NewReader("x"))
	require.NoError(t, err)
	req.Header.Set("Acs-Api-Key", "secret")
	ok, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)
}

func TestCluster_FailNextRequest(t *testing.T) {
	c, srv := remotetest.NewServer()
	defer srv.Close()

	c.FailNextRequest(http.StatusTeapot, "")
	resp, _ := do(t, http.MethodPost, srv.URL+"/PCCIS/V1/WorkFile?FileExtension=txt", "", []byte("x"))
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/PCCIS/V1/WorkFile?FileExtension=txt", "", []byte("x"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, c.Requests())
}

func TestCluster_ForcedOutcomes(t *testing.T) {
	c, srv := remotetest.NewServer(remotetest.WithPollsToComplete(0))
	defer srv.Close()

	u := upload(t, srv.URL, "", "txt", []byte("x"))
	input := []byte(`{"input":{"sources":[{"fileId":"` + u.FileID + `"}],"dest":{"format":"pdf"}}}`)

	c.FailNextProcess("contentConverters", "ServerOnFire", map[string]int{"temperature": 999})
	c.EndNextProcessWith("contentConverters", "dead")

	_, body := do(t, http.MethodPost, srv.URL+"/v2/contentConverters", u.AffinityToken, input)
	var v map[string]any
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "error", v["state"])
	assert.Equal(t, "ServerOnFire", v["errorCode"])

	_, body = do(t, http.MethodPost, srv.URL+"/v2/contentConverters", u.AffinityToken, input)
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "dead", v["state"])

	_, body = do(t, http.MethodPost, srv.URL+"/v2/contentConverters", u.AffinityToken, input)
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "complete", v["state"])
}
