package processing_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/docjobs/internal/job"
	"github.com/kiranshivaraju/docjobs/internal/processing"
	"github.com/kiranshivaraju/docjobs/internal/remoteerr"
	"github.com/kiranshivaraju/docjobs/internal/remotetest"
	"github.com/kiranshivaraju/docjobs/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert_ToPdf(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Convert(context.Background(), processing.Destination{},
		processing.Source{Input: processing.FromBytes(remotetest.Document("tiff", "one", "two"), "tiff")})
	require.NoError(t, err)
	require.Len(t, res, 1)

	out := res[0]
	assert.Equal(t, "pdf", out.File.Format)
	assert.Equal(t, 2, out.PageCount)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, "1-2", out.Sources[0].Pages)
	f.requireOnOwningNode(t, out.File)
	assert.Equal(t, []string{"one", "two"}, f.pages(t, out.File))
}

func TestConvert_RasterFormatYieldsOneResultPerPage(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "txt", "a", "b", "c")

	res, err := f.svc.Convert(context.Background(), processing.Destination{Format: ".PNG"},
		processing.Source{Input: processing.FromWorkFile(doc)})
	require.NoError(t, err)
	require.Len(t, res, 3)

	for i, r := range res {
		assert.Equal(t, "png", r.File.Format)
		assert.Equal(t, 1, r.PageCount)
		assert.Equal(t, []processing.SourcePages{{FileID: doc.ID, Pages: []string{"1", "2", "3"}[i]}}, r.Sources)
		assert.Equal(t, doc.AffinityToken, r.File.AffinityToken)
	}
	assert.Equal(t, []string{"b"}, f.pages(t, res[1].File))
}

func TestConvert_NoSources(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Convert(context.Background(), processing.Destination{})
	require.Error(t, err)
	assert.Zero(t, f.cluster.Requests())
}

func TestCombine_AcrossNodes(t *testing.T) {
	f := newFixture(t)
	a := f.upload(t, "pdf", "a1", "a2", "a3")
	b := f.upload(t, "pdf", "b1", "b2")
	require.NotEqual(t, a.AffinityToken, b.AffinityToken)

	combined, err := f.svc.Combine(context.Background(),
		processing.Source{Input: processing.FromWorkFile(a), Pages: "2-3"},
		processing.Source{Input: processing.FromWorkFile(b)},
	)
	require.NoError(t, err)

	assert.Equal(t, a.AffinityToken, combined.AffinityToken)
	f.requireOnOwningNode(t, combined)
	assert.Equal(t, []string{"a2", "a3", "b1", "b2"}, f.pages(t, combined))
}

func TestCombine_ReportsSourcePages(t *testing.T) {
	f := newFixture(t)
	a := f.upload(t, "pdf", "a1", "a2", "a3")
	b := f.upload(t, "pdf", "b1", "b2")

	res, err := f.svc.Convert(context.Background(), processing.Destination{Format: "pdf"},
		processing.Source{Input: processing.FromWorkFile(a), Pages: "2-3"},
		processing.Source{Input: processing.FromWorkFile(b)},
	)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 4, res[0].PageCount)
	assert.Equal(t, []processing.SourcePages{
		{FileID: a.ID, Pages: "2-3"},
		{FileID: b.ID, Pages: "1-2"},
	}, res[0].Sources)
}

func TestCombine_LocalInputsJoinFirstWorkFileNode(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "txt", "skip node 0")
	a := f.upload(t, "pdf", "a1")

	combined, err := f.svc.Combine(context.Background(),
		processing.Source{Input: processing.FromBytes(remotetest.Document("txt", "local"), "txt")},
		processing.Source{Input: processing.FromWorkFile(a)},
	)
	require.NoError(t, err)
	assert.Equal(t, a.AffinityToken, combined.AffinityToken)
	assert.Equal(t, []string{"local", "a1"}, f.pages(t, combined))
}

func TestOcrToPdf(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.OcrToPdf(context.Background(),
		processing.FromBytes(remotetest.Document("png", "scanned text"), "png"), "")
	require.NoError(t, err)
	assert.Equal(t, "pdf", out.Format)
	assert.Equal(t, []string{"scanned text"}, f.pages(t, out))
}

func TestSplit_PreservesRangeOrder(t *testing.T) {
	f := newFixture(t)
	src := processing.FromBytes(remotetest.Document("pdf", "p1", "p2", "p3", "p4"), "pdf")

	parts, err := f.svc.Split(context.Background(), src, "1-2", "3", "4")
	require.NoError(t, err)
	require.Len(t, parts, 3)

	assert.Equal(t, []string{"p1", "p2"}, f.pages(t, parts[0]))
	assert.Equal(t, []string{"p3"}, f.pages(t, parts[1]))
	assert.Equal(t, []string{"p4"}, f.pages(t, parts[2]))
}

func TestSplit_UploadsSourceOnce(t *testing.T) {
	f := newFixture(t)
	src := processing.FromBytes(remotetest.Document("pdf", "p1", "p2", "p3"), "pdf")

	_, err := f.svc.Split(context.Background(), src, "1", "2", "3")
	require.NoError(t, err)

	// One upload, then one create and one poll per range.
	assert.Equal(t, 7, f.cluster.Requests())
}

func TestSplit_FailsWhenAnyRangeFails(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "pdf", "p1", "p2")

	_, err := f.svc.Split(context.Background(), processing.FromWorkFile(doc), "1", "9")
	require.Error(t, err)

	var rerr *remoteerr.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "InvalidInput", rerr.Code)
}

func TestApplyHeaderFooter(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "txt", "alpha", "beta")

	header := &processing.HeaderFooter{Lines: []processing.HeaderFooterLine{
		{Left: "ACME", Right: "Page " + processing.PageNumberToken + " of " + processing.PageCountToken},
	}}
	footer := &processing.HeaderFooter{Lines: []processing.HeaderFooterLine{{Center: "Confidential"}}}

	out, err := f.svc.ApplyHeaderFooter(context.Background(), processing.FromWorkFile(doc), header, footer)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ACME | Page 1 of 2\nalpha\nConfidential",
		"ACME | Page 2 of 2\nbeta\nConfidential",
	}, f.pages(t, out))
}

func TestApplyHeaderFooter_RequiresOne(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApplyHeaderFooter(context.Background(), processing.FromBytes([]byte("x"), "txt"), nil, nil)
	require.Error(t, err)
	assert.Zero(t, f.cluster.Requests())
}

func TestConvert_Errors(t *testing.T) {
	t.Run("missing source document", func(t *testing.T) {
		f := newFixture(t)
		gone := models.NewWorkFile("gone", f.cluster.Tokens()[0], "pdf")

		_, err := f.svc.Combine(context.Background(), processing.Source{Input: processing.FromWorkFile(gone)})
		require.ErrorIs(t, err, remoteerr.ErrSourceDocumentNotFound)
		assert.Equal(t, `Source document WorkFile "gone" not found. The WorkFile may have expired or never existed.`, err.Error())
	})

	t.Run("unprocessable document", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Combine(context.Background(),
			processing.Source{Input: processing.FromBytes([]byte("not a pdf"), "pdf")})
		require.ErrorIs(t, err, remoteerr.ErrUnprocessableDocument)
	})

	t.Run("unknown error code", func(t *testing.T) {
		f := newFixture(t)
		f.cluster.FailNextProcess(job.ProcessorContentConverter, "ServerOnFire",
			map[string]string{"at": "input.sources", "in": "body"})

		_, err := f.svc.Combine(context.Background(),
			processing.Source{Input: processing.FromBytes(remotetest.Document("txt", "x"), "txt")})
		require.Error(t, err)
		assert.Equal(t, "Remote server returned an error: ServerOnFire {\n  \"at\": \"input.sources\",\n  \"in\": \"body\"\n}", err.Error())

		var rerr *remoteerr.Error
		require.True(t, errors.As(err, &rerr))
		assert.False(t, rerr.Known())
	})

	t.Run("unexpected state", func(t *testing.T) {
		f := newFixture(t)
		f.cluster.EndNextProcessWith(job.ProcessorContentConverter, "dead")

		_, err := f.svc.Combine(context.Background(),
			processing.Source{Input: processing.FromBytes(remotetest.Document("txt", "x"), "txt")})
		require.ErrorIs(t, err, remoteerr.ErrUnexpectedState)
		assert.True(t, strings.HasPrefix(err.Error(), `Remote server returned an unexpected job state "dead".`))
	})

	t.Run("non json error response", func(t *testing.T) {
		f := newFixture(t)
		doc := f.upload(t, "txt", "x")
		f.cluster.FailNextRequest(418, "I'm a teapot")

		_, err := f.svc.Combine(context.Background(), processing.Source{Input: processing.FromWorkFile(doc)})
		require.Error(t, err)
		assert.True(t, strings.EqualFold("Remote server returned an error: I'm a teapot", err.Error()), err.Error())
	})

	t.Run("canceled while waiting", func(t *testing.T) {
		f := newFixture(t, remotetest.WithPollsToComplete(1_000_000))
		doc := f.upload(t, "txt", "x")

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := f.svc.Combine(ctx, processing.Source{Input: processing.FromWorkFile(doc)})
		require.ErrorIs(t, err, remoteerr.ErrCanceled)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
