package processing_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/docjobs/internal/job"
	"github.com/kiranshivaraju/docjobs/internal/processing"
	"github.com/kiranshivaraju/docjobs/internal/remote"
	"github.com/kiranshivaraju/docjobs/internal/remotetest"
	"github.com/kiranshivaraju/docjobs/pkg/models"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	cluster *remotetest.Cluster
	client  *remote.Client
	svc     *processing.Service
}

func newFixture(t *testing.T, opts ...remotetest.Option) *fixture {
	t.Helper()
	c, srv := remotetest.NewServer(opts...)
	t.Cleanup(srv.Close)

	client := remote.NewClient(srv.URL)
	svc, err := processing.NewService(processing.Dependencies{
		Client: client,
		Poller: job.NewPoller(client, job.WithBackoff(job.ConstantBackoff(time.Millisecond))),
	})
	require.NoError(t, err)
	return &fixture{cluster: c, client: client, svc: svc}
}

func (f *fixture) upload(t *testing.T, format string, pages ...string) models.WorkFile {
	t.Helper()
	wf, err := f.svc.Upload(context.Background(), processing.FromBytes(remotetest.Document(format, pages...), format))
	require.NoError(t, err)
	return wf
}

func (f *fixture) pages(t *testing.T, wf models.WorkFile) []string {
	t.Helper()
	b, err := f.svc.Download(context.Background(), wf)
	require.NoError(t, err)
	pages, err := remotetest.Pages(wf.Format, b)
	require.NoError(t, err)
	return pages
}

// requireOnOwningNode checks that wf's token names the node that stores it.
func (f *fixture) requireOnOwningNode(t *testing.T, wf models.WorkFile) {
	t.Helper()
	token, ok := f.cluster.NodeOf(wf.ID)
	require.True(t, ok, "work file %s not stored", wf.ID)
	require.Equal(t, token, wf.AffinityToken)
}
