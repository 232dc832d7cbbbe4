package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/jobs"
	"github.com/arturoeanton/go-repoflow/internal/port"
	"github.com/arturoeanton/go-repoflow/internal/service"
)

type fakeServices struct {
	jobs    map[string]domain.ProcessingJob
	commits []domain.Commit
	audits  []string
}

func (f *fakeServices) Ask(_ context.Context, projectID, question string) (*service.Answer, error) {
	if question == "" {
		return nil, &port.ValidationError{Field: "question", Message: "is required"}
	}
	ch := make(chan string, 1)
	ch <- "It is in auth.go."
	close(ch)
	return &service.Answer{
		Stream:     ch,
		References: []domain.FileReference{{FileName: "auth.go", Similarity: 0.87}},
	}, nil
}

func (f *fakeServices) Progress(projectID string) (domain.ProcessingJob, bool) {
	j, ok := f.jobs[projectID]
	return j, ok
}

func (f *fakeServices) Ingest(_ context.Context, projectID, _ string) (*jobs.Handle, error) {
	if projectID == "busy" {
		return nil, port.ErrIngestionInProgress
	}
	return &jobs.Handle{ID: "run-9", Key: projectID}, nil
}

func (f *fakeServices) SyncCommits(_ context.Context, _, _ string) ([]domain.Commit, error) {
	return f.commits, nil
}

func (f *fakeServices) WriteAudit(_, action, _, _, _, _, _ string) error {
	f.audits = append(f.audits, action)
	return nil
}

func newTestServer() (*Server, *fakeServices) {
	f := &fakeServices{jobs: map[string]domain.ProcessingJob{}}
	return NewServer("repoflow", "test", Deps{
		Questions: f,
		Ingestion: f,
		Projects:  f,
		Commits:   f,
		Audit:     f,
	}), f
}

func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, r)
	require.NotEmpty(t, r.Content)
	tc, ok := r.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestAskQuestionTool(t *testing.T) {
	s, f := newTestServer()

	res, _, err := s.askQuestion(context.Background(), &mcp.CallToolRequest{}, AskArgs{ProjectID: "p1", Question: "where is login?"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, "It is in auth.go.")
	assert.Contains(t, text, "- auth.go (similarity 0.87)")
	assert.Equal(t, []string{domain.AuditActionMCPCall}, f.audits)

	res, _, err = s.askQuestion(context.Background(), &mcp.CallToolRequest{}, AskArgs{ProjectID: "p1"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "validation")
}

func TestIngestionProgressTool(t *testing.T) {
	s, f := newTestServer()

	res, _, err := s.ingestionProgress(context.Background(), &mcp.CallToolRequest{}, ProjectArgs{ProjectID: "p1"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	f.jobs["p1"] = domain.ProcessingJob{ID: "run-1", ProjectID: "p1", Status: domain.JobStatusProcessing}
	res, _, err = s.ingestionProgress(context.Background(), &mcp.CallToolRequest{}, ProjectArgs{ProjectID: "p1"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"status": "processing"`)
}

func TestIngestRepositoryTool(t *testing.T) {
	s, _ := newTestServer()

	res, _, err := s.ingestRepository(context.Background(), &mcp.CallToolRequest{}, IngestArgs{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "Ingestion run-9 scheduled for project p1.", resultText(t, res))

	res, _, err = s.ingestRepository(context.Background(), &mcp.CallToolRequest{}, IngestArgs{ProjectID: "busy"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "conflict")
}

func TestSyncCommitsTool(t *testing.T) {
	s, f := newTestServer()

	res, _, err := s.syncCommits(context.Background(), &mcp.CallToolRequest{}, IngestArgs{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "No new commits.", resultText(t, res))

	f.commits = []domain.Commit{{CommitHash: "0123456789abcdef", CommitMessage: "Add login\n\nlong body", Summary: "Added login"}}
	res, _, err = s.syncCommits(context.Background(), &mcp.CallToolRequest{}, IngestArgs{ProjectID: "p1"})
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "1 new commit(s)")
	assert.Contains(t, text, "0123456 Add login\nAdded login")
}

func TestHandlerRoutes(t *testing.T) {
	s, _ := newTestServer()
	assert.NotNil(t, s.Handler())
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestStartAndShutdownFromDifferentGoroutines(t *testing.T) {
	s, _ := newTestServer()

	errc := make(chan error, 1)
	go func() { errc <- s.Start("127.0.0.1:0") }()

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
