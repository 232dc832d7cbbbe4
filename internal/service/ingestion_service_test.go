package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/ingest"
	"github.com/arturoeanton/go-repoflow/internal/jobs"
	"github.com/arturoeanton/go-repoflow/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRepo = "https://github.com/acme/widgets"

type ingestFixture struct {
	svc     *IngestionService
	store   *memStore
	source  *fakeSource
	ai      *fakeAI
	tracker *jobs.Tracker
	queue   *jobs.Queue
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()

	store := newMemStore()
	store.addProject("p1", testRepo)
	source := &fakeSource{
		files: []domain.RepositoryFile{
			{Path: "A.go", Content: "package a"},
			{Path: "B.go", Content: "package b"},
			{Path: "C.go", Content: "package c"},
		},
		diffs: map[string]string{},
	}
	ai := newFakeAI()

	filter, err := ingest.NewFilter()
	require.NoError(t, err)

	pcfg := ingest.DefaultPipelineConfig()
	pcfg.ItemInterval = 0
	pipeline := ingest.NewPipeline(ai, pcfg, nil)
	pipeline.SetSleeper(noSleep)

	writer := ingest.NewWriter(store, ingest.DefaultWriterConfig(), nil)
	writer.SetSleeper(noSleep)

	commits := NewCommitService(source, ai, store, store, store, DefaultCommitConfig(), nil)
	commits.SetSleeper(noSleep)

	tracker := jobs.NewTracker()
	queue := jobs.NewQueue(1, 4, nil)
	queue.Start()
	t.Cleanup(func() { _ = queue.Shutdown(context.Background()) })

	svc := NewIngestionService(IngestionDeps{
		Loader:     ingest.NewLoader(source, filter, "github.com", nil),
		Pipeline:   pipeline,
		Writer:     writer,
		Embeddings: store,
		Projects:   store,
		Jobs:       tracker,
		Queue:      queue,
		Commits:    commits,
		Audit:      store,
	})
	return &ingestFixture{svc: svc, store: store, source: source, ai: ai, tracker: tracker, queue: queue}
}

func fileNames(results []domain.EmbeddingResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.FileName
	}
	return out
}

func TestIngestRepositoryPartialSuccessCompletes(t *testing.T) {
	f := newIngestFixture(t)
	f.ai.failPaths["B.go"] = true

	res, err := f.svc.IngestRepository(context.Background(), IngestRequest{ProjectID: "p1", RepoURL: testRepo})
	require.NoError(t, err)

	assert.Equal(t, []string{"A.go", "C.go"}, fileNames(res.Successful))
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "B.go", res.Failed[0].FileName)
	assert.NotEmpty(t, res.Failed[0].Error)
	assert.Equal(t, 2, res.Stats.Saved)

	assert.Equal(t, domain.ProjectStatusCompleted, f.store.status("p1"))
	assert.Equal(t, []string{domain.ProjectStatusIndexing, domain.ProjectStatusCompleted}, f.store.statuses["p1"])

	job, ok := f.svc.Progress("p1")
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, domain.PhaseSaving, job.Progress.Phase)
	assert.Equal(t, 2, job.Saved)
	require.NotNil(t, job.CompletedAt)

	for _, row := range f.store.rowsFor("p1") {
		assert.Equal(t, job.ID, row.RunID)
		assert.Len(t, row.Embedding, testDim)
	}
	assert.Contains(t, f.store.audits, domain.AuditActionIngestStarted)
	assert.Contains(t, f.store.audits, domain.AuditActionIngestCompleted)
	assert.Equal(t, 1, f.source.listed, "commit sync runs after completion")
}

func TestIngestRepositoryAllFilesFailing(t *testing.T) {
	f := newIngestFixture(t)
	for _, file := range f.source.files {
		f.ai.failPaths[file.Path] = true
	}

	res, err := f.svc.IngestRepository(context.Background(), IngestRequest{ProjectID: "p1", RepoURL: testRepo})
	assert.ErrorIs(t, err, port.ErrNoEmbeddings)
	require.NotNil(t, res)
	assert.Len(t, res.Failed, 3)
	for _, file := range f.source.files {
		assert.Equal(t, 3, f.ai.summarized[file.Path], "every attempt is spent on %s", file.Path)
	}

	assert.Equal(t, domain.ProjectStatusFailed, f.store.status("p1"))
	job, _ := f.svc.Progress("p1")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "no file produced")
	assert.Zero(t, f.source.listed, "no commit sync after failure")
}

func TestIngestRepositoryLoadFailure(t *testing.T) {
	f := newIngestFixture(t)
	f.source.err = &port.RepositoryLoadError{Reason: port.ReasonNotFound, RepositoryURL: testRepo}

	_, err := f.svc.IngestRepository(context.Background(), IngestRequest{ProjectID: "p1", RepoURL: testRepo})
	var loadErr *port.RepositoryLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, port.ReasonNotFound, loadErr.Reason)

	assert.Equal(t, domain.ProjectStatusFailed, f.store.status("p1"))
	job, _ := f.svc.Progress("p1")
	assert.Equal(t, domain.PhaseLoading, job.Progress.Phase)
	assert.Contains(t, f.store.audits, domain.AuditActionIngestFailed)
}

func TestIngestRepositoryNothingSaved(t *testing.T) {
	f := newIngestFixture(t)
	f.store.saveErr = &port.DatabaseError{Op: "insert embedding", Category: port.DBConnection, Err: errors.New("refused")}

	res, err := f.svc.IngestRepository(context.Background(), IngestRequest{ProjectID: "p1", RepoURL: testRepo})
	assert.ErrorIs(t, err, port.ErrNothingSaved)
	require.NotNil(t, res)
	assert.Equal(t, domain.ProjectStatusFailed, f.store.status("p1"))
}

func TestIngestRepositoryCancelledRunStillSettles(t *testing.T) {
	f := newIngestFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.IngestRepository(ctx, IngestRequest{ProjectID: "p1", RepoURL: testRepo})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.ProjectStatusFailed, f.store.status("p1"))

	job, _ := f.svc.Progress("p1")
	assert.True(t, job.Done())
}

func TestIngestRepositoryReplacesPreviousRun(t *testing.T) {
	f := newIngestFixture(t)

	_, err := f.svc.IngestRepository(context.Background(), IngestRequest{ProjectID: "p1", RepoURL: testRepo})
	require.NoError(t, err)
	first, _ := f.svc.Progress("p1")

	_, err = f.svc.IngestRepository(context.Background(), IngestRequest{ProjectID: "p1", RepoURL: testRepo})
	require.NoError(t, err)
	second, _ := f.svc.Progress("p1")

	require.NotEqual(t, first.ID, second.ID)
	rows := f.store.rowsFor("p1")
	assert.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, second.ID, r.RunID)
	}
}

func TestIngestRepositoryValidation(t *testing.T) {
	f := newIngestFixture(t)

	_, err := f.svc.IngestRepository(context.Background(), IngestRequest{ProjectID: "p1", RepoURL: "https://example.com/a/b"})
	var validation *port.ValidationError
	assert.True(t, errors.As(err, &validation))

	_, err = f.svc.IngestRepository(context.Background(), IngestRequest{RepoURL: testRepo})
	assert.True(t, errors.As(err, &validation))
	assert.Equal(t, domain.ProjectStatusIndexing, f.store.status("p1"), "validation does not touch the project")
}

func TestSubmitRunsInBackgroundAndRejectsDuplicates(t *testing.T) {
	f := newIngestFixture(t)
	f.source.gate = make(chan struct{})

	h, err := f.svc.Submit(IngestRequest{ProjectID: "p1", RepoURL: testRepo})
	require.NoError(t, err)

	job, ok := f.svc.Progress("p1")
	require.True(t, ok)
	assert.False(t, job.Done())

	_, err = f.svc.Submit(IngestRequest{ProjectID: "p1", RepoURL: testRepo})
	assert.ErrorIs(t, err, port.ErrIngestionInProgress)

	close(f.source.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	job, _ = f.svc.Progress("p1")
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, domain.ProjectStatusCompleted, f.store.status("p1"))
}

func TestCancelStopsRunningIngestion(t *testing.T) {
	f := newIngestFixture(t)
	f.source.gate = make(chan struct{})

	h, err := f.svc.Submit(IngestRequest{ProjectID: "p1", RepoURL: testRepo})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, _ := f.svc.Progress("p1")
		return job.Progress.Phase == domain.PhaseLoading
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, f.svc.Cancel("p1"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.Canceled)
	assert.Equal(t, domain.ProjectStatusFailed, f.store.status("p1"))
}

func TestCancelQueuedIngestionStillSettles(t *testing.T) {
	f := newIngestFixture(t)
	f.store.addProject("p2", "https://github.com/acme/gadgets")
	f.source.gate = make(chan struct{})

	busy, err := f.svc.Submit(IngestRequest{ProjectID: "p1", RepoURL: testRepo})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job, _ := f.svc.Progress("p1")
		return job.Progress.Phase == domain.PhaseLoading
	}, 2*time.Second, 5*time.Millisecond)

	queued, err := f.svc.Submit(IngestRequest{ProjectID: "p2", RepoURL: "https://github.com/acme/gadgets"})
	require.NoError(t, err)
	assert.True(t, f.svc.Cancel("p2"))
	close(f.source.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, busy.Wait(ctx))
	assert.ErrorIs(t, queued.Wait(ctx), context.Canceled)

	job, ok := f.svc.Progress("p2")
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, domain.ProjectStatusFailed, f.store.status("p2"))
}
