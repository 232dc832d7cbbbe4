package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

// fakeProvider answers every file with a summary and a vector. Failures are
// scripted per path and stage.
type fakeProvider struct {
	mu         sync.Mutex
	dim        int
	summaryErr map[string][]error // consumed in order, one per call
	embedErr   map[string][]error
	summaries  map[string]string
	calls      map[string]int
}

func newFakeProvider(dim int) *fakeProvider {
	return &fakeProvider{
		dim:        dim,
		summaryErr: map[string][]error{},
		embedErr:   map[string][]error{},
		summaries:  map[string]string{},
		calls:      map[string]int{},
	}
}

func (f *fakeProvider) ModelName(port.Task) string { return "fake" }
func (f *fakeProvider) Dimension() int            { return f.dim }

func (f *fakeProvider) SummarizeCode(ctx context.Context, path, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["summarize:"+path]++
	if errs := f.summaryErr[path]; len(errs) > 0 {
		f.summaryErr[path] = errs[1:]
		if errs[0] != nil {
			return "", errs[0]
		}
	}
	if s, ok := f.summaries[path]; ok {
		return s, nil
	}
	return "summary of " + path, nil
}

func (f *fakeProvider) SummarizeDiff(ctx context.Context, diff string) (string, error) {
	return "diff summary", nil
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["embed:"+text]++
	if errs := f.embedErr[text]; len(errs) > 0 {
		f.embedErr[text] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = 0.5
	}
	return v, nil
}

func (f *fakeProvider) StreamAnswer(ctx context.Context, prompt string) (<-chan port.AnswerChunk, error) {
	ch := make(chan port.AnswerChunk)
	close(ch)
	return ch, nil
}

func (f *fakeProvider) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// fakeEmbeddingStore records rows and fails scripted file names.
type fakeEmbeddingStore struct {
	mu    sync.Mutex
	rows  []domain.SourceCodeEmbedding
	errs  map[string][]error
	calls map[string]int
}

func newFakeEmbeddingStore() *fakeEmbeddingStore {
	return &fakeEmbeddingStore{errs: map[string][]error{}, calls: map[string]int{}}
}

func (s *fakeEmbeddingStore) CreateEmbedding(ctx context.Context, e *domain.SourceCodeEmbedding) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[e.FileName]++
	if errs := s.errs[e.FileName]; len(errs) > 0 {
		s.errs[e.FileName] = errs[1:]
		if errs[0] != nil {
			return "", errs[0]
		}
	}
	row := *e
	row.ID = fmt.Sprintf("row-%d", len(s.rows)+1)
	s.rows = append(s.rows, row)
	return row.ID, nil
}

func (s *fakeEmbeddingStore) SimilaritySearch(ctx context.Context, projectID string, vector []float32, threshold float64, limit int) ([]domain.FileReference, error) {
	return nil, nil
}

func (s *fakeEmbeddingStore) DeleteStaleEmbeddings(ctx context.Context, projectID, keepRunID string) (int64, error) {
	return 0, nil
}

// recordingSleeper returns immediately and records requested waits.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func makeFiles(n int) []domain.RepositoryFile {
	files := make([]domain.RepositoryFile, n)
	for i := range files {
		files[i] = domain.RepositoryFile{
			Path:    fmt.Sprintf("src/file_%03d.go", i),
			Content: fmt.Sprintf("package src // %d", i),
		}
	}
	return files
}
