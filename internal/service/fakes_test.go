package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

const testDim = 4

type fakeAI struct {
	mu          sync.Mutex
	failPaths   map[string]bool
	answer      []port.AnswerChunk
	streamErr   error
	prompts     []string
	diffs       []string
	diffSummary string
	diffErr     map[string]error
	queryVector []float32
	summarized  map[string]int
}

func newFakeAI() *fakeAI {
	return &fakeAI{
		failPaths:   map[string]bool{},
		diffErr:     map[string]error{},
		summarized:  map[string]int{},
		diffSummary: "* Added a feature\n* Fixed a bug",
	}
}

func (f *fakeAI) ModelName(port.Task) string { return "fake" }
func (f *fakeAI) Dimension() int            { return testDim }

func (f *fakeAI) SummarizeCode(ctx context.Context, path, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summarized[path]++
	if f.failPaths[path] {
		return "", &port.ProviderAPIError{Provider: "fake", StatusCode: 400, Message: "cannot summarise " + path}
	}
	return "summary of " + path, nil
}

func (f *fakeAI) SummarizeDiff(ctx context.Context, diff string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffs = append(f.diffs, diff)
	if err := f.diffErr[diff]; err != nil {
		return "", err
	}
	return f.diffSummary, nil
}

func (f *fakeAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.queryVector != nil {
		return f.queryVector, nil
	}
	return []float32{0.1, 0.2, 0.3, 0.4}, nil
}

func (f *fakeAI) StreamAnswer(ctx context.Context, prompt string) (<-chan port.AnswerChunk, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan port.AnswerChunk, len(f.answer))
	for _, c := range f.answer {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type fakeSource struct {
	mu      sync.Mutex
	tokens  []string
	files   []domain.RepositoryFile
	err     error
	commits []domain.CommitInfo
	diffs   map[string]string
	diffErr map[string]error
	listed  int
	gate    chan struct{} // when set, ListFiles blocks until closed or ctx done
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) ListFiles(ctx context.Context, req port.ListFilesRequest) ([]domain.RepositoryFile, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.RepositoryFile(nil), f.files...), nil
}

func (f *fakeSource) ListRecentCommits(ctx context.Context, repoURL, token string, limit int) ([]domain.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	f.tokens = append(f.tokens, token)
	if len(f.commits) > limit {
		return f.commits[:limit], nil
	}
	return f.commits, nil
}

func (f *fakeSource) CommitDiff(ctx context.Context, repoURL, token, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if err := f.diffErr[hash]; err != nil {
		return "", err
	}
	return f.diffs[hash], nil
}

// memStore implements every store port in memory.
type memStore struct {
	mu         sync.Mutex
	projects   map[string]*domain.Project
	statuses   map[string][]string
	embeddings []domain.SourceCodeEmbedding
	commits    []domain.Commit
	questions  []domain.Question
	audits     []string
	saveErr    error
	statusErr  error
	refs       []domain.FileReference
}

func newMemStore() *memStore {
	return &memStore{projects: map[string]*domain.Project{}, statuses: map[string][]string{}}
}

func (m *memStore) addProject(id, url string) {
	m.projects[id] = &domain.Project{ID: id, Name: id, GitHubURL: url, Status: domain.ProjectStatusIndexing}
}

func (m *memStore) CreateProject(ctx context.Context, p *domain.Project) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.ID = fmt.Sprintf("proj-%d", len(m.projects)+1)
	cp.CreatedAt = time.Now()
	m.projects[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, port.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpdateProjectStatus(ctx context.Context, id, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil && status == domain.ProjectStatusIndexing {
		return m.statusErr
	}
	p, ok := m.projects[id]
	if !ok {
		return port.ErrProjectNotFound
	}
	p.Status = status
	m.statuses[id] = append(m.statuses[id], status)
	return nil
}

func (m *memStore) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projects[id].Status
}

func (m *memStore) CreateEmbedding(ctx context.Context, e *domain.SourceCodeEmbedding) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	row := *e
	row.ID = fmt.Sprintf("emb-%d", len(m.embeddings)+1)
	m.embeddings = append(m.embeddings, row)
	return row.ID, nil
}

func (m *memStore) SimilaritySearch(ctx context.Context, projectID string, vector []float32, threshold float64, limit int) ([]domain.FileReference, error) {
	return m.refs, nil
}

func (m *memStore) DeleteStaleEmbeddings(ctx context.Context, projectID, keepRunID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.embeddings[:0]
	var removed int64
	for _, e := range m.embeddings {
		if e.ProjectID == projectID && e.RunID != keepRunID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.embeddings = kept
	return removed, nil
}

func (m *memStore) rowsFor(projectID string) []domain.SourceCodeEmbedding {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SourceCodeEmbedding
	for _, e := range m.embeddings {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) CreateCommit(ctx context.Context, c *domain.Commit) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.commits {
		if existing.ProjectID == c.ProjectID && existing.CommitHash == c.CommitHash {
			return false, nil
		}
	}
	c.ID = fmt.Sprintf("commit-%d", len(m.commits)+1)
	m.commits = append(m.commits, *c)
	return true, nil
}

func (m *memStore) ListCommitHashes(ctx context.Context, projectID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.commits {
		if c.ProjectID == projectID {
			out = append(out, c.CommitHash)
		}
	}
	return out, nil
}

func (m *memStore) ListCommits(ctx context.Context, projectID string, limit, offset int) ([]domain.Commit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Commit
	for _, c := range m.commits {
		if c.ProjectID == projectID {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CommitDate.After(all[j].CommitDate) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (m *memStore) SaveQuestion(ctx context.Context, q *domain.Question) (*domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *q
	cp.ID = fmt.Sprintf("q-%d", len(m.questions)+1)
	m.questions = append(m.questions, cp)
	return &cp, nil
}

func (m *memStore) ListQuestions(ctx context.Context, projectID string, limit, offset int) ([]domain.Question, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Question
	for _, q := range m.questions {
		if q.ProjectID == projectID {
			out = append(out, q)
		}
	}
	return out, len(out), nil
}

func (m *memStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, action)
	return nil
}

func (f *fakeSource) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listed
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }
