package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/port"
	"golang.org/x/sync/errgroup"
)

const gitProviderName = "git"

// GitConfig configures the git CLI source provider.
type GitConfig struct {
	BasePath     string // local clone cache
	Token        string // injected into https clone URLs
	Depth        int    // shallow clone depth, default 50
	Concurrency  int
	MaxFileBytes int
}

// GitProvider implements port.SourceProvider using the git CLI against a
// local shallow clone cache.
type GitProvider struct {
	cfg    GitConfig
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per clone directory
}

// NewGitProvider creates a new Git source provider.
func NewGitProvider(cfg GitConfig, logger *slog.Logger) *GitProvider {
	if cfg.BasePath == "" {
		cfg.BasePath = filepath.Join(os.TempDir(), "repoflow-repos")
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 200 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitProvider{cfg: cfg, logger: logger, locks: make(map[string]*sync.Mutex)}
}

// Name identifies the provider.
func (g *GitProvider) Name() string { return gitProviderName }

// ListFiles syncs the clone and reads every tracked, included text file.
func (g *GitProvider) ListFiles(ctx context.Context, req port.ListFilesRequest) ([]domain.RepositoryFile, error) {
	ref, dir, err := g.sync(ctx, req.RepoURL, req.Token)
	if err != nil {
		return nil, err
	}

	out, err := g.run(ctx, req.RepoURL, "-C", dir, "ls-tree", "-r", "--name-only", "HEAD")
	if err != nil {
		return nil, err
	}
	branch, _ := g.run(ctx, req.RepoURL, "-C", dir, "rev-parse", "--abbrev-ref", "HEAD")

	var paths []string
	for _, p := range strings.Split(strings.TrimSpace(out), "\n") {
		p = strings.TrimSpace(p)
		if p == "" || (req.Include != nil && !req.Include(p)) {
			continue
		}
		paths = append(paths, p)
	}

	fetched := make([]*domain.RepositoryFile, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i, p := range paths {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			full := filepath.Join(dir, p)
			info, err := os.Stat(full)
			if err != nil || !info.Mode().IsRegular() || info.Size() > int64(g.cfg.MaxFileBytes) {
				return nil
			}
			content, err := os.ReadFile(full)
			if err != nil {
				g.logger.Warn("skipping unreadable file", "path", p, "error", err)
				return nil
			}
			if !isText(content) {
				return nil
			}
			fetched[i] = &domain.RepositoryFile{
				Path:       p,
				Content:    string(content),
				Repository: ref.FullName(),
				Branch:     strings.TrimSpace(branch),
				Size:       len(content),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	files := make([]domain.RepositoryFile, 0, len(fetched))
	for _, f := range fetched {
		if f != nil {
			files = append(files, *f)
		}
	}
	return files, nil
}

// ListRecentCommits returns the latest commits, newest first.
func (g *GitProvider) ListRecentCommits(ctx context.Context, repoURL, token string, limit int) ([]domain.CommitInfo, error) {
	_, dir, err := g.sync(ctx, repoURL, token)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	out, err := g.run(ctx, repoURL, "-C", dir, "log", "--format="+logFormat, fmt.Sprintf("-n%d", limit))
	if err != nil {
		return nil, err
	}
	return parseLog(out), nil
}

// CommitDiff returns the patch introduced by hash.
func (g *GitProvider) CommitDiff(ctx context.Context, repoURL, token, hash string) (string, error) {
	_, dir, err := g.sync(ctx, repoURL, token)
	if err != nil {
		return "", err
	}
	return g.run(ctx, repoURL, "-C", dir, "show", "--format=", "--patch", hash)
}

// sync clones the repository on first use and refreshes it afterwards.
func (g *GitProvider) sync(ctx context.Context, repoURL, token string) (domain.RepoRef, string, error) {
	ref, err := domain.ParseRepoURL(repoURL)
	if err != nil {
		return ref, "", &port.ValidationError{Field: "repository_url", Message: err.Error()}
	}
	dir := filepath.Join(g.cfg.BasePath, ref.Host, ref.Owner, ref.Name)

	lock := g.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()

	depth := fmt.Sprintf("--depth=%d", g.cfg.Depth)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		if _, err := g.run(ctx, repoURL, "-C", dir, "fetch", depth, "origin"); err != nil {
			return ref, "", err
		}
		if _, err := g.run(ctx, repoURL, "-C", dir, "reset", "--hard", "FETCH_HEAD"); err != nil {
			return ref, "", err
		}
		return ref, dir, nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return ref, "", fmt.Errorf("create clone dir: %w", err)
	}
	if _, err := g.run(ctx, repoURL, "clone", depth, authURL(ref, g.tokenFor(token)), dir); err != nil {
		_ = os.RemoveAll(dir)
		return ref, "", err
	}
	return ref, dir, nil
}

func (g *GitProvider) lockFor(dir string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[dir]
	if !ok {
		l = &sync.Mutex{}
		g.locks[dir] = l
	}
	return l
}

func (g *GitProvider) tokenFor(token string) string {
	if token != "" {
		return token
	}
	return g.cfg.Token
}

// run executes git and classifies failures from its exit status and stderr.
func (g *GitProvider) run(ctx context.Context, repoURL string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", classifyGitError(ctx, repoURL, stderr.String(), err)
	}
	return string(out), nil
}

func classifyGitError(ctx context.Context, repoURL, stderr string, err error) error {
	msg := strings.ToLower(stderr)
	reason := port.ReasonUnknown
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = port.ReasonTimeout
	case strings.Contains(msg, "repository not found"), strings.Contains(msg, "not found"):
		reason = port.ReasonNotFound
	case strings.Contains(msg, "authentication failed"), strings.Contains(msg, "could not read username"):
		reason = port.ReasonUnauthorized
	case strings.Contains(msg, "403"), strings.Contains(msg, "permission denied"):
		reason = port.ReasonForbidden
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		reason = port.ReasonRateLimited
	case strings.Contains(msg, "could not resolve host"), strings.Contains(msg, "unable to access"), strings.Contains(msg, "connection"):
		reason = port.ReasonNetwork
	}
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = err.Error()
	}
	return &port.RepositoryLoadError{Reason: reason, RepositoryURL: repoURL, Err: errors.New(redactCredentials(detail))}
}

// logFormat uses the ASCII unit separator so subjects may contain any text.
const logFormat = "%H\x1f%an\x1f%aI\x1f%s"

// parseLog parses git log output produced with logFormat.
func parseLog(out string) []domain.CommitInfo {
	var commits []domain.CommitInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\x1f", 4)
		if len(parts) < 4 {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, parts[2])
		commits = append(commits, domain.CommitInfo{
			Hash:       parts[0],
			AuthorName: parts[1],
			Date:       ts,
			Message:    parts[3],
		})
	}
	return commits
}

func authURL(ref domain.RepoRef, token string) string {
	if token == "" {
		return ref.CloneURL()
	}
	return fmt.Sprintf("https://x-access-token:%s@%s/%s/%s.git", token, ref.Host, ref.Owner, ref.Name)
}

var credentialsRe = regexp.MustCompile(`://[^/@\s]+@`)

// redactCredentials strips userinfo from any URL echoed by git.
func redactCredentials(s string) string {
	return credentialsRe.ReplaceAllString(s, "://***@")
}
