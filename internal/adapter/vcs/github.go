package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/port"
	"golang.org/x/sync/errgroup"
)

const githubProviderName = "github"

// GitHubConfig configures the GitHub REST source provider.
type GitHubConfig struct {
	APIURL       string // default https://api.github.com
	Token        string // used when a request carries no token of its own
	Branch       string // empty = repository default branch
	Concurrency  int    // parallel content fetches, default 5
	MaxFileBytes int    // larger blobs are skipped, default 200 KiB
	Timeout      time.Duration
}

// GitHubProvider implements port.SourceProvider using the GitHub REST API.
type GitHubProvider struct {
	cfg        GitHubConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGitHubProvider creates a GitHub-backed source provider.
func NewGitHubProvider(cfg GitHubConfig, logger *slog.Logger) *GitHubProvider {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 200 * 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Name identifies the provider.
func (g *GitHubProvider) Name() string { return githubProviderName }

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int    `json:"size"`
}

// ListFiles walks the repository tree and fetches every included text blob.
func (g *GitHubProvider) ListFiles(ctx context.Context, req port.ListFilesRequest) ([]domain.RepositoryFile, error) {
	ref, err := domain.ParseRepoURL(req.RepoURL)
	if err != nil {
		return nil, &port.ValidationError{Field: "repository_url", Message: err.Error()}
	}
	token := g.tokenFor(req.Token)

	branch := g.cfg.Branch
	if branch == "" {
		branch, err = g.defaultBranch(ctx, req.RepoURL, ref, token)
		if err != nil {
			return nil, err
		}
	}

	var tree struct {
		Tree      []treeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	treePath := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", ref.Owner, ref.Name, url.PathEscape(branch))
	if err := g.getJSON(ctx, req.RepoURL, treePath, token, &tree); err != nil {
		return nil, err
	}
	if tree.Truncated {
		g.logger.Warn("github tree listing truncated", "repo", ref.FullName(), "entries", len(tree.Tree))
	}

	var candidates []treeEntry
	for _, e := range tree.Tree {
		if e.Type != "blob" {
			continue
		}
		if e.Size > g.cfg.MaxFileBytes {
			g.logger.Debug("skipping large file", "path", e.Path, "size", e.Size)
			continue
		}
		if req.Include != nil && !req.Include(e.Path) {
			continue
		}
		candidates = append(candidates, e)
	}

	fetched := make([]*domain.RepositoryFile, len(candidates))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i, e := range candidates {
		eg.Go(func() error {
			contentPath := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", ref.Owner, ref.Name, escapePath(e.Path), url.QueryEscape(branch))
			body, err := g.get(egCtx, req.RepoURL, contentPath, "application/vnd.github.raw", token)
			if err != nil {
				if isFatalLoadError(err) {
					return err
				}
				g.logger.Warn("skipping unreadable file", "path", e.Path, "error", err)
				return nil
			}
			if !isText(body) {
				return nil
			}
			fetched[i] = &domain.RepositoryFile{
				Path:       e.Path,
				Content:    string(body),
				Repository: ref.FullName(),
				Branch:     branch,
				Size:       len(body),
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

// ListRecentCommits returns up to limit commits of the default branch, newest first.
func (g *GitHubProvider) ListRecentCommits(ctx context.Context, repoURL, token string, limit int) ([]domain.CommitInfo, error) {
	ref, err := domain.ParseRepoURL(repoURL)
	if err != nil {
		return nil, &port.ValidationError{Field: "repository_url", Message: err.Error()}
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	var raw []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string    `json:"name"`
				Date time.Time `json:"date"`
			} `json:"author"`
		} `json:"commit"`
		Author *struct {
			AvatarURL string `json:"avatar_url"`
		} `json:"author"`
	}
	path := fmt.Sprintf("/repos/%s/%s/commits?per_page=%d", ref.Owner, ref.Name, limit)
	if err := g.getJSON(ctx, repoURL, path, g.tokenFor(token), &raw); err != nil {
		return nil, err
	}

	commits := make([]domain.CommitInfo, 0, len(raw))
	for _, c := range raw {
		info := domain.CommitInfo{
			Hash:       c.SHA,
			Message:    c.Commit.Message,
			AuthorName: c.Commit.Author.Name,
			Date:       c.Commit.Author.Date,
		}
		if c.Author != nil {
			info.AuthorAvatar = c.Author.AvatarURL
		}
		commits = append(commits, info)
	}
	sort.SliceStable(commits, func(i, j int) bool {
		return commits[i].Date.After(commits[j].Date)
	})
	return commits, nil
}

// CommitDiff returns the unified diff of a single commit.
func (g *GitHubProvider) CommitDiff(ctx context.Context, repoURL, token, hash string) (string, error) {
	ref, err := domain.ParseRepoURL(repoURL)
	if err != nil {
		return "", &port.ValidationError{Field: "repository_url", Message: err.Error()}
	}
	path := fmt.Sprintf("/repos/%s/%s/commits/%s", ref.Owner, ref.Name, url.PathEscape(hash))
	body, err := g.get(ctx, repoURL, path, "application/vnd.github.v3.diff", g.tokenFor(token))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (g *GitHubProvider) defaultBranch(ctx context.Context, repoURL string, ref domain.RepoRef, token string) (string, error) {
	var repo struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := g.getJSON(ctx, repoURL, fmt.Sprintf("/repos/%s/%s", ref.Owner, ref.Name), token, &repo); err != nil {
		return "", err
	}
	if repo.DefaultBranch == "" {
		return "main", nil
	}
	return repo.DefaultBranch, nil
}

func (g *GitHubProvider) tokenFor(token string) string {
	if token != "" {
		return token
	}
	return g.cfg.Token
}

func (g *GitHubProvider) getJSON(ctx context.Context, repoURL, path, token string, out interface{}) error {
	body, err := g.get(ctx, repoURL, path, "application/vnd.github+json", token)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &port.RepositoryLoadError{Reason: port.ReasonUnknown, RepositoryURL: repoURL, Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}

// get performs an authenticated GET and classifies every failure into a
// *port.RepositoryLoadError.
func (g *GitHubProvider) get(ctx context.Context, repoURL, path, accept, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.APIURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, repoURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(ctx, repoURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(repoURL, resp.StatusCode, resp.Header, body, time.Now())
	}
	return body, nil
}

func classifyTransport(ctx context.Context, repoURL string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	reason := port.ReasonNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		reason = port.ReasonTimeout
	}
	return &port.RepositoryLoadError{Reason: reason, RepositoryURL: repoURL, Err: err}
}

func classifyResponse(repoURL string, status int, header http.Header, body []byte, now time.Time) error {
	apiErr := &port.ProviderAPIError{Provider: githubProviderName, StatusCode: status, Message: githubMessage(body)}
	loadErr := &port.RepositoryLoadError{RepositoryURL: repoURL, Err: apiErr}

	switch {
	case status == http.StatusNotFound:
		loadErr.Reason = port.ReasonNotFound
	case status == http.StatusUnauthorized:
		loadErr.Reason = port.ReasonUnauthorized
	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden && (header.Get("X-RateLimit-Remaining") == "0" || header.Get("Retry-After") != ""):
		loadErr.Reason = port.ReasonRateLimited
		loadErr.Err = &port.RateLimitError{Provider: githubProviderName, RetryAfter: githubRetryAfter(header, now), Err: apiErr}
	case status == http.StatusForbidden:
		loadErr.Reason = port.ReasonForbidden
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		loadErr.Reason = port.ReasonTimeout
	default:
		loadErr.Reason = port.ReasonUnknown
	}
	return loadErr
}

// githubRetryAfter reads Retry-After, then the X-RateLimit-Reset epoch.
func githubRetryAfter(header http.Header, now time.Time) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := header.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}

func githubMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

// isFatalLoadError reports whether a per-file failure should abort the load.
func isFatalLoadError(err error) bool {
	var loadErr *port.RepositoryLoadError
	if !errors.As(err, &loadErr) {
		return true
	}
	switch loadErr.Reason {
	case port.ReasonRateLimited, port.ReasonUnauthorized, port.ReasonForbidden:
		return true
	}
	return false
}

func isText(b []byte) bool {
	return utf8.Valid(b) && !bytes.Contains(b, []byte{0})
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
