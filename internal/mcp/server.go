// Package mcp exposes ingestion and question answering to AI agents over the
// Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/jobs"
	"github.com/arturoeanton/go-repoflow/internal/port"
	"github.com/arturoeanton/go-repoflow/internal/service"
)

// Questions answers questions about an ingested project.
type Questions interface {
	Ask(ctx context.Context, projectID, question string) (*service.Answer, error)
}

// Ingestion reports and schedules ingestion runs.
type Ingestion interface {
	Progress(projectID string) (domain.ProcessingJob, bool)
}

// Projects schedules a (re)ingestion of an existing project.
type Projects interface {
	Ingest(ctx context.Context, projectID, token string) (*jobs.Handle, error)
}

// Commits summarises new commits of a project.
type Commits interface {
	SyncCommits(ctx context.Context, projectID, token string) ([]domain.Commit, error)
}

// Deps are the services behind the tools.
type Deps struct {
	Questions Questions
	Ingestion Ingestion
	Projects  Projects
	Commits   Commits
	Audit     port.AuditWriter // optional
	Logger    *slog.Logger
}

// Server wraps an MCP server and the HTTP listener serving it.
type Server struct {
	mcp    *mcp.Server
	deps   Deps
	logger *slog.Logger
	http   *http.Server
}

// NewServer creates the MCP server and registers its tools.
func NewServer(name, version string, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:    mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		deps:   d,
		logger: logger,
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask_question",
		Description: "Answer a question about an ingested repository using its most relevant files",
	}, s.askQuestion)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingestion_progress",
		Description: "Report the status and progress of a project's latest ingestion run",
	}, s.ingestionProgress)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_repository",
		Description: "Schedule a re-ingestion of a registered project",
	}, s.ingestRepository)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_commits",
		Description: "Summarise the project's recent commits that are not stored yet",
	}, s.syncCommits)

	return s
}

// Handler serves streamable HTTP at /mcp and the legacy SSE transport at
// /mcp/sse.
func (s *Server) Handler() http.Handler {
	getServer := func(*http.Request) *mcp.Server { return s.mcp }

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(getServer, nil))
	mux.Handle("/mcp/sse", mcp.NewSSEHandler(getServer, nil))
	return mux
}

// Start listens on addr until Shutdown is called. It may run on its own
// goroutine concurrently with Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("MCP server starting", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener started by Start. A later Start returns
// immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// AskArgs are the ask_question arguments.
type AskArgs struct {
	ProjectID string `json:"project_id" jsonschema:"ID of the ingested project"`
	Question  string `json:"question" jsonschema:"Question about the repository"`
}

// ProjectArgs identify a project.
type ProjectArgs struct {
	ProjectID string `json:"project_id" jsonschema:"ID of the project"`
}

// IngestArgs are the ingest_repository and sync_commits arguments.
type IngestArgs struct {
	ProjectID   string `json:"project_id" jsonschema:"ID of the project"`
	GitHubToken string `json:"github_token,omitempty" jsonschema:"Optional token for private repositories"`
}

func (s *Server) askQuestion(ctx context.Context, _ *mcp.CallToolRequest, args AskArgs) (*mcp.CallToolResult, any, error) {
	s.audit("ask_question", args.ProjectID)

	answer, err := s.deps.Questions.Ask(ctx, args.ProjectID, args.Question)
	if err != nil {
		return toolError(err), nil, nil
	}
	text, err := answer.Collect(ctx)
	if err != nil {
		return toolError(err), nil, nil
	}

	var b strings.Builder
	b.WriteString(text)
	if len(answer.References) > 0 {
		b.WriteString("\n\nReferences:\n")
		for _, r := range answer.References {
			fmt.Fprintf(&b, "- %s (similarity %.2f)\n", r.FileName, r.Similarity)
		}
	}
	return textResult(b.String()), nil, nil
}

func (s *Server) ingestionProgress(_ context.Context, _ *mcp.CallToolRequest, args ProjectArgs) (*mcp.CallToolResult, any, error) {
	job, ok := s.deps.Ingestion.Progress(args.ProjectID)
	if !ok {
		return toolError(port.ErrJobNotFound), nil, nil
	}
	return jsonResult(job)
}

func (s *Server) ingestRepository(ctx context.Context, _ *mcp.CallToolRequest, args IngestArgs) (*mcp.CallToolResult, any, error) {
	s.audit("ingest_repository", args.ProjectID)

	h, err := s.deps.Projects.Ingest(ctx, args.ProjectID, args.GitHubToken)
	if err != nil {
		return toolError(err), nil, nil
	}
	return textResult(fmt.Sprintf("Ingestion %s scheduled for project %s.", h.ID, h.Key)), nil, nil
}

func (s *Server) syncCommits(ctx context.Context, _ *mcp.CallToolRequest, args IngestArgs) (*mcp.CallToolResult, any, error) {
	s.audit("sync_commits", args.ProjectID)

	added, err := s.deps.Commits.SyncCommits(ctx, args.ProjectID, args.GitHubToken)
	if err != nil {
		return toolError(err), nil, nil
	}
	if len(added) == 0 {
		return textResult("No new commits."), nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d new commit(s):\n", len(added))
	for _, c := range added {
		fmt.Fprintf(&b, "\n%s %s\n%s\n", shortHash(c.CommitHash), firstLine(c.CommitMessage), c.Summary)
	}
	return textResult(b.String()), nil, nil
}

func (s *Server) audit(tool, projectID string) {
	if s.deps.Audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"tool": tool})
	if err := s.deps.Audit.WriteAudit("mcp", domain.AuditActionMCPCall, "project", projectID, string(details), "", ""); err != nil {
		s.logger.Warn("audit write failed", "tool", tool, "error", err)
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(raw)), nil, nil
}

// toolError reports a failure to the agent as tool output rather than a
// protocol error.
func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s: %v", port.KindOf(err), err)}},
		IsError: true,
	}
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
