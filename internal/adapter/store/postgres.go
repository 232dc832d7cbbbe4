package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore handles all relational database operations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and returns a store instance.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewFromDB wraps an already opened handle.
func NewFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the idempotent schema. dimension sizes the vector column.
func (s *PostgresStore) Migrate(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("migrate: invalid embedding dimension %d", dimension)
	}
	ddl := renderSchema(dimension)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return classify("migrate", err)
	}
	return nil
}

func renderSchema(dimension int) string {
	return strings.ReplaceAll(schemaSQL, "{{dimension}}", strconv.Itoa(dimension))
}

// --- Projects ---

// CreateProject inserts a new project record.
func (s *PostgresStore) CreateProject(ctx context.Context, p *domain.Project) (*domain.Project, error) {
	status := p.Status
	if status == "" {
		status = domain.ProjectStatusIndexing
	}
	query := `INSERT INTO projects (name, github_url, status)
	          VALUES ($1, $2, $3)
	          RETURNING id, name, github_url, status, created_at, updated_at`

	var out domain.Project
	err := s.db.QueryRowContext(ctx, query, p.Name, p.GitHubURL, status).Scan(
		&out.ID, &out.Name, &out.GitHubURL, &out.Status, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, classify("create project", err)
	}
	return &out, nil
}

// GetProject returns a project by ID.
func (s *PostgresStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	query := `SELECT id, name, github_url, status, created_at, updated_at
	          FROM projects WHERE id::text = $1`

	var p domain.Project
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.GitHubURL, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrProjectNotFound
	}
	if err != nil {
		return nil, classify("get project", err)
	}
	return &p, nil
}

// UpdateProjectStatus sets the ingestion status of a project.
func (s *PostgresStore) UpdateProjectStatus(ctx context.Context, id, status string) error {
	query := `UPDATE projects SET status = $1, updated_at = NOW() WHERE id::text = $2`
	res, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return classify("update project status", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return port.ErrProjectNotFound
	}
	return nil
}

// --- Commits ---

// CreateCommit inserts a commit unless the project already has its hash.
func (s *PostgresStore) CreateCommit(ctx context.Context, c *domain.Commit) (bool, error) {
	query := `INSERT INTO commits (project_id, commit_hash, commit_message, commit_author_name,
	                               commit_author_avatar, commit_date, summary)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (project_id, commit_hash) DO NOTHING
	          RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		c.ProjectID, c.CommitHash, c.CommitMessage, c.CommitAuthorName,
		c.CommitAuthorAvatar, c.CommitDate, c.Summary,
	).Scan(&c.ID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("create commit", err)
	}
	return true, nil
}

// ListCommitHashes returns every stored hash of the project.
func (s *PostgresStore) ListCommitHashes(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT commit_hash FROM commits WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, classify("list commit hashes", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, classify("scan commit hash", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ListCommits returns one page of the project's commits, newest first, and
// the total count.
func (s *PostgresStore) ListCommits(ctx context.Context, projectID string, limit, offset int) ([]domain.Commit, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commits WHERE project_id = $1`, projectID,
	).Scan(&total); err != nil {
		return nil, 0, classify("count commits", err)
	}

	query := `SELECT id, project_id, commit_hash, commit_message, commit_author_name,
	                 commit_author_avatar, commit_date, summary, created_at
	          FROM commits WHERE project_id = $1
	          ORDER BY commit_date DESC
	          LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, 0, classify("list commits", err)
	}
	defer rows.Close()

	commits := []domain.Commit{}
	for rows.Next() {
		var c domain.Commit
		if err := rows.Scan(
			&c.ID, &c.ProjectID, &c.CommitHash, &c.CommitMessage, &c.CommitAuthorName,
			&c.CommitAuthorAvatar, &c.CommitDate, &c.Summary, &c.CreatedAt,
		); err != nil {
			return nil, 0, classify("scan commit", err)
		}
		commits = append(commits, c)
	}
	return commits, total, rows.Err()
}

// --- Questions ---

// SaveQuestion persists a question/answer pair with its file references.
func (s *PostgresStore) SaveQuestion(ctx context.Context, q *domain.Question) (*domain.Question, error) {
	refs := q.FileReferences
	if refs == nil {
		refs = []domain.FileReference{}
	}
	raw, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("marshal file references: %w", err)
	}

	query := `INSERT INTO questions (project_id, question, answer, file_references)
	          VALUES ($1, $2, $3, $4::jsonb)
	          RETURNING id, created_at`

	out := *q
	out.FileReferences = refs
	if err := s.db.QueryRowContext(ctx, query, q.ProjectID, q.Question, q.Answer, string(raw)).
		Scan(&out.ID, &out.CreatedAt); err != nil {
		return nil, classify("save question", err)
	}
	return &out, nil
}

// ListQuestions returns saved questions of a project, newest first.
func (s *PostgresStore) ListQuestions(ctx context.Context, projectID string, limit, offset int) ([]domain.Question, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions WHERE project_id = $1`, projectID,
	).Scan(&total); err != nil {
		return nil, 0, classify("count questions", err)
	}

	query := `SELECT id, project_id, question, answer, file_references::text, created_at
	          FROM questions WHERE project_id = $1
	          ORDER BY created_at DESC
	          LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, 0, classify("list questions", err)
	}
	defer rows.Close()

	questions := []domain.Question{}
	for rows.Next() {
		var (
			q   domain.Question
			raw string
		)
		if err := rows.Scan(&q.ID, &q.ProjectID, &q.Question, &q.Answer, &raw, &q.CreatedAt); err != nil {
			return nil, 0, classify("scan question", err)
		}
		if err := json.Unmarshal([]byte(raw), &q.FileReferences); err != nil {
			return nil, 0, fmt.Errorf("decode file references of %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, total, rows.Err()
}

// --- Audit Logs ---

// WriteAudit implements port.AuditWriter.
func (s *PostgresStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	if details == "" {
		details = "{}"
	}
	query := `INSERT INTO audit_logs (user_id, action, resource, resource_id, details, ip, user_agent)
	          VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`
	_, err := s.db.ExecContext(context.Background(), query,
		userID, action, resource, resourceID, details, ip, userAgent,
	)
	if err != nil {
		return classify("write audit", err)
	}
	return nil
}

// ListAuditLogs returns recent audit logs with optional filters.
func (s *PostgresStore) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	query := `SELECT id, user_id, action, resource, resource_id, details::text, ip, user_agent, created_at
	          FROM audit_logs`
	args := []interface{}{}
	argIdx := 1

	if action != "" {
		query += fmt.Sprintf(" WHERE action = $%d", argIdx)
		args = append(args, action)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list audit logs", err)
	}
	defer rows.Close()

	logs := []domain.AuditLog{}
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.Action, &l.Resource, &l.ResourceID,
			&l.Details, &l.IP, &l.UserAgent, &l.CreatedAt,
		); err != nil {
			return nil, classify("scan audit log", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
