package store

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

// VectorStore handles pgvector-specific operations for embeddings.
type VectorStore struct {
	store     *PostgresStore
	dimension int
}

// NewVectorStore creates a vector store backed by the given Postgres store.
func NewVectorStore(store *PostgresStore, dimension int) *VectorStore {
	return &VectorStore{store: store, dimension: dimension}
}

// CreateEmbedding inserts the row and its vector in a single statement, so a
// row never exists without its embedding.
func (v *VectorStore) CreateEmbedding(ctx context.Context, e *domain.SourceCodeEmbedding) (string, error) {
	if len(e.Embedding) != v.dimension {
		return "", fmt.Errorf("create embedding %s: %w (got %d, want %d)",
			e.FileName, port.ErrInvalidDimension, len(e.Embedding), v.dimension)
	}

	query := `INSERT INTO source_code_embeddings (project_id, run_id, file_name, source_code, summary, summary_embedding)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING id`

	var id string
	err := v.store.db.QueryRowContext(ctx, query,
		e.ProjectID, e.RunID, e.FileName, e.SourceCode, e.Summary, pgvector.NewVector(e.Embedding),
	).Scan(&id)
	if err != nil {
		return "", classify("create embedding", err)
	}
	return id, nil
}

// SimilaritySearch finds the project's files closest to vector by cosine
// similarity, keeping only those strictly above threshold.
func (v *VectorStore) SimilaritySearch(ctx context.Context, projectID string, vector []float32, threshold float64, limit int) ([]domain.FileReference, error) {
	if len(vector) != v.dimension {
		return nil, fmt.Errorf("similarity search: %w (got %d, want %d)",
			port.ErrInvalidDimension, len(vector), v.dimension)
	}
	if limit <= 0 {
		return []domain.FileReference{}, nil
	}

	query := `SELECT file_name, source_code, summary, similarity FROM (
	              SELECT file_name, source_code, summary,
	                     1 - (summary_embedding <=> $1) AS similarity
	              FROM source_code_embeddings
	              WHERE project_id = $2
	          ) ranked
	          WHERE similarity > $3
	          ORDER BY similarity DESC
	          LIMIT $4`

	rows, err := v.store.db.QueryContext(ctx, query, pgvector.NewVector(vector), projectID, threshold, limit)
	if err != nil {
		return nil, classify("similarity search", err)
	}
	defer rows.Close()

	refs := []domain.FileReference{}
	for rows.Next() {
		var r domain.FileReference
		if err := rows.Scan(&r.FileName, &r.SourceCode, &r.Summary, &r.Similarity); err != nil {
			return nil, classify("scan file reference", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// DeleteStaleEmbeddings drops rows left by earlier ingestion runs.
func (v *VectorStore) DeleteStaleEmbeddings(ctx context.Context, projectID, keepRunID string) (int64, error) {
	res, err := v.store.db.ExecContext(ctx,
		`DELETE FROM source_code_embeddings WHERE project_id = $1 AND run_id <> $2`,
		projectID, keepRunID,
	)
	if err != nil {
		return 0, classify("delete stale embeddings", err)
	}
	return res.RowsAffected()
}
