package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/metrics"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

// SaveProgressFunc reports the running saved count after each settled item.
type SaveProgressFunc func(saved, done, total int)

// WriterConfig tunes persistence of embedding results.
type WriterConfig struct {
	BatchSize   int
	BatchDelay  time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultWriterConfig returns small sub-batches that keep the connection pool
// from saturating.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:   3,
		BatchDelay:  time.Second,
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
	}
}

// Writer persists embedding results through an EmbeddingStore.
type Writer struct {
	store  port.EmbeddingStore
	cfg    WriterConfig
	sleep  Sleeper
	logger *slog.Logger
}

// NewWriter creates a writer over store.
func NewWriter(store port.EmbeddingStore, cfg WriterConfig, logger *slog.Logger) *Writer {
	d := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, cfg: cfg, sleep: sleepCtx, logger: logger}
}

// SetSleeper replaces the wait used between sub-batches and attempts.
func (w *Writer) SetSleeper(s Sleeper) { w.sleep = s }

// Save writes every result as one row tagged with projectID and runID. Per
// item failures are collected, never returned; the only error is context
// cancellation.
func (w *Writer) Save(ctx context.Context, projectID, runID string, results []domain.EmbeddingResult, progress SaveProgressFunc) (*domain.SaveResult, error) {
	out := &domain.SaveResult{Failed: []domain.FileFailure{}}
	total := len(results)
	if total == 0 {
		return out, nil
	}

	var (
		mu   sync.Mutex
		done int
	)
	batches := chunk(total, w.cfg.BatchSize)
	for bi, b := range batches {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		var g errgroup.Group
		for i := b[0]; i < b[1]; i++ {
			g.Go(func() error {
				err := w.saveOne(ctx, projectID, runID, results[i])

				mu.Lock()
				defer mu.Unlock()
				done++
				if err != nil {
					category := port.DBCategoryOf(err)
					metrics.SaveFailed(string(category))
					out.Failed = append(out.Failed, domain.FileFailure{
						FileName: results[i].FileName,
						Error:    err.Error(),
						Stage:    "saving",
						Category: string(category),
					})
					w.logger.Warn("embedding not saved",
						"project_id", projectID,
						"file", results[i].FileName,
						"category", category,
						"error", err,
					)
				} else {
					out.Saved++
					metrics.RowSaved()
				}
				if progress != nil {
					progress(out.Saved, done, total)
				}
				return nil
			})
		}
		_ = g.Wait()

		if bi < len(batches)-1 {
			if err := w.sleep(ctx, w.cfg.BatchDelay); err != nil {
				return out, err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	w.logger.Info("embeddings saved",
		"project_id", projectID,
		"run_id", runID,
		"saved", out.Saved,
		"failed", len(out.Failed),
	)
	return out, nil
}

func (w *Writer) saveOne(ctx context.Context, projectID, runID string, r domain.EmbeddingResult) error {
	row := &domain.SourceCodeEmbedding{
		ProjectID:  projectID,
		RunID:      runID,
		FileName:   r.FileName,
		SourceCode: r.SourceCode,
		Summary:    r.Summary,
		Embedding:  r.Embedding,
	}

	var err error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if _, err = w.store.CreateEmbedding(ctx, row); err == nil {
			return nil
		}
		if ctx.Err() != nil || port.DBCategoryOf(err) == port.DBDuplicate || attempt == w.cfg.MaxAttempts {
			break
		}
		w.logger.Debug("retrying embedding write", "file", r.FileName, "attempt", attempt, "error", err)
		if serr := w.sleep(ctx, w.cfg.Backoff); serr != nil {
			return err
		}
	}
	return err
}
