package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/metrics"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

// Stage names reported in failures and retry metrics.
const (
	StageSummarize = "summarize"
	StageEmbed     = "embed"
)

// ProgressFunc is called with the number of settled items out of total.
type ProgressFunc func(done, total int)

// PipelineConfig tunes the batch embedding pipeline.
type PipelineConfig struct {
	Batch           BatchPolicy
	Retry           RetryPolicy
	ItemInterval    time.Duration // minimum spacing between item starts in a batch
	ItemConcurrency int
}

// DefaultPipelineConfig returns the production pacing.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Batch:           DefaultBatchPolicy(),
		Retry:           DefaultRetryPolicy(),
		ItemInterval:    100 * time.Millisecond,
		ItemConcurrency: 5,
	}
}

// Pipeline turns repository files into summaries and summary embeddings.
type Pipeline struct {
	provider port.IntelligenceProvider
	cfg      PipelineConfig
	sleep    Sleeper
	logger   *slog.Logger
}

// NewPipeline creates a pipeline over provider.
func NewPipeline(provider port.IntelligenceProvider, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if len(cfg.Batch.Tiers) == 0 {
		cfg.Batch = DefaultBatchPolicy()
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if cfg.ItemConcurrency <= 0 {
		cfg.ItemConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{provider: provider, cfg: cfg, sleep: sleepCtx, logger: logger}
}

// SetSleeper replaces the wait used for retry backoff and batch delays.
func (p *Pipeline) SetSleeper(s Sleeper) { p.sleep = s }

type outcome struct {
	result  domain.EmbeddingResult
	failure *domain.FileFailure
}

// EmbedAll processes files in adaptive batches. Every accepted file ends up in
// exactly one of Successful or Failed, in input order. Cancellation between
// batches returns ctx.Err().
func (p *Pipeline) EmbedAll(ctx context.Context, files []domain.RepositoryFile, progress ProgressFunc) (*domain.ProcessingResult, error) {
	if len(files) == 0 {
		return nil, &port.ValidationError{Field: "files", Message: "no files to process"}
	}

	start := time.Now()
	unique, skipped, duplicates := dedupeFiles(files)
	if skipped > 0 {
		metrics.FilesSkipped(metrics.SkipMissingPath, skipped)
		p.logger.Warn("dropped files without a usable path", "skipped", skipped)
	}
	if duplicates > 0 {
		metrics.FilesSkipped(metrics.SkipDuplicatePath, duplicates)
		p.logger.Warn("dropped repeated file paths", "duplicates", duplicates)
	}

	total := len(unique)
	if total == 0 {
		return nil, &port.ValidationError{Field: "files", Message: "no file has a usable path"}
	}
	size, delay := p.cfg.Batch.For(total)
	batches := chunk(total, size)
	outcomes := make([]outcome, total)
	var retries atomic.Int64

	p.logger.Info("embedding pipeline started",
		"files", total,
		"batch_size", size,
		"batch_delay", delay,
		"batches", len(batches),
	)

	for bi, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.runBatch(ctx, unique, outcomes, b[0], b[1], &retries); err != nil {
			return nil, err
		}
		metrics.BatchProcessed()
		p.logger.Debug("batch settled", "batch", bi+1, "of", len(batches), "done", b[1])
		if progress != nil {
			progress(b[1], total)
		}
		if bi < len(batches)-1 {
			if err := p.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	res := &domain.ProcessingResult{
		Successful: make([]domain.EmbeddingResult, 0, total),
		Failed:     []domain.FileFailure{},
	}
	for _, o := range outcomes {
		if o.failure != nil {
			res.Failed = append(res.Failed, *o.failure)
			continue
		}
		res.Successful = append(res.Successful, o.result)
	}
	res.Stats = domain.ProcessingStats{
		Total:      total,
		Successful: len(res.Successful),
		Failed:     len(res.Failed),
		Skipped:    skipped,
		Duplicates: duplicates,
		Batches:    len(batches),
		BatchSize:  size,
		BatchDelay: delay,
		Retries:    int(retries.Load()),
		Duration:   time.Since(start),
	}

	p.logger.Info("embedding pipeline finished",
		"successful", res.Stats.Successful,
		"failed", res.Stats.Failed,
		"skipped", skipped,
		"duplicates", duplicates,
		"retries", res.Stats.Retries,
		"duration", res.Stats.Duration,
	)
	return res, nil
}

// runBatch processes files[lo:hi] and waits for all of them to settle.
func (p *Pipeline) runBatch(ctx context.Context, files []domain.RepositoryFile, out []outcome, lo, hi int, retries *atomic.Int64) error {
	limit := rate.Inf
	if p.cfg.ItemInterval > 0 {
		limit = rate.Every(p.cfg.ItemInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var g errgroup.Group
	g.SetLimit(p.cfg.ItemConcurrency)

	var waitErr error
	for i := lo; i < hi; i++ {
		if err := limiter.Wait(ctx); err != nil {
			waitErr = err
			break
		}
		g.Go(func() error {
			out[i] = p.processFile(ctx, files[i], retries)
			return nil
		})
	}
	_ = g.Wait()

	if waitErr != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return waitErr
	}
	return ctx.Err()
}

func (p *Pipeline) processFile(ctx context.Context, f domain.RepositoryFile, retries *atomic.Int64) outcome {
	start := time.Now()
	onRetry := func(stage string) func(int, time.Duration, error) {
		return func(attempt int, wait time.Duration, err error) {
			retries.Add(1)
			metrics.EmbedRetry(stage)
			p.logger.Warn("retrying provider call",
				"file", f.Path,
				"stage", stage,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		}
	}

	var summary string
	attempts, err := retry(ctx, p.cfg.Retry, p.sleep, func(ctx context.Context) error {
		s, err := p.provider.SummarizeCode(ctx, f.Path, f.Content)
		if err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			return port.ErrEmptySummary
		}
		summary = strings.TrimSpace(s)
		return nil
	}, onRetry(StageSummarize))
	if err != nil {
		return p.fail(f.Path, StageSummarize, attempts, err)
	}

	var vector []float32
	attempts, err = retry(ctx, p.cfg.Retry, p.sleep, func(ctx context.Context) error {
		v, err := p.provider.Embed(ctx, summary)
		if err != nil {
			return err
		}
		if dim := p.provider.Dimension(); dim > 0 && len(v) != dim {
			return fmt.Errorf("%w: got %d, want %d", port.ErrInvalidDimension, len(v), dim)
		}
		vector = v
		return nil
	}, onRetry(StageEmbed))
	if err != nil {
		return p.fail(f.Path, StageEmbed, attempts, err)
	}

	metrics.FileEmbedded(time.Since(start))
	return outcome{result: domain.EmbeddingResult{
		FileName:   f.Path,
		SourceCode: f.Content,
		Summary:    summary,
		Embedding:  vector,
	}}
}

func (p *Pipeline) fail(path, stage string, attempts int, err error) outcome {
	genErr := &port.EmbeddingGenerationError{FileName: path, Stage: stage, Attempts: attempts, Err: err}
	metrics.FileFailed()
	p.logger.Warn("file failed", "file", path, "stage", stage, "attempts", attempts, "error", err)
	return outcome{failure: &domain.FileFailure{
		FileName: path,
		Error:    genErr.Error(),
		Stage:    "processing",
	}}
}

// dedupeFiles drops files without a path and repeated paths, keeping the
// first occurrence. It returns the kept files and both drop counts.
func dedupeFiles(files []domain.RepositoryFile) (out []domain.RepositoryFile, missing, duplicates int) {
	seen := make(map[string]struct{}, len(files))
	out = make([]domain.RepositoryFile, 0, len(files))
	for _, f := range files {
		if strings.TrimSpace(f.Path) == "" {
			missing++
			continue
		}
		if _, ok := seen[f.Path]; ok {
			duplicates++
			continue
		}
		seen[f.Path] = struct{}{}
		out = append(out, f)
	}
	return out, missing, duplicates
}
