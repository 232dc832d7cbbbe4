// Package metrics holds the Prometheus instruments of the ingestion and
// retrieval pipelines. Instruments are registered lazily on the default
// registry the first time any helper is called.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type pipelineMetrics struct {
	once sync.Once

	filesEmbedded prometheus.Counter
	filesFailed   prometheus.Counter
	filesSkipped  *prometheus.CounterVec
	embedRetries  *prometheus.CounterVec
	batches       prometheus.Counter
	rowsSaved     prometheus.Counter
	saveFailures  *prometheus.CounterVec
	ingestions    *prometheus.CounterVec
	commitsSynced prometheus.Counter
	commitsFailed prometheus.Counter
	queries       prometheus.Counter
	references    prometheus.Histogram

	fileDuration      prometheus.Histogram
	ingestionDuration prometheus.Histogram
	queryDuration     prometheus.Histogram
}

var m pipelineMetrics

func (p *pipelineMetrics) init() {
	p.once.Do(func() {
		p.filesEmbedded = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoflow_files_embedded_total", Help: "Files summarised and embedded successfully"})
		p.filesFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoflow_files_failed_total", Help: "Files that failed summarisation or embedding after retries"})
		p.filesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "repoflow_files_skipped_total", Help: "Files dropped before processing, by reason"}, []string{"reason"})
		p.embedRetries = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "repoflow_embed_retries_total", Help: "Retried provider calls by stage"}, []string{"stage"})
		p.batches = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoflow_batches_total", Help: "Pipeline batches processed"})
		p.rowsSaved = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoflow_rows_saved_total", Help: "Embedding rows persisted"})
		p.saveFailures = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "repoflow_save_failures_total", Help: "Embedding rows that could not be persisted, by category"}, []string{"category"})
		p.ingestions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "repoflow_ingestions_total", Help: "Ingestion runs by outcome"}, []string{"status"})
		p.commitsSynced = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoflow_commits_synced_total", Help: "Commits summarised and stored"})
		p.commitsFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoflow_commits_failed_total", Help: "Commits skipped after a processing failure"})
		p.queries = prometheus.NewCounter(prometheus.CounterOpts{Name: "repoflow_rag_queries_total", Help: "Questions answered"})
		p.references = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repoflow_rag_references", Help: "File references per answered question", Buckets: []float64{0, 1, 2, 3, 5, 8, 10}})

		p.fileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repoflow_file_seconds", Help: "Time to summarise and embed one file", Buckets: prometheus.DefBuckets})
		p.ingestionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repoflow_ingestion_seconds", Help: "Wall time of an ingestion run", Buckets: prometheus.ExponentialBuckets(1, 2, 12)})
		p.queryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repoflow_rag_query_seconds", Help: "Time to retrieve context and start answering", Buckets: prometheus.DefBuckets})

		prometheus.MustRegister(
			p.filesEmbedded, p.filesFailed, p.filesSkipped, p.embedRetries, p.batches,
			p.rowsSaved, p.saveFailures, p.ingestions, p.commitsSynced, p.commitsFailed,
			p.queries, p.references, p.fileDuration, p.ingestionDuration, p.queryDuration,
		)
	})
}

// FileEmbedded records a successful file and how long it took.
func FileEmbedded(d time.Duration) {
	m.init()
	m.filesEmbedded.Inc()
	m.fileDuration.Observe(d.Seconds())
}

// FileFailed records a file that exhausted its retries.
func FileFailed() { m.init(); m.filesFailed.Inc() }

// Reasons a file is dropped before processing.
const (
	SkipMissingPath   = "missing_path"
	SkipDuplicatePath = "duplicate_path"
)

// FilesSkipped records n files dropped before processing for reason.
func FilesSkipped(reason string, n int) {
	m.init()
	m.filesSkipped.WithLabelValues(reason).Add(float64(n))
}

// SkippedFiles exposes the skip counter for reason.
func SkippedFiles(reason string) prometheus.Counter {
	m.init()
	return m.filesSkipped.WithLabelValues(reason)
}

// EmbedRetry records a retried provider call for stage.
func EmbedRetry(stage string) { m.init(); m.embedRetries.WithLabelValues(stage).Inc() }

// BatchProcessed records one settled pipeline batch.
func BatchProcessed() { m.init(); m.batches.Inc() }

// RowSaved records a persisted embedding row.
func RowSaved() { m.init(); m.rowsSaved.Inc() }

// SaveFailed records a row that could not be persisted.
func SaveFailed(category string) { m.init(); m.saveFailures.WithLabelValues(category).Inc() }

// IngestionFinished records the outcome of an ingestion run.
func IngestionFinished(status string, d time.Duration) {
	m.init()
	m.ingestions.WithLabelValues(status).Inc()
	m.ingestionDuration.Observe(d.Seconds())
}

// CommitSynced records a stored commit summary.
func CommitSynced() { m.init(); m.commitsSynced.Inc() }

// CommitFailed records a skipped commit.
func CommitFailed() { m.init(); m.commitsFailed.Inc() }

// QueryAnswered records a retrieval query.
func QueryAnswered(refs int, d time.Duration) {
	m.init()
	m.queries.Inc()
	m.references.Observe(float64(refs))
	m.queryDuration.Observe(d.Seconds())
}

// SaveFailures exposes the save failure counter for tests.
func SaveFailures(category string) prometheus.Counter {
	m.init()
	return m.saveFailures.WithLabelValues(category)
}
