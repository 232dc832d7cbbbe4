package port

import "context"

// Task selects which model tier serves a request.
type Task string

// Model routing tasks. Bulk tasks go to the fast tier, interactive answers to
// the reasoning tier.
const (
	TaskFileSummary   Task = "file_summary"
	TaskCommitSummary Task = "commit_summary"
	TaskAnswer        Task = "answer"
	TaskEmbed         Task = "embed"
)

// AnswerChunk is one piece of a streamed answer. A chunk with a non-nil Err is
// the last one sent on the channel.
type AnswerChunk struct {
	Text string
	Err  error
}

// IntelligenceProvider abstracts the AI backend used for summaries,
// embeddings and answers. Implementations classify their own failures into
// RateLimitError and ProviderAPIError.
type IntelligenceProvider interface {
	// ModelName returns the model serving the given task.
	ModelName(task Task) string

	// Dimension is the fixed length of every vector returned by Embed.
	Dimension() int

	// SummarizeCode summarises a source file. A blank model output is
	// reported as ErrEmptySummary.
	SummarizeCode(ctx context.Context, filePath, content string) (string, error)

	// SummarizeDiff summarises a unified commit diff.
	SummarizeDiff(ctx context.Context, diff string) (string, error)

	// Embed returns the vector embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// StreamAnswer streams a reasoning-tier completion for prompt.
	StreamAnswer(ctx context.Context, prompt string) (<-chan AnswerChunk, error)
}
