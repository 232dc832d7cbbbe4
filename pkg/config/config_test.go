package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	size, delay := cfg.BatchPolicy().For(10)
	assert.Equal(t, 20, size)
	assert.Equal(t, 200*time.Millisecond, delay)

	assert.Equal(t, 0.3, cfg.RAGConfig().Threshold)
	assert.Equal(t, 3, cfg.WriterConfig().BatchSize)
	assert.Equal(t, 10, cfg.CommitConfig().Window)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repoflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
embedding_dimension: 1024
rag_threshold: 0.5
ignore_patterns:
  - "**/testdata/**"
batch_tiers:
  - {max_files: 50, size: 10, delay: 500ms}
  - {max_files: 0, size: 40, delay: 2s}
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")
	t.Setenv("WRITER_BATCH_DELAY", "250ms")
	t.Setenv("IGNORE_PATTERNS", "**/fixtures/**, **/*.snap")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, 1024, cfg.EmbeddingDimension)
	assert.Equal(t, 0.5, cfg.RAGThreshold)
	assert.Equal(t, "http://ollama:11434", cfg.OllamaEmbedURL)
	assert.Equal(t, "http://ollama:11434", cfg.OllamaChatURL)
	assert.Equal(t, 250*time.Millisecond, cfg.WriterConfig().BatchDelay)
	assert.Equal(t, []string{"**/fixtures/**", "**/*.snap"}, cfg.IgnorePatterns)

	size, delay := cfg.PipelineConfig().Batch.For(200)
	assert.Equal(t, 40, size)
	assert.Equal(t, 2*time.Second, delay)
}

func TestValidateRejectsImpossibleSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"dimension", func(c *Config) { c.EmbeddingDimension = 0 }},
		{"threshold", func(c *Config) { c.RAGThreshold = 1.5 }},
		{"ai provider", func(c *Config) { c.AIProvider = "bard" }},
		{"openai without key", func(c *Config) { c.AIProvider = "openai" }},
		{"source provider", func(c *Config) { c.SourceProvider = "svn" }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"shrinking tiers", func(c *Config) {
			c.BatchTiers = []BatchTier{{MaxFiles: 10, Size: 30}, {Size: 5}}
		}},
		{"ignore pattern", func(c *Config) { c.IgnorePatterns = []string{"[unclosed"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "debug"
	assert.NotNil(t, cfg.NewLogger())
}
