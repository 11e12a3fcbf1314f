package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by all validation failures so callers can detect
// bad configuration before any build or generation work has started.
var ErrInvalid = errors.New("invalid configuration")

// ChunkerConfig controls how the flattened document is split.
type ChunkerConfig struct {
	MaxSize  int `yaml:"max_size"`
	Overlap  int `yaml:"overlap"`
	Lookback int `yaml:"lookback"`
}

// DenseConfig configures the OpenAI-compatible embeddings client.
type DenseConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// SparseConfig configures the BM25 sparse encoder.
type SparseConfig struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

// IndexConfig configures the hybrid index and its build pipeline.
type IndexConfig struct {
	Path        string  `yaml:"path"`
	Alpha       float64 `yaml:"alpha"`
	SparseScale float64 `yaml:"sparse_scale"`
	BatchSize   int     `yaml:"batch_size"`
	Workers     int     `yaml:"workers"`
	MaxRetries  int     `yaml:"max_retries"`
}

// LLMConfig configures the text-generation capability.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// InterviewConfig configures question generation and answer evaluation.
type InterviewConfig struct {
	QuestionCount   int `yaml:"question_count"`
	TopK            int `yaml:"top_k"`
	MaxContextChars int `yaml:"max_context_chars"`
}

// Config is the root configuration.
type Config struct {
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Dense     DenseConfig     `yaml:"dense"`
	Sparse    SparseConfig    `yaml:"sparse"`
	Index     IndexConfig     `yaml:"index"`
	LLM       LLMConfig       `yaml:"llm"`
	Interview InterviewConfig `yaml:"interview"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Chunker: ChunkerConfig{MaxSize: 400, Overlap: 50, Lookback: 100},
		Dense: DenseConfig{
			BaseURL:     "http://localhost:11434/v1",
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       "all-minilm",
			Dimension:   384,
			TimeoutSecs: 60,
		},
		Sparse: SparseConfig{K1: 1.2, B: 0.75},
		Index: IndexConfig{
			Alpha:       0.5,
			SparseScale: 1.0,
			BatchSize:   64,
			Workers:     4,
			MaxRetries:  3,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			APIKeyEnv:   "GROQ_API_KEY",
			Model:       "llama-3.3-70b-versatile",
			Temperature: 0.2,
			TimeoutSecs: 120,
		},
		Interview: InterviewConfig{QuestionCount: 3, TopK: 5, MaxContextChars: 6000},
	}
}

// Load reads a config from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would make a build or interview
// misbehave. It is called eagerly before any work starts.
func (c *Config) Validate() error {
	if c.Chunker.MaxSize < 1 {
		return fmt.Errorf("%w: chunker max_size must be >= 1, got %d", ErrInvalid, c.Chunker.MaxSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.MaxSize {
		return fmt.Errorf("%w: chunker overlap %d must be in [0, max_size)", ErrInvalid, c.Chunker.Overlap)
	}
	if c.Chunker.Lookback < 0 {
		return fmt.Errorf("%w: chunker lookback must be >= 0, got %d", ErrInvalid, c.Chunker.Lookback)
	}
	if c.Dense.Dimension < 1 {
		return fmt.Errorf("%w: dense dimension must be >= 1, got %d", ErrInvalid, c.Dense.Dimension)
	}
	if c.Sparse.K1 <= 0 {
		return fmt.Errorf("%w: sparse k1 must be > 0, got %g", ErrInvalid, c.Sparse.K1)
	}
	if c.Sparse.B < 0 || c.Sparse.B > 1 {
		return fmt.Errorf("%w: sparse b must be in [0,1], got %g", ErrInvalid, c.Sparse.B)
	}
	if c.Index.Alpha < 0 || c.Index.Alpha > 1 {
		return fmt.Errorf("%w: index alpha must be in [0,1], got %g", ErrInvalid, c.Index.Alpha)
	}
	if c.Index.SparseScale <= 0 {
		return fmt.Errorf("%w: index sparse_scale must be > 0, got %g", ErrInvalid, c.Index.SparseScale)
	}
	if c.Index.BatchSize < 1 {
		return fmt.Errorf("%w: index batch_size must be >= 1, got %d", ErrInvalid, c.Index.BatchSize)
	}
	if c.Index.Workers < 1 {
		return fmt.Errorf("%w: index workers must be >= 1, got %d", ErrInvalid, c.Index.Workers)
	}
	if c.Index.MaxRetries < 0 {
		return fmt.Errorf("%w: index max_retries must be >= 0, got %d", ErrInvalid, c.Index.MaxRetries)
	}
	if c.Interview.QuestionCount < 1 {
		return fmt.Errorf("%w: interview question_count must be >= 1, got %d", ErrInvalid, c.Interview.QuestionCount)
	}
	if c.Interview.TopK < 1 {
		return fmt.Errorf("%w: interview top_k must be >= 1, got %d", ErrInvalid, c.Interview.TopK)
	}
	if c.Interview.MaxContextChars < 1 {
		return fmt.Errorf("%w: interview max_context_chars must be >= 1, got %d", ErrInvalid, c.Interview.MaxContextChars)
	}
	return nil
}
