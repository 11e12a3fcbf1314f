package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"repovet/internal/config"
	"repovet/internal/encoder"
	"repovet/internal/index"
	"repovet/internal/llm"
	"repovet/internal/retriever"
)

var (
	flagConfig  string
	flagDB      string
	flagVerbose bool

	cfg    *config.Config
	logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
)

var rootCmd = &cobra.Command{
	Use:          "repovet",
	Short:        "Technical interviews grounded in a repository's own code",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Secrets come from the environment; a .env file is optional.
		_ = godotenv.Load()
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if flagVerbose {
			logger.SetLevel(log.DebugLevel)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "repovet.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "index path (default <repo>/.repovet/index.db)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// dbPath resolves the index location for a repository root.
func dbPath(repoRoot string) string {
	if flagDB != "" {
		return flagDB
	}
	return filepath.Join(repoRoot, ".repovet", "index.db")
}

func openIndex(path string) (*index.Index, error) {
	return index.Open(index.Config{
		Path:        path,
		Dimension:   cfg.Dense.Dimension,
		Alpha:       cfg.Index.Alpha,
		SparseScale: cfg.Index.SparseScale,
		MaxRetries:  cfg.Index.MaxRetries,
	})
}

func newDense() (*encoder.OpenAIDense, error) {
	return encoder.NewOpenAIDense(encoder.OpenAIDenseConfig{
		BaseURL:    cfg.Dense.BaseURL,
		APIKeyEnv:  cfg.Dense.APIKeyEnv,
		Model:      cfg.Dense.Model,
		Dimension:  cfg.Dense.Dimension,
		Timeout:    time.Duration(cfg.Dense.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Index.MaxRetries,
	})
}

func newChat() (*llm.OpenAIChat, error) {
	return llm.NewOpenAIChat(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKeyEnv:   cfg.LLM.APIKeyEnv,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		MaxRetries:  cfg.Index.MaxRetries,
	})
}

// openRetriever opens an existing index for a repository, checks it against
// the current configuration, restores the sparse statistics of its build,
// and wires up a retriever. The caller closes the returned index.
func openRetriever(repoRoot string) (*retriever.Retriever, *index.Index, error) {
	path := dbPath(repoRoot)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("index not found at %s\nRun 'repovet index %s' first to build it", path, repoRoot)
	}

	idx, err := openIndex(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open index: %w", err)
	}
	if err := idx.VerifyFingerprint(fingerprint()); err != nil {
		idx.Close()
		return nil, nil, err
	}

	state, err := idx.SparseState()
	if err != nil {
		idx.Close()
		return nil, nil, err
	}
	if state == nil {
		idx.Close()
		return nil, nil, fmt.Errorf("index at %s has no sparse statistics; rebuild it", path)
	}
	sparse := encoder.NewBM25(cfg.Sparse.K1, cfg.Sparse.B)
	if err := sparse.Restore(state); err != nil {
		idx.Close()
		return nil, nil, err
	}

	dense, err := newDense()
	if err != nil {
		idx.Close()
		return nil, nil, err
	}
	r, err := retriever.New(dense, sparse, idx)
	if err != nil {
		idx.Close()
		return nil, nil, err
	}
	return r, idx, nil
}

func fingerprint() index.Fingerprint {
	return index.Fingerprint{
		EmbeddingModel: cfg.Dense.Model,
		Dimension:      cfg.Dense.Dimension,
		MaxChunkSize:   cfg.Chunker.MaxSize,
		Overlap:        cfg.Chunker.Overlap,
	}
}
