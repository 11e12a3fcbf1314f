package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"repovet/internal/chunker"
	"repovet/internal/encoder"
	"repovet/internal/flatten"
	"repovet/internal/index"
)

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Flatten a repository and build its hybrid index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		path := dbPath(root)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create index directory: %w", err)
		}

		logger.Info("flattening repository", "root", root)
		doc, fstats, err := flatten.Flatten(root)
		if err != nil {
			return err
		}
		logger.Info("repository flattened",
			"files", fstats.FilesIncluded, "skipped", fstats.FilesSkipped, "bytes", fstats.Bytes)

		dense, err := newDense()
		if err != nil {
			return err
		}

		idx, err := openIndex(path)
		if err != nil {
			return err
		}
		defer idx.Close()

		builder := &index.Builder{
			Splitter:  chunker.New(cfg.Chunker.MaxSize, cfg.Chunker.Overlap, cfg.Chunker.Lookback),
			Dense:     dense,
			Sparse:    encoder.NewBM25(cfg.Sparse.K1, cfg.Sparse.B),
			Workers:   cfg.Index.Workers,
			BatchSize: cfg.Index.BatchSize,
			Log:       logger,
		}
		stats, err := builder.Build(cmd.Context(), idx, doc)
		if err != nil {
			return err
		}
		if err := idx.StoreFingerprint(fingerprint()); err != nil {
			return fmt.Errorf("store fingerprint: %w", err)
		}

		fmt.Printf("Indexed %s in %s\n", root, stats.Elapsed.Round(time.Millisecond))
		fmt.Printf("  Chunks:  %d total, %d indexed, %d dropped (no keyword signal)\n",
			stats.ChunksTotal, stats.ChunksIndexed, stats.ChunksDropped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
