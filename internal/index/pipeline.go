package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"repovet/internal/chunker"
	"repovet/internal/encoder"
)

// Stats reports build results.
type Stats struct {
	ChunksTotal   int
	ChunksDropped int
	ChunksIndexed int
	Elapsed       time.Duration
}

// Builder runs the two-phase index build: a full corpus-statistics pass,
// then concurrent per-chunk encoding and batched upload.
type Builder struct {
	Splitter  *chunker.Splitter
	Dense     encoder.Dense
	Sparse    *encoder.BM25
	Workers   int
	BatchSize int
	Log       *log.Logger
}

// Build chunks the flattened document, fits corpus statistics, encodes every
// chunk with both encoders, and uploads the results. The statistics pass is
// a hard barrier: no vector is emitted until it completes. Any prior index
// contents are discarded first.
func (b *Builder) Build(ctx context.Context, x *Index, doc string) (*Stats, error) {
	start := time.Now()
	logger := b.Log
	if logger == nil {
		logger = log.Default()
	}
	workers := b.Workers
	if workers < 1 {
		workers = 1
	}
	batchSize := b.BatchSize
	if batchSize < 1 {
		batchSize = 64
	}

	chunks := b.Splitter.Split(doc)
	if len(chunks) == 0 {
		return nil, errors.New("document produced no chunks")
	}
	logger.Info("document chunked", "chunks", len(chunks))

	// Phase 1: corpus statistics over every chunk of this build.
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	if err := b.Sparse.Fit(texts); err != nil {
		return nil, fmt.Errorf("fit corpus statistics: %w", err)
	}
	logger.Info("corpus statistics fitted")

	if err := x.Clear(); err != nil {
		return nil, fmt.Errorf("clear prior index: %w", err)
	}

	// Phase 2: encode chunks concurrently, bounded by the worker limit.
	indexed := make([]IndexedChunk, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range chunks {
		g.Go(func() error {
			dense, err := b.Dense.EncodeDense(gctx, c.Text)
			if err != nil {
				return fmt.Errorf("dense encode chunk %d: %w", c.ID, err)
			}
			sparse, err := b.Sparse.EncodeDocument(c.Text)
			if err != nil {
				return fmt.Errorf("sparse encode chunk %d: %w", c.ID, err)
			}
			indexed[i] = IndexedChunk{Chunk: c, Dense: dense, Sparse: sparse}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Drop noise chunks and upload the rest in batches.
	stats := &Stats{ChunksTotal: len(chunks)}
	batch := make([]IndexedChunk, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := x.Upsert(ctx, batch); err != nil {
			return err
		}
		stats.ChunksIndexed += len(batch)
		batch = batch[:0]
		return nil
	}
	for _, ic := range indexed {
		if len(ic.Sparse) == 0 {
			stats.ChunksDropped++
			logger.Debug("dropping chunk with empty sparse vector", "chunk", ic.ID)
			continue
		}
		batch = append(batch, ic)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if stats.ChunksDropped > 0 {
		logger.Warn("chunks dropped from index", "dropped", stats.ChunksDropped)
	}

	state, err := b.Sparse.State()
	if err != nil {
		return nil, fmt.Errorf("serialize sparse state: %w", err)
	}
	if err := x.SaveSparseState(state); err != nil {
		return nil, fmt.Errorf("persist sparse state: %w", err)
	}

	stats.Elapsed = time.Since(start)
	return stats, nil
}
