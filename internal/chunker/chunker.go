package chunker

import (
	"iter"
	"strings"
)

// DefaultSeparators is the boundary priority used when splitting: paragraph
// breaks first, then line breaks, then sentence punctuation, then word breaks.
var DefaultSeparators = []string{"\n\n", "\n", ".", "!", "?", ",", " "}

// Chunk is a contiguous span of the source document.
// Start and End are byte offsets into the original text, End exclusive.
type Chunk struct {
	ID    int64
	Text  string
	Start int
	End   int
}

// Splitter cuts a flattened document into overlapping chunks along natural
// boundaries. Chunks never exceed MaxSize bytes; consecutive chunks overlap
// by Overlap bytes except where a boundary cut shortens the chunk.
type Splitter struct {
	maxSize    int
	overlap    int
	lookback   int
	separators []string
}

// New creates a splitter. overlap must be smaller than maxSize; lookback
// bounds how far back from the size cutoff a separator is searched for.
func New(maxSize, overlap, lookback int) *Splitter {
	if maxSize < 1 {
		maxSize = 400
	}
	if overlap < 0 || overlap >= maxSize {
		overlap = 0
	}
	if lookback < 0 {
		lookback = 0
	}
	return &Splitter{
		maxSize:    maxSize,
		overlap:    overlap,
		lookback:   lookback,
		separators: DefaultSeparators,
	}
}

// Chunks returns a restartable iterator over the chunks of text. Ranging
// over it twice yields identical chunks. The union of all chunk spans covers
// the input with no gaps, and every chunk is non-empty.
func (s *Splitter) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		if len(text) == 0 {
			return
		}
		var id int64
		start := 0
		for start < len(text) {
			end := s.cut(text, start)
			if !yield(Chunk{ID: id, Text: text[start:end], Start: start, End: end}) {
				return
			}
			if end == len(text) {
				return
			}
			// Advance so the next chunk overlaps the tail of this one,
			// clamped to guarantee forward progress on separator-free input.
			advance := (end - start) - s.overlap
			if advance < 1 {
				advance = 1
			}
			start += advance
			id++
		}
	}
}

// Split eagerly collects all chunks of text.
func (s *Splitter) Split(text string) []Chunk {
	var chunks []Chunk
	for c := range s.Chunks(text) {
		chunks = append(chunks, c)
	}
	return chunks
}

// cut returns the end offset for a chunk starting at start. It prefers the
// highest-priority separator found within the lookback window ending at the
// size cutoff, and hard-cuts at the limit when none is present.
func (s *Splitter) cut(text string, start int) int {
	limit := start + s.maxSize
	if limit >= len(text) {
		return len(text)
	}
	lo := limit - s.lookback
	if lo <= start {
		lo = start + 1
	}
	window := text[lo:limit]
	for _, sep := range s.separators {
		if i := strings.LastIndex(window, sep); i >= 0 {
			// Cut after the separator so it stays with the leading chunk.
			return lo + i + len(sep)
		}
	}
	return limit
}
