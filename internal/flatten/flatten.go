package flatten

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

const (
	binarySampleSize   = 4096
	nonTextThreshold   = 0.30
	fileHeaderTemplate = "===== FILE: %s =====\n"
)

var (
	newlineRuns    = regexp.MustCompile(`\n+`)
	horizontalRuns = regexp.MustCompile(`[ \t]+`)
)

// Stats reports what went into a flattened document.
type Stats struct {
	FilesIncluded int
	FilesSkipped  int
	Bytes         int
}

// Flatten walks the repository at root, concatenates every text file under a
// FILE header, and collapses whitespace runs into a single flat document,
// the input the chunker operates on. Files are ordered by relative path so
// the same tree always flattens to the same document.
func Flatten(root string) (string, *Stats, error) {
	files, err := collectFiles(root)
	if err != nil {
		return "", nil, fmt.Errorf("walk %s: %w", root, err)
	}

	stats := &Stats{}
	var b strings.Builder
	for _, fi := range files {
		src, err := os.ReadFile(fi.path)
		if err != nil {
			stats.FilesSkipped++
			continue
		}
		if isBinary(src) {
			stats.FilesSkipped++
			continue
		}
		fmt.Fprintf(&b, fileHeaderTemplate, fi.relPath)
		b.Write(src)
		b.WriteString("\n")
		stats.FilesIncluded++
	}
	if stats.FilesIncluded == 0 {
		return "", stats, fmt.Errorf("no text files found under %s", root)
	}

	doc := b.String()
	doc = newlineRuns.ReplaceAllString(doc, "\n")
	doc = horizontalRuns.ReplaceAllString(doc, " ")
	doc = strings.TrimSpace(doc)
	stats.Bytes = len(doc)
	return doc, stats, nil
}

// isBinary samples the head of the file and reports whether too much of it
// is non-text. NUL bytes are an immediate disqualifier.
func isBinary(data []byte) bool {
	sample := data
	if len(sample) > binarySampleSize {
		sample = sample[:binarySampleSize]
	}
	nonText := 0
	for _, c := range sample {
		if c == 0 {
			return true
		}
		if c < 0x09 || (c > 0x0d && c < 0x20) || c == 0x7f {
			nonText++
		}
	}
	return float64(nonText) > nonTextThreshold*float64(len(sample))
}
