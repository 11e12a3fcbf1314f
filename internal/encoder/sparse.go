package encoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// ErrNotFitted is returned when sparse encoding is attempted before the
// corpus statistics pass has completed.
var ErrNotFitted = errors.New("sparse encoder not fitted")

// SparseVector maps a vocabulary term index to a non-negative weight.
// An empty vector means the text carried no indexable terms.
type SparseVector map[int]float32

// Dot returns the inner product of two sparse vectors.
func (v SparseVector) Dot(other SparseVector) float64 {
	// Iterate the smaller side.
	a, b := v, other
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for idx, w := range a {
		if ow, ok := b[idx]; ok {
			sum += float64(w) * float64(ow)
		}
	}
	return sum
}

// BM25 is a sparse term-weight encoder with corpus-level statistics.
// Fit must run over all chunks of the current build before any vectors are
// emitted; the two phases are deliberately separate so callers can observe
// that the statistics pass completed.
type BM25 struct {
	k1 float64
	b  float64

	vocab  map[string]int
	idf    []float64
	avgLen float64
	docs   int
	fitted bool

	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewBM25 creates an unfitted BM25 encoder with the given term-saturation
// (k1) and length-normalization (b) parameters.
func NewBM25(k1, b float64) *BM25 {
	if k1 <= 0 {
		k1 = 1.2
	}
	if b < 0 || b > 1 {
		b = 0.75
	}
	return &BM25{
		k1:           k1,
		b:            b,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}_]+`),
		stopwords:    defaultStopwords(),
	}
}

// Fitted reports whether the corpus statistics pass has completed.
func (e *BM25) Fitted() bool { return e.fitted }

// Fit builds vocabulary, document frequencies, and average document length
// from the corpus. Terms are ordered lexicographically so the same corpus
// always produces the same term indices.
func (e *BM25) Fit(corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("empty corpus for BM25 fit")
	}
	df := make(map[string]int)
	var totalLen int
	for _, text := range corpus {
		tokens := e.tokenize(text)
		totalLen += len(tokens)
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	if len(df) == 0 {
		return errors.New("no indexable terms in corpus")
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	n := float64(len(corpus))
	e.vocab = make(map[string]int, len(terms))
	e.idf = make([]float64, len(terms))
	for i, term := range terms {
		e.vocab[term] = i
		e.idf[i] = math.Log(1 + (n-float64(df[term])+0.5)/(float64(df[term])+0.5))
	}
	e.avgLen = float64(totalLen) / n
	e.docs = len(corpus)
	e.fitted = true
	return nil
}

// EncodeDocument computes the BM25 term weights for an indexed chunk.
// The result may be empty when the text has no indexable terms; callers
// treat such chunks as noise and drop them from the index.
func (e *BM25) EncodeDocument(text string) (SparseVector, error) {
	if !e.fitted {
		return nil, ErrNotFitted
	}
	tokens := e.tokenize(text)
	tf := make(map[int]int)
	for _, tok := range tokens {
		if idx, ok := e.vocab[tok]; ok {
			tf[idx]++
		}
	}
	vec := make(SparseVector, len(tf))
	dl := float64(len(tokens))
	norm := e.k1 * (1 - e.b + e.b*dl/e.avgLen)
	for idx, count := range tf {
		f := float64(count)
		vec[idx] = float32(e.idf[idx] * (f * (e.k1 + 1)) / (f + norm))
	}
	return vec, nil
}

// EncodeQuery computes query-side weights: IDF per distinct query term.
// Term frequency saturation does not apply on the query side.
func (e *BM25) EncodeQuery(text string) (SparseVector, error) {
	if !e.fitted {
		return nil, ErrNotFitted
	}
	vec := make(SparseVector)
	for _, tok := range e.tokenize(text) {
		if idx, ok := e.vocab[tok]; ok {
			vec[idx] = float32(e.idf[idx])
		}
	}
	return vec, nil
}

// bm25State is the serialized form of a fitted encoder.
type bm25State struct {
	K1     float64   `json:"k1"`
	B      float64   `json:"b"`
	AvgLen float64   `json:"avg_len"`
	Docs   int       `json:"docs"`
	Terms  []string  `json:"terms"`
	IDF    []float64 `json:"idf"`
}

// State serializes the fitted statistics so a reopened index can encode
// queries without refitting.
func (e *BM25) State() ([]byte, error) {
	if !e.fitted {
		return nil, ErrNotFitted
	}
	terms := make([]string, len(e.vocab))
	for term, idx := range e.vocab {
		terms[idx] = term
	}
	return json.Marshal(bm25State{
		K1:     e.k1,
		B:      e.b,
		AvgLen: e.avgLen,
		Docs:   e.docs,
		Terms:  terms,
		IDF:    e.idf,
	})
}

// Restore loads previously serialized statistics into the encoder.
func (e *BM25) Restore(data []byte) error {
	var st bm25State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("restore sparse encoder: %w", err)
	}
	if len(st.Terms) == 0 || len(st.Terms) != len(st.IDF) {
		return errors.New("restore sparse encoder: malformed state")
	}
	e.k1 = st.K1
	e.b = st.B
	e.avgLen = st.AvgLen
	e.docs = st.Docs
	e.idf = st.IDF
	e.vocab = make(map[string]int, len(st.Terms))
	for i, term := range st.Terms {
		e.vocab[term] = i
	}
	e.fitted = true
	return nil
}

func (e *BM25) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for",
		"to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was",
		"were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "not", "no", "so", "such", "into", "about", "between",
		"through", "can", "will", "just", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
