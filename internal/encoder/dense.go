package encoder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
)

// Dense maps text to a fixed-length semantic vector. Implementations must be
// deterministic for a fixed model version and must accept any non-empty
// printable text, including source code.
type Dense interface {
	EncodeDense(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// OpenAIDense calls an OpenAI-compatible /embeddings endpoint. With the base
// URL pointed at Ollama or another compatible server it works offline.
type OpenAIDense struct {
	client     *openai.Client
	model      string
	dimension  int
	maxRetries uint64
}

// OpenAIDenseConfig configures the embeddings client.
type OpenAIDenseConfig struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
}

// NewOpenAIDense creates the embeddings client. The API key is read from the
// environment variable named by APIKeyEnv; a missing key is allowed for
// servers that do not require one.
func NewOpenAIDense(cfg OpenAIDenseConfig) (*OpenAIDense, error) {
	if cfg.Model == "" {
		return nil, errors.New("dense encoder: model is required")
	}
	if cfg.Dimension < 1 {
		return nil, fmt.Errorf("dense encoder: invalid dimension %d", cfg.Dimension)
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		key = "unused"
	}
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &OpenAIDense{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: uint64(retries),
	}, nil
}

// Dimension returns the configured embedding dimensionality.
func (d *OpenAIDense) Dimension() int { return d.dimension }

// EncodeDense embeds a single text and returns its L2-normalized vector.
// Transient failures are retried with exponential backoff before the call
// is surfaced as a failure.
func (d *OpenAIDense) EncodeDense(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("dense encoder: empty text")
	}
	var vec []float32
	backoff := retry.WithMaxRetries(d.maxRetries, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := d.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(d.model),
			Input: []string{text},
		})
		if err != nil {
			return classifyAPIError(err)
		}
		if len(resp.Data) == 0 {
			return retry.RetryableError(errors.New("no embedding data returned"))
		}
		vec = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dense encode (after %d retries): %w", d.maxRetries, err)
	}
	if len(vec) != d.dimension {
		return nil, fmt.Errorf("dense encode: expected dimension %d, got %d", d.dimension, len(vec))
	}
	Normalize(vec)
	return vec, nil
}

// classifyAPIError decides whether a failed call is worth retrying. Client
// errors like a bad key or unknown model will fail identically on every
// attempt; only 429 and server-side failures get the backoff budget.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && permanentStatus(apiErr.HTTPStatusCode) {
		return err
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && permanentStatus(reqErr.HTTPStatusCode) {
		return err
	}
	return retry.RetryableError(err)
}

func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// Normalize scales v to unit L2 length in place. A zero vector is left as is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
