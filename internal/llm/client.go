package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
)

// Generator is the text-generation capability: a prompt goes in, an opaque
// string comes out. Callers own extraction and validation of any structure
// they expect in the response.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// OpenAIChat calls an OpenAI-compatible chat-completions endpoint. Groq,
// Ollama, and similar servers all speak this protocol.
type OpenAIChat struct {
	client      *openai.Client
	model       string
	temperature float32
	maxRetries  uint64
}

// Config configures the chat client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// NewOpenAIChat creates the chat client. The API key is read from the
// environment variable named by APIKeyEnv.
func NewOpenAIChat(cfg Config) (*OpenAIChat, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
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
	return &OpenAIChat{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxRetries:  uint64(retries),
	}, nil
}

// Generate sends a system and user message and returns the assistant's raw
// response text. Transient transport failures are retried with backoff.
func (c *OpenAIChat) Generate(ctx context.Context, system, user string) (string, error) {
	var out string
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: c.temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return classifyAPIError(err)
		}
		if len(resp.Choices) == 0 {
			return retry.RetryableError(errors.New("no choices returned"))
		}
		out = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate (after %d retries): %w", c.maxRetries, err)
	}
	return out, nil
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
