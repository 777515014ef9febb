package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/verity-labs/docvox/internal/domain"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from text-embedding-3-small
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel is the model used for answer generation
	DefaultChatModel = openai.GPT4oMini
	// DefaultChatTemperature keeps answers close to the retrieved context
	DefaultChatTemperature = 0.2
	// DefaultMaxAttempts bounds retries of transient embedding failures
	DefaultMaxAttempts = 4
	// MaxEmbeddingChars is the input budget for a single embedding request
	MaxEmbeddingChars = 32000
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrTextTooLong is returned when text exceeds the embedding input budget
	ErrTextTooLong = errors.New("text exceeds embedding input budget")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions, expected 1536")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// TokenStream yields incremental text fragments from a chat completion.
// Recv returns io.EOF when the upstream stream is complete.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// ChatAPI defines the interface for streamed answer generation
type ChatAPI interface {
	CreateChatStream(ctx context.Context, messages []domain.Message) (TokenStream, error)
}

// Client wraps the OpenAI API for embeddings and streamed chat completions
type Client struct {
	api         EmbeddingAPI
	chat        ChatAPI
	dimensions  int
	maxAttempts int
	baseBackoff time.Duration
}

type OpenAIAdapter struct {
	client      *openai.Client
	model       openai.EmbeddingModel
	chatModel   string
	temperature float32
}

func NewOpenAIAdapter(apiKey string, model openai.EmbeddingModel) *OpenAIAdapter {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OpenAIAdapter{
		client:      openai.NewClient(apiKey),
		model:       model,
		chatModel:   DefaultChatModel,
		temperature: DefaultChatTemperature,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// CreateChatStream opens a token-streaming chat completion
func (a *OpenAIAdapter) CreateChatStream(ctx context.Context, messages []domain.Message) (TokenStream, error) {
	req := openai.ChatCompletionRequest{
		Model:       a.chatModel,
		Temperature: a.temperature,
		Stream:      true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &chatStreamAdapter{stream: stream}, nil
}

type chatStreamAdapter struct {
	stream *openai.ChatCompletionStream
}

// Recv returns the next non-empty text fragment, skipping keep-alive and
// role-only deltas.
func (a *chatStreamAdapter) Recv() (string, error) {
	for {
		resp, err := a.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (a *chatStreamAdapter) Close() error {
	return a.stream.Close()
}

type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	MaxAttempts         int
	BaseBackoff         time.Duration
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	baseBackoff := cfg.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 500 * time.Millisecond
	}
	adapter := NewOpenAIAdapter(cfg.APIKey, cfg.EmbeddingModel)
	return &Client{
		api:         adapter,
		chat:        adapter,
		dimensions:  dimensions,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// GenerateEmbedding generates an embedding for the given text, retrying
// transient remote failures up to the configured attempt budget with
// exponential backoff and jitter. On exhaustion the returned EmbeddingError
// is marked non-retryable so callers stop escalating.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewEmbeddingError(false, ErrEmptyText)
	}
	if len(text) > MaxEmbeddingChars {
		return nil, domain.NewEmbeddingError(false, ErrTextTooLong)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, domain.NewEmbeddingError(false, ctx.Err())
			case <-time.After(c.backoff(attempt)):
			}
		}

		embedding, err := c.api.CreateEmbeddings(ctx, text)
		if err == nil {
			if len(embedding) != c.dimensions {
				return nil, domain.NewEmbeddingError(false, ErrWrongDimensions)
			}
			return embedding, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return nil, domain.NewEmbeddingError(false, err)
		}
	}

	return nil, domain.NewEmbeddingError(false,
		fmt.Errorf("exhausted %d attempts: %w", c.maxAttempts, lastErr))
}

// StreamChat opens a token-streaming completion for the given messages.
func (c *Client) StreamChat(ctx context.Context, messages []domain.Message) (TokenStream, error) {
	return c.chat.CreateChatStream(ctx, messages)
}

// backoff returns the delay before the given attempt (2nd attempt onward),
// doubling each time with up to 50% random jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseBackoff << (attempt - 2)
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}

// IsRetryable classifies a remote failure as transient (timeout, remote
// rate limit, 5xx) or permanent (auth, validation, cancellation).
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, io.EOF) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return true
		case apiErr.HTTPStatusCode >= 500:
			return true
		case apiErr.HTTPStatusCode == 408:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
