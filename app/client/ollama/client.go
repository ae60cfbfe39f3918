package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"valera/app/config"

	"github.com/samber/do"
	"github.com/tmc/langchaingo/llms"
	ollamallm "github.com/tmc/langchaingo/llms/ollama"
)

const (
	requestTimeout = 2 * time.Minute
	pingTimeout    = 5 * time.Second
)

// GenerationError is surfaced to handlers once the retry budget for a single
// request is exhausted.
type GenerationError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation with model %s failed after %d attempts: %v", e.Model, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Client talks to the local Ollama server. Every call applies a per-attempt
// timeout and the configured fixed-delay retry budget.
type Client struct {
	cfg *config.Config
	llm *ollamallm.LLM
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	llm, err := ollamallm.New(
		ollamallm.WithServerURL(cfg.Ollama.Host),
		ollamallm.WithModel(cfg.Ollama.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	return &Client{
		cfg: cfg,
		llm: llm,
	}, nil
}

// WaitReady polls the server until it answers or the retry budget runs out.
// The Ollama API has no dedicated health endpoint, /api/tags is the
// conventional liveness probe (the official client pings it on construction).
func (c *Client) WaitReady(ctx context.Context) error {
	url := strings.TrimSuffix(c.cfg.Ollama.Host, "/") + "/api/tags"
	delay := time.Duration(c.cfg.Ollama.RetryDelaySeconds) * time.Second

	var lastErr error

	for attempt := 1; attempt <= c.cfg.Ollama.MaxRetryAttempts; attempt++ {
		lastErr = c.ping(ctx, url)
		if lastErr == nil {
			slog.Info("Successfully connected to Ollama",
				"host", c.cfg.Ollama.Host)
			return nil
		}

		slog.Warn("Ollama is not ready",
			"attempt", attempt,
			"max_attempts", c.cfg.Ollama.MaxRetryAttempts,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("ollama is unreachable after %d attempts: %w", c.cfg.Ollama.MaxRetryAttempts, lastErr)
}

func (c *Client) ping(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}

// GenerateText runs a chat completion over the accumulated context.
func (c *Client) GenerateText(ctx context.Context, model string, messages []llms.MessageContent) (string, error) {
	return c.generate(ctx, model, messages)
}

// DescribeImage asks the vision model for a textual description of the image.
func (c *Client) DescribeImage(ctx context.Context, model, prompt string, image []byte) (string, error) {
	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt),
				llms.BinaryPart("image/jpeg", image),
			},
		},
	}

	return c.generate(ctx, model, messages)
}

func (c *Client) generate(ctx context.Context, model string, messages []llms.MessageContent) (string, error) {
	delay := time.Duration(c.cfg.Ollama.RetryDelaySeconds) * time.Second

	var lastErr error

	for attempt := 1; attempt <= c.cfg.Ollama.MaxRetryAttempts; attempt++ {
		text, err := c.generateOnce(ctx, model, messages)
		if err == nil {
			return text, nil
		}

		lastErr = err
		slog.Warn("Generation attempt failed",
			"model", model,
			"attempt", attempt,
			"max_attempts", c.cfg.Ollama.MaxRetryAttempts,
			"error", err)

		select {
		case <-ctx.Done():
			return "", &GenerationError{Model: model, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}

	return "", &GenerationError{Model: model, Attempts: c.cfg.Ollama.MaxRetryAttempts, Err: lastErr}
}

func (c *Client) generateOnce(ctx context.Context, model string, messages []llms.MessageContent) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.llm.GenerateContent(ctx, messages, llms.WithModel(model))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no chat completion found")
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", fmt.Errorf("empty response from model %s", model)
	}

	return text, nil
}
