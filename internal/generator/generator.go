package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"schedbot/internal/executor"
	"schedbot/pkg/logx"
)

const systemInstruction = "You are an assistant delivering scheduled updates in a chat. " +
	"Reply in plain text, concise and clear. Use short paragraphs or dashes for lists. " +
	"Do not use Markdown or HTML markup."

// Config configures the OpenAI-backed content generator. Retry policy lives
// in the execution pipeline; this client only classifies failures.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Client generates content via the OpenAI chat completions API.
type Client struct {
	api *openai.Client
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{api: openai.NewClient(cfg.APIKey), cfg: cfg, log: log}, nil
}

// Generate produces text for the prompt. Transient failures (rate limit,
// connection, timeout) come back marked retryable; everything else is fatal
// to the calling execution.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: userInput(prompt)},
		},
	}
	// Reasoning models reject the temperature parameter.
	if !isReasoningModel(c.cfg.Model) {
		req.Temperature = c.cfg.Temperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("completion contained no text")
	}
	return text, nil
}

func userInput(prompt string) string {
	now := time.Now().UTC().Format(time.RFC3339)
	return fmt.Sprintf("Current time (UTC): %s.\n\n%s", now, prompt)
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "o1") ||
		strings.HasPrefix(m, "o3") ||
		strings.HasPrefix(m, "o4") ||
		strings.HasPrefix(m, "gpt-5")
}

// classify maps API failures onto the pipeline's retryable/fatal taxonomy.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return executor.RetryableAfter(err, 2*time.Second)
		case apiErr.HTTPStatusCode >= 500:
			return executor.Retryable(err)
		default:
			return err
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		// Transport-level failure before a well-formed API response.
		return executor.Retryable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return executor.Retryable(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return executor.Retryable(err)
	}
	return err
}
