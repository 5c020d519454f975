package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

const maxRetries = 2

// AnthropicClient is a Completer backed by the Messages API.
type AnthropicClient struct {
	client  anthropic.Client
	model   string
	limiter *rate.Limiter
}

// NewAnthropicClient paces requests to perMinute (unlimited when <= 0).
// Pass a nil httpClient to use a 2 minute timeout client.
func NewAnthropicClient(httpClient *http.Client, apiKey, model, baseURL string, perMinute int) *AnthropicClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(maxRetries),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}

	return &AnthropicClient{
		client:  anthropic.NewClient(opts...),
		model:   model,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// APIError is a non-2xx answer from the AI service after retries.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("ai api %d %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("ai api %d: %s", e.StatusCode, e.Message)
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func toAPIError(err *anthropic.Error) *APIError {
	out := &APIError{StatusCode: err.StatusCode, Message: err.Error()}
	var eb apiErrorBody
	if json.Unmarshal([]byte(err.RawJSON()), &eb) == nil && eb.Error.Message != "" {
		out.Type = eb.Error.Type
		out.Message = eb.Error.Message
	}
	return out
}

func (c *AnthropicClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", toAPIError(apiErr)
		}
		return "", fmt.Errorf("ai request failed: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("ai response had no text content")
	}
	return b.String(), nil
}
