// Package llm wraps the OpenAI chat-completions API behind the narrow
// Completer surface the decision engine consumes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"

	"github.com/mstead/claimlens/internal/retry"
)

// DefaultModel is the chat model used for decisions.
const DefaultModel = openai.ChatModelGPT4oMini

// ErrService reports a transport, timeout, or rate-limit failure that
// survived the retry budget.
var ErrService = errors.New("language model service unavailable")

// Client calls the OpenAI chat-completions API. Requests ask for a JSON
// object response so the decision engine gets structured output to parse.
type Client struct {
	client *openai.Client
	model  string
	policy retry.Policy
}

// NewClient creates a completion client for the given model (empty means
// DefaultModel). It requires OPENAI_API_KEY in the environment.
func NewClient(model string, policy retry.Policy) (*Client, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = DefaultModel
	}

	client := openai.NewClient()

	return &Client{client: &client, model: model, policy: policy}, nil
}

// Complete sends prompt and returns the raw response text. Rate-limit and
// transport failures are retried with backoff under the configured policy;
// an exhausted budget surfaces ErrService.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var response string
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		got, err := c.complete(ctx, prompt)
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		response = got
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrService, err)
	}
	return response, nil
}

// CompleteOnce sends prompt with a single attempt and no retries. The
// decision engine uses it for the one-shot repair pass.
func (c *Client) CompleteOnce(ctx context.Context, prompt string) (string, error) {
	got, err := c.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrService, err)
	}
	return got, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: c.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
