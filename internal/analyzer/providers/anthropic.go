// Package providers holds the analysis service clients
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// prefill starts the assistant turn so the model continues with a JSON object
const prefill = "{"

// AnthropicOptions configures the Anthropic scorer
type AnthropicOptions struct {
	APIKey    string
	Model     string
	MaxTokens int
	// RequestsPerMinute caps outgoing calls. Zero disables the limit.
	RequestsPerMinute int
}

// Anthropic scores prompts with Claude through the official SDK
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

// NewAnthropic creates a scorer. Extra request options are passed to the SDK client.
func NewAnthropic(opts AnthropicOptions, extra ...option.RequestOption) *Anthropic {
	clientOpts := append([]option.RequestOption{option.WithAPIKey(opts.APIKey)}, extra...)
	client := anthropic.NewClient(clientOpts...)

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Anthropic{
		client:    &client,
		model:     opts.Model,
		maxTokens: maxTokens,
		limiter:   limiter,
	}
}

// Provider names the service for exchange dumps
func (a *Anthropic) Provider() string {
	return "anthropic"
}

// Model returns the configured model name
func (a *Anthropic) Model() string {
	return a.model
}

// Score sends the prompt and returns the answer text, including the prefill
func (a *Anthropic) Score(ctx context.Context, prompt string) (string, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(prefill)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("call Claude API: %w", err)
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}
	if responseText == "" {
		return "", errors.New("claude returned empty response")
	}

	return prefill + responseText, nil
}
