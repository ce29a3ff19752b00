package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// =============================================================================
// AnthropicSummarizer
// =============================================================================

// DefaultAnthropicModel is the model used when none is configured.
const DefaultAnthropicModel = "claude-haiku-4-5-20251001"

// AnthropicSummarizer summarizes sources with Anthropic's Claude models.
type AnthropicSummarizer struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

// AnthropicConfig configures an AnthropicSummarizer.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

// NewAnthropicSummarizer creates a summarizer backed by the Anthropic API.
func NewAnthropicSummarizer(config AnthropicConfig) *AnthropicSummarizer {
	if config.Model == "" {
		config.Model = DefaultAnthropicModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	var opts []option.RequestOption
	if config.APIKey != "" {
		opts = append(opts, option.WithAPIKey(config.APIKey))
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicSummarizer{
		client:    &client,
		model:     config.Model,
		maxTokens: config.MaxTokens,
		timeout:   config.Timeout,
	}
}

// Summarize implements Summarizer.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, sourceID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyContent
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Source: %s\n\n%s", sourceID, truncateForPrompt(text))

	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: anthropic: %v", ErrTransient, err)
	}

	var content string
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: anthropic returned no text", ErrTransient)
	}

	return content, nil
}
