package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// =============================================================================
// OpenAISummarizer
// =============================================================================

// DefaultOpenAIModel is the model used when none is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAISummarizer summarizes sources with OpenAI chat models.
type OpenAISummarizer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// OpenAIConfig configures an OpenAISummarizer.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewOpenAISummarizer creates a summarizer backed by the OpenAI API.
func NewOpenAISummarizer(config OpenAIConfig) *OpenAISummarizer {
	if config.Model == "" {
		config.Model = DefaultOpenAIModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	var opts []option.RequestOption
	if config.APIKey != "" {
		opts = append(opts, option.WithAPIKey(config.APIKey))
	}

	client := openai.NewClient(opts...)
	return &OpenAISummarizer{
		client:  &client,
		model:   config.Model,
		timeout: config.Timeout,
	}
}

// Summarize implements Summarizer.
func (s *OpenAISummarizer) Summarize(ctx context.Context, sourceID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyContent
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Source: %s\n\n%s", sourceID, truncateForPrompt(text))

	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %v", ErrTransient, err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", ErrTransient)
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: openai returned no text", ErrTransient)
	}

	return content, nil
}
