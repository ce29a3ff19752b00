package summarize

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateForPrompt(t *testing.T) {
	t.Parallel()

	short := "short text"
	assert.Equal(t, short, truncateForPrompt(short))

	long := strings.Repeat("a", maxPromptChars+100)
	assert.Len(t, truncateForPrompt(long), maxPromptChars)
}

func TestAdapters_RejectEmptyContentBeforeAnyCall(t *testing.T) {
	t.Parallel()

	// No API keys configured: an empty-content error proves the adapters
	// bail out before touching the network.
	anthropic := NewAnthropicSummarizer(AnthropicConfig{})
	_, err := anthropic.Summarize(context.Background(), "a.md", "   \n\t ")
	assert.ErrorIs(t, err, ErrEmptyContent)

	oai := NewOpenAISummarizer(OpenAIConfig{})
	_, err = oai.Summarize(context.Background(), "a.md", "")
	assert.ErrorIs(t, err, ErrEmptyContent)
}
