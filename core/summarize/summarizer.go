// Package summarize provides the summarization capability consumed by the
// knowledge-base engine. The engine depends only on the Summarizer interface;
// provider adapters for Anthropic and OpenAI live here as thin wrappers so
// the core can be tested with deterministic fakes.
package summarize

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrTransient indicates a summarization failure that should be retried
	// on a later pass: timeouts, provider overload, transport failures. The
	// orchestrator keeps the prior summary and does not commit the new hash.
	ErrTransient = errors.New("transient summarization failure")

	// ErrEmptyContent indicates there was nothing to summarize.
	ErrEmptyContent = errors.New("no content to summarize")
)

// DefaultTimeout bounds a single summarization call.
const DefaultTimeout = 60 * time.Second

// =============================================================================
// Summarizer Interface
// =============================================================================

// Summarizer produces the descriptive index text for one source.
type Summarizer interface {
	// Summarize returns a short description of text suitable for the
	// knowledge-base index. sourceID is provided for prompt context only and
	// must not appear in the returned summary.
	Summarize(ctx context.Context, sourceID, text string) (string, error)
}

// systemPrompt instructs the model to produce index-entry descriptions.
const systemPrompt = `You summarize source material for a knowledge-base index.
Given the content of a document or web page, respond with a concise plain-text
description (2-4 sentences) of what the source covers and what questions it can
answer. Do not repeat the source identifier. Do not use markdown formatting.`

// truncateForPrompt bounds the text sent to a provider. Long sources carry
// their signal early; the tail rarely changes the summary.
const maxPromptChars = 48_000

func truncateForPrompt(text string) string {
	if len(text) <= maxPromptChars {
		return text
	}
	return text[:maxPromptChars]
}
