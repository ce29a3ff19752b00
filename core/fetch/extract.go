package fetch

import (
	"html"
	"regexp"
	"strings"
)

// =============================================================================
// Text Extraction
// =============================================================================

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style|noscript)\b.*?</\s*(script|style|noscript)\s*>`)
	commentRe     = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockTagRe    = regexp.MustCompile(`(?i)</?\s*(p|div|br|li|ul|ol|h[1-6]|tr|table|section|article|header|footer|blockquote|pre)\b[^>]*>`)
	anyTagRe      = regexp.MustCompile(`<[^>]*>`)
	multiBlankRe  = regexp.MustCompile(`\n{3,}`)
	spaceRunRe    = regexp.MustCompile(`[ \t]+`)
)

// ExtractText converts a fetched body into plain text. HTML bodies have
// script/style blocks, comments and tags removed, with block-level tags
// turning into line breaks; anything else passes through unchanged.
func ExtractText(body, contentType string) string {
	if !isHTML(body, contentType) {
		return body
	}

	text := scriptStyleRe.ReplaceAllString(body, " ")
	text = commentRe.ReplaceAllString(text, " ")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)

	return tidyWhitespace(text)
}

// isHTML decides whether the body should be treated as HTML markup.
func isHTML(body, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		return true
	}
	if ct != "" {
		return false
	}

	head := strings.ToLower(body)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// tidyWhitespace collapses space runs and excess blank lines.
func tidyWhitespace(text string) string {
	text = spaceRunRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
