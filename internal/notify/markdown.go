package notify

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// NotesRenderer turns markdown notes into sanitized HTML for email bodies.
type NotesRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewNotesRenderer builds a renderer with GFM and hard wraps enabled.
func NewNotesRenderer() *NotesRenderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Linkify,
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)
	return &NotesRenderer{md: md, policy: bluemonday.UGCPolicy()}
}

// Render converts markdown to HTML and strips anything outside the UGC policy.
func (r *NotesRenderer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render notes: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}
