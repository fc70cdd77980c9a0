// ABOUTME: Renders message content into single-line plain-text previews
// ABOUTME: Strips markdown with goldmark and truncates to a rune budget

package preview

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

const (
	// Placeholder is shown for conversations with no messages.
	Placeholder = "No messages yet"

	// DefaultMaxRunes is the preview length used when none is configured.
	DefaultMaxRunes = 80

	ellipsis = "…"
)

// Renderer turns raw message content into a preview string.
type Renderer struct {
	parser   parser.Parser
	maxRunes int
}

// NewRenderer creates a renderer truncating previews to maxRunes runes.
// A non-positive maxRunes uses DefaultMaxRunes.
func NewRenderer(maxRunes int) *Renderer {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	return &Renderer{
		parser:   goldmark.New().Parser(),
		maxRunes: maxRunes,
	}
}

// MaxRunes returns the truncation budget.
func (r *Renderer) MaxRunes() int { return r.maxRunes }

// Render returns the plain-text, whitespace-collapsed, truncated preview of
// content. Empty or markup-only content yields an empty string.
func (r *Renderer) Render(content string) string {
	return Truncate(r.PlainText(content), r.maxRunes)
}

// PlainText strips markdown from content and collapses whitespace, without
// truncating.
func (r *Renderer) PlainText(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	src := []byte(content)
	doc := r.parser.Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.AutoLink:
			b.Write(node.Label(src))
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := range lines.Len() {
				seg := lines.At(i)
				b.Write(seg.Value(src))
				b.WriteByte(' ')
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(strings.Fields(b.String()), " ")
}

// Truncate shortens s to at most maxRunes runes, ending with an ellipsis
// when anything was cut.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	if maxRunes == 1 {
		return ellipsis
	}

	cut := 0
	for i := range s {
		if cut == maxRunes-1 {
			return strings.TrimRight(s[:i], " ") + ellipsis
		}
		cut++
	}
	return s
}
