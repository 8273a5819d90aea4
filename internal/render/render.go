// Package render turns newsletter Markdown into email-ready HTML and text.
package render

import (
	"bytes"
	"fmt"
	htmlTemplate "html/template"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

const layout = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{ .Subject }}</title>
</head>
<body style="margin:0;padding:0;background:#f4f4f7;font-family:Helvetica,Arial,sans-serif;color:#333;">
<div style="max-width:640px;margin:0 auto;padding:24px;background:#ffffff;">
{{ .Body }}
{{- if .CallToAction }}
<p style="text-align:center;margin:32px 0;">
<span style="display:inline-block;padding:12px 24px;background:#4f46e5;color:#ffffff;border-radius:6px;font-weight:bold;">{{ .CallToAction }}</span>
</p>
{{- end }}
</div>
</body>
</html>
`

// Newsletter is the editable content of a newsletter
type Newsletter struct {
	Subject      string
	Body         string // Markdown
	CallToAction string
}

// Result is a rendered newsletter
type Result struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer converts Markdown with GitHub-flavoured extensions
type Renderer struct {
	md     goldmark.Markdown
	layout *htmlTemplate.Template
}

// New creates a renderer
func New() *Renderer {
	return &Renderer{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		layout: htmlTemplate.Must(htmlTemplate.New("layout").Parse(layout)),
	}
}

// HTML converts Markdown to an HTML fragment. Raw HTML in the source is omitted.
func (r *Renderer) HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return buf.String(), nil
}

// Render produces the HTML and plain text parts of a newsletter
func (r *Renderer) Render(n Newsletter) (*Result, error) {
	fragment, err := r.HTML(n.Body)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = r.layout.Execute(&buf, map[string]any{
		"Subject":      n.Subject,
		"Body":         htmlTemplate.HTML(fragment),
		"CallToAction": n.CallToAction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render layout: %w", err)
	}

	plain := strings.TrimSpace(n.Body)
	if n.CallToAction != "" {
		plain += "\n\n" + n.CallToAction
	}

	return &Result{
		Subject: n.Subject,
		HTML:    buf.String(),
		Text:    plain + "\n",
	}, nil
}

// Preview returns the leading paragraph text of markdown, cut at a word
// boundary and suffixed with "..." when longer than max runes.
func (r *Renderer) Preview(markdown string, max int) string {
	source := []byte(markdown)
	doc := r.md.Parser().Parse(text.NewReader(source))

	var sb strings.Builder
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Kind() == ast.KindParagraph && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		if n.Kind() == ast.KindHeading {
			return ast.WalkSkipChildren, nil
		}
		if t, ok := n.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		}
		if utf8.RuneCountInString(sb.String()) > max {
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	return truncate(strings.Join(strings.Fields(sb.String()), " "), max)
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)[:max]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}
