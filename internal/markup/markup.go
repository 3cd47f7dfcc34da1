// Package markup converts model-produced Markdown into the restricted
// HTML subset Telegram accepts. Anything Telegram cannot render (raw
// HTML, images, tables) is stripped or flattened to text so a reply
// never bounces with a parse error.
package markup

import (
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	gmparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var parser gmparser.Parser = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough),
).Parser()

// ToTelegramHTML renders markdown source as Telegram HTML. The output
// uses only tags Telegram documents (<b>, <i>, <s>, <code>, <pre>,
// <a>, <blockquote>); headings become bold lines and lists become
// bullet lines since Telegram has no block elements for them.
func ToTelegramHTML(source string) string {
	src := []byte(source)
	doc := parser.Parse(text.NewReader(src))

	var blocks []string
	for child := doc.FirstChild(); child != nil; child = child.NextSibling() {
		block := renderBlock(child, src)
		if strings.TrimSpace(block) == "" {
			continue
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}

func renderBlock(n ast.Node, src []byte) string {
	switch n.Kind() {
	case ast.KindParagraph, ast.KindTextBlock:
		return renderInlines(n, src)

	case ast.KindHeading:
		return "<b>" + renderInlines(n, src) + "</b>"

	case ast.KindFencedCodeBlock:
		fc := n.(*ast.FencedCodeBlock)
		code := html.EscapeString(blockText(fc, src))
		if lang := string(fc.Language(src)); lang != "" {
			return fmt.Sprintf("<pre><code class=\"language-%s\">%s</code></pre>", html.EscapeString(lang), code)
		}
		return "<pre>" + code + "</pre>"

	case ast.KindCodeBlock:
		return "<pre>" + html.EscapeString(blockText(n, src)) + "</pre>"

	case ast.KindList:
		return renderList(n.(*ast.List), src)

	case ast.KindBlockquote:
		var parts []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			parts = append(parts, renderBlock(c, src))
		}
		return "<blockquote>" + strings.Join(parts, "\n") + "</blockquote>"

	case ast.KindThematicBreak:
		return "———"

	case ast.KindHTMLBlock:
		// Raw HTML would break Telegram's parser, drop it.
		return ""

	default:
		return renderInlines(n, src)
	}
}

func renderList(list *ast.List, src []byte) string {
	var lines []string
	index := list.Start
	if index == 0 {
		index = 1
	}

	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		var parts []string
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			parts = append(parts, renderBlock(c, src))
		}
		body := strings.Join(parts, "\n")

		if list.IsOrdered() {
			lines = append(lines, fmt.Sprintf("%d. %s", index, body))
			index++
		} else {
			lines = append(lines, "• "+body)
		}
	}
	return strings.Join(lines, "\n")
}

func renderInlines(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		renderInline(&b, c, src)
	}
	return b.String()
}

func renderInline(b *strings.Builder, n ast.Node, src []byte) {
	switch t := n.(type) {
	case *ast.Text:
		b.WriteString(html.EscapeString(string(t.Segment.Value(src))))
		if t.SoftLineBreak() || t.HardLineBreak() {
			b.WriteByte('\n')
		}

	case *ast.String:
		b.WriteString(html.EscapeString(string(t.Value)))

	case *ast.Emphasis:
		tag := "i"
		if t.Level == 2 {
			tag = "b"
		}
		b.WriteString("<" + tag + ">")
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			renderInline(b, c, src)
		}
		b.WriteString("</" + tag + ">")

	case *extast.Strikethrough:
		b.WriteString("<s>")
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			renderInline(b, c, src)
		}
		b.WriteString("</s>")

	case *ast.CodeSpan:
		b.WriteString("<code>")
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if txt, ok := c.(*ast.Text); ok {
				b.WriteString(html.EscapeString(string(txt.Segment.Value(src))))
			}
		}
		b.WriteString("</code>")

	case *ast.Link:
		fmt.Fprintf(b, "<a href=\"%s\">", html.EscapeString(string(t.Destination)))
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			renderInline(b, c, src)
		}
		b.WriteString("</a>")

	case *ast.AutoLink:
		url := string(t.URL(src))
		fmt.Fprintf(b, "<a href=\"%s\">%s</a>", html.EscapeString(url), html.EscapeString(url))

	case *ast.Image:
		// No image support, keep the alt text.
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			renderInline(b, c, src)
		}

	case *ast.RawHTML:
		// Dropped for the same reason as HTML blocks.

	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			renderInline(b, c, src)
		}
	}
}

func blockText(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return strings.TrimRight(b.String(), "\n")
}
