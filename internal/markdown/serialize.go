// Package markdown converts between document trees and markdown text.
//
// Serialize and Deserialize are pure and total. Serialize is a right inverse
// of Deserialize up to blank-line runs and the bullet marker character.
package markdown

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/mono/internal/document"
)

// Serialize renders doc as markdown.
func Serialize(doc *document.Doc) string {
	if doc == nil {
		return ""
	}
	var b strings.Builder
	prev := ""
	for i, n := range mergeLists(doc.Content) {
		out := render(n)
		if i > 0 {
			// Adjacent non-empty blocks get a blank line between them. An
			// empty paragraph already stands for one.
			if prev != "" && out != "" {
				b.WriteString("\n\n")
			} else {
				b.WriteString("\n")
			}
		}
		b.WriteString(out)
		prev = out
	}
	// Only newlines are trimmed: a trailing "- " item or hard break must keep
	// its spaces.
	return strings.Trim(b.String(), "\n")
}

func render(n document.Node) string {
	switch n := n.(type) {
	case nil:
		return ""
	case *document.Doc:
		return Serialize(n)
	case *document.Paragraph:
		s := renderInline(n.Content)
		if strings.TrimSpace(s) == "" {
			return ""
		}
		return s
	case *document.Heading:
		return strings.Repeat("#", clamp(n.Level)) + " " + renderInline(n.Content)
	case *document.BulletList:
		return renderList(n.Content, func(int) string { return "-" })
	case *document.OrderedList:
		return renderList(n.Content, func(i int) string { return strconv.Itoa(i+1) + "." })
	case *document.TaskList:
		return renderList(n.Content, func(int) string { return "-" })
	case *document.ListItem:
		return renderItem("-", n.Content)
	case *document.TaskItem:
		return renderItem(taskMarker(n.Checked), n.Content)
	case *document.CodeBlock:
		return "```" + n.Language + "\n" + plainText(n.Content) + "\n```"
	case *document.Blockquote:
		return quote(renderBlocks(n.Content))
	case *document.HardBreak:
		return "  \n"
	case *document.HorizontalRule:
		return "---"
	case *document.Text:
		return renderText(n)
	case *document.Unknown:
		var b strings.Builder
		for _, c := range n.Content {
			b.WriteString(render(c))
		}
		return b.String()
	default:
		panic(fmt.Sprintf("markdown: unhandled node %T", n))
	}
}

// renderBlocks renders nested block children one per line.
func renderBlocks(nodes []document.Node) string {
	nodes = mergeLists(nodes)
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, render(n))
	}
	return strings.Join(parts, "\n")
}

func renderList(items []document.Node, marker func(i int) string) string {
	lines := make([]string, 0, len(items))
	for i, item := range items {
		switch it := item.(type) {
		case *document.ListItem:
			lines = append(lines, renderItem(marker(i), it.Content))
		case *document.TaskItem:
			lines = append(lines, renderItem(taskMarker(it.Checked), it.Content))
		default:
			lines = append(lines, render(item))
		}
	}
	return strings.Join(lines, "\n")
}

// renderItem prefixes the first line of the item's blocks with the marker and
// indents the remaining lines two spaces, so nesting depth accumulates one
// level per enclosing item.
func renderItem(marker string, children []document.Node) string {
	lines := strings.Split(renderBlocks(children), "\n")
	var b strings.Builder
	b.WriteString(marker)
	b.WriteString(" ")
	b.WriteString(lines[0])
	for _, l := range lines[1:] {
		b.WriteString("\n")
		if l != "" {
			b.WriteString("  ")
			b.WriteString(l)
		}
	}
	return b.String()
}

// mergeLists joins lists of the same kind that are adjacent or separated only
// by empty paragraphs. Markdown cannot keep such lists apart, so they are
// rendered the way Deserialize reads them back. nodes is not modified.
func mergeLists(nodes []document.Node) []document.Node {
	out := make([]document.Node, 0, len(nodes))
	for _, n := range nodes {
		if kind := listKindOf(n); kind != 0 {
			j := len(out) - 1
			for j >= 0 && isEmptyParagraph(out[j]) {
				j--
			}
			if j >= 0 && listKindOf(out[j]) == kind {
				out[j] = joinList(out[j], n)
				out = out[:j+1]
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

func listKindOf(n document.Node) listKind {
	switch n.(type) {
	case *document.BulletList:
		return bulletList
	case *document.OrderedList:
		return orderedList
	case *document.TaskList:
		return taskList
	}
	return 0
}

// joinList returns a new list of a's kind holding the items of a then b.
func joinList(a, b document.Node) document.Node {
	items := append(append([]document.Node{}, document.Children(a)...), document.Children(b)...)
	switch a.(type) {
	case *document.OrderedList:
		return &document.OrderedList{Content: items}
	case *document.TaskList:
		return &document.TaskList{Content: items}
	default:
		return &document.BulletList{Content: items}
	}
}

func isEmptyParagraph(n document.Node) bool {
	p, ok := n.(*document.Paragraph)
	return ok && strings.TrimSpace(renderInline(p.Content)) == ""
}

func taskMarker(checked bool) string {
	if checked {
		return "- [x]"
	}
	return "- [ ]"
}

func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func renderInline(nodes []document.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(render(n))
	}
	return b.String()
}

// renderText applies marks in list order, so the first mark ends up innermost.
func renderText(t *document.Text) string {
	s := t.Text
	for _, m := range t.Marks {
		switch m.Kind {
		case document.MarkBold:
			s = "**" + s + "**"
		case document.MarkItalic:
			s = "*" + s + "*"
		case document.MarkCode:
			s = "`" + s + "`"
		case document.MarkStrike:
			s = "~~" + s + "~~"
		case document.MarkLink:
			s = "[" + s + "](" + m.Href + ")"
		}
	}
	return s
}

func plainText(nodes []document.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		switch n := n.(type) {
		case *document.Text:
			b.WriteString(n.Text)
		case *document.HardBreak:
			b.WriteString("\n")
		default:
			b.WriteString(plainText(document.Children(n)))
		}
	}
	return b.String()
}

func clamp(level int) int {
	switch {
	case level < 1:
		return 1
	case level > 6:
		return 6
	default:
		return level
	}
}
