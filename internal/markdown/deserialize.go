package markdown

import (
	"regexp"
	"strings"

	"github.com/starford/mono/internal/document"
)

var (
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	fenceOpenRe = regexp.MustCompile("^```(\\w*)$")
	fenceEndRe  = regexp.MustCompile("^```$")
	taskRe      = regexp.MustCompile(`^(\s*)- \[([ x])\]\s*(.*)$`)
	bulletRe    = regexp.MustCompile(`^(\s*)[-*+]\s+(.*)$`)
	orderedRe   = regexp.MustCompile(`^(\s*)\d+\.\s+(.*)$`)
	ruleRe      = regexp.MustCompile(`^(-{3,}|\*{3,}|_{3,})\s*$`)
)

type listKind uint8

const (
	taskList listKind = iota + 1
	bulletList
	orderedList
)

// listLine is a line recognised as a list item.
type listLine struct {
	kind    listKind
	indent  int
	text    string
	checked bool
}

// classify matches line against the list item patterns in precedence order.
func classify(line string) (listLine, bool) {
	if m := taskRe.FindStringSubmatch(line); m != nil {
		return listLine{kind: taskList, indent: len(m[1]), text: m[3], checked: m[2] == "x"}, true
	}
	if m := bulletRe.FindStringSubmatch(line); m != nil {
		return listLine{kind: bulletList, indent: len(m[1]), text: m[2]}, true
	}
	if m := orderedRe.FindStringSubmatch(line); m != nil {
		return listLine{kind: orderedList, indent: len(m[1]), text: m[2]}, true
	}
	return listLine{}, false
}

// Deserialize parses markdown into a document. It never fails: anything it
// does not recognise becomes a paragraph.
func Deserialize(md string) *document.Doc {
	md = strings.ReplaceAll(md, "\r\n", "\n")
	md = strings.TrimRight(md, "\n")
	if strings.TrimSpace(md) == "" {
		return document.Empty()
	}
	p := &scanner{lines: strings.Split(md, "\n")}
	return &document.Doc{Content: p.blocks()}
}

type scanner struct {
	lines []string
	i     int
}

func (p *scanner) blocks() []document.Node {
	out := []document.Node{}
	for p.i < len(p.lines) {
		line := p.lines[p.i]

		if strings.TrimSpace(line) == "" {
			out = append(out, &document.Paragraph{})
			p.i++
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			out = append(out, &document.Heading{Level: len(m[1]), Content: parseInline(m[2])})
			p.i++
			continue
		}
		if m := fenceOpenRe.FindStringSubmatch(line); m != nil {
			out = append(out, p.codeBlock(m[1]))
			continue
		}
		if l, ok := classify(line); ok {
			out = append(out, p.list(l.kind))
			continue
		}
		if strings.HasPrefix(line, "> ") {
			out = append(out, p.blockquote())
			continue
		}
		if ruleRe.MatchString(line) {
			out = append(out, &document.HorizontalRule{})
			p.i++
			continue
		}
		out = append(out, p.paragraph())
	}
	return out
}

func (p *scanner) codeBlock(lang string) document.Node {
	p.i++
	var body []string
	for p.i < len(p.lines) && !fenceEndRe.MatchString(p.lines[p.i]) {
		body = append(body, p.lines[p.i])
		p.i++
	}
	p.i++ // closing fence

	cb := &document.CodeBlock{Language: lang}
	if text := strings.Join(body, "\n"); text != "" {
		cb.Content = []document.Node{&document.Text{Text: text}}
	}
	return cb
}

// list consumes items of one kind at the first item's indent. Blank lines
// between two such items do not end the list. Each item's own lines are
// parsed as blocks, so nested lists and continuation paragraphs stay inside
// the item.
func (p *scanner) list(kind listKind) document.Node {
	first, _ := classify(p.lines[p.i])
	base := first.indent

	var items []document.Node
	for p.i < len(p.lines) {
		next := p.skipBlank(p.i)
		if next == len(p.lines) {
			break
		}
		l, ok := classify(p.lines[next])
		if !ok || l.kind != kind || l.indent != base {
			break
		}
		p.i = next + 1

		body := append([]string{l.text}, p.itemBody(base)...)
		children := (&scanner{lines: body}).blocks()

		if kind == taskList {
			items = append(items, &document.TaskItem{Checked: l.checked, Content: children})
		} else {
			items = append(items, &document.ListItem{Content: children})
		}
	}

	switch kind {
	case taskList:
		return &document.TaskList{Content: items}
	case orderedList:
		return &document.OrderedList{Content: items}
	default:
		return &document.BulletList{Content: items}
	}
}

// itemBody consumes the lines after an item marker that belong to the item:
// lines indented deeper than base, and blank lines followed by one. They are
// returned relative to the item's content column.
func (p *scanner) itemBody(base int) []string {
	var body []string
	for p.i < len(p.lines) {
		next := p.skipBlank(p.i)
		if next == len(p.lines) || indentOf(p.lines[next]) <= base {
			break
		}
		for ; p.i <= next; p.i++ {
			body = append(body, dedent(p.lines[p.i], base+2))
		}
	}
	return body
}

// skipBlank returns the index of the first non-blank line at or after i.
func (p *scanner) skipBlank(i int) int {
	for i < len(p.lines) && strings.TrimSpace(p.lines[i]) == "" {
		i++
	}
	return i
}

// blockquote strips "> " from a run of quoted lines and parses the rest as
// blocks.
func (p *scanner) blockquote() document.Node {
	var body []string
	for p.i < len(p.lines) && strings.HasPrefix(p.lines[p.i], "> ") {
		body = append(body, p.lines[p.i][2:])
		p.i++
	}
	return &document.Blockquote{Content: (&scanner{lines: body}).blocks()}
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// dedent removes up to n leading spaces or tabs.
func dedent(line string, n int) string {
	i := 0
	for i < n && i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	return line[i:]
}

// paragraph reads one line of inline text. A line ending in two spaces
// followed by more plain text continues the paragraph after a hard break.
func (p *scanner) paragraph() document.Node {
	var content []document.Node
	for {
		line := p.lines[p.i]
		p.i++
		if !strings.HasSuffix(line, "  ") || p.i >= len(p.lines) || !plainLine(p.lines[p.i]) {
			content = append(content, parseInline(line)...)
			break
		}
		content = append(content, parseInline(strings.TrimSuffix(line, "  "))...)
		content = append(content, &document.HardBreak{})
	}
	return &document.Paragraph{Content: content}
}

// plainLine reports whether line would be parsed as paragraph text.
func plainLine(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	if headingRe.MatchString(line) || fenceOpenRe.MatchString(line) || ruleRe.MatchString(line) {
		return false
	}
	if _, ok := classify(line); ok {
		return false
	}
	return !strings.HasPrefix(line, "> ")
}
