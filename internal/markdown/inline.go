package markdown

import (
	"regexp"
	"sort"
	"strings"

	"github.com/starford/mono/internal/document"
)

// inlinePatterns are tried in priority order; a match overlapping one found
// earlier is discarded.
var inlinePatterns = []struct {
	re   *regexp.Regexp
	kind document.MarkKind
}{
	{regexp.MustCompile(`\*\*([^*]+)\*\*`), document.MarkBold},
	{regexp.MustCompile(`\*([^*]+)\*`), document.MarkItalic},
	{regexp.MustCompile("`([^`]+)`"), document.MarkCode},
	{regexp.MustCompile(`~~([^~]+)~~`), document.MarkStrike},
	{regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`), document.MarkLink},
}

type span struct {
	start, end int
	text       string
	mark       document.Mark
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && s.end > o.start
}

// parseInline splits text into plain and marked text runs covering the whole
// input. Each run carries at most one mark.
func parseInline(text string) []document.Node {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var spans []span
	for _, p := range inlinePatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			s := span{start: m[0], end: m[1], text: text[m[2]:m[3]], mark: document.Mark{Kind: p.kind}}
			if p.kind == document.MarkLink {
				s.mark.Href = text[m[4]:m[5]]
			}
			if !overlapsAny(s, spans) {
				spans = append(spans, s)
			}
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var out []document.Node
	pos := 0
	for _, s := range spans {
		if s.start > pos {
			out = append(out, &document.Text{Text: text[pos:s.start]})
		}
		out = append(out, &document.Text{Text: s.text, Marks: []document.Mark{s.mark}})
		pos = s.end
	}
	if pos < len(text) {
		out = append(out, &document.Text{Text: text[pos:]})
	}
	return out
}

func overlapsAny(s span, spans []span) bool {
	for _, o := range spans {
		if s.overlaps(o) {
			return true
		}
	}
	return false
}
