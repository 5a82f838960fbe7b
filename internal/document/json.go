package document

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotDocument is returned when decoded JSON does not have a "doc" root.
var ErrNotDocument = errors.New("document: root node is not a doc")

// wireNode is the editor's JSON shape for any node.
type wireNode struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []wireNode     `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []wireMark     `json:"marks,omitempty"`
}

type wireMark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// MarshalJSON encodes the document in the editor's JSON shape.
func (d *Doc) MarshalJSON() ([]byte, error) {
	if d == nil {
		return json.Marshal(wireNode{Type: "doc", Content: []wireNode{}})
	}
	w := wireNode{Type: "doc", Content: toWireAll(d.Content)}
	if w.Content == nil {
		w.Content = []wireNode{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the editor's JSON shape. Node kinds it does not know
// become Unknown nodes; unknown marks are dropped.
func (d *Doc) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("document: decode: %w", err)
	}
	if w.Type != "doc" {
		return fmt.Errorf("%w: got %q", ErrNotDocument, w.Type)
	}
	d.Content = fromWireAll(w.Content)
	if d.Content == nil {
		d.Content = []Node{}
	}
	return nil
}

// Parse decodes a JSON document.
func Parse(data []byte) (*Doc, error) {
	d := &Doc{}
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return d, nil
}

func toWireAll(nodes []Node) []wireNode {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]wireNode, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		out = append(out, toWire(n))
	}
	return out
}

func toWire(n Node) wireNode {
	switch n := n.(type) {
	case *Doc:
		return wireNode{Type: "doc", Content: toWireAll(n.Content)}
	case *Paragraph:
		return wireNode{Type: "paragraph", Content: toWireAll(n.Content)}
	case *Heading:
		return wireNode{
			Type:    "heading",
			Attrs:   map[string]any{"level": clampLevel(n.Level)},
			Content: toWireAll(n.Content),
		}
	case *BulletList:
		return wireNode{Type: "bulletList", Content: toWireAll(n.Content)}
	case *OrderedList:
		return wireNode{Type: "orderedList", Content: toWireAll(n.Content)}
	case *TaskList:
		return wireNode{Type: "taskList", Content: toWireAll(n.Content)}
	case *ListItem:
		return wireNode{Type: "listItem", Content: toWireAll(n.Content)}
	case *TaskItem:
		return wireNode{
			Type:    "taskItem",
			Attrs:   map[string]any{"checked": n.Checked},
			Content: toWireAll(n.Content),
		}
	case *CodeBlock:
		var attrs map[string]any
		if n.Language != "" {
			attrs = map[string]any{"language": n.Language}
		}
		return wireNode{Type: "codeBlock", Attrs: attrs, Content: toWireAll(n.Content)}
	case *Blockquote:
		return wireNode{Type: "blockquote", Content: toWireAll(n.Content)}
	case *HardBreak:
		return wireNode{Type: "hardBreak"}
	case *HorizontalRule:
		return wireNode{Type: "horizontalRule"}
	case *Text:
		return wireNode{Type: "text", Text: n.Text, Marks: toWireMarks(n.Marks)}
	case *Unknown:
		return wireNode{Type: n.Type, Attrs: n.Attrs, Content: toWireAll(n.Content)}
	default:
		panic(fmt.Sprintf("document: unhandled node %T", n))
	}
}

func toWireMarks(marks []Mark) []wireMark {
	if len(marks) == 0 {
		return nil
	}
	out := make([]wireMark, 0, len(marks))
	for _, m := range marks {
		name := m.Kind.String()
		if name == "" {
			continue
		}
		wm := wireMark{Type: name}
		if m.Kind == MarkLink {
			wm.Attrs = map[string]any{"href": m.Href}
		}
		out = append(out, wm)
	}
	return out
}

func fromWireAll(nodes []wireNode) []Node {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]Node, 0, len(nodes))
	for _, w := range nodes {
		out = append(out, fromWire(w))
	}
	return out
}

func fromWire(w wireNode) Node {
	content := fromWireAll(w.Content)
	switch w.Type {
	case "paragraph":
		return &Paragraph{Content: content}
	case "heading":
		return &Heading{Level: clampLevel(intAttr(w.Attrs, "level", 1)), Content: content}
	case "bulletList":
		return &BulletList{Content: content}
	case "orderedList":
		return &OrderedList{Content: content}
	case "taskList":
		return &TaskList{Content: content}
	case "listItem":
		return &ListItem{Content: content}
	case "taskItem":
		checked, _ := w.Attrs["checked"].(bool)
		return &TaskItem{Checked: checked, Content: content}
	case "codeBlock":
		lang, _ := w.Attrs["language"].(string)
		return &CodeBlock{Language: lang, Content: content}
	case "blockquote":
		return &Blockquote{Content: content}
	case "hardBreak":
		return &HardBreak{}
	case "horizontalRule":
		return &HorizontalRule{}
	case "text":
		return &Text{Text: w.Text, Marks: fromWireMarks(w.Marks)}
	default:
		return &Unknown{Type: w.Type, Attrs: w.Attrs, Content: content}
	}
}

func fromWireMarks(marks []wireMark) []Mark {
	if len(marks) == 0 {
		return nil
	}
	out := make([]Mark, 0, len(marks))
	for _, m := range marks {
		switch m.Type {
		case "bold":
			out = append(out, Mark{Kind: MarkBold})
		case "italic":
			out = append(out, Mark{Kind: MarkItalic})
		case "code":
			out = append(out, Mark{Kind: MarkCode})
		case "strike":
			out = append(out, Mark{Kind: MarkStrike})
		case "link":
			href, _ := m.Attrs["href"].(string)
			out = append(out, Mark{Kind: MarkLink, Href: href})
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func intAttr(attrs map[string]any, key string, def int) int {
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

func clampLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 6 {
		return 6
	}
	return level
}
