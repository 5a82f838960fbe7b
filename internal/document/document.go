// Package document defines the typed rich-text tree a note's content is stored as.
//
// Every node kind is a concrete struct implementing the sealed Node interface,
// so switches over a Node can enumerate the complete set of kinds.
package document

// Node is one element of a document tree.
type Node interface {
	node()
}

// MarkKind identifies an inline formatting annotation.
type MarkKind uint8

const (
	MarkBold MarkKind = iota + 1
	MarkItalic
	MarkCode
	MarkStrike
	MarkLink
)

// String returns the wire name of the mark kind.
func (k MarkKind) String() string {
	switch k {
	case MarkBold:
		return "bold"
	case MarkItalic:
		return "italic"
	case MarkCode:
		return "code"
	case MarkStrike:
		return "strike"
	case MarkLink:
		return "link"
	default:
		return ""
	}
}

// Mark is an inline annotation on a Text node. Href is only meaningful for MarkLink.
type Mark struct {
	Kind MarkKind
	Href string
}

// Doc is the root of a document.
type Doc struct {
	Content []Node
}

// Paragraph is a block of inline content.
type Paragraph struct {
	Content []Node
}

// Heading is a titled block of level 1-6.
type Heading struct {
	Level   int
	Content []Node
}

// BulletList holds ListItem children.
type BulletList struct {
	Content []Node
}

// OrderedList holds ListItem children numbered from one.
type OrderedList struct {
	Content []Node
}

// TaskList holds TaskItem children.
type TaskList struct {
	Content []Node
}

// ListItem is an entry of a bullet or ordered list.
type ListItem struct {
	Content []Node
}

// TaskItem is an entry of a task list.
type TaskItem struct {
	Checked bool
	Content []Node
}

// CodeBlock holds verbatim text children.
type CodeBlock struct {
	Language string
	Content  []Node
}

// Blockquote holds quoted block children.
type Blockquote struct {
	Content []Node
}

// HardBreak is a forced line break inside inline content.
type HardBreak struct{}

// HorizontalRule is a thematic break.
type HorizontalRule struct{}

// Text is a run of characters with an ordered list of marks.
type Text struct {
	Text  string
	Marks []Mark
}

// Unknown preserves a node kind this package does not model, such as one
// written by a newer editor. Its children are kept so no content is lost.
type Unknown struct {
	Type    string
	Attrs   map[string]any
	Content []Node
}

func (*Doc) node()            {}
func (*Paragraph) node()      {}
func (*Heading) node()        {}
func (*BulletList) node()     {}
func (*OrderedList) node()    {}
func (*TaskList) node()       {}
func (*ListItem) node()       {}
func (*TaskItem) node()       {}
func (*CodeBlock) node()      {}
func (*Blockquote) node()     {}
func (*HardBreak) node()      {}
func (*HorizontalRule) node() {}
func (*Text) node()           {}
func (*Unknown) node()        {}

// Children returns the child sequence of n, or nil for leaf kinds.
func Children(n Node) []Node {
	switch n := n.(type) {
	case *Doc:
		return n.Content
	case *Paragraph:
		return n.Content
	case *Heading:
		return n.Content
	case *BulletList:
		return n.Content
	case *OrderedList:
		return n.Content
	case *TaskList:
		return n.Content
	case *ListItem:
		return n.Content
	case *TaskItem:
		return n.Content
	case *CodeBlock:
		return n.Content
	case *Blockquote:
		return n.Content
	case *Unknown:
		return n.Content
	case *HardBreak, *HorizontalRule, *Text:
		return nil
	default:
		return nil
	}
}

// Empty returns a document with no blocks.
func Empty() *Doc {
	return &Doc{Content: []Node{}}
}

// Clone returns a deep copy of d.
func (d *Doc) Clone() *Doc {
	if d == nil {
		return nil
	}
	return &Doc{Content: cloneAll(d.Content)}
}

func cloneAll(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = clone(n)
	}
	return out
}

func clone(n Node) Node {
	switch n := n.(type) {
	case *Doc:
		return n.Clone()
	case *Paragraph:
		return &Paragraph{Content: cloneAll(n.Content)}
	case *Heading:
		return &Heading{Level: n.Level, Content: cloneAll(n.Content)}
	case *BulletList:
		return &BulletList{Content: cloneAll(n.Content)}
	case *OrderedList:
		return &OrderedList{Content: cloneAll(n.Content)}
	case *TaskList:
		return &TaskList{Content: cloneAll(n.Content)}
	case *ListItem:
		return &ListItem{Content: cloneAll(n.Content)}
	case *TaskItem:
		return &TaskItem{Checked: n.Checked, Content: cloneAll(n.Content)}
	case *CodeBlock:
		return &CodeBlock{Language: n.Language, Content: cloneAll(n.Content)}
	case *Blockquote:
		return &Blockquote{Content: cloneAll(n.Content)}
	case *HardBreak:
		return &HardBreak{}
	case *HorizontalRule:
		return &HorizontalRule{}
	case *Text:
		t := &Text{Text: n.Text}
		if n.Marks != nil {
			t.Marks = append([]Mark(nil), n.Marks...)
		}
		return t
	case *Unknown:
		u := &Unknown{Type: n.Type, Content: cloneAll(n.Content)}
		if n.Attrs != nil {
			u.Attrs = make(map[string]any, len(n.Attrs))
			for k, v := range n.Attrs {
				u.Attrs[k] = v
			}
		}
		return u
	default:
		return n
	}
}
