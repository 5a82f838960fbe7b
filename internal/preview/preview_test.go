package preview

import (
	"strings"
	"testing"
)

func TestHTML(t *testing.T) {
	tests := []struct {
		name string
		md   string
		want []string
	}{
		{"heading and marks", "## Title\n\na **b** c", []string{"<h2>Title</h2>", "<strong>b</strong>"}},
		{"task list", "- [x] done\n- [ ] todo", []string{`type="checkbox"`, "checked"}},
		{"strike", "~~gone~~", []string{"<del>gone</del>"}},
		{"code", "```go\nx := 1\n```", []string{`class="language-go"`}},
		{"external link", "[site](https://example.com)", []string{`target="_blank"`, `rel="noopener noreferrer"`}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := HTML(tc.md)
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Errorf("HTML(%q) = %q, missing %q", tc.md, got, w)
				}
			}
		})
	}
}

func TestHTML_RelativeLinkStaysInTab(t *testing.T) {
	got, err := HTML("[other](notes/other.md)")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "_blank") {
		t.Errorf("relative link opened in new tab: %q", got)
	}
}

func TestHTML_RawHTMLEscaped(t *testing.T) {
	got, err := HTML("<script>alert(1)</script>")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "<script>") {
		t.Errorf("raw html passed through: %q", got)
	}
}

func TestHTML_Empty(t *testing.T) {
	got, err := HTML("  \n")
	if err != nil || got != "" {
		t.Errorf("HTML(blank) = %q, %v", got, err)
	}
}
