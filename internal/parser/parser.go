// Package parser prepares markdown files for import as notes: it strips YAML
// frontmatter and derives a note name.
package parser

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Result holds the output of parsing a markdown file.
type Result struct {
	Frontmatter map[string]any
	Body        string
	Title       string
}

// Parse separates frontmatter from the body and derives a title from the
// frontmatter "title" key or the first H1. Invalid YAML leaves the whole
// input as body.
func Parse(data []byte) *Result {
	fm, body := splitFrontmatter(data)
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       deriveTitle(fm, body),
	}
}

// NoteName returns a valid note name for an imported file: the title if
// any, else the file stem. Path separators and control characters are
// replaced, and leading dots and surrounding spaces are dropped.
func (r *Result) NoteName(file string) string {
	name := r.Title
	if name == "" {
		base := filepath.Base(file)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	name = strings.Map(func(c rune) rune {
		switch {
		case c == '/' || c == '\\':
			return '-'
		case unicode.IsControl(c):
			return -1
		}
		return c
	}, name)
	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	name = strings.TrimSpace(name)
	if name == "" {
		return "Imported note"
	}
	return name
}

func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	block := rest[:idx]
	after := rest[idx+1+len(delim):]
	// A horizontal rule opening the file is not frontmatter.
	if len(bytes.TrimSpace(block)) == 0 {
		return nil, string(data)
	}

	var fm map[string]any
	if err := yaml.Unmarshal(block, &fm); err != nil || fm == nil {
		return nil, string(data)
	}
	return fm, strings.TrimLeft(string(after), "\n\r")
}

func deriveTitle(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
