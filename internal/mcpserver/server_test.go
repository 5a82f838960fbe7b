package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/mono/internal/noteservice"
	"github.com/starford/mono/internal/syncengine"
	"github.com/starford/mono/internal/testutil"
)

func testServer(t *testing.T) (*Server, *testutil.Remote) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := testutil.TestStore(t)
	rem := testutil.NewRemote()
	svc := noteservice.NewService(store, syncengine.New(store, rem, logger), logger)
	return New(svc, "test"), rem
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "create_note":
		result, err = srv.createNote(ctx, req)
	case "update_note":
		result, err = srv.updateNote(ctx, req)
	case "sync_now":
		result, err = srv.syncNow(ctx, req)
	case "get_markdown_grammar":
		result, err = srv.getGrammar(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func readView(t *testing.T, srv *Server, args map[string]any) noteservice.MarkdownView {
	t.Helper()
	r := callTool(t, srv, "read_note", args)
	if r.IsError {
		t.Fatalf("read_note: %s", resultText(r))
	}
	var view noteservice.MarkdownView
	if err := json.Unmarshal([]byte(resultText(r)), &view); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	return view
}

func TestCreateAndReadNote(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "create_note", map[string]any{
		"name":     "Test",
		"markdown": "# Test\n\nHello",
	})
	if text := resultText(r); !strings.HasPrefix(text, "created: Test (id ") {
		t.Errorf("create result = %q", text)
	}

	view := readView(t, srv, map[string]any{"name": "Test"})
	if view.Markdown != "# Test\n\nHello" {
		t.Errorf("markdown = %q", view.Markdown)
	}
	byID := readView(t, srv, map[string]any{"id": "1"})
	if byID.Name != "Test" {
		t.Errorf("read by id = %q", byID.Name)
	}
}

func TestCreateDuplicate(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "create_note", map[string]any{"name": "A"})
	r := callTool(t, srv, "create_note", map[string]any{"name": "A"})
	if !r.IsError || !strings.Contains(resultText(r), "already exists") {
		t.Errorf("duplicate = %q (error %v)", resultText(r), r.IsError)
	}
}

func TestUpdateNoteChecksum(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "create_note", map[string]any{"name": "Doc", "markdown": "v1"})
	view := readView(t, srv, map[string]any{"name": "Doc"})

	r := callTool(t, srv, "update_note", map[string]any{"name": "Doc", "markdown": "v2", "checksum": view.Checksum})
	if r.IsError {
		t.Fatalf("update: %s", resultText(r))
	}
	r = callTool(t, srv, "update_note", map[string]any{"name": "Doc", "markdown": "v3", "checksum": view.Checksum})
	if !r.IsError || !strings.Contains(resultText(r), "checksum mismatch") {
		t.Errorf("stale update = %q", resultText(r))
	}
}

func TestListNotes(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_notes", map[string]any{})
	if resultText(r) != "no notes" {
		t.Errorf("empty list = %q", resultText(r))
	}

	callTool(t, srv, "create_note", map[string]any{"name": "a"})
	callTool(t, srv, "create_note", map[string]any{"name": "b"})
	r = callTool(t, srv, "list_notes", map[string]any{})
	lines := strings.Split(resultText(r), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "\tsynced") {
		t.Errorf("list = %q", resultText(r))
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_note", map[string]any{"name": "nope"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
	r = callTool(t, srv, "read_note", map[string]any{})
	if !r.IsError {
		t.Error("expected error without name or id")
	}
}

func TestSyncNow(t *testing.T) {
	srv, rem := testServer(t)
	rem.Put("/Remote.md", "- [x] pulled", time.Now())

	r := callTool(t, srv, "sync_now", map[string]any{})
	if r.IsError {
		t.Fatalf("sync_now: %s", resultText(r))
	}
	var report syncengine.Report
	if err := json.Unmarshal([]byte(resultText(r)), &report); err != nil {
		t.Fatal(err)
	}
	if report.Created != 1 {
		t.Errorf("report = %+v", report)
	}
	view := readView(t, srv, map[string]any{"name": "Remote"})
	if view.Markdown != "- [x] pulled" {
		t.Errorf("markdown = %q", view.Markdown)
	}
}

func TestGrammar(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_markdown_grammar", map[string]any{})
	if !strings.Contains(resultText(r), "# Conflict") {
		t.Error("grammar missing conflict section")
	}
}
