// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Mono notes to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mono/internal/apperr"
	"github.com/starford/mono/internal/models"
	"github.com/starford/mono/internal/noteservice"
)

const grammarURI = "mono://markdown-grammar"

// Server wraps the MCP server with Mono tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all Mono tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Mono",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes, most recently opened first, one \"<id>\\t<name>\\t<sync status>\" line each."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note as markdown. Give either its name or its id."),
		mcp.WithString("name", mcp.Description("Note name")),
		mcp.WithString("id", mcp.Description("Note id")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note from markdown. The name must be unused and must not contain "+
			"slashes. Only the grammar in the "+grammarURI+" resource keeps its structure."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the new note")),
		mcp.WithString("markdown", mcp.Description("Note body in markdown")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace a note's content with markdown. Pass the checksum returned by "+
			"read_note to fail instead of overwriting a concurrent change."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Note name")),
		mcp.WithString("markdown", mcp.Required(), mcp.Description("New body in markdown")),
		mcp.WithString("checksum", mcp.Description("Checksum of the markdown being replaced")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("sync_now",
		mcp.WithDescription("Run a full sync with the remote store and report what changed."),
	), s.syncNow)

	s.mcp.AddTool(mcp.NewTool("get_markdown_grammar",
		mcp.WithDescription("Returns the markdown subset notes are stored in."),
	), s.getGrammar)

	s.mcp.AddResource(
		mcp.NewResource(grammarURI, "Markdown Grammar",
			mcp.WithResourceDescription("Markdown subset that keeps its structure in notes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGrammarResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.svc.ListRecent(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(notes) == 0 {
		return mcp.NewToolResultText("no notes"), nil
	}
	lines := make([]string, len(notes))
	for i, n := range notes {
		lines[i] = fmt.Sprintf("%d\t%s\t%s", n.ID, n.Name, n.SyncStatus)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.lookup(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	view, err := s.svc.Markdown(ctx, n.ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(view, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.CreateFromMarkdown(ctx, name, req.GetString("markdown", ""))
	if err != nil {
		return mcp.NewToolResultError(describe(err, name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s (id %d)", n.Name, n.ID)), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	md, err := req.RequireString("markdown")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.FindByName(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(describe(err, name)), nil
	}
	view, err := s.svc.ReplaceMarkdown(ctx, n.ID, md, req.GetString("checksum", ""))
	if err != nil {
		return mcp.NewToolResultError(describe(err, name)), nil
	}
	return mcp.NewToolResultText("updated: " + view.Name + "\nchecksum: " + view.Checksum), nil
}

func (s *Server) syncNow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.svc.SyncNow(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getGrammar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MarkdownGrammar), nil
}

func (s *Server) readGrammarResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      grammarURI,
			MIMEType: "text/markdown",
			Text:     MarkdownGrammar,
		},
	}, nil
}

// lookup resolves the note named by the "id" or "name" argument.
func (s *Server) lookup(ctx context.Context, req mcp.CallToolRequest) (*models.Note, error) {
	if raw := req.GetString("id", ""); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", raw)
		}
		n, err := s.svc.GetNote(ctx, id)
		if err != nil {
			return nil, errors.New(describe(err, raw))
		}
		return n, nil
	}
	name := req.GetString("name", "")
	if name == "" {
		return nil, errors.New("name or id is required")
	}
	n, err := s.svc.FindByName(ctx, name)
	if err != nil {
		return nil, errors.New(describe(err, name))
	}
	return n, nil
}

func describe(err error, subject string) string {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return "not found: " + subject
	case errors.Is(err, apperr.ErrAlreadyExists):
		return "note already exists: " + subject
	case errors.Is(err, apperr.ErrConflict):
		return "checksum mismatch: " + subject + " changed since it was read"
	}
	return err.Error()
}
