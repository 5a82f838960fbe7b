package api

import (
	"encoding/json"

	"github.com/starford/mono/internal/models"
	"github.com/starford/mono/internal/noteservice"
	"github.com/starford/mono/internal/syncengine"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Name     string `json:"name" example:"Groceries" validate:"required"`
	Markdown string `json:"markdown,omitempty" example:"- [ ] milk"`
}

// ContentRequest carries an editor document.
type ContentRequest struct {
	Content json.RawMessage `json:"content" validate:"required"`
}

// CursorRequest carries an editor cursor offset.
type CursorRequest struct {
	Cursor *int `json:"cursor" example:"42" validate:"required"`
}

// RenameRequest is the request body for renaming a note.
type RenameRequest struct {
	Name string `json:"name" example:"Shopping" validate:"required"`
}

// MarkdownRequest replaces a note's content with markdown.
type MarkdownRequest struct {
	Markdown string `json:"markdown" example:"# Title" validate:"required"`
}

// Note is the full note response type (aliased from the domain layer).
type Note = models.Note

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []models.NoteMetadata `json:"notes" validate:"required"`
}

// MarkdownView is a note rendered as markdown (aliased from the domain layer).
type MarkdownView = noteservice.MarkdownView

// SyncStatusResponse reports whether syncing is enabled.
type SyncStatusResponse struct {
	Authorized bool `json:"authorized"`
}

// SyncReport summarises a pass run with wait=true.
type SyncReport = syncengine.Report
