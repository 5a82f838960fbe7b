package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mono/internal/document"
	"github.com/starford/mono/internal/editor"
	"github.com/starford/mono/internal/noteservice"
)

const maxBody = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc      *noteservice.Service
	sessions *editor.Sessions
	trigger  func()
}

// NewHandler creates a new Handler. trigger requests an asynchronous full
// sync pass.
func NewHandler(svc *noteservice.Service, sessions *editor.Sessions, trigger func()) *Handler {
	if trigger == nil {
		trigger = func() {}
	}
	return &Handler{svc: svc, sessions: sessions, trigger: trigger}
}

// noteID parses the {id} URL parameter, writing a 400 on failure.
func noteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes, most recently opened first
//	@Tags			notes
//	@Produce		json
//	@Success		200	{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.svc.ListRecent(r.Context())
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes})
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a note, optionally from markdown
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	Note
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decode(w, r, &req) {
		return
	}
	note, err := h.svc.CreateFromMarkdown(r.Context(), req.Name, req.Markdown)
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// LastOpened handles GET /api/notes/last-opened.
//
//	@Summary		Open the most recently opened note, creating one if none exist
//	@Tags			notes
//	@Produce		json
//	@Success		200	{object}	Note
//	@Security		BearerAuth
//	@Router			/notes/last-opened [get]
func (h *Handler) LastOpened(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.LastOpenedOrCreate(r.Context())
	if err != nil {
		writeError(w, "last opened", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a note
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		int	true	"Note id"
//	@Success		200	{object}	Note
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}
	note, err := h.svc.GetNote(r.Context(), id)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// OpenNote handles POST /api/notes/{id}/open.
func (h *Handler) OpenNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}
	note, err := h.svc.Open(r.Context(), id)
	if err != nil {
		writeError(w, "open note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// EditContent handles PUT /api/notes/{id}/content. The save is debounced,
// so the response is 202.
//
//	@Summary		Schedule a save of the editor document
//	@Tags			editor
//	@Accept			json
//	@Param			id		path	int				true	"Note id"
//	@Param			body	body	ContentRequest	true	"Editor document"
//	@Success		202
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/content [put]
func (h *Handler) EditContent(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}
	var req ContentRequest
	if !decode(w, r, &req) {
		return
	}
	doc, err := document.Parse(req.Content)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("content must be a doc node"))
		return
	}
	if _, err := h.svc.GetNote(r.Context(), id); err != nil {
		writeError(w, "edit content", err)
		return
	}
	if err := h.sessions.EditContent(id, doc); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("shutting down"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// MoveCursor handles PUT /api/notes/{id}/cursor.
func (h *Handler) MoveCursor(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}
	var req CursorRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Cursor == nil || *req.Cursor < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("cursor must be a non-negative integer"))
		return
	}
	if _, err := h.svc.GetNote(r.Context(), id); err != nil {
		writeError(w, "move cursor", err)
		return
	}
	if err := h.sessions.MoveCursor(id, *req.Cursor); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("shutting down"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RenameNote handles PUT /api/notes/{id}/name.
//
//	@Summary		Rename a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int				true	"Note id"
//	@Param			body	body		RenameRequest	true	"New name"
//	@Success		200		{object}	Note
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/name [put]
func (h *Handler) RenameNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}
	var req RenameRequest
	if !decode(w, r, &req) {
		return
	}
	// Unsaved content goes out under the old name first.
	h.sessions.Flush(id)
	note, err := h.svc.Rename(r.Context(), id, req.Name)
	if err != nil {
		writeError(w, "rename note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			id			path	int		true	"Note id"
//	@Param			immediate	query	bool	false	"Remove the remote copy now"
//	@Success		204			"Note deleted"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}
	immediate, _ := strconv.ParseBool(r.URL.Query().Get("immediate"))
	h.sessions.Forget(id)
	if err := h.svc.Delete(r.Context(), id, immediate); err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMarkdown handles GET /api/notes/{id}/markdown. The checksum is also
// sent as ETag.
func (h *Handler) GetMarkdown(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}
	h.sessions.Flush(id)
	view, err := h.svc.Markdown(r.Context(), id)
	if err != nil {
		writeError(w, "get markdown", err)
		return
	}
	w.Header().Set("ETag", `"`+view.Checksum+`"`)
	writeJSON(w, http.StatusOK, view)
}

// PutMarkdown handles PUT /api/notes/{id}/markdown.
//
//	@Summary		Replace a note's content with markdown
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		int				true	"Note id"
//	@Param			If-Match	header		string			false	"Checksum of the current markdown"
//	@Param			body		body		MarkdownRequest	true	"Markdown"
//	@Success		200			{object}	MarkdownView
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/markdown [put]
func (h *Handler) PutMarkdown(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}
	var req MarkdownRequest
	if !decode(w, r, &req) {
		return
	}
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	h.sessions.Forget(id)
	view, err := h.svc.ReplaceMarkdown(r.Context(), id, req.Markdown, ifMatch)
	if err != nil {
		writeError(w, "put markdown", err)
		return
	}
	w.Header().Set("ETag", `"`+view.Checksum+`"`)
	writeJSON(w, http.StatusOK, view)
}

// GetHTML handles GET /api/notes/{id}/html.
func (h *Handler) GetHTML(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}
	h.sessions.Flush(id)
	html, err := h.svc.HTML(r.Context(), id)
	if err != nil {
		writeError(w, "get html", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}

// Sync handles POST /api/sync. By default the pass runs in the background
// and the response is 202; with wait=true the pass report is returned.
//
//	@Summary		Run a full sync pass
//	@Tags			sync
//	@Param			wait	query		bool	false	"Wait for the pass"
//	@Success		200		{object}	SyncReport
//	@Success		202
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		h.trigger()
		w.WriteHeader(http.StatusAccepted)
		return
	}
	h.sessions.FlushAll()
	report, err := h.svc.SyncNow(r.Context())
	if err != nil {
		slog.Error("api: sync failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("sync failed"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// SyncStatus handles GET /api/sync.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SyncStatusResponse{Authorized: h.svc.Authorized()})
}

// Deauthorize handles DELETE /api/remote/authorization.
func (h *Handler) Deauthorize(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Deauthorize(r.Context()); err != nil {
		slog.Error("api: deauthorize failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("deauthorize failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
