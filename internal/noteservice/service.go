// Package noteservice implements the note operations used by the API, the
// MCP server and the CLI on top of the note store and the sync engine.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/mono/internal/apperr"
	"github.com/starford/mono/internal/checksum"
	"github.com/starford/mono/internal/document"
	"github.com/starford/mono/internal/markdown"
	"github.com/starford/mono/internal/models"
	"github.com/starford/mono/internal/notestore"
	"github.com/starford/mono/internal/parser"
	"github.com/starford/mono/internal/preview"
	"github.com/starford/mono/internal/syncengine"
)

// DefaultName is the name of the note created when none exists.
const DefaultName = "New note"

// maxNameSuffix bounds the " (n)" suffixes tried for a generated name.
const maxNameSuffix = 100

// Event kinds passed to the notifier.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// MarkdownView is a note rendered as markdown.
type MarkdownView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Markdown string `json:"markdown"`
	Checksum string `json:"checksum"`
}

// Service coordinates the note store and the sync engine.
type Service struct {
	store   notestore.Store
	engine  *syncengine.Engine
	logger  *slog.Logger
	now     func() time.Time
	notify  func(kind string, id int64)
	refresh func()
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for open timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier sets the callback run after every local note change.
func WithNotifier(fn func(kind string, id int64)) Option {
	return func(s *Service) { s.notify = fn }
}

// WithRefresh sets the callback passed to full sync passes started by
// SyncNow.
func WithRefresh(fn func()) Option {
	return func(s *Service) { s.refresh = fn }
}

// NewService creates a new note service.
func NewService(store notestore.Store, engine *syncengine.Engine, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		engine:  engine,
		logger:  logger,
		now:     time.Now,
		notify:  func(string, int64) {},
		refresh: func() {},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateNote adds a pending note named name and pushes it. A nil content
// creates an empty document. The name must be valid and unused.
func (s *Service) CreateNote(ctx context.Context, name string, content *document.Doc) (*models.Note, error) {
	if err := models.ValidateName(name); err != nil {
		return nil, err
	}
	if _, err := s.store.FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("create note %q: %w", name, apperr.ErrAlreadyExists)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("create note: %w", err)
	}
	if content == nil {
		content = document.Empty()
	}
	id, err := s.store.Add(ctx, &models.Note{
		Name:       name,
		Content:    content,
		SyncStatus: models.StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	s.logger.Info("notes: created", slog.Int64("id", id), slog.String("name", name))
	s.notify(EventCreated, id)
	if err := s.push(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// CreateFromMarkdown creates a note whose content is parsed from md.
func (s *Service) CreateFromMarkdown(ctx context.Context, name, md string) (*models.Note, error) {
	return s.CreateNote(ctx, name, markdown.Deserialize(md))
}

// ImportMarkdown creates a note from a markdown file. Frontmatter is dropped
// and the name comes from the title or the file name.
func (s *Service) ImportMarkdown(ctx context.Context, file string, data []byte) (*models.Note, error) {
	res := parser.Parse(data)
	return s.CreateFromMarkdown(ctx, res.NoteName(file), res.Body)
}

// GetNote returns a visible note.
func (s *Service) GetNote(ctx context.Context, id int64) (*models.Note, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.SyncStatus.Visible() {
		return nil, fmt.Errorf("note %d: %w", id, apperr.ErrNotFound)
	}
	return n, nil
}

// FindByName returns the visible note named name.
func (s *Service) FindByName(ctx context.Context, name string) (*models.Note, error) {
	n, err := s.store.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !n.SyncStatus.Visible() {
		return nil, fmt.Errorf("note %q: %w", name, apperr.ErrNotFound)
	}
	return n, nil
}

// ListRecent returns visible notes, most recently opened first.
func (s *Service) ListRecent(ctx context.Context) ([]models.NoteMetadata, error) {
	notes, err := s.store.ListRecent(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.NoteMetadata, len(notes))
	for i, n := range notes {
		out[i] = n.Meta()
	}
	return out, nil
}

// Open makes the note the active one by stamping its open time.
func (s *Service) Open(ctx context.Context, id int64) (*models.Note, error) {
	n, err := s.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.store.SetViewState(ctx, id, nil, &now); err != nil {
		return nil, fmt.Errorf("open note: %w", err)
	}
	n.LastOpened = now.UTC()
	return n, nil
}

// LastOpenedOrCreate opens the most recently opened note, or creates and
// opens a new empty one when there are none.
func (s *Service) LastOpenedOrCreate(ctx context.Context) (*models.Note, error) {
	recent, err := s.store.ListRecent(ctx)
	if err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		return s.Open(ctx, recent[0].ID)
	}
	name, err := s.freeName(ctx, DefaultName)
	if err != nil {
		return nil, err
	}
	n, err := s.CreateNote(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, n.ID)
}

// SaveContent stores an edit of the note's document, marks it pending and
// pushes it. A failed push leaves the note pending for the next pass.
func (s *Service) SaveContent(ctx context.Context, id int64, doc *document.Doc) error {
	n, err := s.GetNote(ctx, id)
	if err != nil {
		return err
	}
	next := n.SyncStatus.AfterEdit()
	if err := s.store.Update(ctx, id, notestore.NoteUpdate{Content: doc, SyncStatus: &next}); err != nil {
		return fmt.Errorf("save content: %w", err)
	}
	s.notify(EventUpdated, id)
	return s.push(ctx, id)
}

// SaveCursor stores the cursor offset. It is not a content change.
func (s *Service) SaveCursor(ctx context.Context, id int64, cursor int) error {
	if err := s.store.SetViewState(ctx, id, &cursor, nil); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// Rename renames the note and moves its remote copy.
func (s *Service) Rename(ctx context.Context, id int64, name string) (*models.Note, error) {
	if _, err := s.GetNote(ctx, id); err != nil {
		return nil, err
	}
	if err := s.engine.RenameNote(ctx, id, name); err != nil && !errors.Is(err, syncengine.ErrDeferred) {
		return nil, err
	}
	s.notify(EventUpdated, id)
	return s.store.Get(ctx, id)
}

// Delete deletes the note. Unlinked notes go at once. Linked notes become
// tombstones, and with immediate set their remote copy is removed right away.
func (s *Service) Delete(ctx context.Context, id int64, immediate bool) error {
	if _, err := s.GetNote(ctx, id); err != nil {
		return err
	}
	var err error
	if immediate {
		err = s.engine.SyncDeleteNote(ctx, id)
	} else {
		_, err = s.engine.DeleteNote(ctx, id)
	}
	if err != nil && !errors.Is(err, syncengine.ErrDeferred) {
		return err
	}
	s.logger.Info("notes: deleted", slog.Int64("id", id), slog.Bool("immediate", immediate))
	s.notify(EventDeleted, id)
	return nil
}

// Markdown returns the note serialized as it is stored remotely.
func (s *Service) Markdown(ctx context.Context, id int64) (*MarkdownView, error) {
	n, err := s.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	return markdownView(n), nil
}

// ReplaceMarkdown replaces the note's content with md. A non-empty ifMatch
// must equal the checksum of the current markdown.
func (s *Service) ReplaceMarkdown(ctx context.Context, id int64, md, ifMatch string) (*MarkdownView, error) {
	n, err := s.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != markdownView(n).Checksum {
		return nil, fmt.Errorf("replace markdown %d: %w", id, apperr.ErrConflict)
	}
	if err := s.SaveContent(ctx, id, markdown.Deserialize(md)); err != nil {
		return nil, err
	}
	return s.Markdown(ctx, id)
}

// HTML renders the note's markdown as an HTML fragment.
func (s *Service) HTML(ctx context.Context, id int64) (string, error) {
	n, err := s.GetNote(ctx, id)
	if err != nil {
		return "", err
	}
	return preview.HTML(markdown.Serialize(n.Content))
}

// SyncNow runs one full sync pass.
func (s *Service) SyncNow(ctx context.Context) (syncengine.Report, error) {
	return s.engine.SyncAll(ctx, s.refresh)
}

// Authorized reports whether syncing is enabled.
func (s *Service) Authorized() bool {
	return s.engine.Authorized()
}

// Deauthorize drops the remote's credentials, disabling sync.
func (s *Service) Deauthorize(ctx context.Context) error {
	return s.engine.Deauthorize(ctx)
}

// push uploads the note now. Remote failures are not returned; the note
// stays pending.
func (s *Service) push(ctx context.Context, id int64) error {
	err := s.engine.SyncNote(ctx, id)
	if err != nil && !errors.Is(err, syncengine.ErrDeferred) {
		return err
	}
	return nil
}

// freeName returns base, or base with the first free " (n)" suffix.
func (s *Service) freeName(ctx context.Context, base string) (string, error) {
	for i := 1; i <= maxNameSuffix; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s (%d)", base, i)
		}
		_, err := s.store.FindByName(ctx, name)
		if errors.Is(err, apperr.ErrNotFound) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("name %q: %w", base, apperr.ErrAlreadyExists)
}

func markdownView(n *models.Note) *MarkdownView {
	md := markdown.Serialize(n.Content)
	return &MarkdownView{
		ID:       n.ID,
		Name:     n.Name,
		Markdown: md,
		Checksum: checksum.Sum([]byte(md)),
	}
}
