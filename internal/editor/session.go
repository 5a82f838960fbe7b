// Package editor coalesces edits from the editing surface into store writes.
//
// Each open note has a Session with two independent trailing-edge debounce
// channels. Content edits save the document and then push the note to the
// remote. Cursor moves only save the cursor. A content edit never cancels a
// pending cursor save, and the reverse holds too.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/mono/internal/document"
)

// DefaultDelay is the quiet period used when none is configured.
const DefaultDelay = 500 * time.Millisecond

// ErrClosed is returned for edits made after Close.
var ErrClosed = errors.New("editor: sessions closed")

// Saver persists debounced edits.
type Saver interface {
	SaveContent(ctx context.Context, id int64, doc *document.Doc) error
	SaveCursor(ctx context.Context, id int64, cursor int) error
}

// Session is the editing state of one note.
type Session struct {
	id     int64
	ctx    context.Context
	saver  Saver
	logger *slog.Logger

	content *debouncer
	cursor  *debouncer
}

// EditContent schedules a save of doc, replacing any unsaved content.
func (s *Session) EditContent(doc *document.Doc) {
	s.content.Schedule(func() {
		if err := s.saver.SaveContent(s.ctx, s.id, doc); err != nil {
			s.logger.Error("editor: save content failed",
				slog.Int64("id", s.id),
				slog.String("error", err.Error()))
		}
	})
}

// MoveCursor schedules a save of the cursor offset.
func (s *Session) MoveCursor(pos int) {
	s.cursor.Schedule(func() {
		if err := s.saver.SaveCursor(s.ctx, s.id, pos); err != nil {
			s.logger.Error("editor: save cursor failed",
				slog.Int64("id", s.id),
				slog.String("error", err.Error()))
		}
	})
}

// Flush runs both pending saves now.
func (s *Session) Flush() {
	s.content.Flush()
	s.cursor.Flush()
}

// Discard drops both pending saves.
func (s *Session) Discard() {
	s.content.Cancel()
	s.cursor.Cancel()
}

// Pending reports whether either channel has an unsaved edit.
func (s *Session) Pending() bool {
	return s.content.Pending() || s.cursor.Pending()
}

// Sessions tracks the editing session of every note touched since start.
type Sessions struct {
	ctx    context.Context
	saver  Saver
	logger *slog.Logger
	delay  time.Duration

	mu       sync.Mutex
	sessions map[int64]*Session
	closed   bool
}

// NewSessions returns a Sessions whose saves run with ctx. A delay of zero
// uses DefaultDelay.
func NewSessions(ctx context.Context, saver Saver, delay time.Duration, logger *slog.Logger) *Sessions {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Sessions{
		ctx:      ctx,
		saver:    saver,
		logger:   logger,
		delay:    delay,
		sessions: make(map[int64]*Session),
	}
}

// Session returns the session for note id, creating it on first use.
func (m *Sessions) Session(id int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{
			id:      id,
			ctx:     m.ctx,
			saver:   m.saver,
			logger:  m.logger,
			content: newDebouncer(m.delay),
			cursor:  newDebouncer(m.delay),
		}
		m.sessions[id] = s
	}
	return s, nil
}

// EditContent schedules a content save for note id.
func (m *Sessions) EditContent(id int64, doc *document.Doc) error {
	s, err := m.Session(id)
	if err != nil {
		return fmt.Errorf("edit content %d: %w", id, err)
	}
	s.EditContent(doc)
	return nil
}

// MoveCursor schedules a cursor save for note id.
func (m *Sessions) MoveCursor(id int64, pos int) error {
	s, err := m.Session(id)
	if err != nil {
		return fmt.Errorf("move cursor %d: %w", id, err)
	}
	s.MoveCursor(pos)
	return nil
}

// Flush runs the pending saves of note id, if it has a session.
func (m *Sessions) Flush(id int64) {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s != nil {
		s.Flush()
	}
}

// Forget drops note id's session and its unsaved edits. Used when the note
// is deleted.
func (m *Sessions) Forget(id int64) {
	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if s != nil {
		s.Discard()
	}
}

// FlushAll runs every pending save.
func (m *Sessions) FlushAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.Flush()
	}
}

// Close rejects further edits and flushes pending saves.
func (m *Sessions) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.FlushAll()
	m.logger.Info("editor: sessions flushed")
}
