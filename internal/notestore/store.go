package notestore

import (
	"context"
	"time"

	"github.com/starford/mono/internal/document"
	"github.com/starford/mono/internal/models"
)

// NoteUpdate carries the fields of a user edit. Nil fields are left unchanged.
type NoteUpdate struct {
	Name       *string
	Content    *document.Doc
	SyncStatus *models.SyncStatus
}

// Store defines the local note store. Consumers should depend on this
// interface rather than the concrete *DB type.
type Store interface {
	// Add inserts n and returns its new id. LastModified defaults to now.
	Add(ctx context.Context, n *models.Note) (int64, error)
	Get(ctx context.Context, id int64) (*models.Note, error)
	FindByName(ctx context.Context, name string) (*models.Note, error)
	FindByRemoteID(ctx context.Context, remoteID string) (*models.Note, error)
	ListByStatus(ctx context.Context, status models.SyncStatus) ([]*models.Note, error)
	ListLinked(ctx context.Context) ([]*models.Note, error)
	// ListRecent returns visible notes, most recently opened first.
	ListRecent(ctx context.Context) ([]*models.Note, error)

	// Update applies a user edit and stamps last_modified.
	Update(ctx context.Context, id int64, u NoteUpdate) error
	// SetViewState records cursor and open time without touching last_modified.
	SetViewState(ctx context.Context, id int64, cursor *int, lastOpened *time.Time) error
	// SetStatus changes only the sync status.
	SetStatus(ctx context.Context, id int64, status models.SyncStatus) error

	// SettleUpload records a successful upload. The note becomes synced only
	// if it has not been edited since observed.
	SettleUpload(ctx context.Context, id int64, remoteID string, observed, at time.Time) error
	// SettleContent replaces content from the remote side if the note has not
	// been edited since observed. It reports whether the write applied.
	SettleContent(ctx context.Context, id int64, content *document.Doc, lastModified, at, observed time.Time) (bool, error)

	Delete(ctx context.Context, id int64) error
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
