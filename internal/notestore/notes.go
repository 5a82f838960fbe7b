package notestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/mono/internal/apperr"
	"github.com/starford/mono/internal/document"
	"github.com/starford/mono/internal/models"
)

const noteColumns = `id, name, content, cursor, last_modified, last_opened, remote_id, sync_status, last_synced_at`

// Add inserts a new note.
func (db *DB) Add(ctx context.Context, n *models.Note) (int64, error) {
	content, err := encodeContent(n.Content)
	if err != nil {
		return 0, err
	}
	modified := n.LastModified
	if modified.IsZero() {
		modified = db.now()
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO notes (name, content, cursor, last_modified, last_opened, remote_id, sync_status, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.Name, content, n.Cursor, millis(modified), millis(n.LastOpened), n.RemoteID, n.SyncStatus.String(), millis(n.LastSyncedAt))
	if err != nil {
		return 0, wrapWriteErr("add", err)
	}
	return res.LastInsertId()
}

// Get returns the note with the given id.
func (db *DB) Get(ctx context.Context, id int64) (*models.Note, error) {
	return db.queryOne(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
}

// FindByName returns the note with the given name.
func (db *DB) FindByName(ctx context.Context, name string) (*models.Note, error) {
	return db.queryOne(ctx, `SELECT `+noteColumns+` FROM notes WHERE name = ?`, name)
}

// FindByRemoteID returns the note linked to the given remote file.
func (db *DB) FindByRemoteID(ctx context.Context, remoteID string) (*models.Note, error) {
	if remoteID == "" {
		return nil, apperr.ErrNotFound
	}
	return db.queryOne(ctx, `SELECT `+noteColumns+` FROM notes WHERE remote_id = ?`, remoteID)
}

// ListByStatus returns notes in the given sync status, oldest id first.
func (db *DB) ListByStatus(ctx context.Context, status models.SyncStatus) ([]*models.Note, error) {
	return db.queryMany(ctx, `SELECT `+noteColumns+` FROM notes WHERE sync_status = ? ORDER BY id`, status.String())
}

// ListLinked returns every note that has a remote copy.
func (db *DB) ListLinked(ctx context.Context) ([]*models.Note, error) {
	return db.queryMany(ctx, `SELECT `+noteColumns+` FROM notes WHERE remote_id != '' ORDER BY id`)
}

// ListRecent returns notes not pending deletion, most recently opened first.
func (db *DB) ListRecent(ctx context.Context) ([]*models.Note, error) {
	return db.queryMany(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE sync_status != ?
		ORDER BY last_opened DESC, last_modified DESC, id DESC
	`, models.StatusPendingDelete.String())
}

// Update applies the non-nil fields of u and stamps last_modified. The stamp
// always moves forward, even within one millisecond, so settlement guards
// comparing against an observed value see every edit.
func (db *DB) Update(ctx context.Context, id int64, u NoteUpdate) error {
	sets := []string{"last_modified = MAX(?, last_modified + 1)"}
	args := []any{millis(db.now())}
	if u.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	if u.Content != nil {
		content, err := encodeContent(u.Content)
		if err != nil {
			return err
		}
		sets = append(sets, "content = ?")
		args = append(args, content)
	}
	if u.SyncStatus != nil {
		sets = append(sets, "sync_status = ?")
		args = append(args, u.SyncStatus.String())
	}
	args = append(args, id)
	return db.execOne(ctx, "update", `UPDATE notes SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
}

// SetViewState records the cursor and/or open time.
func (db *DB) SetViewState(ctx context.Context, id int64, cursor *int, lastOpened *time.Time) error {
	var sets []string
	var args []any
	if cursor != nil {
		sets = append(sets, "cursor = ?")
		args = append(args, *cursor)
	}
	if lastOpened != nil {
		sets = append(sets, "last_opened = ?")
		args = append(args, millis(*lastOpened))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	return db.execOne(ctx, "set view state", `UPDATE notes SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
}

// SetStatus changes only the sync status.
func (db *DB) SetStatus(ctx context.Context, id int64, status models.SyncStatus) error {
	return db.execOne(ctx, "set status", `UPDATE notes SET sync_status = ? WHERE id = ?`, status.String(), id)
}

// SettleUpload links the note to remoteID and stamps last_synced_at. The
// status moves to synced only when last_modified still equals observed and the
// note is waiting on an upload or rename.
func (db *DB) SettleUpload(ctx context.Context, id int64, remoteID string, observed, at time.Time) error {
	return db.execOne(ctx, "settle upload", `
		UPDATE notes SET
			remote_id      = ?,
			last_synced_at = ?,
			sync_status    = CASE
				WHEN last_modified = ? AND sync_status IN (?, ?) THEN ?
				ELSE sync_status
			END
		WHERE id = ?
	`, remoteID, millis(at),
		millis(observed), models.StatusPending.String(), models.StatusPendingRename.String(), models.StatusSynced.String(),
		id)
}

// SettleContent writes remote content into the note and marks it synced,
// unless the note changed after observed or is pending deletion.
func (db *DB) SettleContent(ctx context.Context, id int64, content *document.Doc, lastModified, at, observed time.Time) (bool, error) {
	encoded, err := encodeContent(content)
	if err != nil {
		return false, err
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE notes SET
			content        = ?,
			last_modified  = ?,
			last_synced_at = ?,
			sync_status    = ?
		WHERE id = ? AND last_modified = ? AND sync_status != ?
	`, encoded, millis(lastModified), millis(at), models.StatusSynced.String(),
		id, millis(observed), models.StatusPendingDelete.String())
	if err != nil {
		return false, fmt.Errorf("notestore: settle content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("notestore: settle content: %w", err)
	}
	return n == 1, nil
}

// Delete removes the note. Deleting a missing note is not an error.
func (db *DB) Delete(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("notestore: delete: %w", err)
	}
	return nil
}

func (db *DB) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapWriteErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("notestore: %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("notestore: %s: %w", op, apperr.ErrNotFound)
	}
	return nil
}

func (db *DB) queryOne(ctx context.Context, query string, args ...any) (*models.Note, error) {
	n, err := scanNote(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notestore: get: %w", err)
	}
	return n, nil
}

func (db *DB) queryMany(ctx context.Context, query string, args ...any) ([]*models.Note, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("notestore: list: %w", err)
	}
	defer rows.Close()

	var out []*models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("notestore: list: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (*models.Note, error) {
	var (
		n                              models.Note
		content, status                string
		modified, opened, lastSyncedAt int64
	)
	if err := s.Scan(&n.ID, &n.Name, &content, &n.Cursor, &modified, &opened, &n.RemoteID, &status, &lastSyncedAt); err != nil {
		return nil, err
	}
	doc, err := document.Parse([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("note %d: %w", n.ID, err)
	}
	n.SyncStatus, err = models.ParseSyncStatus(status)
	if err != nil {
		return nil, fmt.Errorf("note %d: %w", n.ID, err)
	}
	n.Content = doc
	n.LastModified = fromMillis(modified)
	n.LastOpened = fromMillis(opened)
	n.LastSyncedAt = fromMillis(lastSyncedAt)
	return &n, nil
}

func encodeContent(doc *document.Doc) (string, error) {
	if doc == nil {
		doc = document.Empty()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("notestore: encode content: %w", err)
	}
	return string(data), nil
}

func wrapWriteErr(op string, err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("notestore: %s: %w", op, apperr.ErrAlreadyExists)
	}
	return fmt.Errorf("notestore: %s: %w", op, err)
}

// Timestamps are stored as Unix milliseconds; 0 means unset.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
