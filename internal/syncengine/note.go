package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/mono/internal/apperr"
	"github.com/starford/mono/internal/models"
	"github.com/starford/mono/internal/notestore"
)

// SyncNote marks the note pending and uploads it right away. A note pending
// deletion is left alone. Without authorization the note just stays pending.
func (e *Engine) SyncNote(ctx context.Context, id int64) error {
	n, err := e.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("sync note: %w", err)
	}
	next := n.SyncStatus.AfterEdit()
	if next != n.SyncStatus {
		if err := e.store.SetStatus(ctx, id, next); err != nil {
			return fmt.Errorf("sync note: %w", err)
		}
		n.SyncStatus = next
	}
	if !next.Uploadable() || !e.remote.Authorized() {
		return nil
	}
	if err := e.upload(ctx, n); err != nil {
		e.logger.Warn("sync: note upload failed, left pending",
			slog.Int64("id", id),
			slog.String("error", err.Error()))
		return fmt.Errorf("sync note: %w: %w", ErrDeferred, err)
	}
	return nil
}

// RenameNote renames the note and moves its remote copy right away. The new
// name must be valid and not taken by another note.
func (e *Engine) RenameNote(ctx context.Context, id int64, newName string) error {
	if err := models.ValidateName(newName); err != nil {
		return err
	}
	n, err := e.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("rename note: %w", err)
	}
	if n.Name == newName {
		return nil
	}
	other, err := e.store.FindByName(ctx, newName)
	switch {
	case err == nil && other.ID != id:
		return fmt.Errorf("rename note: %q: %w", newName, apperr.ErrAlreadyExists)
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return fmt.Errorf("rename note: %w", err)
	}

	next := n.SyncStatus.AfterRename(n.Linked())
	if err := e.store.Update(ctx, id, notestore.NoteUpdate{Name: &newName, SyncStatus: &next}); err != nil {
		return fmt.Errorf("rename note: %w", err)
	}
	if !e.remote.Authorized() {
		return nil
	}

	n, err = e.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("rename note: %w", err)
	}
	switch n.SyncStatus {
	case models.StatusPendingRename:
		err = e.rename(ctx, n)
	case models.StatusPending:
		err = e.upload(ctx, n)
	case models.StatusLocal, models.StatusPendingDelete, models.StatusSynced:
		return nil
	}
	if err != nil {
		e.logger.Warn("sync: rename failed, left pending",
			slog.Int64("id", id),
			slog.String("error", err.Error()))
		return fmt.Errorf("rename note: %w: %w", ErrDeferred, err)
	}
	return nil
}

// DeleteNote applies a delete request: a note without a remote copy is
// removed at once, a linked note becomes a tombstone for the next pass.
// It reports whether the record was removed.
func (e *Engine) DeleteNote(ctx context.Context, id int64) (bool, error) {
	n, err := e.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete note: %w", err)
	}
	next, remove := n.SyncStatus.AfterDelete(n.Linked())
	if remove {
		if err := e.store.Delete(ctx, id); err != nil {
			return false, fmt.Errorf("delete note: %w", err)
		}
		return true, nil
	}
	if err := e.store.SetStatus(ctx, id, next); err != nil {
		return false, fmt.Errorf("delete note: %w", err)
	}
	return false, nil
}

// SyncDeleteNote tombstones the note if needed and then removes its remote
// copy and the record right away.
func (e *Engine) SyncDeleteNote(ctx context.Context, id int64) error {
	removed, err := e.DeleteNote(ctx, id)
	if err != nil || removed || !e.remote.Authorized() {
		return err
	}
	n, err := e.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if err := e.deleteRemote(ctx, n); err != nil {
		e.logger.Warn("sync: remote delete failed, tombstone kept",
			slog.Int64("id", id),
			slog.String("error", err.Error()))
		return fmt.Errorf("delete note: %w: %w", ErrDeferred, err)
	}
	return nil
}
