package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/mono/internal/apperr"
	"github.com/starford/mono/internal/document"
	"github.com/starford/mono/internal/markdown"
	"github.com/starford/mono/internal/models"
	"github.com/starford/mono/internal/remote"
)

// maxImportSuffix bounds the " (n)" suffixes tried when a remote file's name
// is already taken locally.
const maxImportSuffix = 100

// uploadPending pushes every pending note.
func (e *Engine) uploadPending(ctx context.Context, p *pass) error {
	notes, err := e.store.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return err
	}
	return forEach(ctx, e.concurrency, notes, func(ctx context.Context, n *models.Note) error {
		if err := e.upload(ctx, n); err != nil {
			return err
		}
		p.count(func(r *Report) { r.Uploaded++ })
		return nil
	})
}

// upload writes n's markdown to its remote file, or creates one at
// /<name>.md, and settles the note.
func (e *Engine) upload(ctx context.Context, n *models.Note) error {
	body := markdown.Serialize(n.Content)

	target := n.RemoteID
	if target == "" {
		target = models.RemotePath(n.Name)
	}
	f, err := e.remote.Upload(ctx, target, body)
	if n.Linked() && errors.Is(err, apperr.ErrNotFound) {
		e.logger.Warn("sync: remote copy missing, recreating",
			slog.Int64("id", n.ID),
			slog.String("remote_id", n.RemoteID))
		f, err = e.remote.Upload(ctx, models.RemotePath(n.Name), body)
	}
	if err != nil {
		return fmt.Errorf("upload %q: %w", n.Name, err)
	}

	// A rename made while the note was already pending is carried by the
	// upload instead of the rename step.
	if want := n.Name + models.RemoteExt; remote.Base(f.Path) != want {
		newPath := remote.Dir(f.Path) + "/" + want
		if err := e.remote.Move(ctx, f.ID, newPath); err != nil {
			return fmt.Errorf("upload %q: move to %s: %w", n.Name, newPath, err)
		}
	}

	if err := e.store.SettleUpload(ctx, n.ID, f.ID, n.LastModified, e.settledAt(f.LastModified)); err != nil {
		return fmt.Errorf("upload %q: settle: %w", n.Name, err)
	}
	e.logger.Debug("sync: uploaded", slog.Int64("id", n.ID), slog.String("remote_id", f.ID))
	return nil
}

// applyRenames moves the remote file of every pending-rename note.
func (e *Engine) applyRenames(ctx context.Context, p *pass) error {
	notes, err := e.store.ListByStatus(ctx, models.StatusPendingRename)
	if err != nil {
		return err
	}
	return forEach(ctx, e.concurrency, notes, func(ctx context.Context, n *models.Note) error {
		if err := e.rename(ctx, n); err != nil {
			return err
		}
		p.count(func(r *Report) { r.Renamed++ })
		return nil
	})
}

func (e *Engine) rename(ctx context.Context, n *models.Note) error {
	if !n.Linked() {
		return e.upload(ctx, n)
	}
	newPath := models.RemotePath(n.Name)
	err := e.remote.Move(ctx, n.RemoteID, newPath)
	if errors.Is(err, apperr.ErrNotFound) {
		return e.upload(ctx, &models.Note{
			ID:           n.ID,
			Name:         n.Name,
			Content:      n.Content,
			LastModified: n.LastModified,
		})
	}
	if err != nil {
		return fmt.Errorf("rename %q: %w", n.Name, err)
	}
	if err := e.store.SettleUpload(ctx, n.ID, n.RemoteID, n.LastModified, e.now()); err != nil {
		return fmt.Errorf("rename %q: settle: %w", n.Name, err)
	}
	e.logger.Debug("sync: renamed", slog.Int64("id", n.ID), slog.String("path", newPath))
	return nil
}

// downloadChanges lists the remote and pulls new and changed files into the
// store. refresh runs once at the end if any note was created or rewritten,
// even when some files failed.
func (e *Engine) downloadChanges(ctx context.Context, p *pass) error {
	listedAt := e.now()
	files, err := e.remote.List(ctx)
	if err != nil {
		return err
	}
	p.listedAt = listedAt
	p.listing = make(map[string]bool, len(files))
	var notes []models.RemoteFile
	for _, f := range files {
		p.listing[f.ID] = true
		if _, ok := noteName(f); !ok {
			continue
		}
		notes = append(notes, f)
	}

	var changed atomic.Bool
	err = forEach(ctx, e.concurrency, notes, func(ctx context.Context, f models.RemoteFile) error {
		ok, err := e.pull(ctx, f, p)
		if ok {
			changed.Store(true)
		}
		return err
	})
	if changed.Load() {
		p.refresh()
	}
	return err
}

// pull reconciles one remote file and reports whether a local note changed.
func (e *Engine) pull(ctx context.Context, f models.RemoteFile, p *pass) (bool, error) {
	n, err := e.store.FindByRemoteID(ctx, f.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		if err := e.importFile(ctx, f); err != nil {
			return false, err
		}
		p.count(func(r *Report) { r.Created++ })
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if n.SyncStatus == models.StatusPendingDelete {
		return false, nil
	}

	remoteTs := f.LastModified.UnixMilli()
	localTs := n.LastModified.UnixMilli()
	var lastSync int64
	if !n.LastSyncedAt.IsZero() {
		lastSync = n.LastSyncedAt.UnixMilli()
	}
	if remoteTs <= lastSync {
		return false, nil
	}

	body, err := e.remote.Download(ctx, f.Path)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", f.Path, err)
	}
	remoteDoc := markdown.Deserialize(body)

	content, modified := remoteDoc, f.LastModified
	conflict := localTs > lastSync
	if conflict {
		content = mergeConflict(n.Content, remoteDoc, n.LastModified, f.LastModified)
		if localTs > remoteTs {
			modified = n.LastModified
		}
	}

	applied, err := e.store.SettleContent(ctx, n.ID, content, modified, e.settledAt(f.LastModified), n.LastModified)
	if err != nil {
		return false, fmt.Errorf("settle %q: %w", n.Name, err)
	}
	if !applied {
		e.logger.Info("sync: note edited during download, deferring",
			slog.Int64("id", n.ID),
			slog.String("path", f.Path))
		return false, nil
	}
	if conflict {
		e.logger.Warn("sync: conflict merged", slog.Int64("id", n.ID), slog.String("path", f.Path))
		p.count(func(r *Report) { r.Merged++ })
	} else {
		e.logger.Debug("sync: downloaded",
			slog.Int64("id", n.ID),
			slog.String("path", f.Path),
			slog.String("hash", f.Hash))
		p.count(func(r *Report) { r.Updated++ })
	}
	return true, nil
}

// importFile inserts a note for a remote file not linked to any local note.
// A name already taken locally gets a " (n)" suffix.
func (e *Engine) importFile(ctx context.Context, f models.RemoteFile) error {
	body, err := e.remote.Download(ctx, f.Path)
	if err != nil {
		return fmt.Errorf("download %s: %w", f.Path, err)
	}
	base, _ := noteName(f)
	n := &models.Note{
		Content:      markdown.Deserialize(body),
		LastModified: f.LastModified,
		RemoteID:     f.ID,
		SyncStatus:   models.StatusSynced,
		LastSyncedAt: e.settledAt(f.LastModified),
	}
	for i := 1; i <= maxImportSuffix; i++ {
		n.Name = base
		if i > 1 {
			n.Name = fmt.Sprintf("%s (%d)", base, i)
		}
		id, err := e.store.Add(ctx, n)
		if errors.Is(err, apperr.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("import %s: %w", f.Path, err)
		}
		e.logger.Info("sync: imported remote note",
			slog.Int64("id", id),
			slog.String("name", n.Name),
			slog.String("path", f.Path))
		return nil
	}
	return fmt.Errorf("import %s: %w", f.Path, apperr.ErrAlreadyExists)
}

// applyLocalDeletions removes the remote copy of every pending-delete note,
// then the note itself.
func (e *Engine) applyLocalDeletions(ctx context.Context, p *pass) error {
	notes, err := e.store.ListByStatus(ctx, models.StatusPendingDelete)
	if err != nil {
		return err
	}
	return forEach(ctx, e.concurrency, notes, func(ctx context.Context, n *models.Note) error {
		if err := e.deleteRemote(ctx, n); err != nil {
			return err
		}
		p.count(func(r *Report) { r.RemoteDelete++ })
		return nil
	})
}

func (e *Engine) deleteRemote(ctx context.Context, n *models.Note) error {
	if n.Linked() {
		err := e.remote.Delete(ctx, n.RemoteID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("delete %q: %w", n.Name, err)
		}
	}
	if err := e.store.Delete(ctx, n.ID); err != nil {
		return fmt.Errorf("delete %q: %w", n.Name, err)
	}
	e.logger.Debug("sync: deleted", slog.Int64("id", n.ID), slog.String("remote_id", n.RemoteID))
	return nil
}

// applyRemoteDeletions deletes synced notes whose remote file is absent from
// the listing taken by the download step. Notes settled after the listing
// was taken are kept. Removals are reported through Report, not refresh.
func (e *Engine) applyRemoteDeletions(ctx context.Context, p *pass) error {
	if p.listing == nil {
		return nil
	}
	notes, err := e.store.ListByStatus(ctx, models.StatusSynced)
	if err != nil {
		return err
	}
	return forEach(ctx, e.concurrency, notes, func(ctx context.Context, n *models.Note) error {
		if !n.Linked() || p.listing[n.RemoteID] || !n.LastSyncedAt.Before(p.listedAt) {
			return nil
		}
		if err := e.store.Delete(ctx, n.ID); err != nil {
			return fmt.Errorf("delete %q: %w", n.Name, err)
		}
		e.logger.Info("sync: removed note deleted remotely",
			slog.Int64("id", n.ID),
			slog.String("remote_id", n.RemoteID))
		p.count(func(r *Report) { r.LocalDelete++ })
		return nil
	})
}

// noteName returns the note name for a remote markdown file. Folders and
// other files are not notes.
func noteName(f models.RemoteFile) (string, bool) {
	if f.IsFolder || len(f.Name) <= len(models.RemoteExt) {
		return "", false
	}
	cut := len(f.Name) - len(models.RemoteExt)
	if !strings.EqualFold(f.Name[cut:], models.RemoteExt) {
		return "", false
	}
	return f.Name[:cut], true
}

// mergeConflict appends a conflict header and the remote blocks after the
// local blocks. Local content is never dropped.
func mergeConflict(local, remoteDoc *document.Doc, localTs, remoteTs time.Time) *document.Doc {
	header := markdown.Deserialize(fmt.Sprintf("# Conflict\nLocal update: %s\nRemote update: %s\n---",
		localTs.UTC().Format(time.RFC3339), remoteTs.UTC().Format(time.RFC3339)))

	merged := local.Clone()
	if merged == nil {
		merged = document.Empty()
	}
	merged.Content = append(merged.Content, header.Content...)
	merged.Content = append(merged.Content, remoteDoc.Content...)
	return merged
}
