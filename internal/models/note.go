// Package models defines the domain types for Mono.
package models

import (
	"time"

	"github.com/starford/mono/internal/document"
)

// Note is a locally stored note and its sync bookkeeping.
type Note struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Content      *document.Doc `json:"content"`
	Cursor       int           `json:"cursor"`
	LastModified time.Time     `json:"last_modified"`
	LastOpened   time.Time     `json:"last_opened,omitzero"`
	RemoteID     string        `json:"remote_id,omitempty"`
	SyncStatus   SyncStatus    `json:"sync_status"`
	LastSyncedAt time.Time     `json:"last_synced_at,omitzero"`
}

// Linked reports whether the note has a remote copy.
func (n *Note) Linked() bool {
	return n.RemoteID != ""
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	LastModified time.Time  `json:"last_modified"`
	LastOpened   time.Time  `json:"last_opened,omitzero"`
	SyncStatus   SyncStatus `json:"sync_status"`
}

// Meta returns the list representation of n.
func (n *Note) Meta() NoteMetadata {
	return NoteMetadata{
		ID:           n.ID,
		Name:         n.Name,
		LastModified: n.LastModified,
		LastOpened:   n.LastOpened,
		SyncStatus:   n.SyncStatus,
	}
}

// RemoteFile describes an entry in the remote store. The remote store owns ID
// and LastModified.
type RemoteFile struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	LastModified time.Time `json:"last_modified"`
	IsFolder     bool      `json:"is_folder"`
	Hash         string    `json:"hash,omitempty"`
}

// RemoteExt is the extension of note files in the remote store.
const RemoteExt = ".md"

// RemotePath returns the remote location a note named name is created at.
func RemotePath(name string) string {
	return "/" + name + RemoteExt
}
