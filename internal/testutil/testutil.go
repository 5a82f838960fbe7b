// Package testutil provides shared test helpers: a temporary note store and
// an in-memory remote.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/starford/mono/internal/apperr"
	"github.com/starford/mono/internal/models"
	"github.com/starford/mono/internal/notestore"
	"github.com/starford/mono/internal/remote"
)

// TestStore creates a temporary SQLite note store that is closed on cleanup.
func TestStore(t *testing.T, opts ...notestore.Option) *notestore.DB {
	t.Helper()
	db, err := notestore.Open(filepath.Join(t.TempDir(), "notes.db"), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestMirror creates a temporary directory-backed remote.
func TestMirror(t *testing.T) (string, *remote.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := remote.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// Calls counts invocations per Remote method.
type Calls struct {
	List, Upload, Download, Move, Delete int
}

type remoteFile struct {
	path     string
	content  string
	modified time.Time
}

// Remote is an in-memory remote.Provider with call counters and hooks.
type Remote struct {
	mu      sync.Mutex
	files   map[string]*remoteFile // by id
	folders []string
	nextID  int
	calls   Calls

	// Now stamps uploads and moves. Defaults to time.Now.
	Now func() time.Time
	// Unauthorized makes Authorized report false.
	Unauthorized bool
	// ListHook, if set, runs inside List before the listing is taken.
	ListHook func()
	// Fail, if set, is consulted before every call; a non-nil error is returned.
	Fail func(op, arg string) error
}

var _ remote.Provider = (*Remote)(nil)

// NewRemote returns an empty in-memory remote.
func NewRemote() *Remote {
	return &Remote{files: map[string]*remoteFile{}, Now: time.Now}
}

// Put creates or replaces the file at path and returns its id.
func (r *Remote) Put(path, content string, modified time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.idForPath(path); ok {
		f := r.files[id]
		f.content, f.modified = content, modified
		return id
	}
	r.nextID++
	id := fmt.Sprintf("id:%d", r.nextID)
	r.files[id] = &remoteFile{path: path, content: content, modified: modified}
	return id
}

// PutFolder adds a folder entry to listings.
func (r *Remote) PutFolder(path string) {
	r.mu.Lock()
	r.folders = append(r.folders, path)
	r.mu.Unlock()
}

// Remove deletes a file without counting a call.
func (r *Remote) Remove(id string) {
	r.mu.Lock()
	delete(r.files, id)
	r.mu.Unlock()
}

// Content returns the content and path of the file with id.
func (r *Remote) Content(id string) (content, path string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return "", "", false
	}
	return f.content, f.path, true
}

// Paths returns all file paths, sorted.
func (r *Remote) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, f := range r.files {
		out = append(out, f.path)
	}
	sort.Strings(out)
	return out
}

// Calls returns a snapshot of the call counters.
func (r *Remote) Calls() Calls {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *Remote) Authorized() bool { return !r.Unauthorized }

func (r *Remote) List(ctx context.Context) ([]models.RemoteFile, error) {
	r.mu.Lock()
	r.calls.List++
	hook := r.ListHook
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := r.fail("list", ""); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RemoteFile
	for _, p := range r.folders {
		out = append(out, models.RemoteFile{ID: "dir:" + p, Path: p, Name: remote.Base(p), IsFolder: true})
	}
	for id, f := range r.files {
		out = append(out, r.describe(id, f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (r *Remote) Upload(ctx context.Context, target, content string) (models.RemoteFile, error) {
	r.count(func(c *Calls) { c.Upload++ })
	if err := r.fail("upload", target); err != nil {
		return models.RemoteFile{}, err
	}

	if remote.IsPath(target) {
		id := r.Put(target, content, r.Now())
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.describe(id, r.files[id]), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[target]
	if !ok {
		return models.RemoteFile{}, fmt.Errorf("fake remote: upload %s: %w", target, apperr.ErrNotFound)
	}
	f.content, f.modified = content, r.Now()
	return r.describe(target, f), nil
}

func (r *Remote) Download(ctx context.Context, path string) (string, error) {
	r.count(func(c *Calls) { c.Download++ })
	if err := r.fail("download", path); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.idForPath(path)
	if !ok {
		return "", fmt.Errorf("fake remote: download %s: %w", path, apperr.ErrNotFound)
	}
	return r.files[id].content, nil
}

func (r *Remote) Move(ctx context.Context, id, newPath string) error {
	r.count(func(c *Calls) { c.Move++ })
	if err := r.fail("move", id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return fmt.Errorf("fake remote: move %s: %w", id, apperr.ErrNotFound)
	}
	if other, exists := r.idForPath(newPath); exists && other != id {
		return fmt.Errorf("fake remote: move to %s: %w", newPath, apperr.ErrAlreadyExists)
	}
	f.path, f.modified = newPath, r.Now()
	return nil
}

func (r *Remote) Delete(ctx context.Context, id string) error {
	r.count(func(c *Calls) { c.Delete++ })
	if err := r.fail("delete", id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[id]; !ok {
		return fmt.Errorf("fake remote: delete %s: %w", id, apperr.ErrNotFound)
	}
	delete(r.files, id)
	return nil
}

func (r *Remote) count(fn func(*Calls)) {
	r.mu.Lock()
	fn(&r.calls)
	r.mu.Unlock()
}

func (r *Remote) fail(op, arg string) error {
	if r.Fail == nil {
		return nil
	}
	return r.Fail(op, arg)
}

// idForPath looks up a file id by path. Callers hold r.mu.
func (r *Remote) idForPath(path string) (string, bool) {
	for id, f := range r.files {
		if f.path == path {
			return id, true
		}
	}
	return "", false
}

func (r *Remote) describe(id string, f *remoteFile) models.RemoteFile {
	return models.RemoteFile{
		ID:           id,
		Path:         f.path,
		Name:         remote.Base(f.path),
		LastModified: f.modified,
	}
}
