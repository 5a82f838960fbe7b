package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/starford/mono/internal/apperr"
	"github.com/starford/mono/internal/checksum"
	"github.com/starford/mono/internal/models"
)

const manifestName = ".mono-remote.yaml"

// manifest maps stable file ids to slash paths relative to the root.
type manifest struct {
	Files map[string]string `yaml:"files"`
}

// FS implements Provider on a local directory, such as a folder kept in
// sync by a desktop client. File ids are kept in a manifest at the root.
type FS struct {
	root string // absolute path to the mirror directory

	mu    sync.Mutex
	ids   map[string]string // id -> "/rel/path.md"
	paths map[string]string // "/rel/path.md" -> id
}

var _ Provider = (*FS)(nil)

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("remote: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("remote: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("remote: root is not a directory: %s", abs)
	}
	f := &FS{root: abs, ids: map[string]string{}, paths: map[string]string{}}
	if err := f.loadManifest(); err != nil {
		return nil, err
	}
	return f, nil
}

// Root returns the absolute directory the provider mirrors to.
func (f *FS) Root() string { return f.root }

// Authorized always reports true; a local directory needs no credentials.
func (f *FS) Authorized() bool { return true }

// safePath resolves a rooted slash path against the mirror root and rejects
// any result that escapes it.
func (f *FS) safePath(p string) (string, error) {
	rel := strings.TrimPrefix(p, "/")
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("remote: absolute paths not allowed: %s", p)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("remote: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("remote: path escapes root: %s", p)
	}
	return abs, nil
}

func (f *FS) slashPath(abs string) string {
	rel, _ := filepath.Rel(f.root, abs)
	return "/" + filepath.ToSlash(rel)
}

// List walks the root and returns every file and folder, skipping dotfiles.
// Files appearing for the first time are given new ids; ids of vanished
// files are forgotten.
func (f *FS) List(ctx context.Context) ([]models.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.RemoteFile
	seen := make(map[string]bool)
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == f.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sp := f.slashPath(p)
		if d.IsDir() {
			out = append(out, models.RemoteFile{
				ID:           "dir:" + sp,
				Path:         sp,
				Name:         d.Name(),
				LastModified: info.ModTime(),
				IsFolder:     true,
			})
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		seen[sp] = true
		out = append(out, models.RemoteFile{
			ID:           f.idFor(sp),
			Path:         sp,
			Name:         d.Name(),
			LastModified: info.ModTime(),
			Hash:         checksum.Sum(data),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remote: list: %w", err)
	}

	for sp, id := range f.paths {
		if !seen[sp] {
			delete(f.paths, sp)
			delete(f.ids, id)
		}
	}
	if err := f.saveManifest(); err != nil {
		return nil, err
	}
	return out, nil
}

// Upload writes content atomically to a path or to the file with the given id.
func (f *FS) Upload(ctx context.Context, target, content string) (models.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sp := target
	if !IsPath(target) {
		var ok bool
		if sp, ok = f.ids[target]; !ok {
			return models.RemoteFile{}, fmt.Errorf("remote: upload %s: %w", target, apperr.ErrNotFound)
		}
	}
	abs, err := f.safePath(sp)
	if err != nil {
		return models.RemoteFile{}, err
	}
	if err := writeAtomic(abs, []byte(content)); err != nil {
		return models.RemoteFile{}, err
	}
	sp = f.slashPath(abs)
	id := f.idFor(sp)
	if err := f.saveManifest(); err != nil {
		return models.RemoteFile{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.RemoteFile{}, fmt.Errorf("remote: stat %s: %w", sp, err)
	}
	return models.RemoteFile{
		ID:           id,
		Path:         sp,
		Name:         filepath.Base(abs),
		LastModified: info.ModTime(),
		Hash:         checksum.Sum([]byte(content)),
	}, nil
}

// Download returns the content of the file at path.
func (f *FS) Download(ctx context.Context, path string) (string, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("remote: download %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("remote: download %s: %w", path, err)
	}
	return string(data), nil
}

// Move renames the file with the given id. Moving onto another existing file
// is refused.
func (f *FS) Move(ctx context.Context, id, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldPath, ok := f.ids[id]
	if !ok {
		return fmt.Errorf("remote: move %s: %w", id, apperr.ErrNotFound)
	}
	absOld, err := f.safePath(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newPath)
	if err != nil {
		return err
	}
	if absOld == absNew {
		return nil
	}
	if _, err := os.Stat(absNew); err == nil {
		return fmt.Errorf("remote: move to %s: %w", newPath, apperr.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("remote: mkdir for move: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remote: move %s: %w", id, apperr.ErrNotFound)
		}
		return fmt.Errorf("remote: move: %w", err)
	}
	sp := f.slashPath(absNew)
	delete(f.paths, oldPath)
	f.ids[id] = sp
	f.paths[sp] = id
	return f.saveManifest()
}

// Delete removes the file with the given id.
func (f *FS) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sp, ok := f.ids[id]
	if !ok {
		return fmt.Errorf("remote: delete %s: %w", id, apperr.ErrNotFound)
	}
	abs, err := f.safePath(sp)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remote: delete %s: %w", sp, err)
	}
	delete(f.ids, id)
	delete(f.paths, sp)
	return f.saveManifest()
}

// idFor returns the id of sp, assigning one if needed. Callers hold f.mu.
func (f *FS) idFor(sp string) string {
	if id, ok := f.paths[sp]; ok {
		return id
	}
	id := "id:" + uuid.NewString()
	f.ids[id] = sp
	f.paths[sp] = id
	return id
}

func (f *FS) loadManifest() error {
	data, err := os.ReadFile(filepath.Join(f.root, manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remote: read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("remote: parse manifest: %w", err)
	}
	for id, sp := range m.Files {
		f.ids[id] = sp
		f.paths[sp] = id
	}
	return nil
}

// saveManifest persists the id table. Callers hold f.mu.
func (f *FS) saveManifest() error {
	data, err := yaml.Marshal(manifest{Files: f.ids})
	if err != nil {
		return fmt.Errorf("remote: encode manifest: %w", err)
	}
	return writeAtomic(filepath.Join(f.root, manifestName), data)
}

// writeAtomic writes content: tmp file → fsync → rename.
func writeAtomic(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("remote: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mono-tmp-*")
	if err != nil {
		return fmt.Errorf("remote: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("remote: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("remote: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("remote: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("remote: rename: %w", err)
	}
	success = true
	return nil
}
