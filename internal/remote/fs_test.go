package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mono/internal/apperr"
	"github.com/starford/mono/internal/models"
)

func tempMirror(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func byPath(files []models.RemoteFile) map[string]models.RemoteFile {
	out := make(map[string]models.RemoteFile, len(files))
	for _, f := range files {
		out[f.Path] = f
	}
	return out
}

func TestUploadByPathAndDownload(t *testing.T) {
	s := tempMirror(t)
	ctx := context.Background()

	f, err := s.Upload(ctx, "/note.md", "# Hello")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if f.ID == "" || f.Path != "/note.md" || f.Name != "note.md" {
		t.Errorf("descriptor = %+v", f)
	}
	got, err := s.Download(ctx, "/note.md")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got != "# Hello" {
		t.Errorf("content = %q", got)
	}
}

func TestUploadByIDOverwrites(t *testing.T) {
	s := tempMirror(t)
	ctx := context.Background()

	f, _ := s.Upload(ctx, "/a.md", "one")
	g, err := s.Upload(ctx, f.ID, "two")
	if err != nil {
		t.Fatalf("Upload by id: %v", err)
	}
	if g.ID != f.ID || g.Path != "/a.md" {
		t.Errorf("descriptor changed: %+v -> %+v", f, g)
	}
	got, _ := s.Download(ctx, "/a.md")
	if got != "two" {
		t.Errorf("content = %q", got)
	}
}

func TestUploadUnknownID(t *testing.T) {
	s := tempMirror(t)
	_, err := s.Upload(context.Background(), "id:missing", "x")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMoveKeepsID(t *testing.T) {
	s := tempMirror(t)
	ctx := context.Background()

	f, _ := s.Upload(ctx, "/old.md", "data")
	if err := s.Move(ctx, f.ID, "/sub/new.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	files, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	m := byPath(files)
	if _, ok := m["/old.md"]; ok {
		t.Error("old path still listed")
	}
	if got := m["/sub/new.md"]; got.ID != f.ID {
		t.Errorf("moved id = %q, want %q", got.ID, f.ID)
	}
	if !m["/sub"].IsFolder {
		t.Error("expected /sub listed as folder")
	}
}

func TestMoveOntoExisting(t *testing.T) {
	s := tempMirror(t)
	ctx := context.Background()
	a, _ := s.Upload(ctx, "/a.md", "a")
	s.Upload(ctx, "/b.md", "b")

	if err := s.Move(ctx, a.ID, "/b.md"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestDeleteByID(t *testing.T) {
	s := tempMirror(t)
	ctx := context.Background()
	f, _ := s.Upload(ctx, "/del.md", "bye")

	if err := s.Delete(ctx, f.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Download(ctx, "/del.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("download after delete: %v", err)
	}
	if err := s.Delete(ctx, f.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestListAssignsStableIDs(t *testing.T) {
	s := tempMirror(t)
	ctx := context.Background()
	_ = os.WriteFile(filepath.Join(s.Root(), "external.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(s.Root(), ".hidden.md"), []byte("x"), 0o644)

	first, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || first[0].Path != "/external.md" {
		t.Fatalf("List = %+v", first)
	}

	// A fresh provider over the same directory reads ids back from the manifest.
	again, err := NewFS(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	second, _ := again.List(ctx)
	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Errorf("ids not stable: %+v vs %+v", first, second)
	}
}

func TestListForgetsVanishedFiles(t *testing.T) {
	s := tempMirror(t)
	ctx := context.Background()
	f, _ := s.Upload(ctx, "/gone.md", "x")
	_ = os.Remove(filepath.Join(s.Root(), "gone.md"))

	if _, err := s.List(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upload(ctx, f.ID, "y"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("upload to vanished id: %v", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempMirror(t)
	ctx := context.Background()

	for _, p := range []string{"/../../etc/passwd", "/../outside.md"} {
		if _, err := s.Download(ctx, p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if _, err := s.Upload(ctx, p, "x"); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestNoLeftoverTempFiles(t *testing.T) {
	s := tempMirror(t)
	ctx := context.Background()
	s.Upload(ctx, "/atomic.md", "original")
	s.Upload(ctx, "/atomic.md", "updated")

	matches, _ := filepath.Glob(filepath.Join(s.Root(), ".mono-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	_ = os.WriteFile(p, nil, 0o644)
	if _, err := NewFS(p); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestPathHelpers(t *testing.T) {
	if !IsPath("/a.md") || IsPath("id:abc") {
		t.Error("IsPath misclassifies")
	}
	if Base("/x/y.md") != "y.md" || Dir("/x/y.md") != "/x" || Dir("/y.md") != "" {
		t.Error("Base/Dir wrong")
	}
}
