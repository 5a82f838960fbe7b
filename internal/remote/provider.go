// Package remote defines the remote file store notes are mirrored to.
package remote

import (
	"context"
	"strings"

	"github.com/starford/mono/internal/apperr"
	"github.com/starford/mono/internal/models"
)

// Provider is the interface for remote file operations. Paths are
// slash-separated and rooted ("/Notes/a.md"); ids are provider-assigned and
// survive moves.
type Provider interface {
	// Authorized reports whether the provider may be used. Sync is a no-op
	// while it returns false.
	Authorized() bool
	// List returns every file and folder in the store.
	List(ctx context.Context) ([]models.RemoteFile, error)
	// Upload writes content. A target starting with "/" is a path and the file
	// is created or replaced; any other target is the id of an existing file.
	Upload(ctx context.Context, target, content string) (models.RemoteFile, error)
	// Download returns the content of the file at path.
	Download(ctx context.Context, path string) (string, error)
	// Move renames the file with the given id.
	Move(ctx context.Context, id, newPath string) error
	// Delete removes the file with the given id.
	Delete(ctx context.Context, id string) error
}

// Deauthorizer is implemented by providers holding revocable credentials.
type Deauthorizer interface {
	Deauthorize(ctx context.Context) error
}

// IsPath reports whether an upload target names a path rather than an id.
func IsPath(target string) bool {
	return strings.HasPrefix(target, "/")
}

// Base returns the last element of a remote path.
func Base(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Dir returns all but the last element of a remote path, without a trailing
// slash. The root directory is "".
func Dir(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

// Disabled is a Provider that is never authorized.
type Disabled struct{}

var _ Provider = Disabled{}

func (Disabled) Authorized() bool { return false }

func (Disabled) List(context.Context) ([]models.RemoteFile, error) {
	return nil, apperr.ErrUnauthorized
}

func (Disabled) Upload(context.Context, string, string) (models.RemoteFile, error) {
	return models.RemoteFile{}, apperr.ErrUnauthorized
}

func (Disabled) Download(context.Context, string) (string, error) {
	return "", apperr.ErrUnauthorized
}

func (Disabled) Move(context.Context, string, string) error { return apperr.ErrUnauthorized }

func (Disabled) Delete(context.Context, string) error { return apperr.ErrUnauthorized }
