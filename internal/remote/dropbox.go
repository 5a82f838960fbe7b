package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/starford/mono/internal/apperr"
	"github.com/starford/mono/internal/models"
)

const (
	dropboxAPI     = "https://api.dropboxapi.com/2"
	dropboxContent = "https://content.dropboxapi.com/2"
)

// Dropbox implements Provider against the Dropbox HTTP API v2. All paths are
// relative to Root, which is prefixed on requests and stripped from listings.
type Dropbox struct {
	APIURL     string
	ContentURL string
	Root       string
	Client     *http.Client

	mu    sync.RWMutex
	token string
}

var (
	_ Provider     = (*Dropbox)(nil)
	_ Deauthorizer = (*Dropbox)(nil)
)

// NewDropbox returns a client using token. An empty token leaves the
// provider unauthorized.
func NewDropbox(token, root string, timeout time.Duration) *Dropbox {
	return &Dropbox{
		APIURL:     dropboxAPI,
		ContentURL: dropboxContent,
		Root:       strings.TrimRight(root, "/"),
		Client:     &http.Client{Timeout: timeout},
		token:      token,
	}
}

// Authorized reports whether an access token is set.
func (d *Dropbox) Authorized() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.token != ""
}

// SetToken replaces the access token.
func (d *Dropbox) SetToken(token string) {
	d.mu.Lock()
	d.token = token
	d.mu.Unlock()
}

// Deauthorize revokes the token server-side and forgets it locally. The local
// token is cleared even when revocation fails.
func (d *Dropbox) Deauthorize(ctx context.Context) error {
	if !d.Authorized() {
		return nil
	}
	err := d.rpc(ctx, "/auth/token/revoke", nil, nil)
	d.SetToken("")
	if err != nil {
		return fmt.Errorf("remote: revoke token: %w", err)
	}
	return nil
}

type dropboxEntry struct {
	Tag            string `json:".tag"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	PathDisplay    string `json:"path_display"`
	ServerModified string `json:"server_modified"`
	ContentHash    string `json:"content_hash"`
}

type dropboxListResult struct {
	Entries []dropboxEntry `json:"entries"`
	Cursor  string         `json:"cursor"`
	HasMore bool           `json:"has_more"`
}

// List returns every entry under Root, following pagination cursors.
func (d *Dropbox) List(ctx context.Context) ([]models.RemoteFile, error) {
	var res dropboxListResult
	err := d.rpc(ctx, "/files/list_folder", map[string]any{
		"path":      d.Root,
		"recursive": true,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("remote: list: %w", err)
	}

	var out []models.RemoteFile
	for {
		for _, e := range res.Entries {
			if e.Tag == "deleted" {
				continue
			}
			f := d.toRemoteFile(e)
			if f.Path == "" {
				continue
			}
			out = append(out, f)
		}
		if !res.HasMore {
			return out, nil
		}
		cursor := res.Cursor
		res = dropboxListResult{}
		if err := d.rpc(ctx, "/files/list_folder/continue", map[string]any{"cursor": cursor}, &res); err != nil {
			return nil, fmt.Errorf("remote: list continue: %w", err)
		}
	}
}

// Upload overwrites the file at a path or with an id.
func (d *Dropbox) Upload(ctx context.Context, target, content string) (models.RemoteFile, error) {
	arg := map[string]any{
		"path": d.resolve(target),
		"mode": "overwrite",
		"mute": true,
	}
	var e dropboxEntry
	if err := d.content(ctx, "/files/upload", arg, strings.NewReader(content), &e); err != nil {
		return models.RemoteFile{}, fmt.Errorf("remote: upload %s: %w", target, err)
	}
	e.Tag = "file"
	return d.toRemoteFile(e), nil
}

// Download returns the content of the file at path.
func (d *Dropbox) Download(ctx context.Context, path string) (string, error) {
	var buf bytes.Buffer
	if err := d.content(ctx, "/files/download", map[string]any{"path": d.resolve(path)}, nil, &buf); err != nil {
		return "", fmt.Errorf("remote: download %s: %w", path, err)
	}
	return buf.String(), nil
}

// Move renames the file with the given id.
func (d *Dropbox) Move(ctx context.Context, id, newPath string) error {
	err := d.rpc(ctx, "/files/move_v2", map[string]any{
		"from_path":  id,
		"to_path":    d.resolve(newPath),
		"autorename": false,
	}, nil)
	if err != nil {
		return fmt.Errorf("remote: move %s: %w", id, err)
	}
	return nil
}

// Delete removes the file with the given id.
func (d *Dropbox) Delete(ctx context.Context, id string) error {
	if err := d.rpc(ctx, "/files/delete_v2", map[string]any{"path": id}, nil); err != nil {
		return fmt.Errorf("remote: delete %s: %w", id, err)
	}
	return nil
}

// resolve prefixes paths with Root; ids pass through.
func (d *Dropbox) resolve(target string) string {
	if !IsPath(target) {
		return target
	}
	return d.Root + target
}

func (d *Dropbox) toRemoteFile(e dropboxEntry) models.RemoteFile {
	p := e.PathDisplay
	if d.Root != "" {
		if !strings.HasPrefix(strings.ToLower(p), strings.ToLower(d.Root)+"/") {
			return models.RemoteFile{}
		}
		p = p[len(d.Root):]
	}
	modified, _ := time.Parse(time.RFC3339, e.ServerModified)
	return models.RemoteFile{
		ID:           e.ID,
		Path:         p,
		Name:         e.Name,
		LastModified: modified,
		IsFolder:     e.Tag == "folder",
		Hash:         e.ContentHash,
	}
}

// rpc calls an RPC-style endpoint with a JSON body and decodes the JSON
// response into out when non-nil.
func (d *Dropbox) rpc(ctx context.Context, endpoint string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.APIURL+endpoint, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return d.do(req, func(r io.Reader) error {
		if out == nil {
			return nil
		}
		return json.NewDecoder(r).Decode(out)
	})
}

// content calls a content-style endpoint. Arguments travel in the
// Dropbox-API-Arg header. For downloads out is an io.Writer receiving the
// body; otherwise the JSON response is decoded into out.
func (d *Dropbox) content(ctx context.Context, endpoint string, arg map[string]any, body io.Reader, out any) error {
	header, err := headerJSON(arg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.ContentURL+endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Dropbox-API-Arg", header)
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	return d.do(req, func(r io.Reader) error {
		switch o := out.(type) {
		case nil:
			return nil
		case io.Writer:
			_, err := io.Copy(o, r)
			return err
		default:
			return json.NewDecoder(r).Decode(out)
		}
	})
}

type dropboxError struct {
	Summary string `json:"error_summary"`
}

func (d *Dropbox) do(req *http.Request, handle func(io.Reader) error) error {
	d.mu.RLock()
	token := d.token
	d.mu.RUnlock()
	if token == "" {
		return apperr.ErrUnauthorized
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return handle(resp.Body)
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.ErrUnauthorized
	case resp.StatusCode == http.StatusConflict:
		var e dropboxError
		_ = json.NewDecoder(resp.Body).Decode(&e)
		switch {
		case strings.Contains(e.Summary, "not_found"):
			return fmt.Errorf("%w: %s", apperr.ErrNotFound, e.Summary)
		case strings.Contains(e.Summary, "conflict"):
			return fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, e.Summary)
		default:
			return fmt.Errorf("dropbox: %s", e.Summary)
		}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("dropbox: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
}

// headerJSON encodes v as JSON safe for an HTTP header: every non-ASCII
// rune is escaped as \uXXXX.
func headerJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range string(data) {
		if r < 0x80 {
			b.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
			continue
		}
		fmt.Fprintf(&b, `\u%04x`, r)
	}
	return b.String(), nil
}
