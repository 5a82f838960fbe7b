package syncengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/mono/internal/apperr"
	"github.com/starford/mono/internal/document"
	"github.com/starford/mono/internal/models"
	"github.com/starford/mono/internal/notestore"
	"github.com/starford/mono/internal/testutil"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func ms(v int64) time.Time { return time.UnixMilli(v).UTC() }

type env struct {
	store  *notestore.DB
	remote *testutil.Remote
	engine *Engine
	clock  *clock

	refreshes atomic.Int32
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := &clock{t: ms(1000)}
	e := &env{
		store:  testutil.TestStore(t, notestore.WithClock(c.Now)),
		remote: testutil.NewRemote(),
		clock:  c,
	}
	e.remote.Now = c.Now
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	e.engine = New(e.store, e.remote, logger, WithClock(c.Now))
	return e
}

func (e *env) refresh() { e.refreshes.Add(1) }

func (e *env) syncAll(t *testing.T) Report {
	t.Helper()
	r, err := e.engine.SyncAll(context.Background(), e.refresh)
	require.NoError(t, err)
	return r
}

func (e *env) add(t *testing.T, n *models.Note) int64 {
	t.Helper()
	if n.Content == nil {
		n.Content = docText(n.Name + " body")
	}
	id, err := e.store.Add(context.Background(), n)
	require.NoError(t, err)
	return id
}

func (e *env) get(t *testing.T, id int64) *models.Note {
	t.Helper()
	n, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return n
}

func docText(s string) *document.Doc {
	return &document.Doc{Content: []document.Node{
		&document.Paragraph{Content: []document.Node{&document.Text{Text: s}}},
	}}
}

func paraText(t *testing.T, n document.Node) string {
	t.Helper()
	p, ok := n.(*document.Paragraph)
	require.True(t, ok, "expected paragraph, got %T", n)
	require.NotEmpty(t, p.Content)
	return p.Content[0].(*document.Text).Text
}

func TestConflictMergesBothSides(t *testing.T) {
	e := newEnv(t)
	rid := e.remote.Put("/A.md", "remote words", ms(200))
	id := e.add(t, &models.Note{
		Name:         "A",
		Content:      docText("local words"),
		LastModified: ms(150),
		RemoteID:     rid,
		SyncStatus:   models.StatusSynced,
		LastSyncedAt: ms(100),
	})

	report := e.syncAll(t)
	assert.Equal(t, 1, report.Merged)

	got := e.get(t, id)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Equal(t, int64(200), got.LastModified.UnixMilli())
	assert.Equal(t, int64(1000), got.LastSyncedAt.UnixMilli())

	blocks := got.Content.Content
	require.Len(t, blocks, 6)
	assert.Equal(t, "local words", paraText(t, blocks[0]))
	heading, ok := blocks[1].(*document.Heading)
	require.True(t, ok)
	assert.Equal(t, "Conflict", heading.Content[0].(*document.Text).Text)
	assert.Contains(t, paraText(t, blocks[2]), "Local update: ")
	assert.Contains(t, paraText(t, blocks[3]), "Remote update: ")
	assert.IsType(t, &document.HorizontalRule{}, blocks[4])
	assert.Equal(t, "remote words", paraText(t, blocks[5]))

	assert.Equal(t, int32(1), e.refreshes.Load())
}

func TestCleanRemoteUpdateReplacesContent(t *testing.T) {
	e := newEnv(t)
	rid := e.remote.Put("/A.md", "remote words", ms(200))
	id := e.add(t, &models.Note{
		Name:         "A",
		Content:      docText("local words"),
		LastModified: ms(90),
		RemoteID:     rid,
		SyncStatus:   models.StatusSynced,
		LastSyncedAt: ms(100),
	})

	report := e.syncAll(t)
	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, report.Merged)

	got := e.get(t, id)
	require.Len(t, got.Content.Content, 1)
	assert.Equal(t, "remote words", paraText(t, got.Content.Content[0]))
	assert.Equal(t, int64(200), got.LastModified.UnixMilli())
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Equal(t, int32(1), e.refreshes.Load())
}

func TestUnchangedRemoteIsSkipped(t *testing.T) {
	e := newEnv(t)
	rid := e.remote.Put("/A.md", "same", ms(100))
	e.add(t, &models.Note{Name: "A", LastModified: ms(150), RemoteID: rid, SyncStatus: models.StatusSynced, LastSyncedAt: ms(100)})

	e.syncAll(t)
	assert.Zero(t, e.remote.Calls().Download)
	assert.Zero(t, e.refreshes.Load())
}

func TestDeleteTombstone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rid := e.remote.Put("/Linked.md", "x", ms(50))
	linked := e.add(t, &models.Note{Name: "Linked", RemoteID: rid, SyncStatus: models.StatusSynced, LastModified: ms(50), LastSyncedAt: ms(60)})
	local := e.add(t, &models.Note{Name: "Local", SyncStatus: models.StatusPending})

	removed, err := e.engine.DeleteNote(ctx, local)
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = e.store.Get(ctx, local)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	removed, err = e.engine.DeleteNote(ctx, linked)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, models.StatusPendingDelete, e.get(t, linked).SyncStatus)
	assert.Zero(t, e.remote.Calls().Delete)

	report := e.syncAll(t)
	assert.Equal(t, 1, report.RemoteDelete)
	assert.Equal(t, 1, e.remote.Calls().Delete)
	assert.Empty(t, e.remote.Paths())
	_, err = e.store.Get(ctx, linked)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTombstoneIsNotResurrectedByDownload(t *testing.T) {
	e := newEnv(t)
	rid := e.remote.Put("/A.md", "changed remotely", ms(500))
	id := e.add(t, &models.Note{Name: "A", RemoteID: rid, SyncStatus: models.StatusPendingDelete, LastModified: ms(50), LastSyncedAt: ms(60)})

	e.syncAll(t)
	_, err := e.store.Get(context.Background(), id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, e.remote.Calls().Download)
}

func TestSingleFlight(t *testing.T) {
	e := newEnv(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.remote.ListHook = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.engine.SyncAll(context.Background(), nil)
		done <- err
	}()
	<-entered

	report, err := e.engine.SyncAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, SkipInFlight, report.Skipped)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, e.remote.Calls().List)

	// The guard is released after the pass.
	e.syncAll(t)
	assert.Equal(t, 2, e.remote.Calls().List)
}

func TestEnginesDoNotShareGuard(t *testing.T) {
	a := newEnv(t)
	b := newEnv(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	a.remote.ListHook = func() {
		close(entered)
		<-release
	}

	done := make(chan struct{})
	go func() {
		a.engine.SyncAll(context.Background(), nil)
		close(done)
	}()
	<-entered

	report := b.syncAll(t)
	assert.Empty(t, report.Skipped)
	close(release)
	<-done
}

func TestUnauthorizedIsNoop(t *testing.T) {
	e := newEnv(t)
	e.remote.Unauthorized = true
	e.add(t, &models.Note{Name: "A", SyncStatus: models.StatusPending})

	report := e.syncAll(t)
	assert.Equal(t, SkipUnauthorized, report.Skipped)
	assert.Equal(t, testutil.Calls{}, e.remote.Calls())
}

func TestUploadPendingCreatesRemoteFile(t *testing.T) {
	e := newEnv(t)
	id := e.add(t, &models.Note{Name: "Groceries", Content: docText("milk"), SyncStatus: models.StatusPending})

	report := e.syncAll(t)
	assert.Equal(t, 1, report.Uploaded)

	got := e.get(t, id)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	require.NotEmpty(t, got.RemoteID)
	content, path, ok := e.remote.Content(got.RemoteID)
	require.True(t, ok)
	assert.Equal(t, "/Groceries.md", path)
	assert.Equal(t, "milk", content)

	// The engine's own upload is not downloaded back.
	assert.Zero(t, e.remote.Calls().Download)
	assert.Zero(t, e.refreshes.Load())
}

func TestUploadOverwritesByIDAndFollowsRename(t *testing.T) {
	e := newEnv(t)
	rid := e.remote.Put("/Old.md", "old", ms(10))
	id := e.add(t, &models.Note{Name: "New", Content: docText("fresh"), RemoteID: rid, SyncStatus: models.StatusPending, LastSyncedAt: ms(10)})

	e.syncAll(t)

	assert.Equal(t, []string{"/New.md"}, e.remote.Paths())
	content, _, _ := e.remote.Content(rid)
	assert.Equal(t, "fresh", content)
	assert.Equal(t, rid, e.get(t, id).RemoteID)
}

func TestUploadRecreatesMissingRemote(t *testing.T) {
	e := newEnv(t)
	id := e.add(t, &models.Note{Name: "A", RemoteID: "id:gone", SyncStatus: models.StatusPending})

	e.syncAll(t)

	got := e.get(t, id)
	assert.NotEqual(t, "id:gone", got.RemoteID)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Equal(t, []string{"/A.md"}, e.remote.Paths())
}

func TestImportNewRemoteNotes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.remote.PutFolder("/sub")
	e.remote.Put("/sub/Ideas.md", "# Ideas\n\n- one", ms(500))
	e.remote.Put("/readme.txt", "not a note", ms(500))

	report := e.syncAll(t)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, int32(1), e.refreshes.Load())

	n, err := e.store.FindByName(ctx, "Ideas")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, n.SyncStatus)
	assert.Equal(t, int64(500), n.LastModified.UnixMilli())
	assert.IsType(t, &document.Heading{}, n.Content.Content[0])

	_, err = e.store.FindByName(ctx, "readme")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// A second pass sees nothing new.
	report = e.syncAll(t)
	assert.Zero(t, report.Created)
	assert.Equal(t, 1, e.remote.Calls().Download)
}

func TestImportNameCollisionGetsSuffix(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.add(t, &models.Note{Name: "Ideas", SyncStatus: models.StatusLocal})
	e.remote.Put("/Ideas.md", "remote ideas", ms(500))

	e.syncAll(t)

	n, err := e.store.FindByName(ctx, "Ideas (2)")
	require.NoError(t, err)
	assert.Equal(t, "remote ideas", paraText(t, n.Content.Content[0]))
}

func TestRemoteDeletionRemovesSyncedNotes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gone := e.add(t, &models.Note{Name: "Gone", RemoteID: "id:vanished", SyncStatus: models.StatusSynced, LastModified: ms(50), LastSyncedAt: ms(100)})
	fresh := e.add(t, &models.Note{Name: "Fresh", RemoteID: "id:later", SyncStatus: models.StatusSynced, LastModified: ms(50), LastSyncedAt: ms(2000)})
	pending := e.add(t, &models.Note{Name: "Edited", RemoteID: "id:edited", SyncStatus: models.StatusPendingRename, LastModified: ms(50), LastSyncedAt: ms(100)})
	e.syncAll(t)

	_, err := e.store.Get(ctx, gone)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = e.store.Get(ctx, fresh)
	assert.NoError(t, err, "note settled after the listing must survive")
	// The missing remote copy of a renamed note is recreated, not deleted.
	got := e.get(t, pending)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Equal(t, []string{"/Edited.md"}, e.remote.Paths())
	assert.Zero(t, e.refreshes.Load(), "removals are reported, not refreshed")
}

func TestRefreshRunsOncePerPass(t *testing.T) {
	e := newEnv(t)
	e.remote.Put("/One.md", "one", ms(500))
	e.remote.Put("/Two.md", "two", ms(500))
	rid := e.remote.Put("/Three.md", "three v2", ms(600))
	e.add(t, &models.Note{Name: "Three", Content: docText("three"), RemoteID: rid, SyncStatus: models.StatusSynced, LastModified: ms(50), LastSyncedAt: ms(100)})
	e.add(t, &models.Note{Name: "Gone", RemoteID: "id:vanished", SyncStatus: models.StatusSynced, LastModified: ms(50), LastSyncedAt: ms(100)})

	report := e.syncAll(t)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.LocalDelete)
	assert.Equal(t, int32(1), e.refreshes.Load())
}

func TestStepFailureAbortsRemainingSteps(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pending := e.add(t, &models.Note{Name: "P", SyncStatus: models.StatusPending})
	tomb := e.add(t, &models.Note{Name: "T", RemoteID: "id:t", SyncStatus: models.StatusPendingDelete})
	e.remote.Fail = func(op, arg string) error {
		if op == "list" {
			return errors.New("network down")
		}
		return nil
	}

	_, err := e.engine.SyncAll(ctx, e.refresh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download changes")

	// Step 1 ran and its effect stands; step 4 never ran.
	assert.Equal(t, models.StatusSynced, e.get(t, pending).SyncStatus)
	assert.Equal(t, models.StatusPendingDelete, e.get(t, tomb).SyncStatus)
	assert.Zero(t, e.remote.Calls().Delete)
}

func TestNoteFailureDoesNotBlockOthers(t *testing.T) {
	e := newEnv(t)
	bad := e.add(t, &models.Note{Name: "Bad", SyncStatus: models.StatusPending})
	good := e.add(t, &models.Note{Name: "Good", SyncStatus: models.StatusPending})
	e.remote.Fail = func(op, arg string) error {
		if op == "upload" && arg == "/Bad.md" {
			return errors.New("quota")
		}
		return nil
	}

	report, err := e.engine.SyncAll(context.Background(), e.refresh)
	require.Error(t, err)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, models.StatusPending, e.get(t, bad).SyncStatus)
	assert.Equal(t, models.StatusSynced, e.get(t, good).SyncStatus)
	assert.Zero(t, e.remote.Calls().List, "pass must stop after the failed step")
}

func TestSyncNote(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rid := e.remote.Put("/A.md", "old", ms(10))
	id := e.add(t, &models.Note{Name: "A", Content: docText("new"), RemoteID: rid, SyncStatus: models.StatusSynced, LastSyncedAt: ms(10)})

	require.NoError(t, e.engine.SyncNote(ctx, id))

	assert.Equal(t, models.StatusSynced, e.get(t, id).SyncStatus)
	content, _, _ := e.remote.Content(rid)
	assert.Equal(t, "new", content)
}

func TestSyncNoteWithoutAuthorizationStaysPending(t *testing.T) {
	e := newEnv(t)
	e.remote.Unauthorized = true
	id := e.add(t, &models.Note{Name: "A", SyncStatus: models.StatusSynced, RemoteID: "id:1"})

	require.NoError(t, e.engine.SyncNote(context.Background(), id))
	assert.Equal(t, models.StatusPending, e.get(t, id).SyncStatus)
	assert.Zero(t, e.remote.Calls().Upload)
}

func TestSyncNoteKeepsTombstone(t *testing.T) {
	e := newEnv(t)
	id := e.add(t, &models.Note{Name: "A", SyncStatus: models.StatusPendingDelete, RemoteID: "id:1"})

	require.NoError(t, e.engine.SyncNote(context.Background(), id))
	assert.Equal(t, models.StatusPendingDelete, e.get(t, id).SyncStatus)
	assert.Zero(t, e.remote.Calls().Upload)
}

func TestRenameNoteMovesRemote(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rid := e.remote.Put("/Before.md", "x", ms(10))
	id := e.add(t, &models.Note{Name: "Before", RemoteID: rid, SyncStatus: models.StatusSynced, LastSyncedAt: ms(10)})

	require.NoError(t, e.engine.RenameNote(ctx, id, "After"))

	got := e.get(t, id)
	assert.Equal(t, "After", got.Name)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Equal(t, []string{"/After.md"}, e.remote.Paths())
	assert.Zero(t, e.remote.Calls().Upload)
}

func TestRenameUnlinkedNoteUploads(t *testing.T) {
	e := newEnv(t)
	id := e.add(t, &models.Note{Name: "Draft", SyncStatus: models.StatusLocal})

	require.NoError(t, e.engine.RenameNote(context.Background(), id, "Final"))

	got := e.get(t, id)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Equal(t, []string{"/Final.md"}, e.remote.Paths())
}

func TestRenameNoteRejectsTakenAndInvalidNames(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.add(t, &models.Note{Name: "Taken"})
	id := e.add(t, &models.Note{Name: "Mine"})

	assert.ErrorIs(t, e.engine.RenameNote(ctx, id, "Taken"), apperr.ErrAlreadyExists)
	assert.ErrorIs(t, e.engine.RenameNote(ctx, id, "a/b"), apperr.ErrInvalidName)
	assert.Equal(t, "Mine", e.get(t, id).Name)
}

func TestSyncDeleteNote(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rid := e.remote.Put("/A.md", "x", ms(10))
	id := e.add(t, &models.Note{Name: "A", RemoteID: rid, SyncStatus: models.StatusSynced})

	require.NoError(t, e.engine.SyncDeleteNote(ctx, id))
	_, err := e.store.Get(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, e.remote.Paths())
}

func TestSyncDeleteNoteKeepsTombstoneOnFailure(t *testing.T) {
	e := newEnv(t)
	rid := e.remote.Put("/A.md", "x", ms(10))
	id := e.add(t, &models.Note{Name: "A", RemoteID: rid, SyncStatus: models.StatusSynced})
	e.remote.Fail = func(op, arg string) error {
		if op == "delete" {
			return errors.New("offline")
		}
		return nil
	}

	err := e.engine.SyncDeleteNote(context.Background(), id)
	assert.ErrorIs(t, err, ErrDeferred)
	assert.Equal(t, models.StatusPendingDelete, e.get(t, id).SyncStatus)
}
