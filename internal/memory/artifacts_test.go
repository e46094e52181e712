package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*ArtifactStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewArtifactStore(filepath.Join(dir, "artifacts.db"), filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func countBlobs(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	filepath.Walk(filepath.Join(dir, "artifacts", "blobs"), func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func TestSaveDeduplicatesBlobs(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	id1, err := store.Save(ctx, []byte("hello"), "first", "tester", "g1", []string{"sys:ephemeral"}, "")
	require.NoError(t, err)
	id2, err := store.Save(ctx, []byte("hello"), "second", "tester", "g1", []string{"user"}, "")
	require.NoError(t, err)
	require.NotEqual(t, id1, id2, "each save gets its own row")

	require.Equal(t, 1, countBlobs(t, dir), "identical content must share one blob")

	a1, err := store.Get(ctx, id1)
	require.NoError(t, err)
	a2, err := store.Get(ctx, id2)
	require.NoError(t, err)
	require.Equal(t, a1.ContentHash, a2.ContentHash)
	require.Equal(t, []byte("hello"), a2.Content)
	require.Equal(t, "second", a2.Title)
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetMissingBlob(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	id, err := store.Save(ctx, []byte("content"), "t", "a", "g", nil, "")
	require.NoError(t, err)

	// Remove the blob out from under the row.
	filepath.Walk(filepath.Join(dir, "artifacts", "blobs"), func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			os.Remove(path)
		}
		return nil
	})

	_, err = store.Get(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, []byte("a"), "a", "x", "g1", []string{"sys:ephemeral", "tool:bash"}, "")
	require.NoError(t, err)
	_, err = store.Save(ctx, []byte("b"), "b", "x", "g2", []string{"user"}, "")
	require.NoError(t, err)

	all, err := store.List(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	g1, err := store.List(ctx, "g1", "")
	require.NoError(t, err)
	require.Len(t, g1, 1)

	tagged, err := store.List(ctx, "", "tool:bash")
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	require.Equal(t, "a", tagged[0].Title)
}

func TestDeleteRemovesOnlyRow(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	id, err := store.Save(ctx, []byte("keepme"), "t", "a", "g", nil, "")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, id))
	require.Equal(t, 1, countBlobs(t, dir), "delete must not touch the blob")

	err = store.Delete(ctx, id)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestGCDeduplicationScenario(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	// Same content twice: one ephemeral, one user-tagged → one blob, two rows.
	_, err := store.Save(ctx, []byte("hello"), "tmp", "a", "g", []string{"sys:ephemeral"}, "")
	require.NoError(t, err)
	keep, err := store.Save(ctx, []byte("hello"), "kept", "a", "g", []string{"user"}, "")
	require.NoError(t, err)
	require.Equal(t, 1, countBlobs(t, dir))

	gc := NewGarbageCollector(store, dir, 0)

	// Phase 1 with zero retention removes only the ephemeral row.
	stats, err := gc.RunOnce(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Phase1Deleted)
	require.Equal(t, 1, countBlobs(t, dir), "blob still referenced by the user row")

	// Phase 2 finds no orphans while the user row remains.
	stats, err = gc.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Phase2Deleted)

	// Dropping the last row orphans the blob; phase 2 reclaims it.
	require.NoError(t, store.Delete(ctx, keep))
	stats, err = gc.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Phase2Deleted)
	require.Equal(t, 0, countBlobs(t, dir))
}

func TestGCShouldRunCooldown(t *testing.T) {
	store, dir := newTestStore(t)
	gc := NewGarbageCollector(store, dir, 7)

	require.True(t, gc.ShouldRun(1), "no prior run recorded")
	_, err := gc.RunOnce(context.Background(), true)
	require.NoError(t, err)
	require.False(t, gc.ShouldRun(1), "just ran")
	require.True(t, gc.ShouldRun(0), "zero-hour cooldown always due")
}

func TestArchiveByDate(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	id, err := store.Save(ctx, []byte("old report"), "Q3 Report", "a", "g", []string{"user"}, "")
	require.NoError(t, err)

	gc := NewGarbageCollector(store, dir, 7)
	archiveDir := filepath.Join(dir, "archive")

	// days = -1 puts the cutoff in the future, so the fresh row qualifies.
	n, err := gc.ArchiveByDate(ctx, archiveDir, -1)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	art, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Contains(t, art.Tags, "sys:archived")
	require.Equal(t, []byte("old report"), art.Content, "content readable from archive location")

	// Archived rows are not re-archived.
	n, err = gc.ArchiveByDate(ctx, archiveDir, -1)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestArchiveSharedBlobKeepsSibling(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	// Same content twice → one shared blob. The ephemeral row is excluded
	// from archiving, so only the user row moves.
	archivable, err := store.Save(ctx, []byte("shared notes"), "notes", "a", "g", []string{"user"}, "")
	require.NoError(t, err)
	sibling, err := store.Save(ctx, []byte("shared notes"), "scratch", "a", "g", []string{"sys:ephemeral"}, "")
	require.NoError(t, err)
	require.Equal(t, 1, countBlobs(t, dir))

	gc := NewGarbageCollector(store, dir, 7)
	n, err := gc.ArchiveByDate(ctx, filepath.Join(dir, "archive"), -1)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The archived row reads from its new location.
	art, err := store.Get(ctx, archivable)
	require.NoError(t, err)
	require.Contains(t, art.Tags, "sys:archived")
	require.Equal(t, []byte("shared notes"), art.Content)

	// The sibling still reads from the shared blob, which stays in place.
	sib, err := store.Get(ctx, sibling)
	require.NoError(t, err)
	require.Equal(t, []byte("shared notes"), sib.Content)
	require.Equal(t, 1, countBlobs(t, dir), "shared blob must be copied, not moved")
}
