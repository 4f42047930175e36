package marker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagefold/extract-cache/internal/keys"
)

func newCoordinator(t *testing.T, staleAfter time.Duration) *Coordinator {
	t.Helper()
	c, err := New(t.TempDir(), staleAfter)
	require.NoError(t, err)
	return c
}

func writeRecord(t *testing.T, c *Coordinator, key string, rec Record) {
	t.Helper()
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(c.dir, key+suffix), raw, 0o644))
}

func TestCoordinator_Lifecycle(t *testing.T) {
	c := newCoordinator(t, 0)
	ctx := context.Background()

	assert.False(t, c.IsProcessing(ctx, "aaaa000011112222"))

	require.NoError(t, c.MarkProcessing(ctx, "aaaa000011112222"))
	assert.True(t, c.IsProcessing(ctx, "aaaa000011112222"))

	require.NoError(t, c.MarkComplete(ctx, "aaaa000011112222"))
	assert.False(t, c.IsProcessing(ctx, "aaaa000011112222"))
}

func TestCoordinator_CompleteIdempotent(t *testing.T) {
	c := newCoordinator(t, 0)
	ctx := context.Background()

	require.NoError(t, c.MarkComplete(ctx, "aaaa000011112222"))

	require.NoError(t, c.MarkProcessing(ctx, "aaaa000011112222"))
	require.NoError(t, c.MarkComplete(ctx, "aaaa000011112222"))
	require.NoError(t, c.MarkComplete(ctx, "aaaa000011112222"))
}

func TestCoordinator_RecordContents(t *testing.T) {
	c := newCoordinator(t, 0)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	require.NoError(t, c.MarkProcessing(ctx, "aaaa000011112222"))

	raw, err := os.ReadFile(filepath.Join(c.dir, "aaaa000011112222"+suffix))
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "aaaa000011112222", rec.Key)
	assert.Equal(t, c.Owner(), rec.Owner)
	assert.True(t, rec.StartedAt.After(before))

	hostname, err := os.Hostname()
	require.NoError(t, err)
	assert.Contains(t, rec.Owner, hostname)
	assert.Contains(t, rec.Owner, fmt.Sprintf(":%d:", os.Getpid()))
}

func TestCoordinator_StaleMarkerIgnoredAndRemoved(t *testing.T) {
	c := newCoordinator(t, 30*time.Minute)
	ctx := context.Background()

	writeRecord(t, c, "aaaa000011112222", Record{
		Key:       "aaaa000011112222",
		Owner:     "crashed-host:999:deadbeef",
		StartedAt: time.Now().Add(-time.Hour),
	})

	assert.False(t, c.IsProcessing(ctx, "aaaa000011112222"))

	_, err := os.Stat(filepath.Join(c.dir, "aaaa000011112222"+suffix))
	assert.ErrorIs(t, err, os.ErrNotExist, "stale marker must be reclaimed")
}

func TestCoordinator_FreshMarkerFromOtherOwner(t *testing.T) {
	c := newCoordinator(t, 30*time.Minute)
	ctx := context.Background()

	writeRecord(t, c, "aaaa000011112222", Record{
		Key:       "aaaa000011112222",
		Owner:     "other-host:123:cafe",
		StartedAt: time.Now().Add(-time.Minute),
	})

	assert.True(t, c.IsProcessing(ctx, "aaaa000011112222"))
}

func TestCoordinator_CorruptMarker(t *testing.T) {
	c := newCoordinator(t, 0)
	ctx := context.Background()

	path := filepath.Join(c.dir, "aaaa000011112222"+suffix)
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	assert.False(t, c.IsProcessing(ctx, "aaaa000011112222"))

	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCoordinator_ZeroStartFallsBackToModTime(t *testing.T) {
	c := newCoordinator(t, 30*time.Minute)
	ctx := context.Background()

	writeRecord(t, c, "aaaa000011112222", Record{Key: "aaaa000011112222", Owner: "x"})
	assert.True(t, c.IsProcessing(ctx, "aaaa000011112222"), "fresh file without timestamp is alive")

	path := filepath.Join(c.dir, "aaaa000011112222"+suffix)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	assert.False(t, c.IsProcessing(ctx, "aaaa000011112222"))
}

func TestCoordinator_RemarkRefreshes(t *testing.T) {
	c := newCoordinator(t, 30*time.Minute)
	ctx := context.Background()

	writeRecord(t, c, "aaaa000011112222", Record{
		Key:       "aaaa000011112222",
		Owner:     "other-host:123:cafe",
		StartedAt: time.Now().Add(-29 * time.Minute),
	})

	// Re-marking takes over the claim with a fresh start time.
	require.NoError(t, c.MarkProcessing(ctx, "aaaa000011112222"))

	raw, err := os.ReadFile(filepath.Join(c.dir, "aaaa000011112222"+suffix))
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, c.Owner(), rec.Owner)
	assert.True(t, time.Since(rec.StartedAt) < time.Minute)
}

func TestCoordinator_InvalidKey(t *testing.T) {
	c := newCoordinator(t, 0)
	ctx := context.Background()

	assert.ErrorIs(t, c.MarkProcessing(ctx, "../escape"), keys.ErrKeyInvalid)
	assert.ErrorIs(t, c.MarkComplete(ctx, ""), keys.ErrKeyEmpty)
	assert.False(t, c.IsProcessing(ctx, "../escape"))
}

func TestCoordinator_Sweep(t *testing.T) {
	c := newCoordinator(t, 30*time.Minute)
	ctx := context.Background()

	writeRecord(t, c, "aaaa000011112222", Record{
		Key: "aaaa000011112222", Owner: "x", StartedAt: time.Now().Add(-time.Hour),
	})
	writeRecord(t, c, "bbbb000011112222", Record{
		Key: "bbbb000011112222", Owner: "x", StartedAt: time.Now().Add(-2 * time.Hour),
	})
	require.NoError(t, c.MarkProcessing(ctx, "cccc000011112222"))

	swept := c.Sweep(ctx)
	assert.Equal(t, 2, swept)
	assert.True(t, c.IsProcessing(ctx, "cccc000011112222"), "live marker survives sweep")
}

func TestCoordinator_Clear(t *testing.T) {
	c := newCoordinator(t, 0)
	ctx := context.Background()

	require.NoError(t, c.MarkProcessing(ctx, "aaaa000011112222"))
	require.NoError(t, c.MarkProcessing(ctx, "bbbb000011112222"))

	removed := c.Clear(ctx)
	assert.Equal(t, 2, removed)
	assert.False(t, c.IsProcessing(ctx, "aaaa000011112222"))
	assert.False(t, c.IsProcessing(ctx, "bbbb000011112222"))
}

func TestCoordinator_OwnersDistinct(t *testing.T) {
	a := newCoordinator(t, 0)
	b := newCoordinator(t, 0)

	assert.NotEqual(t, a.Owner(), b.Owner())
}
