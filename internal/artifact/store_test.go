package artifact

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := New(t.TempDir(), 0)
	key, err := store.Put("run-1", KindScreenshot, "step-3.png", []byte("fake-png-bytes"))
	require.NoError(t, err)

	rc, err := store.Get(key)
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "fake-png-bytes", string(content))
}

func TestPutIsIdempotentForSameRunAndName(t *testing.T) {
	store := New(t.TempDir(), 0)
	key1, err := store.Put("run-1", KindLog, "run.log", []byte("same content"))
	require.NoError(t, err)
	key2, err := store.Put("run-1", KindLog, "run.log", []byte("same content"))
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	entries, err := store.List("run-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPutDoesNotAliasAcrossRuns(t *testing.T) {
	store := New(t.TempDir(), 0)
	key1, err := store.Put("run-1", KindLog, "run.log", []byte("identical"))
	require.NoError(t, err)
	key2, err := store.Put("run-2", KindLog, "run.log", []byte("identical"))
	require.NoError(t, err)
	assert.NotEqual(t, key1, key2)

	entries1, err := store.List("run-1")
	require.NoError(t, err)
	assert.Len(t, entries1, 1)
	entries2, err := store.List("run-2")
	require.NoError(t, err)
	assert.Len(t, entries2, 1)
}

func TestPutRejectsDisallowedExtension(t *testing.T) {
	store := New(t.TempDir(), 0)
	_, err := store.Put("run-1", KindScreenshot, "malware.exe", []byte("x"))
	require.Error(t, err)
}

func TestPutRejectsPathTraversalInLogicalName(t *testing.T) {
	store := New(t.TempDir(), 0)
	_, err := store.Put("run-1", KindLog, "../../etc/passwd.log", []byte("x"))
	require.Error(t, err)
}

func TestPutRejectsOversize(t *testing.T) {
	store := New(t.TempDir(), 4)
	_, err := store.Put("run-1", KindLog, "run.log", []byte("way too long"))
	require.Error(t, err)
}

func TestDeleteMissingRunIsNotError(t *testing.T) {
	store := New(t.TempDir(), 0)
	count, err := store.Delete("no-such-run")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeleteRunThenListReturnsEmpty(t *testing.T) {
	store := New(t.TempDir(), 0)
	_, err := store.Put("run-1", KindLog, "run.log", []byte("a"))
	require.NoError(t, err)
	_, err = store.Put("run-1", KindScreenshot, "step-1.png", []byte("b"))
	require.NoError(t, err)

	count, err := store.Delete("run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entries, err := store.List("run-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// a second delete succeeds and reports 0 removed (§8 idempotence).
	count, err = store.Delete("run-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSweepRemovesOldArtifacts(t *testing.T) {
	store := New(t.TempDir(), 0)
	key, err := store.Put("run-1", KindReport, "summary.json", []byte(`{"a":1}`))
	require.NoError(t, err)

	removed, err := store.Sweep(-time.Hour) // cutoff in the future relative to CreatedAt
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(key)
	assert.Error(t, err)
}

func TestStatsScan(t *testing.T) {
	store := New(t.TempDir(), 0)
	_, err := store.Put("run-1", KindLog, "run.log", []byte("hello"))
	require.NoError(t, err)
	_, err = store.Put("run-2", KindScreenshot, "step-1.png", []byte("world!"))
	require.NoError(t, err)

	stats, err := store.StatsScan()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, int64(11), stats.TotalBytes)
}
