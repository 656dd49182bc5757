package archive

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Expectation: Snapshot should return an error for a non-existent archive.
func Test_Index_Snapshot_NotExist_Error(t *testing.T) {
	t.Parallel()

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	_, err := ix.Snapshot("/nonexistent/path.zip")
	require.Error(t, err)
}

// Expectation: Snapshot should return an error for an invalid archive.
func Test_Index_Snapshot_InvalidZip_Error(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	invalidPath := filepath.Join(tmpDir, "invalid.zip")
	require.NoError(t, os.WriteFile(invalidPath, []byte("not a zip file"), 0o644))

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	_, err := ix.Snapshot(invalidPath)
	require.Error(t, err)
}

// Expectation: repeated Snapshot calls with an unchanged archive should hit
// the cache and return the identical snapshot.
func Test_Index_Snapshot_CacheHit_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "a.txt", ModTime: time.Now(), Content: []byte("A")},
	})

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	snap1, err := ix.Snapshot(zipPath)
	require.NoError(t, err)
	snap2, err := ix.Snapshot(zipPath)
	require.NoError(t, err)

	require.Same(t, snap1, snap2)
	require.Equal(t, int64(1), ix.Metrics.TotalSnapshotMisses.Load())
	require.Equal(t, int64(1), ix.Metrics.TotalSnapshotHits.Load())
	require.Equal(t, int64(1), ix.Metrics.TotalIndexCount.Load())
}

// Expectation: a changed (mtime,size) key should invalidate the cached
// snapshot for new calls; the old snapshot object stays usable.
func Test_Index_Snapshot_Invalidation_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "a.txt", ModTime: time.Now(), Content: []byte("A")},
	})

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	snap1, err := ix.Snapshot(zipPath)
	require.NoError(t, err)

	// Rewrite with different content size and bump mtime.
	createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "a.txt", ModTime: time.Now(), Content: []byte("AAAA")},
		{Path: "b.txt", ModTime: time.Now(), Content: []byte("B")},
	})
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(zipPath, future, future))

	snap2, err := ix.Snapshot(zipPath)
	require.NoError(t, err)

	require.NotSame(t, snap1, snap2)
	require.Len(t, snap1.Members(), 1)
	require.Len(t, snap2.Members(), 2)
}

// Expectation: N concurrent Snapshot calls for the same new archive should
// collapse into one build (single-flight) and agree on the result.
func Test_Index_Snapshot_SingleFlight_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "a.txt", ModTime: time.Now(), Content: []byte("A")},
	})

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	const workers = 16
	snaps := make([]*Snapshot, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := ix.Snapshot(zipPath)
			require.NoError(t, err)
			snaps[i] = snap
		}()
	}
	wg.Wait()

	for _, snap := range snaps {
		require.Same(t, snaps[0], snap)
	}
	require.Equal(t, int64(1), ix.Metrics.TotalIndexCount.Load())
}

// Expectation: ReadMemberAt should honor offsets, allow short reads at EOF
// and return zero bytes past EOF.
func Test_Index_ReadMemberAt_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "hello.txt", ModTime: time.Now(), Content: []byte("HELLOWORLD")},
	})

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	snap, err := ix.Snapshot(zipPath)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := ix.ReadMemberAt(snap, "hello.txt", 0, buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []byte("HELLO"), buf[:n])

	n, err = ix.ReadMemberAt(snap, "hello.txt", 5, buf)
	require.NoError(t, err)
	require.Equal(t, []byte("WORLD"), buf[:n])

	// Short read over the tail.
	big := make([]byte, 32)
	n, err = ix.ReadMemberAt(snap, "hello.txt", 8, big)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []byte("LD"), big[:n])

	// Beyond EOF.
	n, err = ix.ReadMemberAt(snap, "hello.txt", 100, buf)
	require.NoError(t, err)
	require.Zero(t, n)
}

// Expectation: ReadMemberAll should return the full member bytes and an
// unknown member path should fail with ErrMemberNotFound.
func Test_Index_ReadMemberAll_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "data.bin", ModTime: time.Now(), Content: []byte("DEAD")},
	})

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	snap, err := ix.Snapshot(zipPath)
	require.NoError(t, err)

	data, err := ix.ReadMemberAll(snap, "data.bin")
	require.NoError(t, err)
	require.Equal(t, []byte("DEAD"), data)

	_, err = ix.ReadMemberAll(snap, "missing.bin")
	require.ErrorIs(t, err, ErrMemberNotFound)
}

// Expectation: all opened readers should be released again after reads.
func Test_Index_ReaderAccounting_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "a.txt", ModTime: time.Now(), Content: []byte("A")},
	})

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	snap, err := ix.Snapshot(zipPath)
	require.NoError(t, err)

	_, err = ix.ReadMemberAll(snap, "a.txt")
	require.NoError(t, err)

	require.Equal(t, int64(0), ix.Metrics.OpenArchives.Load())
	require.Equal(t, ix.Metrics.TotalOpenedArchives.Load(), ix.Metrics.TotalClosedArchives.Load())
}
