package archive

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Expectation: Extract should materialize the member bytes to a temp file
// that keeps the member's extension; the caller owns deletion.
func Test_Index_Extract_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "images/boot.vhd", ModTime: time.Now(), Content: []byte("BOOTIMAGE")},
	})

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	snap, err := ix.Snapshot(zipPath)
	require.NoError(t, err)

	outDir := t.TempDir()
	tempPath, err := ix.Extract(snap, "images/boot.vhd", outDir)
	require.NoError(t, err)
	defer os.Remove(tempPath)

	require.Equal(t, outDir, filepath.Dir(tempPath))
	require.True(t, strings.HasSuffix(tempPath, ".vhd"))

	data, err := os.ReadFile(tempPath)
	require.NoError(t, err)
	require.Equal(t, []byte("BOOTIMAGE"), data)

	require.Positive(t, ix.Metrics.TotalExtractCount.Load())
	require.Equal(t, int64(len("BOOTIMAGE")), ix.Metrics.TotalExtractBytes.Load())
}

// Expectation: ExtractUnlinked should return a readable descriptor whose
// backing name is already gone from the directory.
func Test_Index_ExtractUnlinked_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "game.ssd", ModTime: time.Now(), Content: []byte("ELITEDATA")},
	})

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	snap, err := ix.Snapshot(zipPath)
	require.NoError(t, err)

	outDir := t.TempDir()
	f, err := ix.ExtractUnlinked(snap, "game.ssd", outDir)
	require.NoError(t, err)
	defer f.Close()

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Empty(t, entries)

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, []byte("ELITEDATA"), data)

	// The descriptor stays seekable after the unlink.
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	again, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, data, again)
}

// Expectation: extracting an unknown member should fail without leaving
// temp files behind.
func Test_Index_Extract_MissingMember_Error(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "a.txt", ModTime: time.Now(), Content: []byte("A")},
	})

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	snap, err := ix.Snapshot(zipPath)
	require.NoError(t, err)

	outDir := t.TempDir()
	_, err = ix.Extract(snap, "missing.txt", outDir)
	require.ErrorIs(t, err, ErrMemberNotFound)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
