package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	Path    string
	ModTime time.Time
	Content []byte
}

// createTestZip builds a real ZIP archive on disk for the tests.
// Entries ending in "/" become explicit directory entries.
func createTestZip(t *testing.T, dir, name string, entries []zipEntry) string {
	t.Helper()

	zipPath := filepath.Join(dir, name)
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{
			Name:     e.Path,
			Method:   zip.Deflate,
			Modified: e.ModTime,
		}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		if e.Content != nil {
			_, err = w.Write(e.Content)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())

	return zipPath
}
