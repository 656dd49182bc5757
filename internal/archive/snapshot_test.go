package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func indexAndSnapshot(t *testing.T, zipPath string) (*Index, *Snapshot) {
	t.Helper()

	ix := NewIndex(nil)
	t.Cleanup(ix.Cleanup)

	snap, err := ix.Snapshot(zipPath)
	require.NoError(t, err)

	return ix, snap
}

// Expectation: parent directories should be synthesized from member paths,
// whether or not the archive carries explicit directory entries.
func Test_Snapshot_DirSynthesis_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tnow := time.Now()

	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "Disk1/game.dsk", ModTime: tnow, Content: []byte("D1")},
		{Path: "Disk2/", ModTime: tnow},
		{Path: "Disk2/game.dsk", ModTime: tnow, Content: []byte("D2")},
		{Path: "deep/a/b/c.bin", ModTime: tnow, Content: []byte("C")},
	})

	_, snap := indexAndSnapshot(t, zipPath)

	require.True(t, snap.IsDir(""))
	require.True(t, snap.IsDir("Disk1"))
	require.True(t, snap.IsDir("Disk2"))
	require.True(t, snap.IsDir("deep/a/b"))
	require.False(t, snap.IsDir("Disk1/game.dsk"))
	require.False(t, snap.IsDir("Disk3"))

	subdirs, files := snap.List("")
	require.Equal(t, []string{"deep", "Disk1", "Disk2"}, subdirs)
	require.Empty(t, files)

	subdirs, files = snap.List("Disk1")
	require.Empty(t, subdirs)
	require.Len(t, files, 1)
	require.Equal(t, "game.dsk", files[0].Name())
}

// Expectation: hidden members and traversal-escaping members should never
// appear in a snapshot.
func Test_Snapshot_HiddenAndTraversal_Filtered(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tnow := time.Now()

	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "ok.txt", ModTime: tnow, Content: []byte("OK")},
		{Path: ".hidden.txt", ModTime: tnow, Content: []byte("H")},
		{Path: ".git/config", ModTime: tnow, Content: []byte("G")},
		{Path: "../escape.txt", ModTime: tnow, Content: []byte("E")},
		{Path: "/abs.txt", ModTime: tnow, Content: []byte("A")},
		{Path: "sub/../../escape2.txt", ModTime: tnow, Content: []byte("E2")},
	})

	_, snap := indexAndSnapshot(t, zipPath)

	names := make([]string, 0, len(snap.Members()))
	for _, m := range snap.Members() {
		names = append(names, m.Path)
	}
	require.ElementsMatch(t, []string{"ok.txt"}, names)

	for _, m := range snap.Members() {
		require.NotContains(t, m.Path, "..")
		require.False(t, m.Path[0] == '/')
	}
}

// Expectation: backslash separators normalize into the tree, while
// leading-slash (absolute) names are rejected.
func Test_Snapshot_MalformedPaths_Normalized(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tnow := time.Now()

	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "/file.txt", ModTime: tnow, Content: []byte("slash")},
		{Path: "//nested/file.txt", ModTime: tnow, Content: []byte("double")},
		{Path: "back\\slash.txt", ModTime: tnow, Content: []byte("win")},
	})

	_, snap := indexAndSnapshot(t, zipPath)

	_, ok := snap.Member("file.txt")
	require.False(t, ok)
	_, ok = snap.Member("nested/file.txt")
	require.False(t, ok)
	_, ok = snap.Member("back/slash.txt")
	require.True(t, ok)
}

// Expectation: duplicate member paths keep the first occurrence.
func Test_Snapshot_DuplicateMembers_FirstWins(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tnow := time.Now()

	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "file.txt", ModTime: tnow, Content: []byte("first")},
		{Path: "file.txt", ModTime: tnow, Content: []byte("second")},
	})

	ix, snap := indexAndSnapshot(t, zipPath)
	require.Len(t, snap.Members(), 1)

	data, err := ix.ReadMemberAll(snap, "file.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("first"), data)
}

// Expectation: an empty archive indexes into an empty root directory.
func Test_Snapshot_EmptyArchive_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	zipPath := createTestZip(t, tmpDir, "empty.zip", nil)

	_, snap := indexAndSnapshot(t, zipPath)

	require.True(t, snap.IsDir(""))
	subdirs, files := snap.List("")
	require.Empty(t, subdirs)
	require.Empty(t, files)
}

// Expectation: MemberByName should match by basename anywhere in the tree.
func Test_Snapshot_MemberByName_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tnow := time.Now()

	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "images/boot.vhd", ModTime: tnow, Content: []byte("VHD")},
	})

	_, snap := indexAndSnapshot(t, zipPath)

	m, ok := snap.MemberByName("boot.vhd")
	require.True(t, ok)
	require.Equal(t, "images/boot.vhd", m.Path)

	_, ok = snap.MemberByName("missing.vhd")
	require.False(t, ok)
}

// Expectation: listings are sorted case-insensitively.
func Test_Snapshot_List_Ordering_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tnow := time.Now()

	zipPath := createTestZip(t, tmpDir, "test.zip", []zipEntry{
		{Path: "beta.txt", ModTime: tnow, Content: []byte("b")},
		{Path: "Alpha.txt", ModTime: tnow, Content: []byte("a")},
		{Path: "gamma.txt", ModTime: tnow, Content: []byte("g")},
	})

	_, snap := indexAndSnapshot(t, zipPath)

	_, files := snap.List("")
	require.Len(t, files, 3)
	require.Equal(t, "Alpha.txt", files[0].Name())
	require.Equal(t, "beta.txt", files[1].Name())
	require.Equal(t, "gamma.txt", files[2].Name())
}
