package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bazil.org/fuse/fs"
	"github.com/GlennPegden2/TransFS/internal/config"
	"github.com/GlennPegden2/TransFS/internal/logging"
	"github.com/GlennPegden2/TransFS/internal/resolver"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

const testConfigTemplate = `
app:
  mountpoint: /mnt/transfs
  filestore: %s
clients:
  - name: MiSTer
    systems:
      - name: AcornAtom
        local_base_path: Acorn/Atom
        maps:
          - HDs: { source_dir: Software/HDs }
      - name: AcornElectron
        local_base_path: Acorn/Electron
        maps:
          - boot.vhd:
              default_source:
                source_filename: BIOS/boot.zip
                unzip: true
                zip_internal_file: boot.vhd
          - ...SoftwareArchives...:
              source_dir: Software
              supports_zip: true
              zip_mode: flatten
              filetypes:
                - Tapes: "UEF"
                - ROMs: "BIN:ROM"
                - FDs: "SSD"
      - name: BBCMicro
        local_base_path: Acorn/BBCMicro
        maps:
          - ...SoftwareArchives...:
              source_dir: Software
              supports_zip: true
              zip_mode: hierarchical
              filetypes:
                - Collections: "ZIP"
`

type testHarness struct {
	filestore string
	fsys      *FS
	root      fs.Node
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	filestore := t.TempDir()
	cfg, err := config.LoadBytes([]byte(fmt.Sprintf(testConfigTemplate, filestore)))
	require.NoError(t, err)

	rbuf := logging.NewRingBuffer(32, os.Stderr)
	fsys, err := NewFS(cfg, nil, rbuf)
	require.NoError(t, err)
	t.Cleanup(fsys.Cleanup)

	root, err := fsys.Root()
	require.NoError(t, err)

	return &testHarness{filestore: filestore, fsys: fsys, root: root}
}

func (h *testHarness) writeFile(t *testing.T, rel string, content []byte) {
	t.Helper()

	full := filepath.Join(h.filestore, resolver.NativeDir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, content, 0o644))
}

func (h *testHarness) writeZip(t *testing.T, rel string, members map[string][]byte) {
	t.Helper()

	full := filepath.Join(h.filestore, resolver.NativeDir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))

	f, err := os.Create(full)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range members {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name: name, Method: zip.Deflate, Modified: time.Now(),
		})
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

// walk follows a virtual path from the root, one Lookup per segment.
func (h *testHarness) walk(t *testing.T, segs ...string) fs.Node {
	t.Helper()

	node := h.root
	for _, seg := range segs {
		lookuper, ok := node.(fs.NodeStringLookuper)
		require.True(t, ok, "node for %v is not a directory", segs)

		child, err := lookuper.Lookup(t.Context(), seg)
		require.NoError(t, err, "lookup %q in %v", seg, segs)
		node = child
	}

	return node
}

// names lists a directory node and returns the entry names in order.
func names(t *testing.T, node fs.Node) []string {
	t.Helper()

	dir, ok := node.(fs.HandleReadDirAller)
	require.True(t, ok)

	dirents, err := dir.ReadDirAll(t.Context())
	require.NoError(t, err)

	out := make([]string, 0, len(dirents))
	for _, de := range dirents {
		out = append(out, de.Name)
	}

	return out
}
