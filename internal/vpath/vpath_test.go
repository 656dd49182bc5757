package vpath

import (
	"testing"

	"github.com/GlennPegden2/TransFS/internal/config"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.LoadBytes([]byte(`
clients:
  - name: MiSTer
    systems:
      - name: AcornElectron
        local_base_path: Acorn/Electron
        maps:
          - HDs: { source_dir: Software/HDs }
          - boot.vhd:
              default_source:
                source_filename: BIOS/boot.vhd.zip
                unzip: true
          - ...SoftwareArchives...:
              source_dir: Software
              filetypes:
                - Tapes: "UEF"
                - ROMs: "BIN:ROM"
`))
	require.NoError(t, err)

	return cfg
}

// Expectation: the empty path and "/" should both parse as the root.
func Test_Parse_Root_Success(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	for _, p := range []string{"", "/", "//"} {
		parsed := Parse(cfg, p)
		require.Equal(t, KindRoot, parsed.Kind, p)
	}
}

// Expectation: a configured client should parse as ClientOnly.
func Test_Parse_Client_Success(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	parsed := Parse(cfg, "/MiSTer")
	require.Equal(t, KindClient, parsed.Kind)
	require.Equal(t, "MiSTer", parsed.Client.Name)
}

// Expectation: an unknown client should parse as NotFound.
func Test_Parse_UnknownClient_NotFound(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	parsed := Parse(cfg, "/RetroPie")
	require.Equal(t, KindNotFound, parsed.Kind)
}

// Expectation: client and system segments should resolve exactly.
func Test_Parse_System_Success(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	parsed := Parse(cfg, "/MiSTer/AcornElectron")
	require.Equal(t, KindSystem, parsed.Kind)
	require.Equal(t, "AcornElectron", parsed.System.Name)

	require.Equal(t, KindNotFound, Parse(cfg, "/MiSTer/acornelectron").Kind)
	require.Equal(t, KindNotFound, Parse(cfg, "/MiSTer/BBCMicro").Kind)
}

// Expectation: a static map key should resolve with its subpath split off.
func Test_Parse_StaticEntry_Success(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	parsed := Parse(cfg, "/MiSTer/AcornElectron/HDs/sub/dir/file.vhd")
	require.Equal(t, KindInSystem, parsed.Kind)
	require.Equal(t, "HDs", parsed.EntryName)
	require.IsType(t, &config.StaticMap{}, parsed.Entry)
	require.Equal(t, []string{"sub", "dir", "file.vhd"}, parsed.Subpath)
	require.Nil(t, parsed.Folder)
}

// Expectation: a default_source key should resolve as an entry with no subpath.
func Test_Parse_DefaultSourceEntry_Success(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	parsed := Parse(cfg, "/MiSTer/AcornElectron/boot.vhd")
	require.Equal(t, KindInSystem, parsed.Kind)
	require.IsType(t, &config.DefaultSourceMap{}, parsed.Entry)
	require.Empty(t, parsed.Subpath)
}

// Expectation: a dynamic-expanded folder should resolve with its filetype row.
func Test_Parse_DynamicFolder_Success(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	parsed := Parse(cfg, "/MiSTer/AcornElectron/Tapes/game.uef")
	require.Equal(t, KindInSystem, parsed.Kind)
	require.Nil(t, parsed.Entry)
	require.NotNil(t, parsed.Dynamic)
	require.Equal(t, "Tapes", parsed.Folder.Name)
	require.Equal(t, []string{"game.uef"}, parsed.Subpath)
}

// Expectation: dynamic folder names are matched case-sensitively.
func Test_Parse_DynamicFolder_CaseSensitive_NotFound(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	require.Equal(t, KindNotFound, Parse(cfg, "/MiSTer/AcornElectron/tapes").Kind)
}

// Expectation: an unmatched entry segment should parse as NotFound.
func Test_Parse_UnknownEntry_NotFound(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	parsed := Parse(cfg, "/MiSTer/AcornElectron/Cartridges")
	require.Equal(t, KindNotFound, parsed.Kind)
	require.NotNil(t, parsed.System)
}

// Expectation: Split should drop empty and dot segments.
func Test_Split_Success(t *testing.T) {
	t.Parallel()

	require.Empty(t, Split("/"))
	require.Equal(t, []string{"a", "b"}, Split("//a///b/"))
	require.Equal(t, []string{"a", "b"}, Split("a/./b"))
}
