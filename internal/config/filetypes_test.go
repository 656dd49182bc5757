package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: a bare extension spec should map the extension onto itself.
func Test_parseFileTypeFolder_Bare_Success(t *testing.T) {
	t.Parallel()

	ftf, err := parseFileTypeFolder("Tapes", "UEF")
	require.NoError(t, err)
	require.Equal(t, "Tapes", ftf.Name)
	require.Equal(t, []ExtSpec{{Source: "UEF", Virtual: "UEF"}}, ftf.Specs)
	require.False(t, ftf.Specs[0].Aliased())
}

// Expectation: a comma list should preserve spec order.
func Test_parseFileTypeFolder_List_Success(t *testing.T) {
	t.Parallel()

	ftf, err := parseFileTypeFolder("HDs", "MMB, VHD")
	require.NoError(t, err)
	require.Equal(t, []ExtSpec{
		{Source: "MMB", Virtual: "MMB"},
		{Source: "VHD", Virtual: "VHD"},
	}, ftf.Specs)
}

// Expectation: SRC:VIRT pairs should split into aliased specs.
func Test_parseFileTypeFolder_Alias_Success(t *testing.T) {
	t.Parallel()

	ftf, err := parseFileTypeFolder("ROMs", "BIN:ROM, HEX:ROM")
	require.NoError(t, err)
	require.Equal(t, []ExtSpec{
		{Source: "BIN", Virtual: "ROM"},
		{Source: "HEX", Virtual: "ROM"},
	}, ftf.Specs)
	require.True(t, ftf.Specs[0].Aliased())
}

// Expectation: empty elements should be rejected.
func Test_parseFileTypeFolder_Empty_Error(t *testing.T) {
	t.Parallel()

	_, err := parseFileTypeFolder("Tapes", "UEF,,CSW")
	require.ErrorIs(t, err, errEmptyExtension)

	_, err = parseFileTypeFolder("ROMs", "BIN:")
	require.ErrorIs(t, err, errEmptyExtension)
}

// Expectation: source extensions should match case-insensitively.
func Test_FileTypeFolder_MatchesSource_CaseInsensitive_Success(t *testing.T) {
	t.Parallel()

	ftf, err := parseFileTypeFolder("FDs", "SSD")
	require.NoError(t, err)

	for _, name := range []string{"Elite.SSD", "Elite.ssd", "Elite.Ssd"} {
		spec, ok := ftf.MatchesSource(name)
		require.True(t, ok, name)
		require.Equal(t, "SSD", spec.Source)
	}

	_, ok := ftf.MatchesSource("Elite.dsd")
	require.False(t, ok)
	_, ok = ftf.MatchesSource("Elite")
	require.False(t, ok)
}

// Expectation: VirtualName substitutes only aliased extensions.
func Test_ExtSpec_VirtualName_Success(t *testing.T) {
	t.Parallel()

	bare := ExtSpec{Source: "MMB", Virtual: "MMB"}
	require.Equal(t, "BEEB.mmb", bare.VirtualName("BEEB.mmb"))

	aliased := ExtSpec{Source: "BIN", Virtual: "ROM"}
	require.Equal(t, "TEST.ROM", aliased.VirtualName("TEST.BIN"))
}

// Expectation: SourceName substitutes the source-side extension.
func Test_ExtSpec_SourceName_Success(t *testing.T) {
	t.Parallel()

	aliased := ExtSpec{Source: "BIN", Virtual: "ROM"}
	require.Equal(t, "TEST.BIN", aliased.SourceName("TEST.ROM"))
}

// Expectation: ExtOf handles dotless and trailing-dot names.
func Test_ExtOf_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "uef", ExtOf("game.uef"))
	require.Equal(t, "zip", ExtOf("archive.tar.zip"))
	require.Empty(t, ExtOf("README"))
	require.Empty(t, ExtOf("odd."))
}

// Expectation: SpecForVirtualExt finds specs case-insensitively, in order.
func Test_FileTypeFolder_SpecForVirtualExt_Success(t *testing.T) {
	t.Parallel()

	ftf, err := parseFileTypeFolder("ROMs", "BIN:ROM, HEX:ROM")
	require.NoError(t, err)

	spec, ok := ftf.SpecForVirtualExt("rom")
	require.True(t, ok)
	require.Equal(t, "BIN", spec.Source) // first listed wins

	_, ok = ftf.SpecForVirtualExt("bin")
	require.False(t, ok)
}
