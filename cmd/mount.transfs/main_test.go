package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: NewMountHelper should parse source, mountpoint and options.
func Test_NewMountHelper_Success(t *testing.T) {
	t.Parallel()

	mh, err := NewMountHelper([]string{
		"mount.transfs", "/etc/transfs.yaml", "/mnt/transfs",
		"-o", "allow_other,webgui=:8000",
	})
	require.NoError(t, err)

	require.Equal(t, "transfs", mh.Type)
	require.Equal(t, "/etc/transfs.yaml", mh.Source)
	require.Equal(t, "/mnt/transfs", mh.Mountpoint)
	require.Equal(t, map[string]string{
		"allow-other": "",
		"webgui":      ":8000",
	}, mh.Options)
}

// Expectation: empty source or mountpoint arguments should fail.
func Test_NewMountHelper_MissingArgs_Error(t *testing.T) {
	t.Parallel()

	_, err := NewMountHelper([]string{"mount.transfs", "", "/mnt/transfs"})
	require.Error(t, err)

	_, err = NewMountHelper([]string{"mount.transfs", "/etc/transfs.yaml", ""})
	require.Error(t, err)
}

// Expectation: unknown option keys are dropped; setuid is captured apart.
func Test_MountHelper_parseOptions_Filtering_Success(t *testing.T) {
	t.Parallel()

	mh, err := NewMountHelper([]string{
		"mount.transfs", "/etc/transfs.yaml", "/mnt/transfs",
		"-o", "setuid=games,nonsense=1,log_level=debug",
	})
	require.NoError(t, err)

	require.Equal(t, "games", mh.Setuid)
	require.NotContains(t, mh.Options, "nonsense")
	require.Equal(t, "debug", mh.Options["log-level"])
}

// Expectation: BuildCommand should translate the fstab form into the
// filesystem's CLI invocation, options sorted by key.
func Test_MountHelper_BuildCommand_Success(t *testing.T) {
	t.Parallel()

	mh, err := NewMountHelper([]string{
		"mount.transfs", "/etc/transfs.yaml", "/mnt/transfs",
		"-o", "webgui=:8000,allow_other,memsize=64M",
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"transfs",
		"--config", "/etc/transfs.yaml",
		"--mountpoint", "/mnt/transfs",
		"--allow-other",
		"--memsize", "64M",
		"--webgui", ":8000",
	}, mh.BuildCommand())
}

// Expectation: a numeric setuid with no matching account falls back to
// uid == gid.
func Test_lookupCredentials_NumericFallback_Success(t *testing.T) {
	t.Parallel()

	uid, gid, err := lookupCredentials("54321")
	require.NoError(t, err)
	require.Equal(t, uint32(54321), uid)
	require.Equal(t, uint32(54321), gid)
}

// Expectation: a known account name resolves to its uid and primary gid.
func Test_lookupCredentials_Root_Success(t *testing.T) {
	t.Parallel()

	uid, gid, err := lookupCredentials("root")
	if err != nil {
		t.Skip("no root account in the user database")
	}
	require.Equal(t, uint32(0), uid)
	require.Equal(t, uint32(0), gid)
}

// Expectation: an unknown user name fails resolution.
func Test_lookupCredentials_Unknown_Error(t *testing.T) {
	t.Parallel()

	_, _, err := lookupCredentials("no-such-user-xyzzy")
	require.Error(t, err)
}

// Expectation: octal escapes in mountinfo paths decode; everything else
// passes through untouched.
func Test_unescapeMountPath_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/mnt/transfs", unescapeMountPath("/mnt/transfs"))
	require.Equal(t, "/mnt/my mount", unescapeMountPath(`/mnt/my\040mount`))
	require.Equal(t, "/mnt/tab\there", unescapeMountPath(`/mnt/tab\011here`))
	require.Equal(t, `/mnt/trailing\04`, unescapeMountPath(`/mnt/trailing\04`))
}
