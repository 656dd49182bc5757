//nolint:mnd,err113,noctx
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"al.essio.dev/pkg/shellescape"
)

const mountPollInterval = 200 * time.Millisecond

var errMountTimeout = errors.New("timed out waiting for the mountpoint")

// Execute spawns the filesystem as a detached process and blocks until the
// mount is live: either the child signals readiness over the inherited
// pipe, or the mountpoint shows up in the process mount table.
func (mh *MountHelper) Execute() error {
	mh.extendEnvironment()

	ready, err := mh.spawn()
	if err != nil {
		return fmt.Errorf("spawn error: %w", err)
	}
	defer ready.Close()

	if err := mh.awaitMount(ready); err != nil {
		return fmt.Errorf("mount error: %w", err)
	}

	return nil
}

// BuildCommand assembles the filesystem invocation: the fstab source is the
// configuration document, the second field is the mountpoint.
func (mh *MountHelper) BuildCommand() []string {
	parts := []string{mh.Type}
	parts = append(parts, "--config", mh.Source)
	parts = append(parts, "--mountpoint", mh.Mountpoint)

	return append(parts, mh.BuildOptions()...)
}

// BuildOptions renders the parsed fstab options as CLI flags, sorted by
// key so the spawned command line is deterministic.
func (mh *MountHelper) BuildOptions() []string {
	parts := []string{}

	for _, key := range slices.Sorted(maps.Keys(mh.Options)) {
		parts = append(parts, "--"+key)
		if val := mh.Options[key]; val != "" {
			parts = append(parts, val)
		}
	}

	return parts
}

// spawn starts the filesystem in its own session with a readiness pipe on
// fd 3 and all standard streams on /dev/null. It returns the read side of
// the readiness pipe.
func (mh *MountHelper) spawn() (*os.File, error) {
	cmdArgs := mh.BuildCommand()

	cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)
	if mh.Setuid != "" {
		if uid, gid, err := lookupCredentials(mh.Setuid); err == nil {
			cmd.SysProcAttr = &syscall.SysProcAttr{
				Setsid:     true,
				Credential: &syscall.Credential{Uid: uid, Gid: gid},
			}
		} else {
			// No resolvable credentials; let su do the identity switch.
			cmd = suCommand(mh.Setuid, cmdArgs)
		}
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = devNull, devNull, devNull

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create readiness pipe: %w", err)
	}
	cmd.Env = append(os.Environ(), "TRANSFS_HELPER_FD=3")
	cmd.ExtraFiles = []*os.File{w}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()

		return nil, fmt.Errorf("failed to start %q: %w", cmdArgs[0], err)
	}
	_ = cmd.Process.Release()
	w.Close()

	return r, nil
}

// suCommand wraps the invocation in `su - USER -c ...` for setuid specs
// that cannot be resolved to raw credentials.
func suCommand(userSpec string, cmdArgs []string) *exec.Cmd {
	quoted := make([]string, len(cmdArgs))
	for i, arg := range cmdArgs {
		quoted[i] = shellescape.Quote(arg)
	}
	inner := strings.Join(quoted, " ")
	outer := fmt.Sprintf("su - %s -c %s", shellescape.Quote(userSpec), shellescape.Quote(inner))

	cmd := exec.Command("/bin/sh", "-c", outer)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	return cmd
}

// extendEnvironment gives the spawned filesystem a usable HOME and the
// sbin directories mount(8) helpers are expected to search.
func (mh *MountHelper) extendEnvironment() {
	if mh.Setuid == "" && os.Getenv("HOME") == "" {
		os.Setenv("HOME", "/root")
	}

	const sbinPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	if path := os.Getenv("PATH"); path == "" {
		os.Setenv("PATH", sbinPath)
	} else {
		os.Setenv("PATH", path+":"+sbinPath)
	}
}

// awaitMount blocks until the child signals readiness, the mountpoint is
// present in the mount table, or the timeout elapses. A dead readiness
// pipe is not fatal; the mount table keeps being polled.
func (mh *MountHelper) awaitMount(ready io.Reader) error {
	signalled := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := ready.Read(buf)
		signalled <- err
	}()

	deadline := time.NewTimer(mountTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(mountPollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-signalled:
			if err == nil {
				return nil
			}
			signalled = nil

		case <-ticker.C:
			if mounted, _ := mh.mountpointActive(); mounted {
				return nil
			}

		case <-deadline.C:
			if mounted, _ := mh.mountpointActive(); mounted {
				return nil
			}

			return errMountTimeout
		}
	}
}

// mountpointActive reports whether the mountpoint appears in the process
// mount table. The mountinfo mount-point field escapes whitespace as octal
// sequences, so it is unescaped and compared whole rather than
// substring-matched.
func (mh *MountHelper) mountpointActive() (bool, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return false, fmt.Errorf("failed to open mountinfo: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		if unescapeMountPath(fields[4]) == mh.Mountpoint {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("failed to read mountinfo: %w", err)
	}

	return false, nil
}

// unescapeMountPath decodes the octal escapes (e.g. \040 for space) the
// kernel uses for special characters in mountinfo paths.
func unescapeMountPath(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3

				continue
			}
		}
		b.WriteByte(s[i])
	}

	return b.String()
}
