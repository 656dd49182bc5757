/*
mount.transfs - FUSE mount helper

This program is a helper for the mount/fstab mechanism.
It is normally located in /sbin or another directory
searched by mount(8) for filesystem helpers, and is
not intended to be invoked directly by end users.

Usage:
  mount.transfs config-file mountpoint [-o key[=value],key[=value],...]

For running the filesystem as another (e.g. unprivileged) user:
  mount.transfs config-file mountpoint -o setuid=USER[,key[=value],...]

Example (fstab entry):
  /etc/transfs.yaml   /mnt/transfs   transfs   allow_other,webgui=:8000   0  0

Filesystem-specific options need to be adapted into this format:
  --webgui :8000 --allow-other => webgui=:8000,allow_other

Mount helper events are logged to standard error (stderr).
*/
//nolint:mnd,err113
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	mountTimeout = 20 * time.Second
)

// Version is the program version (filled in from the Makefile).
var Version string

var allowedKeys = map[string]struct{}{
	"allow-other": {},
	"log-level":   {},
	"memsize":     {},
	"temp-dir":    {},
	"webgui":      {},
}

type MountHelper struct {
	Program    string
	Type       string
	Source     string
	Mountpoint string
	Options    map[string]string
	Setuid     string
}

func NewMountHelper(args []string) (*MountHelper, error) {
	mh := &MountHelper{
		Program:    args[0],
		Source:     args[1],
		Type:       "transfs",
		Mountpoint: args[2],
		Options:    make(map[string]string),
	}

	if mh.Source == "" {
		return nil, errors.New("no source argument was given")
	}
	if mh.Mountpoint == "" {
		return nil, errors.New("no mountpoint argument was given")
	}

	basename := filepath.Base(mh.Program)
	if after, ok := strings.CutPrefix(basename, "mount.fuse."); ok {
		mh.Type = after
	}

	err := mh.parseOptions(args[3:])
	if err != nil {
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}

	return mh, nil
}

func (mh *MountHelper) parseOptions(args []string) error {
	for i := 0; i < len(args); i++ { //nolint:intrange
		arg := args[i]

		if arg == "-v" || arg == "-o" || arg == "-t" {
			if arg == "-t" {
				i++ // the type is fixed, skip the value
			}

			continue
		}

		for _, opt := range strings.Split(arg, ",") {
			if opt == "" {
				continue
			}
			opt = strings.ReplaceAll(opt, "_", "-")
			opt = strings.TrimPrefix(opt, "--")

			if strings.Contains(opt, "=") { // key=value
				parts := strings.SplitN(opt, "=", 2)
				key := parts[0]
				val := parts[1]

				if key == "setuid" {
					mh.Setuid = val
				} else if _, ok := allowedKeys[key]; ok {
					mh.Options[key] = val
				}
			} else { // key
				if _, ok := allowedKeys[opt]; ok {
					mh.Options[opt] = ""
				}
			}
		}
	}

	return nil
}

func main() {
	if len(os.Args) < 3 {
		progName := filepath.Base(os.Args[0])
		fmt.Fprintf(os.Stderr, `%s (%s) - FUSE mount helper

This program is a helper for the mount/fstab mechanism.
It is normally located in /sbin or another directory
searched by mount(8) for filesystem helpers, and is
not intended to be invoked directly by end users.

Usage:
  %s config-file mountpoint [-o key[=value],key[=value],...]

For running the filesystem as another (e.g. unprivileged) user:
  %s config-file mountpoint -o setuid=USER[,key[=value],...]

Example (fstab entry):
  /etc/transfs.yaml   /mnt/transfs   transfs   allow_other,webgui=:8000   0  0

Filesystem-specific options need to be adapted into this format:
  --webgui :8000 --allow-other => webgui=:8000,allow_other

Mount helper events are logged to standard error (stderr).
`, progName, Version, progName, progName)
		os.Exit(1)
	}
	helper, err := NewMountHelper(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	err = helper.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
