// Package resolver implements the map resolver and source locator.
//
// Given a parsed virtual path, the resolver selects the applicable map entry
// and computes the single authoritative physical location, consulting the
// filesystem and the archive index as it narrows candidates. All rules from
// the configuration model live here: default_source files, static
// passthrough, dynamic SoftwareArchives folders with extension aliasing and
// archive transparency, and direct mounts.
package resolver

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/GlennPegden2/TransFS/internal/archive"
	"github.com/GlennPegden2/TransFS/internal/config"
	"github.com/GlennPegden2/TransFS/internal/vpath"
)

// NativeDir is the subdirectory of the filestore holding the physical tree.
const NativeDir = "Native"

// Mode describes what the FUSE layer should do with a resolution.
type Mode int

const (
	// ModeNotFound means the virtual path has no physical resolution.
	ModeNotFound Mode = iota

	// ModeRealFile is a passthrough file on the backing filesystem.
	ModeRealFile

	// ModeRealDir is a passthrough directory on the backing filesystem.
	ModeRealDir

	// ModeArchiveMember is one file inside an archive.
	ModeArchiveMember

	// ModeArchiveDir is an archive (or a subtree of one) shown as a directory.
	ModeArchiveDir

	// ModeSynthDir is a synthesized directory whose children come from the
	// listing engine (dynamic folders and their nested subpaths).
	ModeSynthDir
)

// Resolution is the outcome of resolving one virtual path.
type Resolution struct {
	Mode Mode

	// Path is the physical path for ModeRealFile / ModeRealDir.
	Path string

	// Archive is the physical archive path for the archive modes.
	Archive string

	// Member is the member path inside the archive for ModeArchiveMember.
	Member string

	// Prefix is the directory prefix inside the archive for ModeArchiveDir;
	// empty means the archive root.
	Prefix string

	// Size and ModTime are filled for file modes.
	Size    uint64
	ModTime time.Time
}

// NotFound is the negative resolution.
var NotFound = Resolution{Mode: ModeNotFound}

// Resolver computes physical locations for virtual paths.
type Resolver struct {
	cfg *config.Config
	ix  *archive.Index
	loc *locator
}

// New returns a pointer to a new [Resolver].
func New(cfg *config.Config, ix *archive.Index) *Resolver {
	return &Resolver{
		cfg: cfg,
		ix:  ix,
		loc: &locator{},
	}
}

// Index exposes the archive index the resolver consults, so that callers
// can read members of a resolved archive without a second index.
func (r *Resolver) Index() *archive.Index {
	return r.ix
}

// SystemBase returns the physical root of a system:
// <filestore>/Native/<local_base_path>.
func (r *Resolver) SystemBase(sys *config.System) string {
	return filepath.Join(r.cfg.App.Filestore, NativeDir, sys.LocalBasePath)
}

// Resolve turns a parsed virtual path into a physical resolution.
//
// The root, client and system levels are always synthesized directories;
// everything below runs through the map rules. Any `..` in the subpath is a
// negative result, never an escape.
func (r *Resolver) Resolve(p vpath.Parsed) (Resolution, error) {
	switch p.Kind {
	case vpath.KindRoot, vpath.KindClient, vpath.KindSystem:
		return Resolution{Mode: ModeSynthDir}, nil

	case vpath.KindInSystem:
		if !safeSubpath(p.Subpath) {
			return NotFound, nil
		}

		switch {
		case p.Folder != nil:
			return r.resolveDynamic(p.System, p.Dynamic, p.Folder, p.Subpath)
		case p.Entry != nil:
			return r.resolveEntry(p.System, p.Entry, p.Subpath)
		}

		return NotFound, nil

	default:
		return NotFound, nil
	}
}

func (r *Resolver) resolveEntry(sys *config.System, entry config.MapEntry, subpath []string) (Resolution, error) {
	switch e := entry.(type) {
	case *config.StaticMap:
		return r.resolvePassthrough(filepath.Join(r.SystemBase(sys), e.SourceDir), subpath, false, config.ZipModeHierarchical)

	case *config.DirectMountMap:
		return r.resolvePassthrough(filepath.Join(r.SystemBase(sys), e.MountDir), subpath, e.SupportsZip, e.ZipMode)

	case *config.DefaultSourceMap:
		return r.resolveDefaultSource(sys, e, subpath)

	default:
		return NotFound, nil
	}
}

// resolvePassthrough handles static and direct-mount trees. An archive found
// inside is a plain file unless supportsZip is set, in which case it is
// browsable as a directory.
func (r *Resolver) resolvePassthrough(base string, subpath []string, supportsZip bool, _ config.ZipMode) (Resolution, error) {
	cur := base

	for i, comp := range subpath {
		next := filepath.Join(cur, comp)

		fi, err := r.loc.stat(next)
		if err != nil {
			return NotFound, err
		}
		if fi == nil {
			return NotFound, nil
		}

		if fi.IsDir() {
			cur = next

			continue
		}

		// A file before the last component is only traversable as archive.
		if supportsZip && isArchiveName(comp) {
			return r.resolveInArchive(next, subpath[i+1:])
		}
		if i != len(subpath)-1 {
			return NotFound, nil
		}

		return Resolution{
			Mode:    ModeRealFile,
			Path:    next,
			Size:    uint64(fi.Size()),
			ModTime: fi.ModTime(),
		}, nil
	}

	fi, err := r.loc.stat(cur)
	if err != nil {
		return NotFound, err
	}
	if fi == nil || !fi.IsDir() {
		return NotFound, nil
	}

	return Resolution{Mode: ModeRealDir, Path: cur, ModTime: fi.ModTime()}, nil
}

// resolveInArchive consumes the remaining subpath inside an archive.
func (r *Resolver) resolveInArchive(archivePath string, rest []string) (Resolution, error) {
	snap, err := r.ix.Snapshot(archivePath)
	if err != nil {
		return NotFound, fmt.Errorf("failed to index %q: %w", archivePath, err)
	}

	member := strings.Join(rest, "/")
	if member == "" || snap.IsDir(member) {
		return Resolution{
			Mode:    ModeArchiveDir,
			Archive: archivePath,
			Prefix:  member,
			ModTime: snap.ModTime,
		}, nil
	}

	if m, ok := snap.Member(member); ok {
		return Resolution{
			Mode:    ModeArchiveMember,
			Archive: archivePath,
			Member:  m.Path,
			Size:    m.Size,
			ModTime: snap.ModTime,
		}, nil
	}

	return NotFound, nil
}

// resolveDefaultSource handles the `default_source` variant: a virtual
// filename bound to one physical file, optionally through an archive.
func (r *Resolver) resolveDefaultSource(sys *config.System, e *config.DefaultSourceMap, subpath []string) (Resolution, error) {
	if len(subpath) != 0 {
		return NotFound, nil
	}

	source := filepath.Join(r.SystemBase(sys), e.SourceFilename)

	if e.Unzip && isArchiveName(e.SourceFilename) {
		snap, err := r.ix.Snapshot(source)
		if err != nil {
			return NotFound, nil //nolint:nilerr // missing or bad archive is a negative
		}

		var m *archive.Member
		var ok bool
		if e.ZipInternalFile != "" {
			if m, ok = snap.Member(e.ZipInternalFile); !ok {
				m, ok = snap.MemberByName(e.ZipInternalFile)
			}
		} else {
			m, ok = snap.MemberByName(e.Name)
		}
		if !ok {
			return NotFound, nil
		}

		return Resolution{
			Mode:    ModeArchiveMember,
			Archive: source,
			Member:  m.Path,
			Size:    m.Size,
			ModTime: snap.ModTime,
		}, nil
	}

	fi, err := r.loc.stat(source)
	if err != nil {
		return NotFound, err
	}
	if fi == nil || fi.IsDir() {
		return NotFound, nil
	}

	return Resolution{
		Mode:    ModeRealFile,
		Path:    source,
		Size:    uint64(fi.Size()),
		ModTime: fi.ModTime(),
	}, nil
}

// safeSubpath rejects traversal components outright.
func safeSubpath(subpath []string) bool {
	for _, comp := range subpath {
		if comp == ".." || strings.ContainsAny(comp, "/\x00") {
			return false
		}
	}

	return true
}

// isArchiveName reports whether a filename looks like a supported archive.
func isArchiveName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}
