package listing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GlennPegden2/TransFS/internal/config"
	"github.com/GlennPegden2/TransFS/internal/logging"
	"github.com/GlennPegden2/TransFS/internal/resolver"
	"github.com/GlennPegden2/TransFS/internal/vpath"
)

var (
	// ErrNotFound means the virtual directory has no resolution.
	ErrNotFound = errors.New("virtual directory not found")

	// ErrNotDir means the virtual path resolves to a file.
	ErrNotDir = errors.New("virtual path is not a directory")
)

// Engine materializes virtual directory listings.
type Engine struct {
	cfg   *config.Config
	res   *resolver.Resolver
	cache *Cache
}

// NewEngine returns a pointer to a new [Engine].
func NewEngine(cfg *config.Config, res *resolver.Resolver, cache *Cache) *Engine {
	return &Engine{cfg: cfg, res: res, cache: cache}
}

// List produces the full, ordered set of entries for one virtual directory,
// independent of the kernel's pagination. Recoverable per-entry failures
// (an unreadable subdirectory, a malformed archive) are logged and the
// offending entry excluded; they never fail the whole directory.
func (e *Engine) List(p vpath.Parsed) ([]DirEntry, error) {
	switch p.Kind {
	case vpath.KindRoot:
		entries := make([]DirEntry, 0, len(e.cfg.Clients))
		for _, cl := range e.cfg.Clients {
			entries = append(entries, DirEntry{Name: cl.Name, Dir: true})
		}
		SortEntries(entries)

		return entries, nil

	case vpath.KindClient:
		entries := make([]DirEntry, 0, len(p.Client.Systems))
		for _, sys := range p.Client.Systems {
			entries = append(entries, DirEntry{Name: sys.Name, Dir: true})
		}
		SortEntries(entries)

		return entries, nil

	case vpath.KindSystem:
		return e.listSystem(p.System)

	case vpath.KindInSystem:
		return e.listInSystem(p)

	default:
		return nil, ErrNotFound
	}
}

// listSystem composes the virtual children of a system directory: resolvable
// map keys, dynamic-expanded folders with a backing directory, and unmapped
// real entries of the system's base directory.
func (e *Engine) listSystem(sys *config.System) ([]DirEntry, error) {
	var entries []DirEntry
	claimed := make(map[string]bool)

	claim := func(name string) {
		claimed[strings.ToLower(name)] = true
	}

	for _, m := range sys.Maps {
		switch entry := m.(type) {
		case *config.StaticMap, *config.DirectMountMap:
			claim(m.VirtualName())
			res, err := e.res.Resolve(vpath.Parsed{
				Kind: vpath.KindInSystem, System: sys, EntryName: m.VirtualName(), Entry: m,
			})
			if err != nil {
				logging.Log.Warnf("excluding %q from %q: %v", m.VirtualName(), sys.Name, err)

				continue
			}
			if res.Mode == resolver.ModeRealDir {
				entries = append(entries, DirEntry{
					Name: m.VirtualName(), Dir: true, ModTimeUnix: res.ModTime.UnixNano(),
				})
			}

		case *config.DefaultSourceMap:
			claim(entry.Name)
			res, err := e.res.Resolve(vpath.Parsed{
				Kind: vpath.KindInSystem, System: sys, EntryName: entry.Name, Entry: entry,
			})
			if err != nil {
				logging.Log.Warnf("excluding %q from %q: %v", entry.Name, sys.Name, err)

				continue
			}
			if res.Mode != resolver.ModeNotFound {
				entries = append(entries, DirEntry{
					Name: entry.Name, Size: res.Size, ModTimeUnix: res.ModTime.UnixNano(),
				})
			}

		case *config.DynamicMap:
			for i := range entry.FileTypes {
				folder := &entry.FileTypes[i]
				claim(folder.Name)
				cands, err := e.res.CandidateDirs(sys, entry, folder)
				if err != nil {
					logging.Log.Warnf("excluding %q from %q: %v", folder.Name, sys.Name, err)

					continue
				}
				if len(cands) > 0 {
					entries = append(entries, DirEntry{Name: folder.Name, Dir: true})
				}
			}
		}
	}

	// Unmapped real entries of the base directory stay browsable.
	base := e.res.SystemBase(sys)
	if real, err := e.cache.Entries(base); err == nil {
		for _, de := range real {
			if !claimed[strings.ToLower(de.Name)] {
				entries = append(entries, de)
			}
		}
	}

	SortEntries(entries)

	return entries, nil
}

// listInSystem lists a directory at or below a map entry.
func (e *Engine) listInSystem(p vpath.Parsed) ([]DirEntry, error) {
	res, err := e.res.Resolve(p)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve: %w", err)
	}

	switch res.Mode {
	case resolver.ModeRealDir:
		return e.listRealDir(p, res.Path)

	case resolver.ModeSynthDir:
		return e.listDynamicDir(p)

	case resolver.ModeArchiveDir:
		return e.listArchiveDir(p, res)

	case resolver.ModeNotFound:
		return nil, ErrNotFound

	default:
		return nil, ErrNotDir
	}
}

// listRealDir lists a passthrough directory. Under a direct mount with
// archive support, contained archives present as directories.
func (e *Engine) listRealDir(p vpath.Parsed, dir string) ([]DirEntry, error) {
	scanned, err := e.cache.Entries(dir)
	if err != nil {
		return nil, err
	}

	supportsZip := false
	if dm, ok := p.Entry.(*config.DirectMountMap); ok {
		supportsZip = dm.SupportsZip
	}

	entries := make([]DirEntry, 0, len(scanned))
	for _, de := range scanned {
		if supportsZip && !de.Dir && isArchiveName(de.Name) {
			entries = append(entries, DirEntry{
				Name: de.Name, Dir: true, ModTimeUnix: de.ModTimeUnix,
			})

			continue
		}
		entries = append(entries, de)
	}
	SortEntries(entries)

	return entries, nil
}

// listDynamicDir composes one level of a dynamic virtual folder (or a
// subdirectory thereof) by merging every candidate directory's contents.
func (e *Engine) listDynamicDir(p vpath.Parsed) ([]DirEntry, error) {
	cands, err := e.res.CandidateDirs(p.System, p.Dynamic, p.Folder)
	if err != nil {
		return nil, err
	}
	cands = narrowCandidates(cands, p.Subpath)
	if len(cands) == 0 {
		return nil, ErrNotFound
	}

	var entries []DirEntry
	seen := make(map[string]bool)
	add := func(de DirEntry) {
		if !seen[de.Name] {
			seen[de.Name] = true
			entries = append(entries, de)
		}
	}

	type archiveRef struct {
		path string
		de   DirEntry
	}
	var archives []archiveRef
	var plainFiles []DirEntry

	// First pass: real directories win names outright; plain files and
	// archives are collected for the ordered passes below.
	for _, cand := range cands {
		scanned, err := e.cache.Entries(cand)
		if err != nil {
			logging.Log.Warnf("excluding candidate %q: %v", cand, err)

			continue
		}
		for _, de := range scanned {
			switch {
			case de.Dir:
				add(DirEntry{Name: de.Name, Dir: true, ModTimeUnix: de.ModTimeUnix})

			case p.Dynamic.SupportsZip && isArchiveName(de.Name):
				archives = append(archives, archiveRef{
					path: filepath.Join(cand, de.Name), de: de,
				})

			default:
				plainFiles = append(plainFiles, de)
			}
		}
	}

	// Real files claim virtual names in spec order, so a name collision
	// lists the same file a direct lookup of that name would resolve to
	// (first configured source extension wins).
	for _, spec := range p.Folder.Specs {
		for _, de := range plainFiles {
			if !strings.EqualFold(config.ExtOf(de.Name), spec.Source) {
				continue
			}
			add(DirEntry{
				Name:        spec.VirtualName(de.Name),
				Size:        de.Size,
				ModTimeUnix: de.ModTimeUnix,
			})
		}
	}

	// Second pass: archive contributions, suppressed on collision.
	for _, ar := range archives {
		if p.Dynamic.ZipMode == config.ZipModeHierarchical {
			add(DirEntry{Name: ar.de.Name, Dir: true, ModTimeUnix: ar.de.ModTimeUnix})

			continue
		}

		matches, err := e.res.MatchingMembers(ar.path, p.Folder)
		if err != nil {
			logging.Log.Warnf("excluding malformed archive %q: %v", ar.path, err)

			continue
		}
		switch len(matches) {
		case 0:
			// Hidden in flatten mode.
		case 1:
			spec, _ := p.Folder.MatchesSource(matches[0].Name())
			add(DirEntry{
				Name:        spec.VirtualName(matches[0].Name()),
				Size:        matches[0].Size,
				ModTimeUnix: ar.de.ModTimeUnix,
			})
		default:
			add(DirEntry{Name: ar.de.Name, Dir: true, ModTimeUnix: ar.de.ModTimeUnix})
		}
	}

	SortEntries(entries)

	return entries, nil
}

// listArchiveDir lists one level of an archive presented as a directory.
// Inside a flatten-mode dynamic folder the files are filtered to matching
// members and displayed alias-aware; hierarchical browsing is unfiltered.
func (e *Engine) listArchiveDir(p vpath.Parsed, res resolver.Resolution) ([]DirEntry, error) {
	snap, err := e.res.Index().Snapshot(res.Archive)
	if err != nil {
		return nil, fmt.Errorf("failed to index %q: %w", res.Archive, err)
	}

	subdirs, files := snap.List(res.Prefix)

	filter := p.Folder != nil && p.Dynamic != nil && p.Dynamic.ZipMode == config.ZipModeFlatten

	entries := make([]DirEntry, 0, len(subdirs)+len(files))
	for _, d := range subdirs {
		entries = append(entries, DirEntry{
			Name: d, Dir: true, ModTimeUnix: snap.ModTime.UnixNano(),
		})
	}
	for _, m := range files {
		name := m.Name()
		if filter {
			spec, ok := p.Folder.MatchesSource(name)
			if !ok {
				continue
			}
			name = spec.VirtualName(name)
		}
		entries = append(entries, DirEntry{
			Name:        name,
			Size:        m.Size,
			ModTimeUnix: snap.ModTime.UnixNano(),
		})
	}
	SortEntries(entries)

	return entries, nil
}

// narrowCandidates descends every candidate directory along the subpath,
// keeping only those that still exist.
func narrowCandidates(cands []string, subpath []string) []string {
	if len(subpath) == 0 {
		return cands
	}

	rel := filepath.Join(subpath...)
	var out []string
	for _, cand := range cands {
		d := filepath.Join(cand, rel)
		if fi, err := os.Stat(d); err == nil && fi.IsDir() {
			out = append(out, d)
		}
	}

	return out
}

func isArchiveName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}
