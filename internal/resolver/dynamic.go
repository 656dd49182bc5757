package resolver

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/GlennPegden2/TransFS/internal/archive"
	"github.com/GlennPegden2/TransFS/internal/config"
)

// CandidateDirs returns the existing physical directories backing one
// dynamic virtual folder, in spec order. When none of the extension
// directories exist but `source_dir/<folder>/` does, that semantic folder
// is the single candidate (the fallback rule).
func (r *Resolver) CandidateDirs(sys *config.System, dyn *config.DynamicMap, folder *config.FileTypeFolder) ([]string, error) {
	base := filepath.Join(r.SystemBase(sys), dyn.SourceDir)

	var dirs []string
	seen := make(map[string]bool)
	for _, spec := range folder.Specs {
		d := filepath.Join(base, spec.Source)
		if seen[d] {
			continue
		}
		seen[d] = true

		fi, err := r.loc.stat(d)
		if err != nil {
			return nil, err
		}
		if fi != nil && fi.IsDir() {
			dirs = append(dirs, d)
		}
	}

	if len(dirs) == 0 {
		fallback := filepath.Join(base, folder.Name)
		fi, err := r.loc.stat(fallback)
		if err != nil {
			return nil, err
		}
		if fi != nil && fi.IsDir() {
			dirs = append(dirs, fallback)
		}
	}

	return dirs, nil
}

// resolveDynamic resolves a subpath inside one dynamic virtual folder.
//
// The walk keeps the full candidate set per level: a subdirectory present in
// several extension directories stays merged, exactly like the folder root.
// The first component that names an archive hands the remaining subpath to
// the archive index.
func (r *Resolver) resolveDynamic(sys *config.System, dyn *config.DynamicMap, folder *config.FileTypeFolder, subpath []string) (Resolution, error) {
	cands, err := r.CandidateDirs(sys, dyn, folder)
	if err != nil {
		return NotFound, err
	}
	if len(cands) == 0 {
		return NotFound, nil
	}
	if len(subpath) == 0 {
		return Resolution{Mode: ModeSynthDir}, nil
	}

	for i, comp := range subpath {
		isLast := i == len(subpath)-1

		var next []string
		for _, cand := range cands {
			d := filepath.Join(cand, comp)
			fi, err := r.loc.stat(d)
			if err != nil {
				return NotFound, err
			}
			if fi != nil && fi.IsDir() {
				next = append(next, d)
			}
		}
		if len(next) > 0 {
			if isLast {
				return Resolution{Mode: ModeSynthDir}, nil
			}
			cands = next

			continue
		}

		if isLast {
			return r.resolveDynamicLeaf(dyn, folder, cands, comp)
		}

		// Not a directory level: only an archive can carry the walk deeper.
		if dyn.SupportsZip {
			if archivePath, ok, err := r.findBrowsableArchive(dyn, folder, cands, comp); err != nil {
				return NotFound, err
			} else if ok {
				return r.resolveInArchiveAliased(archivePath, subpath[i+1:], folder)
			}
		}

		return NotFound, nil
	}

	return NotFound, nil
}

// resolveInArchiveAliased resolves a subpath inside an archive reached
// through a dynamic folder. Listings inside such archives display member
// names alias-aware, so a miss on the raw member path retries against the
// displayed names.
func (r *Resolver) resolveInArchiveAliased(archivePath string, rest []string, folder *config.FileTypeFolder) (Resolution, error) {
	res, err := r.resolveInArchive(archivePath, rest)
	if err != nil || res.Mode != ModeNotFound || len(rest) == 0 {
		return res, err
	}

	snap, err := r.ix.Snapshot(archivePath)
	if err != nil {
		return NotFound, nil //nolint:nilerr // bad archive is a negative
	}

	name := rest[len(rest)-1]
	prefix := strings.Join(rest[:len(rest)-1], "/")

	_, files := snap.List(prefix)
	for _, m := range files {
		if spec, ok := folder.MatchesSource(m.Name()); ok && spec.VirtualName(m.Name()) == name {
			return Resolution{
				Mode:    ModeArchiveMember,
				Archive: archivePath,
				Member:  m.Path,
				Size:    m.Size,
				ModTime: snap.ModTime,
			}, nil
		}
	}

	return NotFound, nil
}

// resolveDynamicLeaf resolves the final subpath component of a dynamic
// folder: a real file (alias-aware), a flattened archive member, or an
// archive shown as a directory.
func (r *Resolver) resolveDynamicLeaf(dyn *config.DynamicMap, folder *config.FileTypeFolder, cands []string, name string) (Resolution, error) {
	// Real files win over anything an archive could contribute.
	if res, err := r.findRealFile(dyn, folder, cands, name); err != nil || res.Mode != ModeNotFound {
		return res, err
	}

	if !dyn.SupportsZip {
		return NotFound, nil
	}

	if archivePath, ok, err := r.findBrowsableArchive(dyn, folder, cands, name); err != nil {
		return NotFound, err
	} else if ok {
		return r.resolveInArchive(archivePath, nil)
	}

	if dyn.ZipMode == config.ZipModeFlatten {
		return r.findFlattenedMember(folder, cands, name)
	}

	return NotFound, nil
}

// findRealFile looks for a physical file satisfying the virtual name through
// the folder's extension specs. The virtual extension selects the specs (in
// config order, first wins); the stem must match exactly; the source-side
// extension matches case-insensitively. Archives are not plain files when
// the entry supports them; those go through the archive rules instead.
func (r *Resolver) findRealFile(dyn *config.DynamicMap, folder *config.FileTypeFolder, cands []string, name string) (Resolution, error) {
	ext := config.ExtOf(name)
	if ext == "" {
		return NotFound, nil
	}
	stem := strings.TrimSuffix(name, "."+ext)

	for _, spec := range folder.Specs {
		if !strings.EqualFold(spec.Virtual, ext) {
			continue
		}
		for _, cand := range cands {
			entries, err := r.loc.readDir(cand)
			if err != nil {
				return NotFound, err
			}
			for _, de := range entries {
				if de.IsDir() {
					continue
				}
				if dyn.SupportsZip && isArchiveName(de.Name()) {
					continue
				}
				deExt := config.ExtOf(de.Name())
				if !strings.EqualFold(deExt, spec.Source) {
					continue
				}
				if strings.TrimSuffix(de.Name(), "."+deExt) != stem {
					continue
				}

				full := filepath.Join(cand, de.Name())
				fi, err := de.Info()
				if err != nil {
					return NotFound, fmt.Errorf("failed to stat %q: %w", full, err)
				}

				return Resolution{
					Mode:    ModeRealFile,
					Path:    full,
					Size:    uint64(fi.Size()),
					ModTime: fi.ModTime(),
				}, nil
			}
		}
	}

	return NotFound, nil
}

// findBrowsableArchive reports whether `name` is an archive that presents
// as a directory under the folder's zip mode: always in hierarchical mode,
// only on multiple matching members in flatten mode (a single match
// hides the archive in favour of the member; zero matching members in
// flatten mode hide it entirely).
func (r *Resolver) findBrowsableArchive(dyn *config.DynamicMap, folder *config.FileTypeFolder, cands []string, name string) (string, bool, error) {
	if !isArchiveName(name) {
		return "", false, nil
	}

	for _, cand := range cands {
		full := filepath.Join(cand, name)
		fi, err := r.loc.stat(full)
		if err != nil {
			return "", false, err
		}
		if fi == nil || fi.IsDir() {
			continue
		}

		if dyn.ZipMode == config.ZipModeHierarchical {
			return full, true, nil
		}

		matches, err := r.MatchingMembers(full, folder)
		if err != nil {
			continue // recoverable: a bad archive is excluded, not fatal
		}
		if len(matches) == 1 {
			return "", false, nil // flattened away, the member stands in
		}
		if len(matches) == 0 {
			return "", false, nil // hidden in flatten mode
		}

		return full, true, nil
	}

	return "", false, nil
}

// findFlattenedMember resolves a virtual name against single-match archives
// in flatten mode: the archive whose lone matching member displays as
// `name` provides the bytes.
func (r *Resolver) findFlattenedMember(folder *config.FileTypeFolder, cands []string, name string) (Resolution, error) {
	for _, cand := range cands {
		entries, err := r.loc.readDir(cand)
		if err != nil {
			return NotFound, err
		}
		for _, de := range entries {
			if de.IsDir() || !isArchiveName(de.Name()) {
				continue
			}

			archivePath := filepath.Join(cand, de.Name())
			matches, err := r.MatchingMembers(archivePath, folder)
			if err != nil {
				continue // bad archive, excluded
			}
			if len(matches) != 1 {
				continue
			}

			m := matches[0]
			spec, _ := folder.MatchesSource(m.Name())
			if spec.VirtualName(m.Name()) != name {
				continue
			}

			snap, err := r.ix.Snapshot(archivePath)
			if err != nil {
				continue
			}

			return Resolution{
				Mode:    ModeArchiveMember,
				Archive: archivePath,
				Member:  m.Path,
				Size:    m.Size,
				ModTime: snap.ModTime,
			}, nil
		}
	}

	return NotFound, nil
}

// MatchingMembers returns the archive members whose extension is covered by
// the folder's source extensions.
func (r *Resolver) MatchingMembers(archivePath string, folder *config.FileTypeFolder) ([]*archive.Member, error) {
	snap, err := r.ix.Snapshot(archivePath)
	if err != nil {
		return nil, err
	}

	var matches []*archive.Member
	for _, m := range snap.Members() {
		if _, ok := folder.MatchesSource(m.Name()); ok {
			matches = append(matches, m)
		}
	}

	return matches, nil
}
