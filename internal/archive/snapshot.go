package archive

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// Member is one file inside an indexed archive.
type Member struct {
	// Path is the normalized member path, forward-slashed, no leading slash.
	Path string

	// Size is the uncompressed size of the member.
	Size uint64

	// Modified is the member's own timestamp inside the archive.
	Modified time.Time

	// fileIndex is the position inside the archive's file table.
	fileIndex int
}

// Name returns the member's base name.
func (m *Member) Name() string {
	return path.Base(m.Path)
}

// Snapshot is the cached result of indexing one archive: its member table
// and the directory set synthesized from member paths. A snapshot is
// immutable once built and remains valid for readers that hold it even
// after the index has re-keyed the archive.
type Snapshot struct {
	// Path is the physical path of the archive.
	Path string

	// ModTime and FileSize key the snapshot; a mismatch against the current
	// stat of the archive invalidates it for new opens.
	ModTime  time.Time
	FileSize int64

	members map[string]*Member
	ordered []*Member
	dirs    map[string]bool
}

// buildSnapshot indexes an open archive in a single pass.
//
// Members whose base name or any path component starts with a dot are
// hidden. Members escaping the archive root (`..` components after
// normalization, absolute names) are rejected outright.
func buildSnapshot(archivePath string, modTime time.Time, size int64, zr *zip.Reader) *Snapshot {
	snap := &Snapshot{
		Path:     archivePath,
		ModTime:  modTime,
		FileSize: size,
		members:  make(map[string]*Member),
		dirs:     make(map[string]bool),
	}

	for i, f := range zr.File {
		norm, ok := normalizeMemberPath(f.Name)
		if !ok {
			continue
		}

		isDir := f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/")
		if isDir {
			snap.addDirChain(norm)

			continue
		}

		if _, exists := snap.members[norm]; exists {
			continue // first occurrence wins
		}

		m := &Member{
			Path:      norm,
			Size:      f.UncompressedSize64,
			Modified:  f.Modified,
			fileIndex: i,
		}
		snap.members[norm] = m
		snap.ordered = append(snap.ordered, m)

		if parent := path.Dir(norm); parent != "." {
			snap.addDirChain(parent)
		}
	}

	return snap
}

// addDirChain records a directory and all of its parents.
func (s *Snapshot) addDirChain(dir string) {
	for dir != "" && dir != "." {
		if s.dirs[dir] {
			return
		}
		s.dirs[dir] = true
		dir = path.Dir(dir)
	}
}

// normalizeMemberPath cleans an archive member name into a safe relative
// path. It reports false for hidden, absolute or traversal-escaping names.
func normalizeMemberPath(name string) (string, bool) {
	slashed := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(slashed, "/") {
		return "", false
	}
	norm := path.Clean(slashed)

	if norm == "" || norm == "." {
		return "", false
	}
	for _, part := range strings.Split(norm, "/") {
		if part == ".." {
			return "", false
		}
		if strings.HasPrefix(part, ".") {
			return "", false
		}
	}

	return norm, true
}

// Members returns all indexed members in archive order.
func (s *Snapshot) Members() []*Member {
	return s.ordered
}

// Member returns the indexed member with the exact normalized path.
func (s *Snapshot) Member(memberPath string) (*Member, bool) {
	m, ok := s.members[memberPath]

	return m, ok
}

// MemberByName returns the first member (in archive order) whose base name
// matches, regardless of its directory inside the archive.
func (s *Snapshot) MemberByName(name string) (*Member, bool) {
	for _, m := range s.ordered {
		if m.Name() == name {
			return m, true
		}
	}

	return nil, false
}

// IsDir reports whether the given subpath is a directory of the archive
// tree. The empty subpath is the archive root and always a directory.
func (s *Snapshot) IsDir(subpath string) bool {
	if subpath == "" {
		return true
	}

	return s.dirs[subpath]
}

// List returns one level of the archive tree below subpath, subdirectory
// names and file members separately, each sorted case-insensitively.
func (s *Snapshot) List(subpath string) (subdirs []string, files []*Member) {
	prefix := ""
	if subpath != "" {
		prefix = subpath + "/"
	}

	seenDirs := make(map[string]bool)
	for dir := range s.dirs {
		if !strings.HasPrefix(dir, prefix) {
			continue
		}
		rest := strings.TrimPrefix(dir, prefix)
		name, _, _ := strings.Cut(rest, "/")
		if name != "" && !seenDirs[name] {
			seenDirs[name] = true
			subdirs = append(subdirs, name)
		}
	}

	for _, m := range s.ordered {
		if !strings.HasPrefix(m.Path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(m.Path, prefix)
		if !strings.Contains(rest, "/") {
			files = append(files, m)
		}
	}

	sort.Slice(subdirs, func(i, j int) bool {
		return caseInsensitiveLess(subdirs[i], subdirs[j])
	})
	sort.Slice(files, func(i, j int) bool {
		return caseInsensitiveLess(files[i].Name(), files[j].Name())
	})

	return subdirs, files
}

func caseInsensitiveLess(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la == lb {
		return a < b
	}

	return la < lb
}
