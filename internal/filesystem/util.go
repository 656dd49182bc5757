package filesystem

import (
	"errors"
	"hash/fnv"
	"os"
	"slices"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/GlennPegden2/TransFS/internal/listing"
	"github.com/GlennPegden2/TransFS/internal/logging"
	"github.com/GlennPegden2/TransFS/internal/resolver"
	"github.com/GlennPegden2/TransFS/internal/vpath"
)

// virtualPath renders path segments as the absolute virtual path.
func virtualPath(segs []string) string {
	return "/" + strings.Join(segs, "/")
}

// inodeForPath hashes the fully-qualified virtual path to a stable 64-bit
// inode id. The root keeps the conventional inode 1; any other hash landing
// on 0 or 1 is nudged out of the reserved range.
func inodeForPath(segs []string) uint64 {
	if len(segs) == 0 {
		return rootInode
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(virtualPath(segs)))
	id := h.Sum64()
	if id <= rootInode {
		id += 2
	}

	return id
}

// enoent logs a negative resolution at debug level with the full virtual
// path and returns the kernel-facing ENOENT.
func (fsys *FS) enoent(segs []string) error {
	fsys.Metrics.TotalEnoents.Add(1)
	logging.Log.Debugf("ENOENT: %s", virtualPath(segs))

	return fuse.ToErrno(syscall.ENOENT)
}

// countError counts a non-ENOENT error surfaced to the kernel.
func (fsys *FS) countError(err error) error {
	fsys.Metrics.Errors.Add(1)

	return err
}

// toFuseErr translates physical I/O failures to kernel errnos.
func toFuseErr(err error) error {
	switch {
	case os.IsNotExist(err):
		return fuse.ToErrno(syscall.ENOENT)

	case os.IsPermission(err):
		return fuse.ToErrno(syscall.EACCES)

	default:
		return fuse.ToErrno(syscall.EIO)
	}
}

// lookupChild resolves one child name below a directory's segments and
// returns the node serving it.
func (fsys *FS) lookupChild(parentSegs []string, name string) (fs.Node, error) {
	fsys.Metrics.TotalLookups.Add(1)

	segs := append(slices.Clone(parentSegs), name)

	p := vpath.ParseSegments(fsys.Config, segs)
	if p.Kind == vpath.KindNotFound {
		return nil, fsys.enoent(segs)
	}

	res, err := fsys.res.Resolve(p)
	if err != nil {
		fsys.rbuf.Printf("Error: %q->Lookup->%q: %v\n", virtualPath(parentSegs), name, err)

		return nil, fsys.countError(toFuseErr(err))
	}
	if res.Mode == resolver.ModeNotFound {
		return nil, fsys.enoent(segs)
	}

	return fsys.nodeFor(segs, res), nil
}

// nodeFor builds the node serving one resolution.
func (fsys *FS) nodeFor(segs []string, res resolver.Resolution) fs.Node {
	inode := inodeForPath(segs)

	switch res.Mode {
	case resolver.ModeSynthDir:
		return &synthDirNode{fsys: fsys, segs: segs, inode: inode, mtime: fsys.MountTime}

	case resolver.ModeRealDir:
		return &realDirNode{fsys: fsys, segs: segs, path: res.Path, inode: inode, mtime: res.ModTime}

	case resolver.ModeArchiveDir:
		return &archiveDirNode{
			fsys: fsys, segs: segs, archive: res.Archive, prefix: res.Prefix,
			inode: inode, mtime: res.ModTime,
		}

	case resolver.ModeRealFile:
		return &realFileNode{
			fsys: fsys, segs: segs, path: res.Path,
			inode: inode, size: res.Size, mtime: res.ModTime,
		}

	case resolver.ModeArchiveMember:
		base := &memberBaseNode{
			fsys: fsys, segs: segs, archive: res.Archive, member: res.Member,
			inode: inode, size: res.Size, mtime: res.ModTime,
		}
		if res.Size <= fsys.Options.StreamingThreshold.Load() {
			return &memberInMemoryNode{base}
		}

		return &memberExtractNode{base}

	default:
		return nil
	}
}

// readDirAll lists a virtual directory through the listing engine.
func (fsys *FS) readDirAll(segs []string) ([]fuse.Dirent, error) {
	fsys.Metrics.TotalReaddirs.Add(1)

	entries, err := fsys.engine.List(vpath.ParseSegments(fsys.Config, segs))
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return nil, fsys.enoent(segs)
		}
		fsys.rbuf.Printf("Error: %q->ReadDirAll: %v\n", virtualPath(segs), err)

		return nil, fsys.countError(toFuseErr(err))
	}

	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		typ := fuse.DT_File
		if e.Dir {
			typ = fuse.DT_Dir
		}
		dirents = append(dirents, fuse.Dirent{
			Name:  e.Name,
			Type:  typ,
			Inode: inodeForPath(append(slices.Clone(segs), e.Name)),
		})
	}

	return dirents, nil
}

// fillOwner sets the attributes' owner to the serving process.
func fillOwner(a *fuse.Attr) {
	a.Uid = uint32(os.Getuid())
	a.Gid = uint32(os.Getgid())
}
