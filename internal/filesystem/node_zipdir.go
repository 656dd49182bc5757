package filesystem

import (
	"context"
	"os"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

var (
	_ fs.Node               = (*archiveDirNode)(nil)
	_ fs.NodeOpener         = (*archiveDirNode)(nil)
	_ fs.HandleReadDirAller = (*archiveDirNode)(nil)
	_ fs.NodeStringLookuper = (*archiveDirNode)(nil)
	_ fs.NodeSetattrer      = (*archiveDirNode)(nil)
	_ fs.NodeMkdirer        = (*archiveDirNode)(nil)
)

// archiveDirNode is an archive (or a directory inside one) presented as a
// regular directory. Listings and lookups run through the archive index
// via the listing engine and resolver, so the node itself stays thin.
type archiveDirNode struct {
	readOnlyDir

	fsys    *FS      // Pointer to our filesystem.
	segs    []string // Virtual path segments from the root.
	archive string   // Path of the underlying archive.
	prefix  string   // Directory prefix within the archive ("" is the root).
	inode   uint64   // Inode within our filesystem.
	mtime   time.Time
}

func (z *archiveDirNode) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | dirBasePerm
	a.Inode = z.inode

	a.Atime = z.mtime
	a.Ctime = z.mtime
	a.Mtime = z.mtime
	fillOwner(a)

	return nil
}

func (z *archiveDirNode) Open(_ context.Context, _ *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	resp.Flags |= fuse.OpenKeepCache | fuse.OpenCacheDir

	return z, nil
}

func (z *archiveDirNode) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	return z.fsys.readDirAll(z.segs)
}

func (z *archiveDirNode) Lookup(_ context.Context, name string) (fs.Node, error) {
	return z.fsys.lookupChild(z.segs, name)
}
