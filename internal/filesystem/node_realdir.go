package filesystem

import (
	"context"
	"os"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

var (
	_ fs.Node               = (*realDirNode)(nil)
	_ fs.HandleReadDirAller = (*realDirNode)(nil)
	_ fs.NodeStringLookuper = (*realDirNode)(nil)
	_ fs.NodeSetattrer      = (*realDirNode)(nil)
	_ fs.NodeRemover        = (*realDirNode)(nil)
)

// realDirNode is a passthrough directory: a static map target, a direct
// mount, or any real subdirectory below one. Children still resolve through
// the map rules, so archives inside a zip-enabled direct mount present as
// directories here.
type realDirNode struct {
	readOnlyDir

	fsys  *FS      // Pointer to our filesystem.
	segs  []string // Virtual path segments from the root.
	path  string   // Path of the underlying regular directory.
	inode uint64   // Inode within our filesystem.
	mtime time.Time
}

func (d *realDirNode) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | dirBasePerm
	a.Inode = d.inode

	a.Atime = d.mtime
	a.Ctime = d.mtime
	a.Mtime = d.mtime
	fillOwner(a)

	return nil
}

func (d *realDirNode) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	return d.fsys.readDirAll(d.segs)
}

func (d *realDirNode) Lookup(_ context.Context, name string) (fs.Node, error) {
	return d.fsys.lookupChild(d.segs, name)
}
