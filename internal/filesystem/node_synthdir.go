package filesystem

import (
	"context"
	"os"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

var (
	_ fs.Node               = (*synthDirNode)(nil)
	_ fs.HandleReadDirAller = (*synthDirNode)(nil)
	_ fs.NodeStringLookuper = (*synthDirNode)(nil)
	_ fs.NodeSetattrer      = (*synthDirNode)(nil)
	_ fs.NodeCreater        = (*synthDirNode)(nil)
)

// synthDirNode is a directory that exists only in the virtual tree: the
// mount root, a client, a system, or a dynamic virtual folder (and any
// merged subdirectory below one). Its children come from the listing
// engine; its attributes are fully synthesized.
type synthDirNode struct {
	readOnlyDir

	fsys  *FS      // Pointer to our filesystem.
	segs  []string // Virtual path segments from the root.
	inode uint64   // Inode within our filesystem.
	mtime time.Time
}

func (d *synthDirNode) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | dirBasePerm
	a.Inode = d.inode

	a.Atime = d.mtime
	a.Ctime = d.mtime
	a.Mtime = d.mtime
	fillOwner(a)

	return nil
}

func (d *synthDirNode) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	return d.fsys.readDirAll(d.segs)
}

func (d *synthDirNode) Lookup(_ context.Context, name string) (fs.Node, error) {
	return d.fsys.lookupChild(d.segs, name)
}
