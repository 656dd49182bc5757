package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

var (
	_ fs.Node         = (*realFileNode)(nil)
	_ fs.NodeOpener   = (*realFileNode)(nil)
	_ fs.NodeSetattrer = (*realFileNode)(nil)
)

// realFileNode is a passthrough file of the physical store, reached through
// a static map, a direct mount, a default_source entry, or an extension
// folder of a dynamic map (possibly under an aliased virtual name).
type realFileNode struct {
	readOnlyNode

	fsys  *FS      // Pointer to our filesystem.
	segs  []string // Virtual path segments from the root.
	path  string   // Path of the underlying regular file.
	inode uint64   // Inode within our filesystem.
	size  uint64   // Size of the underlying regular file.
	mtime time.Time
}

func (n *realFileNode) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = fileBasePerm
	a.Inode = n.inode

	a.Size = n.size
	a.Atime = n.mtime
	a.Ctime = n.mtime
	a.Mtime = n.mtime
	fillOwner(a)

	return nil
}

func (n *realFileNode) Open(_ context.Context, req *fuse.OpenRequest, _ *fuse.OpenResponse) (fs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		return nil, fuse.ToErrno(syscall.EROFS)
	}

	f, err := os.Open(n.path)
	if err != nil {
		n.fsys.rbuf.Printf("Error: %q->Open: %v\n", n.path, err)

		return nil, n.fsys.countError(toFuseErr(err))
	}
	n.fsys.Metrics.OpenHandles.Add(1)

	return &realFileHandle{fsys: n.fsys, f: f}, nil
}

var (
	_ fs.HandleReader   = (*realFileHandle)(nil)
	_ fs.HandleReleaser = (*realFileHandle)(nil)
)

// realFileHandle wraps an OS descriptor for one open passthrough file.
type realFileHandle struct {
	fsys *FS
	f    *os.File
}

func (h *realFileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.fsys.Metrics.TotalReads.Add(1)

	buf := make([]byte, req.Size)
	n, err := h.f.ReadAt(buf, req.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		h.fsys.rbuf.Printf("Error: %q->Read: %v\n", h.f.Name(), err)

		return h.fsys.countError(toFuseErr(err))
	}
	resp.Data = buf[:n]

	return nil
}

func (h *realFileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	h.fsys.Metrics.OpenHandles.Add(-1)

	return h.f.Close() //nolint:wrapcheck
}
