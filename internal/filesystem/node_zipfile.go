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

var _ fs.Node = (*memberBaseNode)(nil)

// memberBaseNode is a file within an archive of the physical store. It is
// presented as a regular file in our filesystem and unpacked on demand.
//
// To be embedded into either [memberInMemoryNode] or [memberExtractNode],
// depending on the streaming threshold at lookup time.
type memberBaseNode struct {
	readOnlyNode

	fsys    *FS      // Pointer to our filesystem.
	segs    []string // Virtual path segments from the root.
	archive string   // Path of the underlying archive (= parent).
	member  string   // Path of the file inside the underlying archive.
	inode   uint64   // Inode within our filesystem.
	size    uint64   // Uncompressed size of the member.
	mtime   time.Time
}

func (z *memberBaseNode) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = fileBasePerm
	a.Inode = z.inode

	a.Size = z.size
	a.Atime = z.mtime
	a.Ctime = z.mtime
	a.Mtime = z.mtime
	fillOwner(a)

	return nil
}

var (
	_ fs.Node            = (*memberInMemoryNode)(nil)
	_ fs.NodeOpener      = (*memberInMemoryNode)(nil)
	_ fs.HandleReadAller = (*memberInMemoryNode)(nil)
)

// memberInMemoryNode is a [memberBaseNode] that implements only the
// [fs.HandleReadAller] for serving the entire member from memory.
type memberInMemoryNode struct {
	*memberBaseNode
}

func (z *memberInMemoryNode) Open(_ context.Context, req *fuse.OpenRequest, _ *fuse.OpenResponse) (fs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		return nil, fuse.ToErrno(syscall.EROFS)
	}
	z.fsys.Metrics.OpenHandles.Add(1)

	return &memberInMemoryHandle{z}, nil
}

var (
	_ fs.HandleReadAller = (*memberInMemoryHandle)(nil)
	_ fs.HandleReleaser  = (*memberInMemoryHandle)(nil)
)

type memberInMemoryHandle struct {
	*memberInMemoryNode
}

func (z *memberInMemoryHandle) ReadAll(_ context.Context) ([]byte, error) {
	z.fsys.Metrics.TotalReads.Add(1)

	snap, err := z.fsys.ix.Snapshot(z.archive)
	if err != nil {
		z.fsys.rbuf.Printf("Error: %q->ReadAll->%q: %v\n", z.archive, z.member, err)

		return nil, z.fsys.countError(fuse.ToErrno(syscall.EIO))
	}

	data, err := z.fsys.ix.ReadMemberAll(snap, z.member)
	if err != nil {
		z.fsys.rbuf.Printf("Error: %q->ReadAll->%q: %v\n", z.archive, z.member, err)

		return nil, z.fsys.countError(fuse.ToErrno(syscall.EIO))
	}

	return data, nil
}

func (z *memberInMemoryHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	z.fsys.Metrics.OpenHandles.Add(-1)

	return nil
}

// ReadAll also serves kernels that skip the explicit open path (bazil uses
// the node as its own handle then).
func (z *memberInMemoryNode) ReadAll(ctx context.Context) ([]byte, error) {
	h := &memberInMemoryHandle{z}

	return h.ReadAll(ctx)
}

var (
	_ fs.Node       = (*memberExtractNode)(nil)
	_ fs.NodeOpener = (*memberExtractNode)(nil)
)

// memberExtractNode is a [memberBaseNode] whose open handles own a lazily
// extracted, immediately unlinked temp file; reads are plain preads against
// that descriptor, so large members stay seekable without rewinds.
type memberExtractNode struct {
	*memberBaseNode
}

func (z *memberExtractNode) Open(_ context.Context, req *fuse.OpenRequest, _ *fuse.OpenResponse) (fs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		return nil, fuse.ToErrno(syscall.EROFS)
	}

	snap, err := z.fsys.ix.Snapshot(z.archive)
	if err != nil {
		z.fsys.rbuf.Printf("Error: %q->Open->%q: %v\n", z.archive, z.member, err)

		return nil, z.fsys.countError(fuse.ToErrno(syscall.EIO))
	}

	f, err := z.fsys.ix.ExtractUnlinked(snap, z.member, z.fsys.Options.TempDir)
	if err != nil {
		z.fsys.rbuf.Printf("Error: %q->Extract->%q: %v\n", z.archive, z.member, err)

		return nil, z.fsys.countError(fuse.ToErrno(syscall.EIO))
	}

	z.fsys.Metrics.OpenHandles.Add(1)
	z.fsys.Metrics.TotalExtractedHandles.Add(1)

	return &memberExtractHandle{fsys: z.fsys, f: f}, nil
}

var (
	_ fs.HandleReader   = (*memberExtractHandle)(nil)
	_ fs.HandleReleaser = (*memberExtractHandle)(nil)
)

// memberExtractHandle owns one extracted temp descriptor. The backing name
// is already unlinked; closing the descriptor releases the space.
type memberExtractHandle struct {
	fsys *FS
	f    *os.File
}

func (h *memberExtractHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.fsys.Metrics.TotalReads.Add(1)

	buf := make([]byte, req.Size)
	n, err := h.f.ReadAt(buf, req.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return h.fsys.countError(toFuseErr(err))
	}
	resp.Data = buf[:n]

	return nil
}

func (h *memberExtractHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	h.fsys.Metrics.OpenHandles.Add(-1)

	return h.f.Close() //nolint:wrapcheck
}
