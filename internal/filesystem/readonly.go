package filesystem

import (
	"context"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

// readOnlyNode rejects attribute mutation on every node of the mount.
type readOnlyNode struct{}

func (readOnlyNode) Setattr(_ context.Context, _ *fuse.SetattrRequest, _ *fuse.SetattrResponse) error {
	return fuse.ToErrno(syscall.EROFS)
}

// readOnlyDir rejects every mutating directory operation. The whole mount
// is presented read-only; even passthrough directories refuse writes.
type readOnlyDir struct {
	readOnlyNode
}

func (readOnlyDir) Create(_ context.Context, _ *fuse.CreateRequest, _ *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	return nil, nil, fuse.ToErrno(syscall.EROFS)
}

func (readOnlyDir) Mkdir(_ context.Context, _ *fuse.MkdirRequest) (fs.Node, error) {
	return nil, fuse.ToErrno(syscall.EROFS)
}

func (readOnlyDir) Remove(_ context.Context, _ *fuse.RemoveRequest) error {
	return fuse.ToErrno(syscall.EROFS)
}

func (readOnlyDir) Rename(_ context.Context, _ *fuse.RenameRequest, _ fs.Node) error {
	return fuse.ToErrno(syscall.EROFS)
}

func (readOnlyDir) Symlink(_ context.Context, _ *fuse.SymlinkRequest) (fs.Node, error) {
	return nil, fuse.ToErrno(syscall.EROFS)
}

func (readOnlyDir) Link(_ context.Context, _ *fuse.LinkRequest, _ fs.Node) (fs.Node, error) {
	return nil, fuse.ToErrno(syscall.EROFS)
}

func (readOnlyDir) Mknod(_ context.Context, _ *fuse.MknodRequest) (fs.Node, error) {
	return nil, fuse.ToErrno(syscall.EROFS)
}
