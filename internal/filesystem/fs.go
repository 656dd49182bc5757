// Package filesystem implements the FUSE operation layer.
//
// Every virtual path is served by one node type per entity kind: synthetic
// directories (root, clients, systems, dynamic folders), passthrough
// directories and files, archives presented as directories, and archive
// members presented as files. Nodes resolve their children through the map
// resolver and list them through the listing engine; nothing in this package
// re-implements mapping rules.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/GlennPegden2/TransFS/internal/archive"
	"github.com/GlennPegden2/TransFS/internal/config"
	"github.com/GlennPegden2/TransFS/internal/listing"
	"github.com/GlennPegden2/TransFS/internal/logging"
	"github.com/GlennPegden2/TransFS/internal/resolver"
	"golang.org/x/sys/unix"
)

const (
	fileBasePerm = 0o444 // RO
	dirBasePerm  = 0o555 // RO

	rootInode = 1

	defaultStreamingThreshold = 10 * 1024 * 1024 // 10MiB
)

var (
	_ fs.FS               = (*FS)(nil)
	_ fs.FSStatfser       = (*FS)(nil)
	_ fs.FSInodeGenerator = (*FS)(nil)

	errMissingArgument = errors.New("missing argument")
)

// Options contains all settings for the operation of the filesystem.
// All non-atomic fields can no longer be modified at runtime (once mounted).
type Options struct {
	// StreamingThreshold is the member size up to which archive members are
	// served from memory; larger members are extracted to an unlinked temp
	// file per open handle.
	StreamingThreshold atomic.Uint64

	// TempDir is where extracted members are materialized; empty means the
	// OS temp directory.
	TempDir string
}

// DefaultOptions returns a pointer to [Options] with the default values.
func DefaultOptions() *Options {
	opts := &Options{}
	opts.StreamingThreshold.Store(defaultStreamingThreshold)

	return opts
}

// Metrics contains all metrics which are collected within the filesystem.
type Metrics struct {
	// TotalLookups is the amount of lookup operations served.
	TotalLookups atomic.Int64

	// TotalReaddirs is the amount of readdir operations served.
	TotalReaddirs atomic.Int64

	// TotalReads is the amount of read operations served.
	TotalReads atomic.Int64

	// OpenHandles is the amount of currently open file handles.
	OpenHandles atomic.Int64

	// TotalExtractedHandles is the amount of handles backed by an
	// extracted temp file.
	TotalExtractedHandles atomic.Int64

	// TotalEnoents is the amount of negative lookups returned.
	TotalEnoents atomic.Int64

	// Errors is the amount of non-ENOENT errors returned to the kernel.
	Errors atomic.Int64
}

// FS is the core implementation of the TransFS filesystem.
type FS struct {
	Config  *config.Config
	Options *Options
	Metrics *Metrics

	// MountTime is when the filesystem was created, for diagnostics.
	MountTime time.Time

	ix     *archive.Index
	res    *resolver.Resolver
	cache  *listing.Cache
	engine *listing.Engine

	rbuf *logging.RingBuffer
}

// NewFS returns a pointer to a new [FS].
// You must call Cleanup() once all work is complete.
func NewFS(cfg *config.Config, opts *Options, rbuf *logging.RingBuffer) (*FS, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: need a configuration", errMissingArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}
	if _, err := os.Stat(cfg.App.Filestore); err != nil {
		return nil, fmt.Errorf("failed to stat filestore: %w", err)
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	cacheOpts := listing.DefaultCacheOptions()
	cacheOpts.DiskDir = cfg.App.CacheDir
	cache, err := listing.NewCache(cacheOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create listing cache: %w", err)
	}

	ix := archive.NewIndex(nil)
	res := resolver.New(cfg, ix)

	return &FS{
		Config:    cfg,
		Options:   opts,
		Metrics:   &Metrics{},
		MountTime: time.Now(),
		ix:        ix,
		res:       res,
		cache:     cache,
		engine:    listing.NewEngine(cfg, res, cache),
		rbuf:      rbuf,
	}, nil
}

// Cleanup does filesystem cleanup and blocks until done.
func (fsys *FS) Cleanup() {
	fsys.ix.Cleanup()
	fsys.cache.Cleanup()
}

// Index exposes the archive index for diagnostics.
func (fsys *FS) Index() *archive.Index {
	return fsys.ix
}

// ListingCache exposes the listing cache for diagnostics.
func (fsys *FS) ListingCache() *listing.Cache {
	return fsys.cache
}

// Root returns the entry-point [fs.Node] of the filesystem.
func (fsys *FS) Root() (fs.Node, error) {
	return &synthDirNode{
		fsys:  fsys,
		inode: rootInode,
		mtime: fsys.MountTime,
	}, nil
}

// Statfs passes block and inode counts through from the physical root.
func (fsys *FS) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	var st unix.Statfs_t
	if err := unix.Statfs(fsys.Config.App.Filestore, &st); err != nil {
		return toFuseErr(err)
	}

	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = uint32(st.Bsize)
	resp.Namelen = 255
	resp.Frsize = uint32(st.Bsize)

	return nil
}

// GenerateInode implements [fs.FSInodeGenerator] to prevent dynamic
// inode generation by the fallback method inside of the FUSE library.
//
// [FS] derives every inode from the fully-qualified virtual path, so a
// dynamic fallback generation is a core violation of that design. Calls to
// this method panic, revealing where inode handling missed a node.
func (fsys *FS) GenerateInode(_ uint64, _ string) uint64 {
	panic("unhandled zero inode triggered an illegal dynamic generation")
}
