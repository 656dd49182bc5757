// Package archive implements the archive index.
//
// The index builds and caches a logical directory tree per ZIP archive it is
// asked about. Snapshots are keyed by the archive's (path, mtime, size) and
// built under a per-path single-flight, so concurrent requests for the same
// archive collapse to one physical scan. Member reads go through refcounted
// archive readers guarded by a file-descriptor limit.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSnapshotCap = 64
	defaultSnapshotTTL = 60 * time.Second
	defaultFDLimit     = 64
)

// ErrMemberNotFound is returned for member paths absent from a snapshot.
var ErrMemberNotFound = errors.New("member not found in archive")

// Options contains the settings for the archive index.
// All non-atomic fields can no longer be modified once the index is built.
type Options struct {
	// SnapshotCap is the capacity of the snapshot LRU.
	SnapshotCap uint64

	// SnapshotTTL is the time-to-live for each cached snapshot.
	SnapshotTTL time.Duration

	// FDLimit bounds the number of concurrently open archives.
	FDLimit int

	// MustCRC32 forces stored (uncompressed) members through the integrity
	// verification read path, which is slower.
	MustCRC32 atomic.Bool
}

// DefaultOptions returns a pointer to [Options] with the default values.
func DefaultOptions() *Options {
	return &Options{
		SnapshotCap: defaultSnapshotCap,
		SnapshotTTL: defaultSnapshotTTL,
		FDLimit:     defaultFDLimit,
	}
}

// Metrics contains all metrics collected within the archive index.
type Metrics struct {
	// OpenArchives is the amount of currently open archive readers.
	OpenArchives atomic.Int64

	// TotalOpenedArchives is the amount of opened archive readers.
	TotalOpenedArchives atomic.Int64

	// TotalClosedArchives is the amount of closed archive readers.
	TotalClosedArchives atomic.Int64

	// TotalIndexTime is time spent building archive snapshots.
	TotalIndexTime atomic.Int64

	// TotalIndexCount is the amount of snapshot builds.
	TotalIndexCount atomic.Int64

	// TotalExtractTime is time spent extracting member data.
	TotalExtractTime atomic.Int64

	// TotalExtractCount is the amount of member extractions.
	TotalExtractCount atomic.Int64

	// TotalExtractBytes is the amount of member bytes extracted.
	TotalExtractBytes atomic.Int64

	// TotalSnapshotHits is the amount of snapshot cache hits.
	TotalSnapshotHits atomic.Int64

	// TotalSnapshotMisses is the amount of snapshot cache misses.
	TotalSnapshotMisses atomic.Int64
}

// Index is the archive index.
type Index struct {
	Options *Options
	Metrics *Metrics

	cache   *ttlcache.Cache[string, *Snapshot]
	group   singleflight.Group
	fdlimit chan struct{}
}

// NewIndex returns a pointer to a new [Index].
// You must call Cleanup() once all work is complete.
func NewIndex(opts *Options) *Index {
	if opts == nil {
		opts = DefaultOptions()
	}

	ix := &Index{
		Options: opts,
		Metrics: &Metrics{},
		fdlimit: make(chan struct{}, opts.FDLimit),
	}
	ix.cache = ttlcache.New(
		ttlcache.WithTTL[string, *Snapshot](opts.SnapshotTTL),
		ttlcache.WithCapacity[string, *Snapshot](opts.SnapshotCap),
	)
	go ix.cache.Start()

	return ix
}

// Cleanup stops the snapshot cache and blocks until done.
func (ix *Index) Cleanup() {
	ix.cache.Stop()
	ix.cache.DeleteAll()
}

// Snapshot returns the snapshot for the archive at path, building it when
// no cached snapshot matches the archive's current (mtime, size).
//
// Snapshot handed out remain valid for their holders even after the backing
// archive changes; only new calls observe the re-keyed state.
func (ix *Index) Snapshot(archivePath string) (*Snapshot, error) {
	fi, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	if snap := ix.cachedSnapshot(archivePath, fi); snap != nil {
		ix.Metrics.TotalSnapshotHits.Add(1)

		return snap, nil
	}
	ix.Metrics.TotalSnapshotMisses.Add(1)

	v, err, _ := ix.group.Do(archivePath, func() (any, error) {
		if snap := ix.cachedSnapshot(archivePath, fi); snap != nil {
			return snap, nil
		}

		m := ix.newMetric(false)
		defer m.Done()

		r, err := ix.openReader(archivePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		defer r.Release() //nolint:errcheck

		snap := buildSnapshot(archivePath, fi.ModTime(), fi.Size(), &r.ReadCloser.Reader)
		ix.cache.Set(archivePath, snap, ttlcache.DefaultTTL)

		return snap, nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return v.(*Snapshot), nil //nolint:forcetypeassert
}

func (ix *Index) cachedSnapshot(archivePath string, fi os.FileInfo) *Snapshot {
	item := ix.cache.Get(archivePath)
	if item == nil {
		return nil
	}

	snap := item.Value()
	if !snap.ModTime.Equal(fi.ModTime()) || snap.FileSize != fi.Size() {
		ix.cache.Delete(archivePath)

		return nil
	}

	return snap
}

// OpenMember opens one member of a snapshot for streaming reads. The caller
// must Close() the [MemberReader] and then Release() the [Reader].
func (ix *Index) OpenMember(snap *Snapshot, memberPath string) (*Reader, *MemberReader, error) {
	member, ok := snap.Member(memberPath)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q in %q", ErrMemberNotFound, memberPath, snap.Path)
	}

	r, err := ix.openReader(snap.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// The file table position from indexing time is a hint; the archive may
	// have been replaced since the snapshot was taken. Verify before use.
	if member.fileIndex < len(r.File) {
		if norm, ok := normalizeMemberPath(r.File[member.fileIndex].Name); ok && norm == memberPath {
			mr, err := ix.newMemberReader(r.File[member.fileIndex])
			if err != nil {
				_ = r.Release()

				return nil, nil, err
			}

			return r, mr, nil
		}
	}

	for _, f := range r.File {
		if norm, ok := normalizeMemberPath(f.Name); ok && norm == memberPath {
			mr, err := ix.newMemberReader(f)
			if err != nil {
				_ = r.Release()

				return nil, nil, err
			}

			return r, mr, nil
		}
	}
	_ = r.Release()

	return nil, nil, fmt.Errorf("%w: %q in %q", ErrMemberNotFound, memberPath, snap.Path)
}

// ReadMemberAt reads up to len(buf) bytes of a member starting at offset.
// Short reads at EOF are legal; reads beyond EOF return zero bytes.
func (ix *Index) ReadMemberAt(snap *Snapshot, memberPath string, offset int64, buf []byte) (int, error) {
	m := ix.newMetric(true)
	defer m.Done()

	r, mr, err := ix.OpenMember(snap, memberPath)
	if err != nil {
		return 0, err
	}
	defer r.Release()  //nolint:errcheck
	defer mr.Close()   //nolint:errcheck

	if _, err := mr.ForwardTo(offset); err != nil {
		return 0, err
	}

	n, err := io.ReadFull(mr, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return n, fmt.Errorf("failed to read member: %w", err)
	}
	m.AddBytes(int64(n))

	return n, nil
}

// ReadMemberAll reads a member's entire contents into memory.
func (ix *Index) ReadMemberAll(snap *Snapshot, memberPath string) ([]byte, error) {
	m := ix.newMetric(true)
	defer m.Done()

	r, mr, err := ix.OpenMember(snap, memberPath)
	if err != nil {
		return nil, err
	}
	defer r.Release() //nolint:errcheck
	defer mr.Close()  //nolint:errcheck

	data, err := io.ReadAll(mr)
	if err != nil {
		return nil, fmt.Errorf("failed to read member: %w", err)
	}
	m.AddBytes(int64(len(data)))

	return data, nil
}

// metric measures one indexing or extraction operation.
type metric struct {
	ix        *Index
	start     time.Time
	isExtract bool
	bytes     int64
}

func (ix *Index) newMetric(isExtract bool) *metric {
	return &metric{ix: ix, start: time.Now(), isExtract: isExtract}
}

// AddBytes records extracted payload bytes for the operation.
func (m *metric) AddBytes(n int64) {
	m.bytes += n
}

// Done finalizes the measurement into the index metrics.
func (m *metric) Done() {
	if m.isExtract {
		m.ix.Metrics.TotalExtractTime.Add(time.Since(m.start).Nanoseconds())
		m.ix.Metrics.TotalExtractCount.Add(1)
		m.ix.Metrics.TotalExtractBytes.Add(m.bytes)
	} else {
		m.ix.Metrics.TotalIndexTime.Add(time.Since(m.start).Nanoseconds())
		m.ix.Metrics.TotalIndexCount.Add(1)
	}
}
