package archive

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/klauspost/compress/zip"
)

// Reader is a thread-safe, metrics-aware [zip.ReadCloser].
//
// It allows for multiple members to be read concurrently, while keeping the
// archive open, and internally tracking a reference count.
type Reader struct {
	*zip.ReadCloser

	ix       *Index
	refCount atomic.Int32
}

// openReader returns a pointer to a new [Reader] for the given path.
//
// A new [Reader] is always returned with a reference count of one, so
// one-shot calls only need to call Release() after use. When sharing the
// [Reader], ensure to always Acquire() and Release() in pairs.
func (ix *Index) openReader(path string) (*Reader, error) {
	ix.fdlimit <- struct{}{}

	rc, err := zip.OpenReader(path)
	if err != nil {
		<-ix.fdlimit

		return nil, err //nolint:wrapcheck
	}

	ix.Metrics.OpenArchives.Add(1)
	ix.Metrics.TotalOpenedArchives.Add(1)

	r := &Reader{
		ReadCloser: rc,
		ix:         ix,
	}
	r.Acquire() // for caller

	return r, nil
}

// Acquire increases the reference count by one; it must be called every
// time the [Reader] gains an additional holder.
func (r *Reader) Acquire() {
	r.refCount.Add(1)
}

// Release decreases the reference count by one and closes the [Reader]
// once the new reference count is exactly zero.
func (r *Reader) Release() error {
	if r.refCount.Add(-1) == 0 {
		return r.closeReader()
	}

	return nil
}

// Close is not supported and will always panic when being used.
// You must use Release() instead, which internally calls Close().
func (r *Reader) Close() error {
	panic("unsupported direct close of archive reader, use Release() instead")
}

func (r *Reader) closeReader() error {
	defer func() {
		<-r.ix.fdlimit
	}()

	r.ix.Metrics.OpenArchives.Add(-1)
	r.ix.Metrics.TotalClosedArchives.Add(1)

	return r.ReadCloser.Close() //nolint:wrapcheck
}

var (
	_ io.ReadCloser = (*MemberReader)(nil)

	// errNonSeekableRewind occurs when rewinding a non-seekable member.
	errNonSeekableRewind = errors.New("cannot rewind non-seekable member")
)

// MemberReader opens a [zip.File] for reading and forward seeking.
// Depending on compression and runtime options, the seeking is implemented
// either by actual seeking (type assertion) or reading bytes to [io.Discard].
//
// It is not thread-safe; open a separate [MemberReader] per concurrent read.
type MemberReader struct {
	f   *zip.File
	r   io.Reader
	pos int64
}

// newMemberReader opens a [zip.File] and returns a new [MemberReader].
// You must ensure that Close() will always be called after use is complete.
func (ix *Index) newMemberReader(f *zip.File) (*MemberReader, error) {
	var r io.Reader
	var err error

	if f.Method == zip.Store && !ix.Options.MustCRC32.Load() {
		r, err = f.OpenRaw()
	} else {
		r, err = f.Open()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open member: %w", err)
	}

	return &MemberReader{r: r, f: f}, nil
}

// Read facilitates reading of a fixed amount of bytes.
func (mr *MemberReader) Read(p []byte) (int, error) {
	n, err := mr.r.Read(p)
	mr.pos += int64(n)

	return n, err //nolint:wrapcheck
}

// ForwardTo advances the reader position to the specified offset.
// It returns the offset of the internal reader position and an error.
// [errNonSeekableRewind] is returned upon rewinding a non-seekable member.
func (mr *MemberReader) ForwardTo(offset int64) (int64, error) {
	if offset == mr.pos {
		return mr.pos, nil
	}

	if seeker, ok := mr.r.(io.Seeker); ok {
		n, err := seeker.Seek(offset, io.SeekStart)
		mr.pos = n
		if err != nil {
			return mr.pos, fmt.Errorf("failed to seek: %w", err)
		}

		return mr.pos, nil
	}

	if offset < mr.pos {
		return mr.pos, fmt.Errorf("%w (want %d, current %d)", errNonSeekableRewind, offset, mr.pos)
	}

	n, err := io.CopyN(io.Discard, mr.r, offset-mr.pos)
	mr.pos += n
	if err != nil && !errors.Is(err, io.EOF) {
		return mr.pos, fmt.Errorf("failed to discard: %w", err)
	}

	return mr.pos, nil
}

// Position is the position of the underlying [io.Reader] of [MemberReader].
func (mr *MemberReader) Position() int64 {
	return mr.pos
}

// Close facilitates the closing of the reader after use.
// When the underlying [io.Reader] is not a closer, it is a no-op.
func (mr *MemberReader) Close() error {
	if closer, ok := mr.r.(io.ReadCloser); ok {
		return closer.Close() //nolint:wrapcheck
	}

	return nil
}
