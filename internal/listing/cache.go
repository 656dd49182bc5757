// Package listing implements the directory listing engine and its cache.
//
// The engine materializes virtual directory contents by composing map
// entries, physical directory scans and archive contents. Scans of physical
// directories run through a layered cache: an in-memory TTL LRU backed by
// gob-serialized entries on disk, keyed by the directory's (path, mtime,
// size) and populated under a per-key single-flight.
package listing

import (
	"crypto/sha1" //nolint:gosec // cache key derivation, not security
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GlennPegden2/TransFS/internal/logging"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

const (
	defaultListingCap = 256
	defaultListingTTL = 60 * time.Second
)

// DirEntry is one cached entry of a physical directory scan.
type DirEntry struct {
	Name        string
	Dir         bool
	Size        uint64
	ModTimeUnix int64 // nanoseconds
}

// ModTime returns the entry's modification time.
func (d DirEntry) ModTime() time.Time {
	return time.Unix(0, d.ModTimeUnix)
}

// cachedListing is one scan result plus the key it was taken under.
type cachedListing struct {
	MTimeNS int64
	Size    int64
	Entries []DirEntry
}

// CacheOptions contains the settings for the listing cache.
type CacheOptions struct {
	// Cap is the capacity of the in-memory LRU.
	Cap uint64

	// TTL is the time-to-live for in-memory entries.
	TTL time.Duration

	// DiskDir persists listings across restarts when non-empty.
	DiskDir string
}

// DefaultCacheOptions returns a pointer to [CacheOptions] with defaults.
func DefaultCacheOptions() *CacheOptions {
	return &CacheOptions{
		Cap: defaultListingCap,
		TTL: defaultListingTTL,
	}
}

// CacheMetrics contains all metrics collected within the listing cache.
type CacheMetrics struct {
	// TotalHits is the amount of in-memory cache hits.
	TotalHits atomic.Int64

	// TotalDiskHits is the amount of on-disk cache hits.
	TotalDiskHits atomic.Int64

	// TotalMisses is the amount of cache misses (physical scans).
	TotalMisses atomic.Int64
}

// Cache is the layered listing cache.
type Cache struct {
	Options *CacheOptions
	Metrics *CacheMetrics

	mem   *ttlcache.Cache[string, *cachedListing]
	group singleflight.Group
}

// NewCache returns a pointer to a new [Cache].
// You must call Cleanup() once all work is complete.
func NewCache(opts *CacheOptions) (*Cache, error) {
	if opts == nil {
		opts = DefaultCacheOptions()
	}
	if opts.DiskDir != "" {
		if err := os.MkdirAll(opts.DiskDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
	}

	c := &Cache{
		Options: opts,
		Metrics: &CacheMetrics{},
	}
	c.mem = ttlcache.New(
		ttlcache.WithTTL[string, *cachedListing](opts.TTL),
		ttlcache.WithCapacity[string, *cachedListing](opts.Cap),
	)
	go c.mem.Start()

	return c, nil
}

// Cleanup stops the in-memory cache and blocks until done.
func (c *Cache) Cleanup() {
	c.mem.Stop()
	c.mem.DeleteAll()
}

// Entries returns the cached listing for one physical directory, scanning
// it when no layer holds a listing matching the directory's current
// (mtime, size). Hidden (dot-prefixed) entries never appear.
//
// Concurrent misses for the same directory collapse into one scan.
func (c *Cache) Entries(dir string) ([]DirEntry, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", dir, err)
	}

	key := dir
	mtime, size := fi.ModTime().UnixNano(), fi.Size()

	if cl := c.memGet(key, mtime, size); cl != nil {
		c.Metrics.TotalHits.Add(1)

		return cl.Entries, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if cl := c.memGet(key, mtime, size); cl != nil {
			return cl, nil
		}

		if cl := c.diskGet(key, mtime, size); cl != nil {
			c.Metrics.TotalDiskHits.Add(1)
			c.mem.Set(key, cl, ttlcache.DefaultTTL)

			return cl, nil
		}
		c.Metrics.TotalMisses.Add(1)

		cl, err := scanDir(dir, mtime, size)
		if err != nil {
			return nil, err
		}

		c.mem.Set(key, cl, ttlcache.DefaultTTL)
		c.diskPut(key, cl)

		return cl, nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return v.(*cachedListing).Entries, nil //nolint:forcetypeassert
}

func (c *Cache) memGet(key string, mtime, size int64) *cachedListing {
	item := c.mem.Get(key)
	if item == nil {
		return nil
	}

	cl := item.Value()
	if cl.MTimeNS != mtime || cl.Size != size {
		c.mem.Delete(key)

		return nil
	}

	return cl
}

// diskPath derives the on-disk cache file for a physical directory.
func (c *Cache) diskPath(key string) string {
	sum := sha1.Sum([]byte(key)) //nolint:gosec

	return filepath.Join(c.Options.DiskDir, hex.EncodeToString(sum[:])+".listing")
}

func (c *Cache) diskGet(key string, mtime, size int64) *cachedListing {
	if c.Options.DiskDir == "" {
		return nil
	}

	f, err := os.Open(c.diskPath(key))
	if err != nil {
		return nil
	}
	defer f.Close()

	var cl cachedListing
	if err := gob.NewDecoder(f).Decode(&cl); err != nil {
		logging.Log.Debugf("discarding undecodable cached listing for %q: %v", key, err)

		return nil
	}
	if cl.MTimeNS != mtime || cl.Size != size {
		return nil
	}

	return &cl
}

func (c *Cache) diskPut(key string, cl *cachedListing) {
	if c.Options.DiskDir == "" {
		return
	}

	target := c.diskPath(key)
	tmp, err := os.CreateTemp(c.Options.DiskDir, ".listing-*")
	if err != nil {
		logging.Log.Debugf("failed to persist listing for %q: %v", key, err)

		return
	}

	if err := gob.NewEncoder(tmp).Encode(cl); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		logging.Log.Debugf("failed to encode listing for %q: %v", key, err)

		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		logging.Log.Debugf("failed to store listing for %q: %v", key, err)
	}
}

// scanDir performs the physical scan and sorts it into the stable order:
// directories before files, then case-insensitive lexicographic.
func scanDir(dir string, mtime, size int64) (*cachedListing, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dir %q: %w", dir, err)
	}

	cl := &cachedListing{MTimeNS: mtime, Size: size}
	for _, de := range entries {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}

		fi, err := de.Info()
		if err != nil {
			logging.Log.Debugf("skipping unstattable entry %q in %q: %v", de.Name(), dir, err)

			continue
		}

		cl.Entries = append(cl.Entries, DirEntry{
			Name:        de.Name(),
			Dir:         de.IsDir(),
			Size:        uint64(fi.Size()),
			ModTimeUnix: fi.ModTime().UnixNano(),
		})
	}

	SortEntries(cl.Entries)

	return cl, nil
}

// SortEntries applies the stable listing order in place: directories before
// files, then case-insensitive lexicographic, ties broken case-sensitively.
func SortEntries(entries []DirEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Dir != entries[j].Dir {
			return entries[i].Dir
		}
		li, lj := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if li == lj {
			return entries[i].Name < entries[j].Name
		}

		return li < lj
	})
}
