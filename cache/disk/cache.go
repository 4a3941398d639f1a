// Package disk implements the file-backed persistent cache: one sibling
// file per entry under a cache directory, a newline-delimited index
// persisted on every mutation, TTL-based expiry, a size cap enforced by
// evicting the oldest entries, and an integrity check — following
// FileCache/PersistentStorage from the original C++ client
// (wiplib/utils/file_cache.hpp, src/utils/file_cache.cpp), with the
// original's no-op compress_data completed for real using zstd.
package disk

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/U22-2025/WIP-sub001/internal/metrics"
	"github.com/U22-2025/WIP-sub001/internal/pathsafe"
	"github.com/U22-2025/WIP-sub001/internal/wiperr"
	"github.com/U22-2025/WIP-sub001/internal/wiplog"
)

// Defaults per spec §4.J.
const (
	DefaultMaxBytes          = 100 * 1024 * 1024
	DefaultTTL               = 24 * time.Hour
	DefaultCompressThreshold = 4096
	DefaultCleanupInterval   = 10 * time.Minute

	indexFileName = "index.txt"
	valueFileExt  = ".cache"

	tagRaw  byte = 0
	tagZstd byte = 1
)

// Entry is one tracked disk-cache record's metadata.
type Entry struct {
	Key     string
	Path    string
	Created time.Time
	TTL     time.Duration
	Size    int64
}

func (e Entry) expired(now time.Time, defaultTTL time.Duration) bool {
	ttl := e.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.Created) > ttl
}

// Options configures a Cache. Zero values fall back to the spec defaults.
type Options struct {
	Dir               string
	MaxBytes          int64
	DefaultTTL        time.Duration
	CompressThreshold int64
	Metrics           *metrics.Cache
}

// Cache is a file-backed key/value store with TTL expiry and a size cap.
type Cache struct {
	dir               string
	maxBytes          int64
	defaultTTL        time.Duration
	compressThreshold int64
	m                 *metrics.Cache

	mu    sync.Mutex
	index map[string]Entry

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens (and creates, if absent) the cache directory at opts.Dir,
// loading any existing index, skipping entries whose TTL has expired.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("disk cache requires a directory"))
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.CompressThreshold <= 0 {
		opts.CompressThreshold = DefaultCompressThreshold
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, wiperr.Wrap(wiperr.IOError, fmt.Errorf("creating cache directory %s: %w", opts.Dir, err))
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, wiperr.Wrap(wiperr.IOError, err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, wiperr.Wrap(wiperr.IOError, err)
	}

	c := &Cache{
		dir:               opts.Dir,
		maxBytes:          opts.MaxBytes,
		defaultTTL:        opts.DefaultTTL,
		compressThreshold: opts.CompressThreshold,
		m:                 opts.Metrics,
		index:             make(map[string]Entry),
		encoder:           enc,
		decoder:           dec,
	}

	if err := c.loadIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) indexPath() string { return filepath.Join(c.dir, indexFileName) }

// loadIndex reads the on-disk index, dropping (not re-persisting) entries
// whose TTL has already elapsed as of now.
func (c *Cache) loadIndex() error {
	f, err := os.Open(c.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return wiperr.Wrap(wiperr.IOError, fmt.Errorf("opening cache index: %w", err))
	}
	defer f.Close()

	now := time.Now()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 3)
		if len(parts) != 3 {
			wiplog.Logf("disk cache: skipping malformed index line %q", line)
			continue
		}
		keyBytes, err := base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			wiplog.Logf("disk cache: skipping index line with bad key encoding: %v", err)
			continue
		}
		createdUnix, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			wiplog.Logf("disk cache: skipping index line with bad timestamp: %v", err)
			continue
		}
		key := string(keyBytes)
		created := time.Unix(createdUnix, 0)
		entry := Entry{
			Key:     key,
			Path:    c.valuePath(key),
			Created: created,
		}
		if entry.expired(now, c.defaultTTL) {
			continue
		}
		if info, err := os.Stat(entry.Path); err == nil {
			entry.Size = info.Size()
		}
		c.index[key] = entry
	}
	return scanner.Err()
}

// persistIndexLocked rewrites the entire index file from the in-memory
// index, atomically via a temp file and rename, satisfying "every mutation
// writes through to disk before returning success". Callers must hold c.mu.
func (c *Cache) persistIndexLocked() error {
	tmp, err := os.CreateTemp(c.dir, "index-*.tmp")
	if err != nil {
		return wiperr.Wrap(wiperr.IOError, fmt.Errorf("creating temp index file: %w", err))
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, e := range c.index {
		keyB64 := base64.StdEncoding.EncodeToString([]byte(e.Key))
		raw, err := c.readValueFile(e.Path)
		if err != nil {
			continue // dropped between index mutation and flush; skip, not fatal
		}
		valueB64 := base64.StdEncoding.EncodeToString(raw)
		fmt.Fprintf(w, "%s,%d,%s\n", keyB64, e.Created.Unix(), valueB64)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return wiperr.Wrap(wiperr.IOError, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return wiperr.Wrap(wiperr.IOError, err)
	}
	if err := os.Rename(tmpPath, c.indexPath()); err != nil {
		os.Remove(tmpPath)
		return wiperr.Wrap(wiperr.IOError, fmt.Errorf("replacing cache index: %w", err))
	}
	return nil
}

// valuePath derives a sibling value file's path from key: a sanitised form
// of the key (non-alphanumerics replaced with '_', per spec §6) plus an
// xxhash suffix so two keys that sanitise identically don't collide.
func (c *Cache) valuePath(key string) string {
	sanitized := pathsafe.SanitizeKey(key)
	suffix := strconv.FormatUint(xxhash.Sum64String(key), 16)
	return filepath.Join(c.dir, sanitized+"-"+suffix+valueFileExt)
}

func (c *Cache) writeValueFile(path string, data []byte) error {
	var tag byte = tagRaw
	payload := data
	if int64(len(data)) > c.compressThreshold {
		payload = c.encoder.EncodeAll(data, nil)
		tag = tagZstd
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, tag)
	out = append(out, payload...)
	return os.WriteFile(path, out, 0o644)
}

func (c *Cache) readValueFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	tag, payload := raw[0], raw[1:]
	if tag == tagZstd {
		return c.decoder.DecodeAll(payload, nil)
	}
	return payload, nil
}

// Put stores value under key using the cache's configured default TTL.
func (c *Cache) Put(key string, value []byte) error {
	return c.PutTTL(key, value, c.defaultTTL)
}

// PutTTL stores value under key with an explicit TTL; a negative ttl means
// the entry never expires, and a ttl of zero uses the cache's default TTL.
// The value is written to its sibling file, and the
// index is fully re-persisted, before this call returns.
func (c *Cache) PutTTL(key string, value []byte, ttl time.Duration) error {
	path := c.valuePath(key)
	if err := c.writeValueFile(path, value); err != nil {
		return wiperr.Wrap(wiperr.IOError, fmt.Errorf("writing cache value for %q: %w", key, err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[key] = Entry{Key: key, Path: path, Created: time.Now(), TTL: ttl, Size: int64(len(value))}
	if err := c.persistIndexLocked(); err != nil {
		return err
	}
	if m := c.m; m != nil {
		m.Entries.Set(float64(len(c.index)))
	}
	return c.enforceSizeLimitLocked()
}

// Get returns key's value if present, unexpired, and its sibling file still
// exists. A missing sibling file is treated as an implicit expiry: the
// stale index entry is dropped.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	c.mu.Lock()
	entry, ok := c.index[key]
	if !ok {
		c.mu.Unlock()
		c.incMetric(func(m *metrics.Cache) { m.Misses.Inc() })
		return nil, false, nil
	}
	if entry.expired(time.Now(), c.defaultTTL) {
		delete(c.index, key)
		err := c.persistIndexLocked()
		c.mu.Unlock()
		c.incMetric(func(m *metrics.Cache) { m.Misses.Inc() })
		return nil, false, err
	}
	c.mu.Unlock()

	data, err := c.readValueFile(entry.Path)
	if os.IsNotExist(err) {
		c.mu.Lock()
		delete(c.index, key)
		perr := c.persistIndexLocked()
		c.mu.Unlock()
		c.incMetric(func(m *metrics.Cache) { m.Misses.Inc() })
		return nil, false, perr
	}
	if err != nil {
		return nil, false, wiperr.Wrap(wiperr.IOError, fmt.Errorf("reading cache value for %q: %w", key, err))
	}
	c.incMetric(func(m *metrics.Cache) { m.Hits.Inc() })
	return data, true, nil
}

// Remove deletes key's sibling file and index entry, reporting whether it
// was present.
func (c *Cache) Remove(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.index[key]
	if !ok {
		return false, nil
	}
	delete(c.index, key)
	_ = os.Remove(entry.Path)
	if err := c.persistIndexLocked(); err != nil {
		return true, err
	}
	if m := c.m; m != nil {
		m.Entries.Set(float64(len(c.index)))
	}
	return true, nil
}

// Contains reports whether key is present and unexpired, without touching
// its sibling file.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.index[key]
	return ok && !entry.expired(time.Now(), c.defaultTTL)
}

// Size returns the number of tracked entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Clear removes every entry's sibling file and empties the index.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.index {
		_ = os.Remove(e.Path)
	}
	c.index = make(map[string]Entry)
	if m := c.m; m != nil {
		m.Entries.Set(0)
		m.BytesUsed.Set(0)
	}
	return c.persistIndexLocked()
}

// Keys returns every tracked, unexpired key. Order is unspecified.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	keys := make([]string, 0, len(c.index))
	for k, e := range c.index {
		if !e.expired(now, c.defaultTTL) {
			keys = append(keys, k)
		}
	}
	return keys
}

// CleanupExpired removes every entry whose TTL has elapsed, returning the
// count removed.
func (c *Cache) CleanupExpired() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range c.index {
		if e.expired(now, c.defaultTTL) {
			_ = os.Remove(e.Path)
			delete(c.index, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if m := c.m; m != nil {
		m.Entries.Set(float64(len(c.index)))
	}
	return removed, c.persistIndexLocked()
}

// DiskUsage sums the sibling file sizes of every tracked entry.
func (c *Cache) DiskUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diskUsageLocked()
}

func (c *Cache) diskUsageLocked() int64 {
	var total int64
	for _, e := range c.index {
		if info, err := os.Stat(e.Path); err == nil {
			total += info.Size()
		}
	}
	return total
}

// enforceSizeLimitLocked evicts the oldest entries (by Created) until total
// disk usage fits within maxBytes. Callers must hold c.mu.
func (c *Cache) enforceSizeLimitLocked() error {
	if c.diskUsageLocked() <= c.maxBytes {
		return nil
	}

	ordered := make([]Entry, 0, len(c.index))
	for _, e := range c.index {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Created.Before(ordered[j].Created) })

	for _, e := range ordered {
		if c.diskUsageLocked() <= c.maxBytes {
			break
		}
		_ = os.Remove(e.Path)
		delete(c.index, e.Key)
	}
	if m := c.m; m != nil {
		m.Entries.Set(float64(len(c.index)))
		m.BytesUsed.Set(float64(c.diskUsageLocked()))
	}
	return c.persistIndexLocked()
}

// VerifyIntegrity reports the keys whose sibling file is missing, without
// mutating the index (mirroring the original's read-only verify_integrity).
func (c *Cache) VerifyIntegrity() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var missing []string
	for k, e := range c.index {
		if _, err := os.Stat(e.Path); err != nil {
			missing = append(missing, k)
		}
	}
	return missing
}

func (c *Cache) incMetric(f func(*metrics.Cache)) {
	if c.m != nil {
		f(c.m)
	}
}

// StartCleanup runs CleanupExpired every interval (DefaultCleanupInterval
// if zero) until ctx is done or Close is called. Failures are logged, never
// propagated to the caller, per the background-maintenance error policy.
func (c *Cache) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.CleanupExpired(); err != nil {
					wiplog.Logf("disk cache: cleanup pass failed: %v", err)
				}
			}
		}
	}()
}

// Close stops the background cleanup goroutine started by StartCleanup, if
// any, and waits for it to exit.
func (c *Cache) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
