package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/sirupsen/logrus"

	"github.com/Keksclan/goRawrStash/expiry"
	"github.com/Keksclan/goRawrStash/quota"
)

const (
	entryExt   = ".entry"
	tempPrefix = ".tmp-"
	workQueue  = 64
)

// Disk is a persistent cache rooted at one namespace directory. Every key maps
// to one file named by the SHA-256 of the key's canonical encoding:
//
//	<root>/<sanitized-namespace>/<hex-sha256>.entry
//
// A file holds the encoded value and its optional expiry. Files are replaced
// atomically (temp file + rename). The file modification time is the only LRU
// signal and is refreshed on every successful read.
//
// All file access of one Disk runs on a single worker goroutine, so a read
// observes every earlier write to the same store. Callers block until their
// operation completed or their context ended; an operation that was already
// queued runs to completion either way.
type Disk[K comparable, V any] struct {
	fs        billy.Filesystem
	namespace string

	maxSize    int
	defaultTTL expiry.TTL
	now        func() time.Time
	codec      Codec
	quota      *quota.Manager
	metrics    *Metrics
	log        logrus.FieldLogger

	w *worker
}

// record is the on-disk representation of an entry.
type record[V any] struct {
	Value  V          `json:"value"`
	Expiry *time.Time `json:"expiry,omitempty"`
}

// OpenDisk creates a Disk store under dir on the local filesystem.
func OpenDisk[K comparable, V any](dir, namespace string, opts ...Option) (*Disk[K, V], error) {
	if dir == "" {
		return nil, errors.New("cache: storage directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return NewDisk[K, V](osfs.New(dir), namespace, opts...)
}

// NewDisk creates a Disk store in the namespace directory of root. It honours
// WithMaxSize, WithDefaultTTL, WithClock, WithCodec, WithQuota, WithMetrics
// and WithLogger. When a quota manager is attached its count for namespace is
// resynchronized from the files already present.
func NewDisk[K comparable, V any](root billy.Filesystem, namespace string, opts ...Option) (*Disk[K, V], error) {
	o := buildOptions(opts)

	dir := SanitizeNamespace(namespace)
	if err := root.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create namespace directory: %w", err)
	}
	nsfs, err := root.Chroot(dir)
	if err != nil {
		return nil, fmt.Errorf("chroot namespace directory: %w", err)
	}

	d := &Disk[K, V]{
		fs:         nsfs,
		namespace:  namespace,
		maxSize:    o.maxSize,
		defaultTTL: o.defaultTTL,
		now:        o.now,
		codec:      o.codec,
		quota:      o.quota,
		metrics:    o.metrics,
		log: o.logger.WithFields(logrus.Fields{
			"tier":      tierDisk,
			"namespace": namespace,
		}),
	}

	if d.quota != nil {
		entries, err := d.entries()
		if err != nil {
			return nil, fmt.Errorf("scan namespace directory: %w", err)
		}
		d.quota.UpdateCount(namespace, len(entries))
	}

	d.w = newWorker(workQueue)
	return d, nil
}

// Namespace returns the namespace the store was opened with.
func (d *Disk[K, V]) Namespace() string { return d.namespace }

// Get returns the value stored under key. Missing, undecodable and expired
// files are misses; the latter two are deleted.
func (d *Disk[K, V]) Get(ctx context.Context, key K) (V, bool) {
	v, _, ok := d.GetWithExpiry(ctx, key)
	return v, ok
}

// GetWithExpiry is Get plus the stored expiry instant; the zero time means
// the entry never expires.
func (d *Disk[K, V]) GetWithExpiry(ctx context.Context, key K) (V, time.Time, bool) {
	type result struct {
		value  V
		expiry time.Time
		ok     bool
	}
	r, _ := run(ctx, d.w, func() result {
		v, at, ok := d.get(key)
		return result{v, at, ok}
	})
	if r.ok {
		d.metrics.hit(tierDisk)
	} else {
		d.metrics.miss(tierDisk)
	}
	return r.value, r.expiry, r.ok
}

// Put writes value under key, then evicts the least recently used files when
// the store is over capacity. Failures leave the store unchanged.
func (d *Disk[K, V]) Put(ctx context.Context, key K, value V, ttl expiry.TTL) {
	run(ctx, d.w, func() struct{} {
		d.put(key, value, ttl)
		return struct{}{}
	})
}

// Remove deletes the file of key if present.
func (d *Disk[K, V]) Remove(ctx context.Context, key K) {
	run(ctx, d.w, func() struct{} {
		if name, ok := d.filename(key); ok {
			d.removeFile(name, "remove")
		}
		return struct{}{}
	})
}

// Clear deletes every file in the namespace directory.
func (d *Disk[K, V]) Clear(ctx context.Context) {
	run(ctx, d.w, func() struct{} {
		d.clear()
		return struct{}{}
	})
}

// Len returns the number of entry files in the namespace directory.
func (d *Disk[K, V]) Len(ctx context.Context) int {
	n, _ := run(ctx, d.w, func() int {
		entries, err := d.entries()
		if err != nil {
			d.log.WithError(err).WithField("action", "len").Debug("list entries failed")
		}
		return len(entries)
	})
	return n
}

// Close stops the worker. Operations issued after Close are misses and
// no-ops. Close is safe to call multiple times.
func (d *Disk[K, V]) Close() error {
	d.w.stop()
	return nil
}

// SanitizeNamespace maps a namespace to a single, inert path segment. The
// mapping is injective: path separators and every other byte that is unsafe
// in a path segment are percent-escaped, and the dot-only names "." and ".."
// are escaped as well. ':' is escaped too, because it separates the
// namespace from the digest in Redis keys.
func SanitizeNamespace(namespace string) string {
	s := url.PathEscape(namespace)
	s = strings.ReplaceAll(s, "\\", "%5C")
	s = strings.ReplaceAll(s, ":", "%3A")
	switch s {
	case "":
		return "%00"
	case ".", "..":
		return strings.ReplaceAll(s, ".", "%2E")
	}
	return s
}

// --- worker-side operations ---------------------------------------------------

func (d *Disk[K, V]) filename(key K) (string, bool) {
	digest, err := KeyDigest(key)
	if err != nil {
		d.log.WithError(err).WithField("action", "filename").Debug("key encoding failed")
		return "", false
	}
	return digest + entryExt, true
}

func (d *Disk[K, V]) get(key K) (V, time.Time, bool) {
	var zero V
	name, ok := d.filename(key)
	if !ok {
		return zero, time.Time{}, false
	}

	data, err := util.ReadFile(d.fs, name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.log.WithError(err).WithField("action", "read").Debug("read entry failed")
		}
		return zero, time.Time{}, false
	}

	var rec record[V]
	if err := d.codec.Unmarshal(data, &rec); err != nil {
		d.log.WithError(err).WithField("action", "decode").Debug("dropping corrupt entry")
		d.removeFile(name, "corrupt")
		return zero, time.Time{}, false
	}

	if rec.Expiry != nil && expiry.Expired(*rec.Expiry, d.now()) {
		d.removeFile(name, "expired")
		d.metrics.evicted(tierDisk, 1)
		return zero, time.Time{}, false
	}

	d.touch(name, data)
	var at time.Time
	if rec.Expiry != nil {
		at = *rec.Expiry
	}
	return rec.Value, at, true
}

func (d *Disk[K, V]) put(key K, value V, ttl expiry.TTL) {
	name, ok := d.filename(key)
	if !ok {
		d.metrics.writeFailed(tierDisk)
		return
	}

	rec := record[V]{Value: value}
	if at, ok := expiry.Compute(ttl, d.defaultTTL, d.now()); ok {
		rec.Expiry = &at
	}
	data, err := d.codec.Marshal(rec)
	if err != nil {
		d.log.WithError(err).WithField("action", "encode").Debug("value encoding failed")
		d.metrics.writeFailed(tierDisk)
		return
	}

	isNew := !d.exists(name)
	if d.quota != nil && !d.quota.CanStore(d.namespace, len(data), isNew) {
		d.log.WithFields(logrus.Fields{
			"action": "quota",
			"bytes":  len(data),
		}).Debug("write rejected by quota")
		d.metrics.writeFailed(tierDisk)
		return
	}

	if err := d.writeFile(name, data); err != nil {
		d.log.WithError(err).WithField("action", "write").Debug("write entry failed")
		d.metrics.writeFailed(tierDisk)
		return
	}
	if isNew && d.quota != nil {
		d.quota.RecordAddition(d.namespace)
	}
	d.touch(name, nil)
	d.evict()
}

// writeFile replaces name with data through a temp file and a rename, so a
// reader sees either the old or the new content, never a partial file.
func (d *Disk[K, V]) writeFile(name string, data []byte) error {
	f, err := d.fs.TempFile("", tempPrefix)
	if err != nil {
		return err
	}
	tmp := f.Name()

	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = d.fs.Remove(tmp)
		return err
	}

	if err := d.fs.Rename(tmp, name); err != nil {
		_ = d.fs.Remove(tmp)
		return err
	}
	return nil
}

// touch refreshes the modification time of name. Filesystems without
// billy.Change get the content rewritten instead, which also moves the mtime.
func (d *Disk[K, V]) touch(name string, data []byte) {
	now := d.now()
	if ch, ok := d.fs.(billy.Change); ok {
		if err := ch.Chtimes(name, now, now); err == nil {
			return
		}
	}
	if data == nil {
		// Freshly renamed files already carry the current time.
		return
	}
	if err := d.writeFile(name, data); err != nil {
		d.log.WithError(err).WithField("action", "touch").Debug("refresh access time failed")
	}
}

func (d *Disk[K, V]) exists(name string) bool {
	_, err := d.fs.Stat(name)
	return err == nil
}

func (d *Disk[K, V]) removeFile(name, reason string) {
	err := d.fs.Remove(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.log.WithError(err).WithField("action", reason).Debug("remove entry failed")
		}
		return
	}
	if d.quota != nil {
		d.quota.RecordRemoval(d.namespace)
	}
}

// entries lists the entry files of the namespace, skipping temp files and
// directories.
func (d *Disk[K, V]) entries() ([]os.FileInfo, error) {
	infos, err := d.fs.ReadDir("")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := infos[:0]
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), entryExt) {
			continue
		}
		out = append(out, fi)
	}
	return out, nil
}

// evict deletes the oldest files until at most maxSize remain.
func (d *Disk[K, V]) evict() {
	if d.maxSize <= 0 {
		return
	}
	entries, err := d.entries()
	if err != nil {
		d.log.WithError(err).WithField("action", "evict").Debug("list entries failed")
		return
	}
	excess := len(entries) - d.maxSize
	if excess <= 0 {
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].ModTime(), entries[j].ModTime()
		if ti.Equal(tj) {
			return entries[i].Name() < entries[j].Name()
		}
		return ti.Before(tj)
	})
	for _, fi := range entries[:excess] {
		d.removeFile(fi.Name(), "evict")
	}
	d.metrics.evicted(tierDisk, excess)
}

func (d *Disk[K, V]) clear() {
	infos, err := d.fs.ReadDir("")
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.log.WithError(err).WithField("action", "clear").Debug("list entries failed")
		}
		return
	}
	for _, fi := range infos {
		if err := util.RemoveAll(d.fs, fi.Name()); err != nil {
			d.log.WithError(err).WithField("action", "clear").Debug("remove entry failed")
		}
	}
	if d.quota != nil {
		d.quota.UpdateCount(d.namespace, 0)
	}
}

var _ ExpiringBackend[string, string] = (*Disk[string, string])(nil)
