/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package writebuffer is the write-through, LRU-bounded dirty-page cache
in front of a page store (spec.md §4.H). It holds logical_page_no →
{bytes, dirty, last_used_tick}, bounded by both max_entries and
max_bytes; when either bound is exceeded it evicts the least recently
used pages, clean or dirty, flushing each dirty one first. Once pending-dirty count reaches
auto_flush_threshold, it proactively flushes every dirty page in
ascending page-number order.

The buffer and the underlying store never hold each other's lock at the
same time (spec.md §5): Flush releases the buffer's lock before calling
into the store and reacquires it only to update bookkeeping afterward.
*/
package writebuffer

import (
	"sort"
	"sync"

	ccvfserrors "github.com/firefly-oss/ccvfs/internal/errors"
)

// PageWriter is the subset of pagestore.Store's contract the buffer
// needs to flush dirty pages.
type PageWriter interface {
	WritePage(p uint32, data []byte) error
}

// Config bounds the buffer. New uses the values as given and Validate
// rejects zero bounds; the container's Open substitutes DefaultConfig
// for an all-zero Config.
type Config struct {
	Disabled           bool
	MaxEntries         int
	MaxBytes           int
	AutoFlushThreshold int
}

// DefaultConfig returns spec.md §4.H's defaults: 64 entries, 4 MiB,
// auto-flush at the entry cap.
func DefaultConfig() Config {
	return Config{MaxEntries: 64, MaxBytes: 4 << 20, AutoFlushThreshold: 64}
}

// Validate checks the bounds are internally consistent.
func (c Config) Validate(pageSize int) error {
	if c.Disabled {
		return nil
	}
	if c.MaxEntries <= 0 {
		return ccvfserrors.InvalidArgument("write buffer max_entries must be > 0")
	}
	if c.MaxBytes < pageSize {
		return ccvfserrors.InvalidArgument("write buffer max_bytes must be >= page_size")
	}
	if c.AutoFlushThreshold <= 0 {
		return ccvfserrors.InvalidArgument("write buffer auto_flush_threshold must be > 0")
	}
	return nil
}

// Stats are monotonically non-decreasing usage counters.
type Stats struct {
	Hits                uint64
	Flushes             uint64
	Merges              uint64
	TotalBufferedWrites uint64
}

type entry struct {
	bytes    []byte
	dirty    bool
	lastUsed uint64
}

// Buffer is the LRU-bounded write-through page cache.
type Buffer struct {
	mu      sync.Mutex
	cfg     Config
	store   PageWriter
	entries map[uint32]*entry
	tick    uint64
	stats   Stats
}

// New builds a Buffer in front of store. If cfg.Disabled, Write
// forwards directly to the store and every counter stays zero.
func New(store PageWriter, cfg Config) *Buffer {
	return &Buffer{
		cfg:     cfg,
		store:   store,
		entries: make(map[uint32]*entry),
	}
}

// Write installs page's bytes for logical page p, incrementing
// total_buffered_writes every call and merges additionally when p was
// already present (spec.md §8 scenario 3). If disabled, it writes
// straight through to the store and no counter moves.
func (b *Buffer) Write(p uint32, page []byte) error {
	if b.cfg.Disabled {
		return b.store.WritePage(p, page)
	}

	b.mu.Lock()
	b.tick++
	buf := make([]byte, len(page))
	copy(buf, page)

	if e, ok := b.entries[p]; ok {
		e.bytes = buf
		e.dirty = true
		e.lastUsed = b.tick
		b.stats.Merges++
	} else {
		b.entries[p] = &entry{bytes: buf, dirty: true, lastUsed: b.tick}
	}
	b.stats.TotalBufferedWrites++

	dirtyCount := b.dirtyCountLocked()
	needsEviction := len(b.entries) > b.cfg.MaxEntries || b.bytesUsedLocked() > b.cfg.MaxBytes
	needsAutoFlush := b.cfg.AutoFlushThreshold > 0 && dirtyCount >= b.cfg.AutoFlushThreshold
	b.mu.Unlock()

	if needsEviction {
		if err := b.evictUntilWithinBounds(); err != nil {
			return err
		}
	}
	if needsAutoFlush {
		if err := b.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Read returns a page's bytes if present in the buffer, incrementing
// hits. A miss returns (nil, false) and the caller falls through to the
// store.
func (b *Buffer) Read(p uint32) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[p]
	if !ok {
		return nil, false
	}
	b.tick++
	e.lastUsed = b.tick
	b.stats.Hits++
	out := make([]byte, len(e.bytes))
	copy(out, e.bytes)
	return out, true
}

// Invalidate drops the entry for page p, if present.
func (b *Buffer) Invalidate(p uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, p)
}

func (b *Buffer) dirtyCountLocked() int {
	n := 0
	for _, e := range b.entries {
		if e.dirty {
			n++
		}
	}
	return n
}

func (b *Buffer) bytesUsedLocked() int {
	n := 0
	for _, e := range b.entries {
		n += len(e.bytes)
	}
	return n
}

// Flush writes every dirty page to the store in ascending page-number
// order (spec.md §4.H's recovery-scan-time bound), clears dirty bits,
// and leaves entries in the cache as clean for potential read hits.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	var pages []uint32
	for p, e := range b.entries {
		if e.dirty {
			pages = append(pages, p)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	b.mu.Unlock()

	var flushed int
	for _, p := range pages {
		b.mu.Lock()
		e, ok := b.entries[p]
		if !ok || !e.dirty {
			b.mu.Unlock()
			continue
		}
		data := e.bytes
		b.mu.Unlock()

		if err := b.store.WritePage(p, data); err != nil {
			return err
		}

		b.mu.Lock()
		if e2, ok := b.entries[p]; ok {
			e2.dirty = false
		}
		flushed++
		b.mu.Unlock()
	}

	b.mu.Lock()
	b.stats.Flushes += uint64(flushed)
	b.mu.Unlock()
	return nil
}

// evictUntilWithinBounds drops the least recently used page, flushing it
// first if dirty, until the buffer satisfies both max_entries and
// max_bytes.
func (b *Buffer) evictUntilWithinBounds() error {
	for {
		b.mu.Lock()
		overEntries := len(b.entries) > b.cfg.MaxEntries
		overBytes := b.bytesUsedLocked() > b.cfg.MaxBytes
		if !overEntries && !overBytes {
			b.mu.Unlock()
			return nil
		}
		var lruPage uint32
		var lruEntry *entry
		for p, e := range b.entries {
			if lruEntry == nil || e.lastUsed < lruEntry.lastUsed {
				lruPage, lruEntry = p, e
			}
		}
		b.mu.Unlock()

		if lruEntry == nil {
			return nil
		}
		if lruEntry.dirty {
			if err := b.store.WritePage(lruPage, lruEntry.bytes); err != nil {
				return err
			}
			b.mu.Lock()
			b.stats.Flushes++
			b.mu.Unlock()
		}
		b.mu.Lock()
		delete(b.entries, lruPage)
		b.mu.Unlock()
	}
}

// Stats returns a snapshot of the monotonic usage counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Len returns the current number of cached entries (dirty and clean).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
