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
Package pageindex is the in-memory page directory: an ordered sequence of
32-byte entries keyed directly by logical page number, mirrored on disk as
a contiguous array starting at the header's index_offset (spec.md §3,
§4.C).
*/
package pageindex

import (
	"encoding/binary"
	"sync"

	ccvfserrors "github.com/firefly-oss/ccvfs/internal/errors"
)

// EntrySize is the fixed on-disk size of one page index entry.
const EntrySize = 32

// PageMagic is the 4-byte per-entry signature.
var PageMagic = [4]byte{'P', 'C', 'C', 'V'}

// Flag bits for Entry.Flags.
const (
	FlagCompressed = 1 << 0
	FlagEncrypted  = 1 << 1
)

// Entry describes one page's on-disk slot.
type Entry struct {
	LogicalPageNo   uint32
	PhysicalOffset  uint64
	SlotCapacity    uint32
	StoredSize      uint32
	Flags           uint16
	Checksum        uint32
}

// IsZero reports whether the entry is a gap placeholder (never written)
// per spec.md §3: "a stored_size of 0 means allocated but logically zero".
func (e Entry) IsZero() bool {
	return e.StoredSize == 0 && e.PhysicalOffset == 0 && e.SlotCapacity == 0
}

// Encode serializes one entry to a fresh EntrySize-byte buffer.
func Encode(e Entry) []byte {
	buf := make([]byte, EntrySize)
	copy(buf[0:4], PageMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], e.LogicalPageNo)
	binary.LittleEndian.PutUint64(buf[8:16], e.PhysicalOffset)
	binary.LittleEndian.PutUint32(buf[16:20], e.SlotCapacity)
	binary.LittleEndian.PutUint32(buf[20:24], e.StoredSize)
	binary.LittleEndian.PutUint16(buf[24:26], e.Flags)
	// bytes [26, 28) are reserved and left zero.
	binary.LittleEndian.PutUint32(buf[28:32], e.Checksum)
	return buf
}

// Decode parses one EntrySize-byte buffer. A zero-valued buffer (all
// bytes zero, including the magic) decodes as a gap placeholder rather
// than an error. Gap placeholders created by Put are Entry{} values,
// which EncodeAll writes with the magic set, so they decode through the
// normal path below.
func Decode(buf []byte) (Entry, error) {
	if len(buf) != EntrySize {
		return Entry{}, ccvfserrors.PageCorrupt(0, "short index entry")
	}
	if allZero(buf) {
		return Entry{}, nil
	}
	if buf[0] != PageMagic[0] || buf[1] != PageMagic[1] || buf[2] != PageMagic[2] || buf[3] != PageMagic[3] {
		return Entry{}, ccvfserrors.HeaderCorrupt("index entry magic mismatch")
	}
	e := Entry{
		LogicalPageNo:  binary.LittleEndian.Uint32(buf[4:8]),
		PhysicalOffset: binary.LittleEndian.Uint64(buf[8:16]),
		SlotCapacity:   binary.LittleEndian.Uint32(buf[16:20]),
		StoredSize:     binary.LittleEndian.Uint32(buf[20:24]),
		Flags:          binary.LittleEndian.Uint16(buf[24:26]),
		Checksum:       binary.LittleEndian.Uint32(buf[28:32]),
	}
	return e, nil
}

func allZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// Index is the in-memory page directory. Every method takes the index's
// own RWMutex, so it is safe for concurrent use; the page store also
// serializes its multi-step updates under its own lock (spec.md §4.C,
// §5's single-writer/shared-reader model).
type Index struct {
	mu      sync.RWMutex
	entries []Entry
}

// New returns an empty index.
func New() *Index {
	return &Index{}
}

// FromEntries builds an index from an already-decoded entry slice, e.g.
// loaded from disk at open.
func FromEntries(entries []Entry) *Index {
	return &Index{entries: entries}
}

// Lookup returns the entry for logical page p, or the zero Entry and
// false if p has never been written or is beyond the current length.
func (idx *Index) Lookup(p uint32) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if int(p) >= len(idx.entries) {
		return Entry{}, false
	}
	e := idx.entries[p]
	return e, !e.IsZero()
}

// Put installs entry at logical page p, extending the vector with
// zero-entry placeholders as needed.
func (idx *Index) Put(p uint32, e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.growTo(int(p) + 1)
	e.LogicalPageNo = p
	idx.entries[p] = e
}

// growTo extends entries to length n with zero-value placeholders.
// Caller must hold idx.mu for writing.
func (idx *Index) growTo(n int) {
	for len(idx.entries) < n {
		idx.entries = append(idx.entries, Entry{})
	}
}

// Remove marks page p's entry as logically empty (stored_size=0),
// leaving the prior slot location available to the free-space manager
// via the returned entry.
func (idx *Index) Remove(p uint32) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if int(p) >= len(idx.entries) {
		return Entry{}, false
	}
	old := idx.entries[p]
	if old.IsZero() {
		return Entry{}, false
	}
	idx.entries[p] = Entry{}
	return old, true
}

// Len returns the number of entries, equal to header.index_entries /
// total_pages (spec.md §3 invariant).
func (idx *Index) Len() uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return uint32(len(idx.entries))
}

// Snapshot returns a copy of every entry, used by the store when it
// rebuilds the free list at open and by Check()/Doctor consistency
// passes. Single-page reads use Lookup instead.
func (idx *Index) Snapshot() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Entry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// EncodeAll serializes every entry, in logical page order, to a single
// contiguous buffer suitable for writing at index_offset.
func (idx *Index) EncodeAll() []byte {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	buf := make([]byte, 0, len(idx.entries)*EntrySize)
	for _, e := range idx.entries {
		buf = append(buf, Encode(e)...)
	}
	return buf
}

// DecodeAll parses a contiguous index region into an Index.
func DecodeAll(buf []byte, count uint32) (*Index, error) {
	if uint64(len(buf)) < uint64(count)*EntrySize {
		return nil, ccvfserrors.HeaderCorrupt("index region shorter than index_entries implies")
	}
	entries := make([]Entry, count)
	for i := uint32(0); i < count; i++ {
		e, err := Decode(buf[i*EntrySize : (i+1)*EntrySize])
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return FromEntries(entries), nil
}
