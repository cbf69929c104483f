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
Package pagestore is the page store (spec.md §4.F): it owns the file
handle, header, page index, and free-space manager for one open
container, and exposes read_page/write_page/truncate/flush/close/stats.

A Store is single-writer, multi-reader (spec.md §5): writes take an
exclusive lock for their full duration; reads take a shared lock only
long enough to snapshot the index entry and header fields they need,
then perform disk I/O and transforms outside the lock. Concurrent
ReadPage calls for the same page are deduplicated with
golang.org/x/sync/singleflight.
*/
package pagestore

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/natefinch/atomic"
	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"

	ccvfserrors "github.com/firefly-oss/ccvfs/internal/errors"
	"github.com/firefly-oss/ccvfs/internal/freespace"
	"github.com/firefly-oss/ccvfs/internal/headerfmt"
	"github.com/firefly-oss/ccvfs/internal/logging"
	"github.com/firefly-oss/ccvfs/internal/pageindex"
	"github.com/firefly-oss/ccvfs/internal/transform"

	"github.com/firefly-oss/ccvfs/internal/algorithm"
)

var log = logging.NewLogger("pagestore")

// Config configures Open/Create.
type Config struct {
	Create   bool
	PageSize uint32
	Compress string
	Encrypt  string
	Key      []byte
	Flags    uint32
	Level    int
}

// Stats mirrors spec.md §4.F's stats() contract.
type Stats struct {
	OriginalSize     uint64
	StoredSize       uint64
	CompressionRatio float64
	TotalPages       uint32
	CompressName     string
	EncryptName      string
	FormatVersion    string
}

// Store is one open container file.
type Store struct {
	mu       sync.RWMutex
	file     *os.File
	path     string
	pageSize uint32
	header   *headerfmt.Header
	index    *pageindex.Index
	free     *freespace.Manager
	pipeline *transform.Pipeline
	closed   bool
	sf       singleflight.Group
	log      *logging.Logger

	// indexCapacity is the reserved on-disk capacity of the index
	// region at header.IndexOffset — not itself a header field (spec.md
	// §3 has no such field), so it is tracked explicitly by whichever
	// call last allocated the region (create or relocateIndexLocked)
	// and recomputed from scratch at open, where any headroom beyond
	// index_entries*32 that existed before close is indistinguishable
	// from ordinary free space and is not preserved.
	indexCapacity uint64
}

// Open opens an existing container at path, or creates a new one if
// cfg.Create is set and the file does not exist. With cfg.Create set,
// an existing file at path is rejected with AlreadyExists.
func Open(path string, cfg Config) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if !cfg.Create {
				return nil, ccvfserrors.IOFailure("open", err)
			}
			return create(path, cfg)
		}
		return nil, ccvfserrors.IOFailure("stat", err)
	}
	if cfg.Create {
		return nil, ccvfserrors.AlreadyExists(path)
	}
	return openExisting(path, cfg)
}

func create(path string, cfg Config) (*Store, error) {
	if !headerfmt.IsValidPageSize(cfg.PageSize) {
		return nil, ccvfserrors.InvalidPageSize(int(cfg.PageSize))
	}
	comp, err := algorithm.LookupCompressor(cfg.Compress)
	if err != nil {
		return nil, err
	}
	enc, err := algorithm.LookupEncryptor(cfg.Encrypt)
	if err != nil {
		return nil, err
	}
	level := cfg.Level
	if level == 0 {
		level = 6
	}
	pipeline, err := transform.New(comp, enc, level, cfg.Key)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		return nil, ccvfserrors.AlreadyExists(path)
	}

	h, err := headerfmt.New(cfg.PageSize, comp.Name(), enc.Name(), cfg.Flags)
	if err != nil {
		return nil, err
	}
	h.IndexOffset = headerfmt.HeaderSize
	h.StoredSize = headerfmt.HeaderSize

	// Build the whole-file image (just the header, for a brand-new
	// container) off to the side and swap it into place with a
	// temp-file-plus-rename so a crash mid-create never leaves a
	// half-written file at path (spec.md §7 kind 2: the header on disk
	// is always the pre-call or post-flush image, never torn).
	if err := atomic.WriteFile(path, bytes.NewReader(headerfmt.Encode(h))); err != nil {
		return nil, ccvfserrors.IOFailure("create", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, ccvfserrors.IOFailure("open", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	s := &Store{
		file:          f,
		path:          path,
		pageSize:      cfg.PageSize,
		header:        h,
		index:         pageindex.New(),
		free:          freespace.New(headerfmt.HeaderSize),
		pipeline:      pipeline,
		log:           log,
		indexCapacity: 0,
	}
	s.log.Info("container created", "path", path, "page_size", strconv.Itoa(int(cfg.PageSize)),
		"compress", comp.Name(), "encrypt", enc.Name(), "format_version", headerfmt.VersionString(h))
	return s, nil
}

func openExisting(path string, cfg Config) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, ccvfserrors.IOFailure("open", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}

	h, err := headerfmt.Read(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ccvfserrors.IOFailure("stat", err)
	}
	fileSize := uint64(fi.Size())

	idxBuf := make([]byte, uint64(h.IndexEntries)*pageindex.EntrySize)
	if len(idxBuf) > 0 {
		if _, err := f.ReadAt(idxBuf, int64(h.IndexOffset)); err != nil {
			f.Close()
			return nil, ccvfserrors.IOFailure("read index", err)
		}
	}
	idx, err := pageindex.DecodeAll(idxBuf, h.IndexEntries)
	if err != nil {
		f.Close()
		return nil, err
	}

	comp, err := algorithm.LookupCompressor(h.CompressName)
	if err != nil {
		f.Close()
		return nil, err
	}
	enc, err := algorithm.LookupEncryptor(h.EncryptName)
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &Store{
		file:     f,
		path:     path,
		pageSize: h.PageSize,
		header:   h,
		index:    idx,
		log:      log,
	}
	s.free = reconstructFreeList(s, fileSize)
	s.indexCapacity = uint64(h.IndexEntries) * pageindex.EntrySize

	level := cfg.Level
	if level == 0 {
		level = 6
	}
	pipeline, err := transform.New(comp, enc, level, cfg.Key)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.pipeline = pipeline
	s.log.Info("container opened", "path", path, "total_pages", strconv.Itoa(int(h.TotalPages)),
		"format_version", headerfmt.VersionString(h))
	return s, nil
}

func reconstructFreeList(s *Store, fileSize uint64) *freespace.Manager {
	occupied := []freespace.Interval{
		{Offset: 0, Capacity: headerfmt.HeaderSize},
		{Offset: s.header.IndexOffset, Capacity: uint64(s.header.IndexEntries) * pageindex.EntrySize},
	}
	for _, e := range s.index.Snapshot() {
		if e.IsZero() {
			continue
		}
		occupied = append(occupied, freespace.Interval{Offset: e.PhysicalOffset, Capacity: uint64(e.SlotCapacity)})
	}
	return freespace.Reconstruct(occupied, fileSize)
}

func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return ccvfserrors.IOFailure("flock", err).WithHint("another process already holds the container open for writing")
	}
	return nil
}

// ReadPage returns exactly PageSize bytes for logical page p. Pages at
// or beyond total_pages, or present but logically zero (stored_size=0),
// read as all-zero without touching disk.
func (s *Store) ReadPage(p uint32) ([]byte, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ccvfserrors.ClosedStore()
	}
	entry, present := s.index.Lookup(p)
	pageSize := s.pageSize
	pipeline := s.pipeline
	file := s.file
	s.mu.RUnlock()

	if !present || entry.StoredSize == 0 {
		return make([]byte, pageSize), nil
	}

	key := fmt.Sprintf("page:%d:%d", p, entry.PhysicalOffset)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		stored := make([]byte, entry.StoredSize)
		if _, err := file.ReadAt(stored, int64(entry.PhysicalOffset)); err != nil {
			return nil, ccvfserrors.IOFailure("read page", err)
		}
		return pipeline.Decode(stored, entry, int(pageSize))
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// WritePage runs the transform pipeline over data (which must be exactly
// PageSize bytes), allocates a slot, writes it, and updates the index.
func (s *Store) WritePage(p uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ccvfserrors.ClosedStore()
	}
	if uint32(len(data)) != s.pageSize {
		return ccvfserrors.InvalidArgument(fmt.Sprintf("write_page: expected %d bytes, got %d", s.pageSize, len(data)))
	}

	encoded, err := s.pipeline.Encode(data)
	if err != nil {
		return err
	}

	// Every write takes a fresh best-fit slot sized to the new encoded
	// output, and the old slot (if any) is freed only after the new one
	// is allocated and written. Allocating before freeing keeps the old
	// slot out of the free list during the new allocation, so a
	// large-to-small rewrite doesn't carve the new, smaller output out of
	// the old slot's capacity: the old slot is freed whole, available for
	// a later page that actually needs its size (spec.md §8 scenario 4).
	old, ok := s.index.Lookup(p)
	offset, capacity := s.free.Allocate(uint64(len(encoded.Bytes)))
	if _, err := s.file.WriteAt(encoded.Bytes, int64(offset)); err != nil {
		return ccvfserrors.IOFailure("write page", err)
	}
	if ok {
		s.free.Free(old.PhysicalOffset, uint64(old.SlotCapacity))
	}
	s.index.Put(p, pageindex.Entry{
		PhysicalOffset: offset,
		SlotCapacity:   uint32(capacity),
		StoredSize:     uint32(len(encoded.Bytes)),
		Flags:          encoded.Flags,
		Checksum:       encoded.Checksum,
	})

	if p+1 > s.header.TotalPages {
		s.header.TotalPages = p + 1
		s.header.OriginalSize = uint64(s.header.TotalPages) * uint64(s.pageSize)
	}
	s.header.IndexEntries = s.index.Len()

	if s.indexCapacity < uint64(s.index.Len())*pageindex.EntrySize {
		if err := s.relocateIndexLocked(); err != nil {
			return err
		}
	}
	return nil
}

// relocateIndexLocked implements spec.md §4.C's two-phase index
// relocation: a larger region is allocated through the free-space
// manager (best fit among free intervals, else at EOF), the new index is
// written and fsynced, the header's index_offset is updated and
// fsynced, and the old region is freed. Caller must hold s.mu for
// writing.
func (s *Store) relocateIndexLocked() error {
	oldOffset, oldCapacity := s.header.IndexOffset, s.indexCapacity
	buf := s.index.EncodeAll()
	// Reserve headroom so a handful of subsequent Put calls don't
	// immediately force another relocation.
	newCapacity := uint64(len(buf)) * 2
	if newCapacity < pageindex.EntrySize*16 {
		newCapacity = pageindex.EntrySize * 16
	}
	newOffset, granted := s.free.Allocate(newCapacity)

	padded := make([]byte, granted)
	copy(padded, buf)
	if _, err := s.file.WriteAt(padded[:len(buf)], int64(newOffset)); err != nil {
		return ccvfserrors.IOFailure("write index", err)
	}
	if err := s.file.Sync(); err != nil {
		return ccvfserrors.IOFailure("sync index", err)
	}

	s.header.IndexOffset = newOffset
	s.indexCapacity = granted
	if err := headerfmt.Write(s.file, s.header); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return ccvfserrors.IOFailure("sync header", err)
	}

	if oldCapacity > 0 {
		s.free.Free(oldOffset, oldCapacity)
	}
	s.log.Debug("index relocated", "old_offset", strconv.FormatUint(oldOffset, 10),
		"new_offset", strconv.FormatUint(newOffset, 10))
	return nil
}

// Truncate frees slots for pages >= newTotalPages and shrinks the
// host-visible logical size. The underlying file is never shrunk.
func (s *Store) Truncate(newTotalPages uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ccvfserrors.ClosedStore()
	}
	if newTotalPages >= s.header.TotalPages {
		return nil
	}
	for p := newTotalPages; p < s.header.TotalPages; p++ {
		if old, ok := s.index.Remove(p); ok {
			s.free.Free(old.PhysicalOffset, uint64(old.SlotCapacity))
		}
	}
	if entries := s.index.Snapshot(); int(newTotalPages) < len(entries) {
		s.index = pageindex.FromEntries(entries[:newTotalPages])
	}
	s.header.TotalPages = newTotalPages
	s.header.OriginalSize = uint64(newTotalPages) * uint64(s.pageSize)
	s.header.IndexEntries = s.index.Len()
	return nil
}

// Flush persists the index and header and fsyncs.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if s.closed {
		return ccvfserrors.ClosedStore()
	}
	buf := s.index.EncodeAll()
	if uint64(len(buf)) > s.indexCapacity {
		if err := s.relocateIndexLocked(); err != nil {
			return err
		}
	} else if len(buf) > 0 {
		if _, err := s.file.WriteAt(buf, int64(s.header.IndexOffset)); err != nil {
			return ccvfserrors.IOFailure("write index", err)
		}
	}
	if err := s.file.Sync(); err != nil {
		return ccvfserrors.IOFailure("sync", err)
	}

	fi, err := s.file.Stat()
	if err == nil {
		s.header.StoredSize = uint64(fi.Size())
	}
	if err := headerfmt.Write(s.file, s.header); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return ccvfserrors.IOFailure("sync header", err)
	}
	return nil
}

// Close flushes and releases the file handle. The store must not be
// used afterward.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked()
	unix.Flock(int(s.file.Fd()), unix.LOCK_UN)
	cerr := s.file.Close()
	s.closed = true
	if err != nil {
		return err
	}
	if cerr != nil {
		return ccvfserrors.IOFailure("close", cerr)
	}
	return nil
}

// Stats returns a point-in-time snapshot of usage statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ratio := 1.0
	if s.header.StoredSize > 0 && s.header.OriginalSize > 0 {
		ratio = float64(s.header.OriginalSize) / float64(s.header.StoredSize)
	}
	return Stats{
		OriginalSize:     s.header.OriginalSize,
		StoredSize:       s.header.StoredSize,
		CompressionRatio: ratio,
		TotalPages:       s.header.TotalPages,
		CompressName:     s.header.CompressName,
		EncryptName:      s.header.EncryptName,
		FormatVersion:    headerfmt.VersionString(s.header),
	}
}

// PageSize returns the container's fixed logical page size.
func (s *Store) PageSize() uint32 {
	return s.pageSize
}

// TotalPages returns the current number of logical pages.
func (s *Store) TotalPages() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.TotalPages
}

// CheckReport is the outcome of a read-only consistency pass (a
// supplemented feature, not present in the distilled spec: see
// SPEC_FULL.md §5 "Doctor").
type CheckReport struct {
	TotalPages       uint32
	CorruptPages     []uint32
	OverlappingSlots [][2]uint32
	FreeBytes        uint64
}

// Check walks every live index entry, verifies its slot decodes cleanly,
// and checks for overlapping slots, without mutating any state.
func (s *Store) Check() (*CheckReport, error) {
	s.mu.RLock()
	entries := s.index.Snapshot()
	pageSize := s.pageSize
	pipeline := s.pipeline
	file := s.file
	report := &CheckReport{TotalPages: s.header.TotalPages, FreeBytes: s.free.FreeBytes()}
	s.mu.RUnlock()

	type slot struct {
		page           uint32
		offset, length uint64
	}
	var slots []slot
	for i, e := range entries {
		if e.IsZero() {
			continue
		}
		slots = append(slots, slot{page: uint32(i), offset: e.PhysicalOffset, length: uint64(e.SlotCapacity)})

		stored := make([]byte, e.StoredSize)
		if _, err := file.ReadAt(stored, int64(e.PhysicalOffset)); err != nil {
			report.CorruptPages = append(report.CorruptPages, uint32(i))
			continue
		}
		if _, err := pipeline.Decode(stored, e, int(pageSize)); err != nil {
			report.CorruptPages = append(report.CorruptPages, uint32(i))
		}
	}

	sort.Slice(slots, func(a, b int) bool { return slots[a].offset < slots[b].offset })
	for i := 1; i < len(slots); i++ {
		if slots[i-1].offset+slots[i-1].length > slots[i].offset {
			report.OverlappingSlots = append(report.OverlappingSlots, [2]uint32{slots[i-1].page, slots[i].page})
		}
	}
	return report, nil
}
