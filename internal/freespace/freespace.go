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
Package freespace tracks freed (physical_offset, capacity) intervals
within a container file and serves allocation requests for new page
slots (spec.md §4.D). It is not persisted: at open, the store
reconstructs it by sorting the index by physical_offset and recording
the gaps between slots, plus the trailing gap up to EOF.
*/
package freespace

import "sort"

// MinSplitThreshold is the minimum leftover size worth splitting back
// into the free list after a partial allocation (spec.md §4.D: "1 ×
// 512 bytes"). Leftovers smaller than this are granted to the
// allocation whole rather than fragmenting the free list further.
const MinSplitThreshold = 512

// Interval is one free byte range within the container file.
type Interval struct {
	Offset   uint64
	Capacity uint64
}

// Manager is a sorted-by-offset set of free intervals, with allocation
// by best-fit (smallest sufficient interval, ties broken by lowest
// offset). Free() appends the released interval and re-sorts the whole
// slice before coalescing; the set is expected to stay small enough
// (spec.md §4.D) that this is cheaper than maintaining a sorted
// insertion position by hand.
//
// Manager is not safe for concurrent use; the page store serializes
// access under its own write-mutex (spec.md §5).
type Manager struct {
	// sorted by Offset
	intervals []Interval
	eof       uint64
}

// New returns a Manager with no free intervals and the given initial
// end-of-file offset; Allocate falls back to extending eof when no free
// interval fits.
func New(eof uint64) *Manager {
	return &Manager{eof: eof}
}

// EOF returns the manager's current notion of end-of-file.
func (m *Manager) EOF() uint64 {
	return m.eof
}

// Reconstruct rebuilds the free list from the current disk layout:
// occupied, the (physicalOffset, slotCapacity) pairs for every live slot
// (the header, the index region, and every non-gap page entry) in any
// order, since a sorted copy is taken, and fileSize, the current
// physical file length. Gaps between
// consecutive occupied regions, and the trailing gap up to fileSize,
// become free intervals.
func Reconstruct(occupied []Interval, fileSize uint64) *Manager {
	sorted := append([]Interval{}, occupied...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	m := &Manager{eof: fileSize}
	var cursor uint64
	for _, iv := range sorted {
		if iv.Offset > cursor {
			m.intervals = append(m.intervals, Interval{Offset: cursor, Capacity: iv.Offset - cursor})
		}
		end := iv.Offset + iv.Capacity
		if end > cursor {
			cursor = end
		}
	}
	if cursor < fileSize {
		m.intervals = append(m.intervals, Interval{Offset: cursor, Capacity: fileSize - cursor})
	}
	return m
}

// Allocate reserves size bytes, preferring the smallest free interval
// with capacity >= size (ties broken by lowest offset). If no interval
// fits, it extends EOF. The returned capacity may exceed size when the
// leftover after a split would be smaller than MinSplitThreshold, in
// which case the whole interval is granted instead of fragmenting.
func (m *Manager) Allocate(size uint64) (offset uint64, capacity uint64) {
	best := -1
	for i, iv := range m.intervals {
		if iv.Capacity < size {
			continue
		}
		if best == -1 || iv.Capacity < m.intervals[best].Capacity ||
			(iv.Capacity == m.intervals[best].Capacity && iv.Offset < m.intervals[best].Offset) {
			best = i
		}
	}
	if best == -1 {
		offset = m.eof
		m.eof += size
		return offset, size
	}

	iv := m.intervals[best]
	leftover := iv.Capacity - size
	if leftover < MinSplitThreshold {
		m.removeAt(best)
		return iv.Offset, iv.Capacity
	}
	m.intervals[best] = Interval{Offset: iv.Offset + size, Capacity: leftover}
	return iv.Offset, size
}

func (m *Manager) removeAt(i int) {
	m.intervals = append(m.intervals[:i], m.intervals[i+1:]...)
}

// Free returns an interval to the pool, coalescing with any adjacent
// free intervals (immediately preceding or following it in byte order).
func (m *Manager) Free(offset, capacity uint64) {
	iv := Interval{Offset: offset, Capacity: capacity}
	m.intervals = append(m.intervals, iv)
	sort.Slice(m.intervals, func(i, j int) bool { return m.intervals[i].Offset < m.intervals[j].Offset })
	m.coalesce()
}

func (m *Manager) coalesce() {
	if len(m.intervals) < 2 {
		return
	}
	merged := make([]Interval, 0, len(m.intervals))
	cur := m.intervals[0]
	for _, next := range m.intervals[1:] {
		if cur.Offset+cur.Capacity == next.Offset {
			cur.Capacity += next.Capacity
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	merged = append(merged, cur)
	m.intervals = merged
}

// Snapshot returns a copy of every tracked free interval, for
// diagnostics and Check()/Doctor passes.
func (m *Manager) Snapshot() []Interval {
	out := make([]Interval, len(m.intervals))
	copy(out, m.intervals)
	return out
}

// FreeBytes returns the total bytes currently tracked as free, not
// counting the unallocated region past EOF.
func (m *Manager) FreeBytes() uint64 {
	var total uint64
	for _, iv := range m.intervals {
		total += iv.Capacity
	}
	return total
}
