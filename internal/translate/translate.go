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
Package translate converts a host byte-range read or write of
(offset, length) into whole-page operations against a PageStore
(spec.md §4.G). The host's view of file length is total_pages *
PageSize; reads past end-of-file return zero, and writes past
end-of-file extend total_pages implicitly via the underlying store.
*/
package translate

import "golang.org/x/sync/errgroup"

// PageStore is the subset of pagestore.Store's contract the
// translation layer needs. Defined here rather than imported directly
// so this package stays testable against a fake.
type PageStore interface {
	PageSize() uint32
	TotalPages() uint32
	ReadPage(p uint32) ([]byte, error)
	WritePage(p uint32, data []byte) error
}

// Translator maps byte ranges onto a PageStore's whole-page operations.
type Translator struct {
	store PageStore
}

// New wraps a PageStore.
func New(store PageStore) *Translator {
	return &Translator{store: store}
}

// Size returns the host-visible logical file length: total_pages *
// page_size.
func (t *Translator) Size() int64 {
	return int64(t.store.TotalPages()) * int64(t.store.PageSize())
}

// pageRange computes the first and last logical page numbers spanned
// by [offset, offset+length).
func (t *Translator) pageRange(offset, length int64) (first, last uint32) {
	pageSize := int64(t.store.PageSize())
	first = uint32(offset / pageSize)
	last = uint32((offset + length - 1) / pageSize)
	return first, last
}

// ReadAt fills dst with the bytes at [offset, offset+len(dst)), reading
// whole pages and copying out the relevant window from each. Bytes past
// the host-visible end of file read as zero. When the range spans more
// than one page, the independent per-page decodes run concurrently via
// errgroup (spec.md §9: "the engine may parallelize calls across
// pages"); each goroutine only ever touches its own disjoint slice of
// dst, so no further synchronization is needed.
func (t *Translator) ReadAt(dst []byte, offset int64) error {
	if len(dst) == 0 {
		return nil
	}
	pageSize := int64(t.store.PageSize())
	first, last := t.pageRange(offset, int64(len(dst)))

	readOne := func(p uint32) error {
		pageStart := int64(p) * pageSize
		lo := int64(0)
		if offset > pageStart {
			lo = offset - pageStart
		}
		hi := pageSize
		end := offset + int64(len(dst))
		if end < pageStart+pageSize {
			hi = end - pageStart
		}

		page, err := t.store.ReadPage(p)
		if err != nil {
			return err
		}

		dstStart := pageStart + lo - offset
		copy(dst[dstStart:dstStart+(hi-lo)], page[lo:hi])
		return nil
	}

	if last == first {
		return readOne(first)
	}

	var g errgroup.Group
	for p := first; p <= last; p++ {
		p := p
		g.Go(func() error { return readOne(p) })
	}
	return g.Wait()
}

// WriteAt writes src at [offset, offset+len(src)). A write spanning the
// whole of a page constructs it directly from src; a partial-page write
// reads the existing page (or a zero-page past EOF) and overlays the
// touched window before writing the page back.
func (t *Translator) WriteAt(src []byte, offset int64) error {
	if len(src) == 0 {
		return nil
	}
	pageSize := int64(t.store.PageSize())
	first, last := t.pageRange(offset, int64(len(src)))

	for p := first; p <= last; p++ {
		pageStart := int64(p) * pageSize
		lo := int64(0)
		if offset > pageStart {
			lo = offset - pageStart
		}
		hi := pageSize
		end := offset + int64(len(src))
		if end < pageStart+pageSize {
			hi = end - pageStart
		}

		var page []byte
		if lo == 0 && hi == pageSize {
			page = make([]byte, pageSize)
		} else {
			existing, err := t.store.ReadPage(p)
			if err != nil {
				return err
			}
			page = existing
		}

		srcStart := pageStart + lo - offset
		copy(page[lo:hi], src[srcStart:srcStart+(hi-lo)])

		if err := t.store.WritePage(p, page); err != nil {
			return err
		}
	}
	return nil
}
