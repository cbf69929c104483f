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

package writebuffer

import (
	"bytes"
	"sync"
	"testing"
)

type fakeWriter struct {
	mu     sync.Mutex
	writes map[uint32][]byte
	order  []uint32
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{writes: make(map[uint32][]byte)}
}

func (f *fakeWriter) WritePage(p uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.writes[p] = buf
	f.order = append(f.order, p)
	return nil
}

func (f *fakeWriter) get(p uint32) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.writes[p]
	return b, ok
}

func TestWriteThenReadHitsBuffer(t *testing.T) {
	store := newFakeWriter()
	b := New(store, Config{MaxEntries: 64, MaxBytes: 4 << 20, AutoFlushThreshold: 64})

	page := bytes.Repeat([]byte{1}, 128)
	if err := b.Write(5, page); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, ok := b.Read(5)
	if !ok {
		t.Fatal("expected buffer hit")
	}
	if !bytes.Equal(got, page) {
		t.Error("buffered page mismatch")
	}
	if b.Stats().Hits != 1 {
		t.Errorf("expected 1 hit, got %d", b.Stats().Hits)
	}
	// nothing flushed to the store yet
	if _, ok := store.get(5); ok {
		t.Error("expected write to remain buffered, not flushed")
	}
}

func TestReadMissReturnsFalse(t *testing.T) {
	store := newFakeWriter()
	b := New(store, Config{MaxEntries: 64, MaxBytes: 4 << 20, AutoFlushThreshold: 64})
	if _, ok := b.Read(0); ok {
		t.Error("expected miss on empty buffer")
	}
}

func TestRepeatedWriteMerges(t *testing.T) {
	store := newFakeWriter()
	b := New(store, Config{MaxEntries: 64, MaxBytes: 4 << 20, AutoFlushThreshold: 64})

	if err := b.Write(1, bytes.Repeat([]byte{1}, 8)); err != nil {
		t.Fatalf("Write 1: %v", err)
	}
	if err := b.Write(1, bytes.Repeat([]byte{2}, 8)); err != nil {
		t.Fatalf("Write 2: %v", err)
	}
	if b.Stats().Merges != 1 {
		t.Errorf("expected 1 merge, got %d", b.Stats().Merges)
	}
	if b.Stats().TotalBufferedWrites != 2 {
		t.Errorf("expected 2 total buffered writes, got %d", b.Stats().TotalBufferedWrites)
	}
	got, ok := b.Read(1)
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{2}, 8)) {
		t.Error("expected second write to win after merge")
	}
}

func TestFlushWritesInAscendingOrderAndClearsDirty(t *testing.T) {
	store := newFakeWriter()
	b := New(store, Config{MaxEntries: 64, MaxBytes: 4 << 20, AutoFlushThreshold: 64})

	for _, p := range []uint32{5, 1, 3} {
		if err := b.Write(p, []byte{byte(p)}); err != nil {
			t.Fatalf("Write(%d): %v", p, err)
		}
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	want := []uint32{1, 3, 5}
	if len(store.order) != len(want) {
		t.Fatalf("expected %d flushed writes, got %d", len(want), len(store.order))
	}
	for i, p := range want {
		if store.order[i] != p {
			t.Errorf("flush order[%d] = %d, want %d", i, store.order[i], p)
		}
	}
	if b.Stats().Flushes != 3 {
		t.Errorf("expected 3 flushes, got %d", b.Stats().Flushes)
	}

	// a second flush with nothing dirty should not re-flush anything
	store.order = nil
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if len(store.order) != 0 {
		t.Errorf("expected no writes on a flush with nothing dirty, got %v", store.order)
	}
}

func TestAutoFlushTriggersAtThreshold(t *testing.T) {
	store := newFakeWriter()
	b := New(store, Config{MaxEntries: 1000, MaxBytes: 4 << 20, AutoFlushThreshold: 3})

	for p := uint32(0); p < 3; p++ {
		if err := b.Write(p, []byte{byte(p)}); err != nil {
			t.Fatalf("Write(%d): %v", p, err)
		}
	}
	if len(store.order) != 3 {
		t.Errorf("expected auto-flush of all 3 dirty pages, got %d writes", len(store.order))
	}
	if b.Stats().Flushes != 3 {
		t.Errorf("expected 3 flushes recorded, got %d", b.Stats().Flushes)
	}
}

func TestEvictionFlushesDirtyLRUWhenOverEntries(t *testing.T) {
	store := newFakeWriter()
	b := New(store, Config{MaxEntries: 2, MaxBytes: 4 << 20, AutoFlushThreshold: 1000})

	if err := b.Write(0, []byte{0}); err != nil {
		t.Fatalf("Write(0): %v", err)
	}
	if err := b.Write(1, []byte{1}); err != nil {
		t.Fatalf("Write(1): %v", err)
	}
	// touch page 0 so it is more recently used than page 1
	if _, ok := b.Read(0); !ok {
		t.Fatal("expected hit on page 0")
	}
	if err := b.Write(2, []byte{2}); err != nil {
		t.Fatalf("Write(2): %v", err)
	}

	if b.Len() > 2 {
		t.Errorf("expected buffer to respect max_entries=2, got %d entries", b.Len())
	}
	// page 1 was LRU and should have been flushed out
	if _, ok := store.get(1); !ok {
		t.Error("expected LRU page 1 to be flushed on eviction")
	}
}

func TestEvictionRespectsMaxBytes(t *testing.T) {
	store := newFakeWriter()
	b := New(store, Config{MaxEntries: 1000, MaxBytes: 16, AutoFlushThreshold: 1000})

	if err := b.Write(0, bytes.Repeat([]byte{0}, 10)); err != nil {
		t.Fatalf("Write(0): %v", err)
	}
	if err := b.Write(1, bytes.Repeat([]byte{1}, 10)); err != nil {
		t.Fatalf("Write(1): %v", err)
	}

	total := 0
	for p := uint32(0); p < 2; p++ {
		if data, ok := store.get(p); ok {
			total += len(data)
		}
	}
	if total == 0 {
		t.Error("expected eviction to flush at least one page once max_bytes was exceeded")
	}
}

func TestInvalidateDropsEntry(t *testing.T) {
	store := newFakeWriter()
	b := New(store, Config{MaxEntries: 64, MaxBytes: 4 << 20, AutoFlushThreshold: 64})

	if err := b.Write(7, []byte{9}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b.Invalidate(7)
	if _, ok := b.Read(7); ok {
		t.Error("expected miss after invalidate")
	}
}

func TestDisabledModePassesThroughWithZeroCounters(t *testing.T) {
	store := newFakeWriter()
	b := New(store, Config{Disabled: true})

	if err := b.Write(0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, ok := store.get(0); !ok {
		t.Error("expected disabled buffer to write straight through")
	}
	stats := b.Stats()
	if stats.Hits != 0 || stats.Flushes != 0 || stats.Merges != 0 || stats.TotalBufferedWrites != 0 {
		t.Errorf("expected all-zero counters in disabled mode, got %+v", stats)
	}
	if _, ok := b.Read(0); ok {
		t.Error("expected disabled buffer to never cache reads")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	if err := (Config{MaxEntries: 0, MaxBytes: 4096, AutoFlushThreshold: 1}).Validate(4096); err == nil {
		t.Error("expected error for max_entries <= 0")
	}
	if err := (Config{MaxEntries: 1, MaxBytes: 100, AutoFlushThreshold: 1}).Validate(4096); err == nil {
		t.Error("expected error for max_bytes < page_size")
	}
	if err := (Config{MaxEntries: 1, MaxBytes: 4096, AutoFlushThreshold: 0}).Validate(4096); err == nil {
		t.Error("expected error for auto_flush_threshold <= 0")
	}
	if err := (Config{Disabled: true}).Validate(4096); err != nil {
		t.Errorf("expected disabled config to always validate, got %v", err)
	}
}
