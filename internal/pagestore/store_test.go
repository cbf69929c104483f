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

package pagestore

import (
	"bytes"
	"path/filepath"
	"testing"

	ccvfserrors "github.com/firefly-oss/ccvfs/internal/errors"
)

func newTestStore(t *testing.T, cfg Config) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ccvfs")
	cfg.Create = true
	if cfg.PageSize == 0 {
		cfg.PageSize = 4096
	}
	if cfg.Compress == "" {
		cfg.Compress = "none"
	}
	if cfg.Encrypt == "" {
		cfg.Encrypt = "none"
	}
	s, err := Open(path, cfg)
	if err != nil {
		t.Fatalf("Open(create): %v", err)
	}
	return s, path
}

func TestCreateRejectsExistingPath(t *testing.T) {
	s, path := newTestStore(t, Config{})
	s.Close()

	_, err := Open(path, Config{Create: true, PageSize: 4096})
	if !ccvfserrors.Is(err, ccvfserrors.CodeAlreadyExists) {
		t.Errorf("expected AlreadyExists, got %v", err)
	}
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.ccvfs")
	if _, err := Open(path, Config{PageSize: 4096}); err == nil {
		t.Error("expected error opening a missing file without Create")
	}
}

func TestWriteReadPageRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	defer s.Close()

	page := bytes.Repeat([]byte{0x42}, 4096)
	if err := s.WritePage(0, page); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got, err := s.ReadPage(0)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Error("round-trip mismatch")
	}
}

func TestReadUnwrittenPageIsZero(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	defer s.Close()

	got, err := s.ReadPage(0)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if len(got) != 4096 {
		t.Fatalf("expected 4096 bytes, got %d", len(got))
	}
	for _, b := range got {
		if b != 0 {
			t.Fatal("expected all-zero page for unwritten logical page")
		}
	}
}

func TestWritePageRejectsWrongSize(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	defer s.Close()

	if err := s.WritePage(0, make([]byte, 100)); err == nil {
		t.Error("expected error for wrong-sized page")
	}
}

func TestTotalPagesGrowsOnWrite(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	defer s.Close()

	if err := s.WritePage(5, bytes.Repeat([]byte{1}, 4096)); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if s.TotalPages() != 6 {
		t.Errorf("expected total_pages 6, got %d", s.TotalPages())
	}
	// implicit gap pages read as zero
	got, err := s.ReadPage(2)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for _, b := range got {
		if b != 0 {
			t.Fatal("expected gap page to read as zero")
		}
	}
}

func TestTruncateFreesTrailingPages(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	defer s.Close()

	for p := uint32(0); p < 5; p++ {
		if err := s.WritePage(p, bytes.Repeat([]byte{byte(p)}, 4096)); err != nil {
			t.Fatalf("WritePage(%d): %v", p, err)
		}
	}
	if err := s.Truncate(2); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if s.TotalPages() != 2 {
		t.Errorf("expected total_pages 2, got %d", s.TotalPages())
	}
}

func TestRewriteSamePageReusesOrRellocatesSlot(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	defer s.Close()

	page1 := bytes.Repeat([]byte{1}, 4096)
	page2 := bytes.Repeat([]byte{2}, 4096)
	if err := s.WritePage(0, page1); err != nil {
		t.Fatalf("WritePage 1: %v", err)
	}
	if err := s.WritePage(0, page2); err != nil {
		t.Fatalf("WritePage 2: %v", err)
	}
	got, err := s.ReadPage(0)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, page2) {
		t.Error("expected second write to win")
	}
}

func TestWritePageShrinkFreesSlotForLaterReuse(t *testing.T) {
	// spec.md §8 scenario 4: a page rewritten large-then-small must free
	// its old (larger) slot whole, so a later page that needs that exact
	// capacity lands there.
	s, _ := newTestStore(t, Config{Compress: "zstd"})
	defer s.Close()

	large := make([]byte, 4096)
	for i := range large {
		large[i] = byte(i * 7 % 256)
	}
	if err := s.WritePage(0, large); err != nil {
		t.Fatalf("WritePage(0) large: %v", err)
	}
	slotA, ok := s.index.Lookup(0)
	if !ok {
		t.Fatal("expected an index entry for page 0")
	}

	small := bytes.Repeat([]byte{0}, 4096)
	if err := s.WritePage(0, small); err != nil {
		t.Fatalf("WritePage(0) small: %v", err)
	}
	shrunk, ok := s.index.Lookup(0)
	if !ok {
		t.Fatal("expected an index entry for page 0 after the shrink")
	}
	if shrunk.PhysicalOffset == slotA.PhysicalOffset && shrunk.SlotCapacity == slotA.SlotCapacity {
		t.Fatal("expected the shrink to take a fresh, smaller slot rather than keep slot A's capacity")
	}

	other := make([]byte, 4096)
	for i := range other {
		other[i] = byte(i*7%256) ^ 0x01
	}
	if err := s.WritePage(1, other); err != nil {
		t.Fatalf("WritePage(1): %v", err)
	}
	slotForPage1, ok := s.index.Lookup(1)
	if !ok {
		t.Fatal("expected an index entry for page 1")
	}
	if slotForPage1.PhysicalOffset != slotA.PhysicalOffset || slotForPage1.SlotCapacity != slotA.SlotCapacity {
		t.Errorf("expected page 1 to reclaim slot A (offset %d, capacity %d), got offset %d, capacity %d",
			slotA.PhysicalOffset, slotA.SlotCapacity, slotForPage1.PhysicalOffset, slotForPage1.SlotCapacity)
	}
}

func TestFlushAndReopenPreservesData(t *testing.T) {
	s, path := newTestStore(t, Config{Compress: "zstd"})
	page := bytes.Repeat([]byte("container test payload "), 200)[:4096]
	if err := s.WritePage(3, page); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.TotalPages() != 4 {
		t.Errorf("expected total_pages 4 after reopen, got %d", reopened.TotalPages())
	}
	got, err := reopened.ReadPage(3)
	if err != nil {
		t.Fatalf("ReadPage after reopen: %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Error("data mismatch after reopen")
	}
}

func TestFlushAndReopenWithEncryption(t *testing.T) {
	s, path := newTestStore(t, Config{Encrypt: "aes-gcm", Key: []byte("my-secret-key")})
	page := bytes.Repeat([]byte{0x77}, 4096)
	if err := s.WritePage(0, page); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Config{Key: []byte("my-secret-key")})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.ReadPage(0)
	if err != nil {
		t.Fatalf("ReadPage after reopen: %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Error("data mismatch after reopen with encryption")
	}
}

func TestIndexRelocatesAsPagesGrow(t *testing.T) {
	s, path := newTestStore(t, Config{PageSize: 1024})
	for p := uint32(0); p < 200; p++ {
		if err := s.WritePage(p, bytes.Repeat([]byte{byte(p)}, 1024)); err != nil {
			t.Fatalf("WritePage(%d): %v", p, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.TotalPages() != 200 {
		t.Fatalf("expected total_pages 200, got %d", reopened.TotalPages())
	}
	for _, p := range []uint32{0, 99, 199} {
		got, err := reopened.ReadPage(p)
		if err != nil {
			t.Fatalf("ReadPage(%d): %v", p, err)
		}
		want := bytes.Repeat([]byte{byte(p)}, 1024)
		if !bytes.Equal(got, want) {
			t.Errorf("page %d mismatch after relocation + reopen", p)
		}
	}
}

func TestStatsReflectsUsage(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	defer s.Close()

	for p := uint32(0); p < 3; p++ {
		if err := s.WritePage(p, bytes.Repeat([]byte{1}, 4096)); err != nil {
			t.Fatalf("WritePage(%d): %v", p, err)
		}
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	stats := s.Stats()
	if stats.TotalPages != 3 {
		t.Errorf("expected total_pages 3, got %d", stats.TotalPages)
	}
	if stats.CompressName != "none" {
		t.Errorf("expected compress none, got %s", stats.CompressName)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.ReadPage(0); !ccvfserrors.Is(err, ccvfserrors.CodeInvalidArgument) {
		t.Errorf("expected ClosedStore error, got %v", err)
	}
	if err := s.WritePage(0, make([]byte, 4096)); !ccvfserrors.Is(err, ccvfserrors.CodeInvalidArgument) {
		t.Errorf("expected ClosedStore error, got %v", err)
	}
}

func TestCheckReportsNoCorruptionOnHealthyStore(t *testing.T) {
	s, _ := newTestStore(t, Config{Compress: "lz4"})
	defer s.Close()
	for p := uint32(0); p < 10; p++ {
		if err := s.WritePage(p, bytes.Repeat([]byte{byte(p)}, 4096)); err != nil {
			t.Fatalf("WritePage(%d): %v", p, err)
		}
	}
	report, err := s.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(report.CorruptPages) != 0 {
		t.Errorf("expected no corrupt pages, got %v", report.CorruptPages)
	}
	if len(report.OverlappingSlots) != 0 {
		t.Errorf("expected no overlapping slots, got %v", report.OverlappingSlots)
	}
}

func TestReadPageWithWrongKeyIsCorrupt(t *testing.T) {
	s, path := newTestStore(t, Config{Encrypt: "chacha20poly1305", Key: []byte("right-key")})
	if err := s.WritePage(0, bytes.Repeat([]byte{9}, 4096)); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Config{Key: []byte("wrong-key")})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.ReadPage(0); !ccvfserrors.Is(err, ccvfserrors.CodeCorrupt) {
		t.Errorf("expected PageCorrupt on wrong-key decrypt, got %v", err)
	}
}
