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

package headerfmt

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	ccvfserrors "github.com/firefly-oss/ccvfs/internal/errors"
)

func TestNewRejectsBadPageSize(t *testing.T) {
	if _, err := New(3000, "none", "none", 0); !ccvfserrors.Is(err, ccvfserrors.CodeInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h, err := New(4096, "zstd", "aes-gcm", FlagOffline)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.TotalPages = 3
	h.IndexEntries = 3
	h.OriginalSize = 12288
	h.StoredSize = 9000
	h.IndexOffset = 128 + 3*32

	buf := Encode(h)
	if len(buf) != HeaderSize {
		t.Fatalf("expected %d bytes, got %d", HeaderSize, len(buf))
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf, []byte("NOTAMAGIC"))
	if _, err := Decode(buf); !ccvfserrors.Is(err, ccvfserrors.CodeNotAContainer) {
		t.Errorf("expected NotAContainer, got %v", err)
	}
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	h, err := New(4096, "none", "none", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := Encode(h)
	buf[50] ^= 0xFF
	if _, err := Decode(buf); !ccvfserrors.Is(err, ccvfserrors.CodeCorrupt) {
		t.Errorf("expected CodeCorrupt, got %v", err)
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	h, err := New(4096, "none", "none", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.VersionMajor = 2
	buf := Encode(h)
	if _, err := Decode(buf); !ccvfserrors.Is(err, ccvfserrors.CodeVersionUnsupported) {
		t.Errorf("expected VersionUnsupported, got %v", err)
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, 10)); !ccvfserrors.Is(err, ccvfserrors.CodeCorrupt) {
		t.Errorf("expected CodeCorrupt for short buffer, got %v", err)
	}
}

func TestDecodeRejectsMismatchedTotalPages(t *testing.T) {
	h, err := New(4096, "none", "none", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.TotalPages = 5
	h.IndexEntries = 4
	buf := Encode(h)
	if _, err := Decode(buf); !ccvfserrors.Is(err, ccvfserrors.CodeCorrupt) {
		t.Errorf("expected CodeCorrupt for total_pages/index_entries mismatch, got %v", err)
	}
}

func TestReadWriteFileRoundTrip(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ccvfs-header-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	h, err := New(8192, "lz4", "none", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := Write(f, h); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(f)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.PageSize != 8192 || got.CompressName != "lz4" {
		t.Errorf("unexpected header after round trip: %+v", got)
	}
}

func TestReadEmptyFileIsNotAContainer(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ccvfs-header-empty-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()
	if _, err := Read(f); !ccvfserrors.Is(err, ccvfserrors.CodeNotAContainer) {
		t.Errorf("expected NotAContainer for empty file, got %v", err)
	}
}

func TestIsValidPageSize(t *testing.T) {
	for _, v := range AllowedPageSizes {
		if !IsValidPageSize(v) {
			t.Errorf("expected %d to be valid", v)
		}
	}
	if IsValidPageSize(12345) {
		t.Error("expected 12345 to be invalid")
	}
}

func TestVersionString(t *testing.T) {
	h, err := New(4096, "none", "none", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, want := VersionString(h), "v1.0"; got != want {
		t.Errorf("VersionString() = %q, want %q", got, want)
	}
}
