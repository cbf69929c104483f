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
Package headerfmt reads and writes the fixed 128-byte container header
at offset 0 of a CCVFS file (spec.md §3, §4.B).
*/
package headerfmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"golang.org/x/mod/semver"

	ccvfserrors "github.com/firefly-oss/ccvfs/internal/errors"
)

// HeaderSize is the fixed on-disk size of the container header.
const HeaderSize = 128

// Magic is the 8-byte file signature, including the trailing NUL.
var Magic = [8]byte{'C', 'C', 'V', 'F', 'S', 'D', 'B', 0}

// NameFieldSize is the on-disk width of compress_name/encrypt_name,
// including the terminating NUL.
const NameFieldSize = 12

// SupportedMajor is the only version_major this engine can open.
const SupportedMajor = 1

// CurrentMinor is written by write_header for newly created containers.
const CurrentMinor = 0

// Flag bits for Header.Flags.
const (
	FlagRealtime = 1 << 0
	FlagOffline  = 1 << 1
	FlagHybrid   = 1 << 2
)

// AllowedPageSizes is the fixed set of legal page_size values (spec.md §3).
var AllowedPageSizes = []uint32{
	1 << 10, 4 << 10, 8 << 10, 16 << 10, 32 << 10,
	64 << 10, 128 << 10, 256 << 10, 512 << 10, 1 << 20,
}

// IsValidPageSize reports whether size is one of AllowedPageSizes.
func IsValidPageSize(size uint32) bool {
	for _, v := range AllowedPageSizes {
		if v == size {
			return true
		}
	}
	return false
}

// Header is the in-memory decoding of the 128-byte container header.
type Header struct {
	VersionMajor  uint16
	VersionMinor  uint16
	PageSize      uint32
	Flags         uint32
	CompressName  string
	EncryptName   string
	TotalPages    uint32
	OriginalSize  uint64
	StoredSize    uint64
	IndexOffset   uint64
	IndexEntries  uint32
}

// checksumRegion covers bytes [0, 124); the checksum itself occupies the
// last 4 bytes of the 128-byte header (spec.md §3: "reserved + checksum").
const checksumRegion = HeaderSize - 4

// Encode serializes h into a fresh HeaderSize-byte buffer with a computed
// CRC32 checksum over bytes [0, 124).
func Encode(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.VersionMajor)
	binary.LittleEndian.PutUint16(buf[10:12], h.VersionMinor)
	binary.LittleEndian.PutUint32(buf[12:16], h.PageSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	putName(buf[20:32], h.CompressName)
	putName(buf[32:44], h.EncryptName)
	binary.LittleEndian.PutUint32(buf[44:48], h.TotalPages)
	binary.LittleEndian.PutUint64(buf[48:56], h.OriginalSize)
	binary.LittleEndian.PutUint64(buf[56:64], h.StoredSize)
	binary.LittleEndian.PutUint64(buf[64:72], h.IndexOffset)
	binary.LittleEndian.PutUint32(buf[72:76], h.IndexEntries)
	// bytes [76, 124) are reserved and left zero.
	sum := crc32.ChecksumIEEE(buf[:checksumRegion])
	binary.LittleEndian.PutUint32(buf[checksumRegion:HeaderSize], sum)
	return buf
}

func putName(dst []byte, name string) {
	n := copy(dst, name)
	for ; n < len(dst); n++ {
		dst[n] = 0
	}
}

func getName(src []byte) string {
	i := bytes.IndexByte(src, 0)
	if i < 0 {
		i = len(src)
	}
	return string(src[:i])
}

// Decode parses a HeaderSize-byte buffer, validating magic, version, page
// size, and checksum. A magic mismatch yields NotAContainer, an
// unsupported major version yields VersionUnsupported, and any other
// structural failure yields HeaderCorrupt.
func Decode(buf []byte) (*Header, error) {
	if len(buf) != HeaderSize {
		return nil, ccvfserrors.HeaderCorrupt("short read: expected 128 bytes")
	}
	if !bytes.Equal(buf[0:8], Magic[:]) {
		return nil, ccvfserrors.NotAContainer("")
	}
	wantSum := binary.LittleEndian.Uint32(buf[checksumRegion:HeaderSize])
	gotSum := crc32.ChecksumIEEE(buf[:checksumRegion])
	if wantSum != gotSum {
		return nil, ccvfserrors.HeaderCorrupt("checksum mismatch")
	}
	h := &Header{
		VersionMajor: binary.LittleEndian.Uint16(buf[8:10]),
		VersionMinor: binary.LittleEndian.Uint16(buf[10:12]),
		PageSize:     binary.LittleEndian.Uint32(buf[12:16]),
		Flags:        binary.LittleEndian.Uint32(buf[16:20]),
		CompressName: getName(buf[20:32]),
		EncryptName:  getName(buf[32:44]),
		TotalPages:   binary.LittleEndian.Uint32(buf[44:48]),
		OriginalSize: binary.LittleEndian.Uint64(buf[48:56]),
		StoredSize:   binary.LittleEndian.Uint64(buf[56:64]),
		IndexOffset:  binary.LittleEndian.Uint64(buf[64:72]),
		IndexEntries: binary.LittleEndian.Uint32(buf[72:76]),
	}
	if h.VersionMajor != SupportedMajor {
		return nil, ccvfserrors.VersionUnsupported(h.VersionMajor, h.VersionMinor)
	}
	if !IsValidPageSize(h.PageSize) {
		return nil, ccvfserrors.HeaderCorrupt("page_size out of allowed set")
	}
	if h.TotalPages != h.IndexEntries {
		return nil, ccvfserrors.HeaderCorrupt("total_pages != index_entries")
	}
	return h, nil
}

// ReaderAt is the minimal file capability Read needs; satisfied by *os.File.
type ReaderAt interface {
	io.ReaderAt
}

// Read loads and validates the header from offset 0 of f.
func Read(f ReaderAt) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ccvfserrors.NotAContainer("")
		}
		return nil, ccvfserrors.IOFailure("read header", err)
	}
	return Decode(buf)
}

// WriterAt is the minimal file capability Write needs; satisfied by *os.File.
type WriterAt interface {
	io.WriterAt
}

// Write serializes h and writes it at offset 0 of f. The caller is
// responsible for fsync-ing f afterward (spec.md §4.B: header writes are
// always preceded by data writes being fsynced, and the header write
// itself is followed by another fsync before the call is considered
// durable).
func Write(f WriterAt, h *Header) error {
	buf := Encode(h)
	if _, err := f.WriteAt(buf, 0); err != nil {
		return ccvfserrors.IOFailure("write header", err)
	}
	return nil
}

// VersionString renders h's on-disk version_major/version_minor as a
// semver-shaped string (e.g. "v1.0"), for log lines and Stats() output.
// The header carries no patch component; semver.IsValid is used against
// the zero-patch form purely to confirm the shape is well-formed before
// trusting it in a log line.
func VersionString(h *Header) string {
	short := fmt.Sprintf("v%d.%d", h.VersionMajor, h.VersionMinor)
	if !semver.IsValid(short + ".0") {
		return short + " (non-semver)"
	}
	return short
}

// New builds a fresh, empty-container header for the given page size and
// algorithm names.
func New(pageSize uint32, compressName, encryptName string, flags uint32) (*Header, error) {
	if !IsValidPageSize(pageSize) {
		return nil, ccvfserrors.InvalidPageSize(int(pageSize))
	}
	return &Header{
		VersionMajor: SupportedMajor,
		VersionMinor: CurrentMinor,
		PageSize:     pageSize,
		Flags:        flags,
		CompressName: compressName,
		EncryptName:  encryptName,
		TotalPages:   0,
		IndexOffset:  HeaderSize,
		IndexEntries: 0,
	}, nil
}
