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
Package transform implements the per-page compress-then-encrypt write
pipeline and its decrypt-then-decompress reverse (spec.md §4.E), plus
the deterministic key-length normalization rule of spec.md §6.
*/
package transform

import (
	"hash/crc32"

	"github.com/firefly-oss/ccvfs/internal/algorithm"
	ccvfserrors "github.com/firefly-oss/ccvfs/internal/errors"
	"github.com/firefly-oss/ccvfs/internal/pageindex"
)

// Pipeline binds a compressor and encryptor to a fixed compression
// level and key, both resolved once at store open.
type Pipeline struct {
	Compressor algorithm.Compressor
	Encryptor  algorithm.Encryptor
	Level      int
	Key        []byte // already normalized to Encryptor.KeySize(), or nil
}

// New builds a Pipeline, normalizing rawKey to the encryptor's required
// length via NormalizeKey. If the encryptor requires a key (KeySize() >
// 0) and rawKey is empty, it returns KeyRequired.
func New(comp algorithm.Compressor, enc algorithm.Encryptor, level int, rawKey []byte) (*Pipeline, error) {
	if enc.KeySize() > 0 && len(rawKey) == 0 {
		return nil, ccvfserrors.KeyRequired(enc.Name())
	}
	var key []byte
	if enc.KeySize() > 0 {
		key = NormalizeKey(rawKey, enc.KeySize())
	}
	return &Pipeline{Compressor: comp, Encryptor: enc, Level: level, Key: key}, nil
}

// NormalizeKey applies spec.md §6's deterministic key derivation: keys
// shorter than required are expanded by repeated copy (k'[i] = k[i mod
// keylen]); keys longer than required are truncated. The rule is
// symmetric, so encrypt and decrypt always agree on the effective key.
func NormalizeKey(key []byte, required int) []byte {
	if len(key) == required {
		out := make([]byte, required)
		copy(out, key)
		return out
	}
	out := make([]byte, required)
	if len(key) == 0 {
		return out
	}
	for i := range out {
		out[i] = key[i%len(key)]
	}
	return out
}

// Encoded is the result of running the write-side pipeline over one
// page: the final on-disk bytes plus the index-entry fields they imply.
type Encoded struct {
	Bytes    []byte
	Flags    uint16
	Checksum uint32
}

// Encode runs the full write-side pipeline over one raw page of exactly
// pageSize bytes: compress (if the result is smaller), then encrypt (if
// configured), then checksum.
func (p *Pipeline) Encode(raw []byte) (Encoded, error) {
	stage := raw
	var flags uint16

	if p.Compressor.Name() != "none" {
		compressed, err := p.Compressor.Compress(raw, p.Level)
		if err != nil {
			return Encoded{}, err
		}
		if len(compressed) < len(raw) {
			stage = compressed
			flags |= pageindex.FlagCompressed
		}
	}

	if p.Encryptor.Name() != "none" {
		encrypted, err := p.Encryptor.Encrypt(p.Key, stage)
		if err != nil {
			return Encoded{}, err
		}
		stage = encrypted
		flags |= pageindex.FlagEncrypted
	}

	return Encoded{
		Bytes:    stage,
		Flags:    flags,
		Checksum: crc32.ChecksumIEEE(stage),
	}, nil
}

// Decode runs the full read-side pipeline over one stored slot,
// returning exactly pageSize bytes. entry carries the flags and
// expected checksum recorded at write time; pageSize is the container's
// fixed logical page size, the expected length after decompression.
func (p *Pipeline) Decode(stored []byte, entry pageindex.Entry, pageSize int) ([]byte, error) {
	if crc32.ChecksumIEEE(stored) != entry.Checksum {
		return nil, ccvfserrors.PageCorrupt(entry.LogicalPageNo, "checksum mismatch")
	}

	stage := stored
	if entry.Flags&pageindex.FlagEncrypted != 0 {
		plain, err := p.Encryptor.Decrypt(p.Key, stage)
		if err != nil {
			return nil, ccvfserrors.PageCorrupt(entry.LogicalPageNo, "decryption failed: "+err.Error())
		}
		stage = plain
	}

	if entry.Flags&pageindex.FlagCompressed != 0 {
		decompressed, err := p.Compressor.Decompress(stage, pageSize)
		if err != nil {
			return nil, ccvfserrors.PageCorrupt(entry.LogicalPageNo, "decompression failed: "+err.Error())
		}
		stage = decompressed
	}

	if len(stage) != pageSize {
		return nil, ccvfserrors.PageCorrupt(entry.LogicalPageNo, "decoded length mismatch")
	}
	return stage, nil
}
