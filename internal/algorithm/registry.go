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
Package algorithm is the name-to-function-table registry for compression
and encryption, spec.md §4.A. The registry is a process-wide, read-only
table built exactly once (a sync.Once, matching spec.md §5 and §9's design
note that algorithms are "initialized by a once-only routine on first
store creation" and are safe to call concurrently across pages).

Every algorithm name is at most 12 bytes, matching the on-disk
compress_name/encrypt_name header fields (spec.md §3). "none" is always
registered for both kinds and means identity passthrough.
*/
package algorithm

import (
	"sync"

	ccvfserrors "github.com/firefly-oss/ccvfs/internal/errors"
)

// MaxNameLength is the on-disk field width for an algorithm name,
// including the terminating NUL (spec.md §3: compress_name/encrypt_name
// are 12 bytes, null-terminated).
const MaxNameLength = 12

// Compressor is a pure, stateless compression algorithm.
type Compressor interface {
	// Name returns the registered name, e.g. "zstd". Must fit in
	// MaxNameLength-1 bytes.
	Name() string
	// MaxOutputSize bounds the compressed size for a given input size,
	// used to size the output buffer before calling Compress.
	MaxOutputSize(inputSize int) int
	// Compress compresses src at the given level (1=fastest, 9=best,
	// algorithm-specific mapping) into a freshly allocated buffer.
	Compress(src []byte, level int) ([]byte, error)
	// Decompress expands src, which must decompress to exactly
	// expectedSize bytes or Decompress returns an error.
	Decompress(src []byte, expectedSize int) ([]byte, error)
}

// Encryptor is a pure, stateless encryption algorithm (an AEAD cipher in
// every concrete implementation CCVFS registers, so that a corrupted or
// tampered slot fails to decrypt rather than silently producing garbage
// plaintext).
type Encryptor interface {
	// Name returns the registered name, e.g. "aes-gcm".
	Name() string
	// KeySize is the required key length in bytes. The transform
	// pipeline pads/truncates caller-supplied keys to this length
	// (spec.md §6) before calling Encrypt/Decrypt.
	KeySize() int
	// MaxOutputSize bounds the ciphertext size (plaintext + nonce +
	// authentication tag) for a given plaintext size.
	MaxOutputSize(inputSize int) int
	// Encrypt encrypts plaintext under key (exactly KeySize bytes).
	Encrypt(key, plaintext []byte) ([]byte, error)
	// Decrypt authenticates and decrypts ciphertext under key. Any
	// authentication failure (tampered or wrong-key ciphertext) is
	// surfaced as an error, never silently-wrong plaintext.
	Decrypt(key, ciphertext []byte) ([]byte, error)
}

var (
	once        sync.Once
	compressors map[string]Compressor
	encryptors  map[string]Encryptor
)

func initRegistry() {
	compressors = map[string]Compressor{
		"none":    noneCompressor{},
		"deflate": newDeflateCompressor(),
		"snappy":  snappyCompressor{},
		"lz4":     lz4Compressor{},
		"zstd":    newZstdCompressor(),
	}
	encryptors = map[string]Encryptor{
		"none":             noneEncryptor{},
		"aes-gcm":          aesGCMEncryptor{},
		"chacha20poly1305": newChaCha20Poly1305Encryptor(),
	}
}

func ensureInit() {
	once.Do(initRegistry)
}

// LookupCompressor resolves a compression algorithm name. An empty name
// is treated as "none".
func LookupCompressor(name string) (Compressor, error) {
	ensureInit()
	if name == "" {
		name = "none"
	}
	c, ok := compressors[name]
	if !ok {
		return nil, ccvfserrors.UnknownAlgorithm("compression", name)
	}
	return c, nil
}

// LookupEncryptor resolves an encryption algorithm name. An empty name is
// treated as "none".
func LookupEncryptor(name string) (Encryptor, error) {
	ensureInit()
	if name == "" {
		name = "none"
	}
	e, ok := encryptors[name]
	if !ok {
		return nil, ccvfserrors.UnknownAlgorithm("encryption", name)
	}
	return e, nil
}

// CompressorNames returns every registered compression algorithm name,
// for diagnostics.
func CompressorNames() []string {
	ensureInit()
	names := make([]string, 0, len(compressors))
	for n := range compressors {
		names = append(names, n)
	}
	return names
}

// EncryptorNames returns every registered encryption algorithm name, for
// diagnostics.
func EncryptorNames() []string {
	ensureInit()
	names := make([]string, 0, len(encryptors))
	for n := range encryptors {
		names = append(names, n)
	}
	return names
}
