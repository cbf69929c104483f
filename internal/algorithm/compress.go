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

package algorithm

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// noneCompressor is the identity passthrough: the payload is copied
// verbatim and the *compressed* flag is cleared by the transform
// pipeline (spec.md §4.A, §4.E step 2).
type noneCompressor struct{}

func (noneCompressor) Name() string                 { return "none" }
func (noneCompressor) MaxOutputSize(n int) int       { return n }
func (noneCompressor) Compress(src []byte, _ int) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}
func (noneCompressor) Decompress(src []byte, expectedSize int) ([]byte, error) {
	if len(src) != expectedSize {
		return nil, fmt.Errorf("algorithm: none decompress: length mismatch: got %d want %d", len(src), expectedSize)
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// deflateCompressor wraps klauspost/compress/flate, a drop-in faster
// reimplementation of the stdlib DEFLATE codec.
type deflateCompressor struct{}

func newDeflateCompressor() deflateCompressor { return deflateCompressor{} }

func (deflateCompressor) Name() string { return "deflate" }

func (deflateCompressor) MaxOutputSize(n int) int {
	// DEFLATE can expand incompressible input by a small, bounded
	// amount; this matches flate's own worst-case bound.
	return n + (n/1000 + 1) + 16
}

func (deflateCompressor) Compress(src []byte, level int) ([]byte, error) {
	level = clampFlateLevel(level)
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (deflateCompressor) Decompress(src []byte, expectedSize int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()
	out := make([]byte, 0, expectedSize)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	if buf.Len() != expectedSize {
		return nil, fmt.Errorf("algorithm: deflate decompress: length mismatch: got %d want %d", buf.Len(), expectedSize)
	}
	return buf.Bytes(), nil
}

func clampFlateLevel(level int) int {
	if level < flate.BestSpeed {
		return flate.DefaultCompression
	}
	if level > flate.BestCompression {
		return flate.BestCompression
	}
	return level
}

// snappyCompressor wraps github.com/golang/snappy. Snappy has no level
// knob; it always favors speed over ratio.
type snappyCompressor struct{}

func (snappyCompressor) Name() string           { return "snappy" }
func (snappyCompressor) MaxOutputSize(n int) int { return snappy.MaxEncodedLen(n) }

func (snappyCompressor) Compress(src []byte, _ int) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCompressor) Decompress(src []byte, expectedSize int) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, err
	}
	if len(out) != expectedSize {
		return nil, fmt.Errorf("algorithm: snappy decompress: length mismatch: got %d want %d", len(out), expectedSize)
	}
	return out, nil
}

// lz4Compressor wraps github.com/pierrec/lz4/v4's block-level API — no
// framing overhead, appropriate since CCVFS already knows the exact
// compressed and decompressed lengths from the index entry.
type lz4Compressor struct{}

func (lz4Compressor) Name() string           { return "lz4" }
func (lz4Compressor) MaxOutputSize(n int) int { return lz4.CompressBlockBound(n) }

func (lz4Compressor) Compress(src []byte, _ int) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// CompressBlock returns n == 0 when the input is incompressible
		// (output would not be smaller); the pipeline's "store raw if
		// compressed size >= raw size" rule (spec.md §4.E step 2)
		// handles this by falling back to the uncompressed payload, so
		// return a same-length copy of src (never smaller, so the
		// pipeline stores raw) rather than an error.
		return append([]byte{}, src...), nil
	}
	return dst[:n], nil
}

func (lz4Compressor) Decompress(src []byte, expectedSize int) ([]byte, error) {
	dst := make([]byte, expectedSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	if n != expectedSize {
		return nil, fmt.Errorf("algorithm: lz4 decompress: length mismatch: got %d want %d", n, expectedSize)
	}
	return dst, nil
}

// zstdCompressor wraps github.com/klauspost/compress/zstd. A single
// encoder/decoder pair is created lazily and reused: both EncodeAll and
// DecodeAll are documented safe for concurrent use, matching the
// "may parallelize calls across pages" design note (spec.md §9).
type zstdCompressor struct {
	initOnce sync.Once
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	initErr  error
}

func newZstdCompressor() *zstdCompressor { return &zstdCompressor{} }

func (z *zstdCompressor) lazyInit() error {
	z.initOnce.Do(func() {
		z.enc, z.initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if z.initErr != nil {
			return
		}
		z.dec, z.initErr = zstd.NewReader(nil)
	})
	return z.initErr
}

func (*zstdCompressor) Name() string { return "zstd" }

func (*zstdCompressor) MaxOutputSize(n int) int {
	// zstd frame overhead is small and bounded; this mirrors the
	// library's own worst-case guidance.
	return n + n/2 + 256
}

func (z *zstdCompressor) Compress(src []byte, level int) ([]byte, error) {
	if err := z.lazyInit(); err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(src, nil), nil
}

func (z *zstdCompressor) Decompress(src []byte, expectedSize int) ([]byte, error) {
	if err := z.lazyInit(); err != nil {
		return nil, err
	}
	out, err := z.dec.DecodeAll(src, make([]byte, 0, expectedSize))
	if err != nil {
		return nil, err
	}
	if len(out) != expectedSize {
		return nil, fmt.Errorf("algorithm: zstd decompress: length mismatch: got %d want %d", len(out), expectedSize)
	}
	return out, nil
}
