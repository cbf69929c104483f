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
Package ccvfs is the host-facing entry point for the compressing,
encrypting container virtual file system (spec.md §2). A Container
wires together the four core subsystems a host embeds as one unit:

	translate.Translator (G)  -- byte-range <-> page-range translation
	writebuffer.Buffer    (H)  -- bounded dirty-page cache in front of F
	pagestore.Store        (F)  -- header + index + free list + transform pipeline

A host issues ReadAt/WriteAt against arbitrary byte ranges exactly as it
would against a flat file; Container translates each call into
whole-page operations, routes them through the write buffer, and the
buffer falls through to the page store on a cache miss or when it
flushes. See spec.md §2's data-flow paragraph for the full path.
*/
package ccvfs

import (
	"os"

	"github.com/firefly-oss/ccvfs/internal/config"
	"github.com/firefly-oss/ccvfs/internal/errors"
	"github.com/firefly-oss/ccvfs/internal/logging"
	"github.com/firefly-oss/ccvfs/internal/pagestore"
	"github.com/firefly-oss/ccvfs/internal/translate"
	"github.com/firefly-oss/ccvfs/internal/writebuffer"
)

var log = logging.NewLogger("ccvfs")

// Re-exported so callers never need to import the internal error
// package directly to branch on a failure kind or code.
type (
	Error     = errors.CCVFSError
	ErrorCode = errors.ErrorCode
	ErrorKind = errors.Kind
)

// Error code and kind re-exports (spec.md §6, §7).
const (
	CodeOK                 = errors.CodeOK
	CodeIO                 = errors.CodeIO
	CodeCorrupt            = errors.CodeCorrupt
	CodeNotAContainer      = errors.CodeNotAContainer
	CodeVersionUnsupported = errors.CodeVersionUnsupported
	CodeUnknownAlgorithm   = errors.CodeUnknownAlgorithm
	CodeKeyRequired        = errors.CodeKeyRequired
	CodeKeyMismatch        = errors.CodeKeyMismatch
	CodeInvalidArgument    = errors.CodeInvalidArgument
	CodeNotFound           = errors.CodeNotFound
	CodeAlreadyExists      = errors.CodeAlreadyExists
)

// IsCode reports whether err (or any error it wraps) carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if errors.Is(err, code) {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Options configures Open. Create/PageSize/Compress/Encrypt/Key/Flags
// are fixed for the container's lifetime (spec.md §6's creation-time
// options); the WriteBuffer sub-struct is runtime-mutable via
// SetWriteBufferConfig after Open.
type Options struct {
	Create   bool
	PageSize uint32
	Compress string
	Encrypt  string
	Key      []byte
	Flags    uint32
	Level    int // compression level, algorithm-dependent; 0 -> default

	WriteBuffer writebuffer.Config
}

// DefaultOptions returns sane defaults: a 4 KiB page, no compression or
// encryption, and an enabled write buffer at spec.md §4.H's defaults.
func DefaultOptions() Options {
	return Options{
		PageSize:    4096,
		Compress:    "none",
		Encrypt:     "none",
		WriteBuffer: writebuffer.DefaultConfig(),
	}
}

// Container is the assembled host-facing VFS: translation layer, write
// buffer, and page store acting as one unit.
type Container struct {
	store      *pagestore.Store
	buffer     *writebuffer.Buffer
	translator *translate.Translator
	path       string
}

// bufferedStore adapts a Buffer in front of a Store into the
// translate.PageStore contract: reads check the buffer first and fall
// through to the store on a miss; writes always go through the buffer
// so repeated writes to the same page coalesce (spec.md §2).
type bufferedStore struct {
	store  *pagestore.Store
	buffer *writebuffer.Buffer
}

func (b *bufferedStore) PageSize() uint32   { return b.store.PageSize() }
func (b *bufferedStore) TotalPages() uint32 { return b.store.TotalPages() }

func (b *bufferedStore) ReadPage(p uint32) ([]byte, error) {
	if page, ok := b.buffer.Read(p); ok {
		return page, nil
	}
	return b.store.ReadPage(p)
}

func (b *bufferedStore) WritePage(p uint32, data []byte) error {
	return b.buffer.Write(p, data)
}

// Open opens an existing container at path, or creates one if
// opts.Create is set and the file does not exist. With opts.Create set,
// an existing file at path is rejected with AlreadyExists.
func Open(path string, opts Options) (*Container, error) {
	wbCfg := opts.WriteBuffer
	if wbCfg == (writebuffer.Config{}) {
		wbCfg = writebuffer.DefaultConfig()
	}

	store, err := pagestore.Open(path, pagestore.Config{
		Create:   opts.Create,
		PageSize: opts.PageSize,
		Compress: opts.Compress,
		Encrypt:  opts.Encrypt,
		Key:      opts.Key,
		Flags:    opts.Flags,
		Level:    opts.Level,
	})
	if err != nil {
		return nil, err
	}
	// Validated against the store's actual page size (which, on an open
	// of an existing container, may differ from whatever opts.PageSize
	// the caller happened to pass) rather than opts.PageSize.
	if err := wbCfg.Validate(int(store.PageSize())); err != nil {
		store.Close()
		return nil, err
	}

	buffer := writebuffer.New(store, wbCfg)
	translator := translate.New(&bufferedStore{store: store, buffer: buffer})

	log.Info("container opened", "path", path)
	return &Container{store: store, buffer: buffer, translator: translator, path: path}, nil
}

// Create is a convenience wrapper for Open with opts.Create forced true.
func Create(path string, opts Options) (*Container, error) {
	opts.Create = true
	return Open(path, opts)
}

// OptionsFromConfig maps a loaded config.Config (spec.md §6) onto Open's
// Options, reading the encryption key from cfg.KeyFile when set.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := Options{
		PageSize: uint32(cfg.PageSize),
		Compress: cfg.Compress,
		Encrypt:  cfg.Encrypt,
		WriteBuffer: writebuffer.Config{
			Disabled:           !cfg.WriteBufferEnabled,
			MaxEntries:         cfg.WriteBufferMaxEntries,
			MaxBytes:           cfg.WriteBufferMaxBytes,
			AutoFlushThreshold: cfg.AutoFlushThreshold,
		},
	}
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return Options{}, errors.IOFailure("read key_file", err)
		}
		opts.Key = key
	}
	return opts, nil
}

// OpenFromConfig validates cfg and opens the container at cfg.DataPath,
// creating it if create is true. This is the product-facing entry point
// for config.Manager's env-over-file precedence loading (spec.md §6):
// a host builds a Manager, calls LoadFromFile/LoadFromEnv, then passes
// Manager.Get() here instead of hand-building Options.
func OpenFromConfig(cfg *config.Config, create bool) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts.Create = create
	return Open(cfg.DataPath, opts)
}

// Size returns the host-visible logical length: total_pages * page_size.
func (c *Container) Size() int64 { return c.translator.Size() }

// ReadAt fills dst with the bytes at [offset, offset+len(dst)). Bytes
// past the host-visible end of file read as zero (spec.md §4.G).
func (c *Container) ReadAt(dst []byte, offset int64) error {
	return c.translator.ReadAt(dst, offset)
}

// WriteAt writes src at [offset, offset+len(src)), performing
// read-modify-write for any partial-page span (spec.md §4.G). Writes
// past the current end of file extend the container's logical size.
func (c *Container) WriteAt(src []byte, offset int64) error {
	return c.translator.WriteAt(src, offset)
}

// Flush flushes the write buffer's dirty pages, then the page store's
// index and header, fsyncing both.
func (c *Container) Flush() error {
	if err := c.buffer.Flush(); err != nil {
		return err
	}
	return c.store.Flush()
}

// Truncate frees slots for pages >= newTotalPages. The underlying file
// is never shrunk (spec.md §3 "Lifecycle").
func (c *Container) Truncate(newTotalPages uint32) error {
	// Dirty buffered pages go to the store first and cached copies of
	// the dropped pages are discarded, so no buffered page >= n survives.
	if err := c.buffer.Flush(); err != nil {
		return err
	}
	for p := newTotalPages; p < c.store.TotalPages(); p++ {
		c.buffer.Invalidate(p)
	}
	return c.store.Truncate(newTotalPages)
}

// Close flushes and releases the container. The Container must not be
// used afterward.
func (c *Container) Close() error {
	if err := c.buffer.Flush(); err != nil {
		c.store.Close()
		return err
	}
	log.Info("container closed", "path", c.path)
	return c.store.Close()
}

// Stats combines the page store's storage statistics with the write
// buffer's cache counters (spec.md §4.F, §4.H).
type Stats struct {
	pagestore.Stats
	Buffer writebuffer.Stats
}

// Stats returns a point-in-time snapshot.
func (c *Container) Stats() Stats {
	return Stats{Stats: c.store.Stats(), Buffer: c.buffer.Stats()}
}

// Check runs a read-only consistency pass over the page store (a
// supplemented feature: see SPEC_FULL.md §5 "Doctor").
func (c *Container) Check() (*pagestore.CheckReport, error) {
	return c.store.Check()
}

// SetWriteBufferConfig replaces the write buffer's runtime-mutable
// bounds (spec.md §6). Any dirty pages under the old configuration are
// flushed first so the swap never drops a write.
func (c *Container) SetWriteBufferConfig(cfg writebuffer.Config) error {
	if err := cfg.Validate(int(c.store.PageSize())); err != nil {
		return err
	}
	if err := c.buffer.Flush(); err != nil {
		return err
	}
	c.buffer = writebuffer.New(c.store, cfg)
	c.translator = translate.New(&bufferedStore{store: c.store, buffer: c.buffer})
	return nil
}
