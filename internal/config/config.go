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
Package config loads and validates the options that govern a CCVFS
container: the creation-time options fixed into the header (page size,
compression/encryption algorithm names, creation flags) and the
runtime-mutable write-buffer knobs (spec.md §6).

Configuration can come from three places, in increasing precedence:
defaults, a simple "key = value" text file, and environment variables.
*/
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/natefinch/atomic"

	ccvfserrors "github.com/firefly-oss/ccvfs/internal/errors"
)

// Environment variable names recognized by LoadFromEnv.
const (
	EnvPageSize              = "CCVFS_PAGE_SIZE"
	EnvCompress              = "CCVFS_COMPRESS"
	EnvEncrypt               = "CCVFS_ENCRYPT"
	EnvKeyFile               = "CCVFS_KEY_FILE"
	EnvFlags                 = "CCVFS_FLAGS"
	EnvDataPath              = "CCVFS_DATA_PATH"
	EnvWriteBufferEnabled    = "CCVFS_WRITEBUFFER_ENABLED"
	EnvWriteBufferMaxEntries = "CCVFS_WRITEBUFFER_MAX_ENTRIES"
	EnvWriteBufferMaxBytes   = "CCVFS_WRITEBUFFER_MAX_BYTES"
	EnvAutoFlushThreshold    = "CCVFS_AUTO_FLUSH_THRESHOLD"
	EnvLogLevel              = "CCVFS_LOG_LEVEL"
	EnvLogJSON               = "CCVFS_LOG_JSON"
)

// Config holds every option that governs a CCVFS container.
type Config struct {
	// Creation-time options; fixed in the header once a container exists.
	PageSize int    // logical page size, bytes
	Compress string // compression algorithm name, e.g. "none", "zstd"
	Encrypt  string // encryption algorithm name, e.g. "none", "aes-gcm"
	KeyFile  string // path to a file holding the raw encryption key
	Flags    string // comma-separated creation hints: realtime,offline,hybrid
	DataPath string // path to the container file

	// Runtime-mutable write-buffer options (spec.md §4.H, §6).
	WriteBufferEnabled    bool
	WriteBufferMaxEntries int
	WriteBufferMaxBytes   int
	AutoFlushThreshold    int

	// Ambient logging options.
	LogLevel string
	LogJSON  bool

	// ConfigFile records the path Config was loaded from, if any.
	ConfigFile string
}

// DefaultConfig returns the engine's out-of-the-box configuration.
func DefaultConfig() *Config {
	return &Config{
		PageSize:              4096,
		Compress:              "none",
		Encrypt:               "none",
		Flags:                 "",
		DataPath:              "container.ccvfs",
		WriteBufferEnabled:    true,
		WriteBufferMaxEntries: 64,
		WriteBufferMaxBytes:   4 * 1024 * 1024,
		AutoFlushThreshold:    32,
		LogLevel:              "info",
		LogJSON:               false,
	}
}

var allowedPageSizes = map[int]bool{
	1024: true, 4096: true, 8192: true, 16384: true, 32768: true,
	65536: true, 131072: true, 262144: true, 524288: true, 1048576: true,
}

// Validate checks internal consistency. It never touches disk or the
// algorithm registry; it checks page-size membership, a non-empty
// data_path, a key_file when encryption is set, the write-buffer bounds
// and the log level.
func (c *Config) Validate() error {
	if !allowedPageSizes[c.PageSize] {
		return ccvfserrors.InvalidPageSize(c.PageSize)
	}
	if c.DataPath == "" {
		return ccvfserrors.InvalidArgument("data_path must not be empty")
	}
	if c.Encrypt != "" && c.Encrypt != "none" && c.KeyFile == "" {
		return ccvfserrors.KeyRequired(c.Encrypt)
	}
	if c.WriteBufferMaxEntries < 1 {
		return ccvfserrors.InvalidArgument("writebuffer max_entries must be >= 1")
	}
	if c.WriteBufferMaxBytes < c.PageSize {
		return ccvfserrors.InvalidArgument("writebuffer max_bytes must be >= page_size")
	}
	if c.AutoFlushThreshold < 1 {
		return ccvfserrors.InvalidArgument("auto_flush_threshold must be >= 1")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return ccvfserrors.InvalidArgument(fmt.Sprintf("invalid log_level: %s", c.LogLevel))
	}
	return nil
}

// String renders a human-readable summary, in the same spirit as
// FlyDB's Config.String().
func (c *Config) String() string {
	return fmt.Sprintf(
		"PageSize: %d, Compress: %s, Encrypt: %s, DataPath: %s, LogLevel: %s",
		c.PageSize, c.Compress, c.Encrypt, c.DataPath, c.LogLevel,
	)
}

// ToText renders Config as a "key = value" text file, parseable by
// LoadFromFile.
func (c *Config) ToText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "page_size = %d\n", c.PageSize)
	fmt.Fprintf(&sb, "compress = %q\n", c.Compress)
	fmt.Fprintf(&sb, "encrypt = %q\n", c.Encrypt)
	if c.KeyFile != "" {
		fmt.Fprintf(&sb, "key_file = %q\n", c.KeyFile)
	}
	fmt.Fprintf(&sb, "flags = %q\n", c.Flags)
	fmt.Fprintf(&sb, "data_path = %q\n", c.DataPath)
	fmt.Fprintf(&sb, "writebuffer_enabled = %v\n", c.WriteBufferEnabled)
	fmt.Fprintf(&sb, "writebuffer_max_entries = %d\n", c.WriteBufferMaxEntries)
	fmt.Fprintf(&sb, "writebuffer_max_bytes = %d\n", c.WriteBufferMaxBytes)
	fmt.Fprintf(&sb, "auto_flush_threshold = %d\n", c.AutoFlushThreshold)
	fmt.Fprintf(&sb, "log_level = %q\n", c.LogLevel)
	fmt.Fprintf(&sb, "log_json = %v\n", c.LogJSON)
	return sb.String()
}

// SaveToFile writes Config to path in ToText format, creating parent
// directories as needed. The write is atomic (temp file + rename) so a
// crash mid-write never leaves a torn config file at path.
func (c *Config) SaveToFile(path string) error {
	if dir := dirOf(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ccvfserrors.IOFailure("mkdir", err)
		}
	}
	if err := atomic.WriteFile(path, strings.NewReader(c.ToText())); err != nil {
		return ccvfserrors.IOFailure("write config", err)
	}
	return nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// Manager owns a live Config, supporting reload and precedence-ordered
// loading from file then environment.
type Manager struct {
	mu       sync.RWMutex
	cfg      *Config
	filePath string
	onReload []func(*Config)
}

// NewManager returns a Manager seeded with DefaultConfig.
func NewManager() *Manager {
	return &Manager{cfg: DefaultConfig()}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// LoadFromFile parses a "key = value" file into the manager's Config,
// overwriting only the keys present in the file.
func (m *Manager) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return ccvfserrors.IOFailure("open config", err)
	}
	defer f.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	values, err := parseKeyValueFile(f)
	if err != nil {
		return err
	}
	applyValues(m.cfg, values)
	m.cfg.ConfigFile = path
	m.filePath = path
	return nil
}

// LoadFromEnv overlays CCVFS_* environment variables onto the current
// Config. Called after LoadFromFile, env values take precedence.
func (m *Manager) LoadFromEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()

	values := map[string]string{}
	for env, key := range map[string]string{
		EnvPageSize:              "page_size",
		EnvCompress:              "compress",
		EnvEncrypt:               "encrypt",
		EnvKeyFile:               "key_file",
		EnvFlags:                 "flags",
		EnvDataPath:              "data_path",
		EnvWriteBufferEnabled:    "writebuffer_enabled",
		EnvWriteBufferMaxEntries: "writebuffer_max_entries",
		EnvWriteBufferMaxBytes:   "writebuffer_max_bytes",
		EnvAutoFlushThreshold:    "auto_flush_threshold",
		EnvLogLevel:              "log_level",
		EnvLogJSON:               "log_json",
	} {
		if v, ok := os.LookupEnv(env); ok {
			values[key] = v
		}
	}
	applyValues(m.cfg, values)
}

// Reload re-reads the file Config was last loaded from (if any) and
// invokes every registered OnReload callback.
func (m *Manager) Reload() error {
	m.mu.RLock()
	path := m.filePath
	m.mu.RUnlock()
	if path == "" {
		return ccvfserrors.InvalidArgument("no config file to reload")
	}
	if err := m.LoadFromFile(path); err != nil {
		return err
	}
	m.mu.RLock()
	cfg := m.cfg
	callbacks := append([]func(*Config){}, m.onReload...)
	m.mu.RUnlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
	return nil
}

// OnReload registers a callback invoked after every successful Reload.
func (m *Manager) OnReload(cb func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, cb)
}

func parseKeyValueFile(f *os.File) (map[string]string, error) {
	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"`)
		values[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, ccvfserrors.IOFailure("read config", err)
	}
	return values, nil
}

func applyValues(cfg *Config, values map[string]string) {
	if v, ok := values["page_size"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PageSize = n
		}
	}
	if v, ok := values["compress"]; ok {
		cfg.Compress = v
	}
	if v, ok := values["encrypt"]; ok {
		cfg.Encrypt = v
	}
	if v, ok := values["key_file"]; ok {
		cfg.KeyFile = v
	}
	if v, ok := values["flags"]; ok {
		cfg.Flags = v
	}
	if v, ok := values["data_path"]; ok {
		cfg.DataPath = v
	}
	if v, ok := values["writebuffer_enabled"]; ok {
		cfg.WriteBufferEnabled = v == "true"
	}
	if v, ok := values["writebuffer_max_entries"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WriteBufferMaxEntries = n
		}
	}
	if v, ok := values["writebuffer_max_bytes"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WriteBufferMaxBytes = n
		}
	}
	if v, ok := values["auto_flush_threshold"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AutoFlushThreshold = n
		}
	}
	if v, ok := values["log_level"]; ok {
		cfg.LogLevel = v
	}
	if v, ok := values["log_json"]; ok {
		cfg.LogJSON = v == "true"
	}
}

var (
	globalMgr  *Manager
	globalOnce sync.Once
)

// Global returns the process-wide configuration manager singleton.
func Global() *Manager {
	globalOnce.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}
