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
Package errors provides the structured error system for CCVFS.

Every recoverable failure mode the container engine can surface is one of
a fixed set of codes, partitioned into four kinds:

  - Configuration errors: returned from open/create, never mid-operation.
  - I/O errors: surfaced unchanged from the underlying file system.
  - Corruption errors: header or page checksum/shape failures. Never
    auto-repaired.
  - Logic errors: caller misuse (write after close, bad buffer config).

A CCVFSError carries a code, a kind, a message, optional detail/hint, and
an unwrappable cause so callers can distinguish "this container is
corrupt" from "the disk returned EIO" from "you passed page_size=3".
*/
package errors

import (
	"fmt"
)

// ErrorCode identifies a CCVFS failure mode. These map directly onto the
// error codes the host sees (spec §6).
type ErrorCode int

const (
	CodeOK ErrorCode = iota
	CodeIO
	CodeCorrupt
	CodeNotAContainer
	CodeVersionUnsupported
	CodeUnknownAlgorithm
	CodeKeyRequired
	CodeKeyMismatch
	CodeInvalidArgument
	CodeNotFound
	CodeAlreadyExists
)

func (c ErrorCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeIO:
		return "IO"
	case CodeCorrupt:
		return "CORRUPT"
	case CodeNotAContainer:
		return "NOT_A_CONTAINER"
	case CodeVersionUnsupported:
		return "VERSION_UNSUPPORTED"
	case CodeUnknownAlgorithm:
		return "UNKNOWN_ALGORITHM"
	case CodeKeyRequired:
		return "KEY_REQUIRED"
	case CodeKeyMismatch:
		return "KEY_MISMATCH"
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeAlreadyExists:
		return "ALREADY_EXISTS"
	default:
		return "UNKNOWN"
	}
}

// Kind groups error codes into the four partitions spec.md §7 defines.
// Kind is what callers should branch on to decide whether a retry,
// a read-only reopen, or a hard abort is appropriate; Code is for
// programmatic / telemetry matching.
type Kind string

const (
	KindConfiguration Kind = "CONFIGURATION"
	KindIO            Kind = "IO"
	KindCorruption    Kind = "CORRUPTION"
	KindLogic         Kind = "LOGIC"
)

// CCVFSError is the structured error type returned by every CCVFS package.
type CCVFSError struct {
	Code    ErrorCode
	Kind    Kind
	Message string
	Detail  string
	Hint    string
	Cause   error
}

// Error implements the error interface.
func (e *CCVFSError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("ccvfs: %s (%s) - %s: %s", e.Code, e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("ccvfs: %s (%s) - %s", e.Code, e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *CCVFSError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches additional detail and returns the same error.
func (e *CCVFSError) WithDetail(detail string) *CCVFSError {
	e.Detail = detail
	return e
}

// WithHint attaches an operator-facing hint.
func (e *CCVFSError) WithHint(hint string) *CCVFSError {
	e.Hint = hint
	return e
}

// WithCause attaches the underlying cause (e.g. an *os.PathError).
func (e *CCVFSError) WithCause(cause error) *CCVFSError {
	e.Cause = cause
	return e
}

// ============================================================================
// Configuration errors
// ============================================================================

// InvalidPageSize reports a page_size outside the fixed allowed set.
func InvalidPageSize(size int) *CCVFSError {
	return &CCVFSError{
		Code:    CodeInvalidArgument,
		Kind:    KindConfiguration,
		Message: fmt.Sprintf("invalid page size: %d", size),
		Hint:    "page_size must be one of 1KiB, 4KiB, 8KiB, 16KiB, 32KiB, 64KiB, 128KiB, 256KiB, 512KiB, 1MiB",
	}
}

// UnknownAlgorithm reports a name not present in the algorithm registry.
func UnknownAlgorithm(kind, name string) *CCVFSError {
	return &CCVFSError{
		Code:    CodeUnknownAlgorithm,
		Kind:    KindConfiguration,
		Message: fmt.Sprintf("unknown %s algorithm: %q", kind, name),
	}
}

// KeyRequired reports a missing key for a configured encryption algorithm.
func KeyRequired(algorithm string) *CCVFSError {
	return &CCVFSError{
		Code:    CodeKeyRequired,
		Kind:    KindConfiguration,
		Message: fmt.Sprintf("encryption algorithm %q requires a key", algorithm),
	}
}

// KeyMismatch reports a key that fails to authenticate or decrypt a slot.
func KeyMismatch(pageNo uint32) *CCVFSError {
	return &CCVFSError{
		Code:    CodeKeyMismatch,
		Kind:    KindCorruption,
		Message: fmt.Sprintf("key mismatch decrypting page %d", pageNo),
	}
}

// VersionUnsupported reports a header version this engine cannot open.
func VersionUnsupported(major, minor uint16) *CCVFSError {
	return &CCVFSError{
		Code:    CodeVersionUnsupported,
		Kind:    KindConfiguration,
		Message: fmt.Sprintf("unsupported container version %d.%d", major, minor),
		Hint:    "only version_major == 1 is supported",
	}
}

// AlreadyExists reports create() called against an existing path without
// an overwrite request.
func AlreadyExists(path string) *CCVFSError {
	return &CCVFSError{
		Code:    CodeAlreadyExists,
		Kind:    KindConfiguration,
		Message: fmt.Sprintf("container already exists: %s", path),
	}
}

// ============================================================================
// I/O errors
// ============================================================================

// IOFailure wraps an underlying file-system error unchanged.
func IOFailure(op string, cause error) *CCVFSError {
	return &CCVFSError{
		Code:    CodeIO,
		Kind:    KindIO,
		Message: fmt.Sprintf("i/o failure during %s", op),
		Cause:   cause,
	}
}

// ============================================================================
// Corruption errors
// ============================================================================

// HeaderCorrupt reports a header that fails magic/version/CRC validation.
func HeaderCorrupt(detail string) *CCVFSError {
	return &CCVFSError{
		Code:    CodeCorrupt,
		Kind:    KindCorruption,
		Message: "container header is corrupt",
		Detail:  detail,
		Hint:    "container was not opened; corruption is not auto-repaired",
	}
}

// NotAContainer reports a file whose magic does not match at all (as
// opposed to a recognizable-but-damaged header).
func NotAContainer(path string) *CCVFSError {
	return &CCVFSError{
		Code:    CodeNotAContainer,
		Kind:    KindCorruption,
		Message: fmt.Sprintf("%s is not a CCVFS container", path),
	}
}

// PageCorrupt reports a single page failing checksum or shape validation
// on read. Other pages remain readable.
func PageCorrupt(pageNo uint32, detail string) *CCVFSError {
	return &CCVFSError{
		Code:    CodeCorrupt,
		Kind:    KindCorruption,
		Message: fmt.Sprintf("page %d is corrupt", pageNo),
		Detail:  detail,
	}
}

// ============================================================================
// Logic errors
// ============================================================================

// InvalidArgument reports synchronous caller misuse, e.g. a nil buffer or
// a write-buffer config with max_bytes < page_size.
func InvalidArgument(message string) *CCVFSError {
	return &CCVFSError{
		Code:    CodeInvalidArgument,
		Kind:    KindLogic,
		Message: message,
	}
}

// ClosedStore reports an operation attempted after Close().
func ClosedStore() *CCVFSError {
	return &CCVFSError{
		Code:    CodeInvalidArgument,
		Kind:    KindLogic,
		Message: "operation attempted on a closed store",
	}
}

// NotFound reports a lookup (e.g. a free-interval offset) that doesn't
// resolve to anything live.
func NotFound(message string) *CCVFSError {
	return &CCVFSError{
		Code:    CodeNotFound,
		Kind:    KindLogic,
		Message: message,
	}
}

// ============================================================================
// Helpers
// ============================================================================

// Is reports whether err is a *CCVFSError with the given code.
func Is(err error, code ErrorCode) bool {
	e, ok := err.(*CCVFSError)
	return ok && e.Code == code
}

// CodeOf returns the error code if err is a *CCVFSError, or CodeOK
// otherwise (mirroring the "OK" sentinel the host-facing error table
// defines for the non-error case).
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*CCVFSError); ok {
		return e.Code
	}
	return CodeOK
}

// KindOf returns the error kind if err is a *CCVFSError, or "" otherwise.
func KindOf(err error) Kind {
	if e, ok := err.(*CCVFSError); ok {
		return e.Kind
	}
	return ""
}
